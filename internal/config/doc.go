// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// Watch reloads the file when it changes so the log level can be adjusted at runtime.
package config
