// Package database provides the PostgreSQL connection pool used by the
// queue-backed transport.
package database
