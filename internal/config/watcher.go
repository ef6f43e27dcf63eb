package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc receives each successfully reloaded configuration.
type ReloadFunc func(cfg *CoordinatorConfig)

// DefaultDebounce is how long Watch waits after the last change before reloading.
const DefaultDebounce = 250 * time.Millisecond

// Watch reloads path whenever it is written and passes the validated result
// to fn. Invalid configurations are logged and skipped. The parent directory
// is watched so editors that replace the file by rename are handled. Watch
// blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, logger *slog.Logger, fn ReloadFunc) error {
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer fsWatcher.Close()

	if err := fsWatcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}

	reload := make(chan struct{}, 1)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsWatcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(DefaultDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			cfg, err := LoadAndValidate(abs)
			if err != nil {
				logger.Warn("ignoring invalid config change", "path", abs, "error", err)
				continue
			}
			logger.Info("configuration reloaded", "path", abs)
			fn(cfg)

		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", "error", err)
		}
	}
}
