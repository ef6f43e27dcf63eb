package config

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := writeTempFile(t, "instance:\n  id: watched\nlog:\n  level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *CoordinatorConfig, 4)
	errCh := make(chan error, 1)
	go func() {
		errCh <- Watch(ctx, path, nil, func(cfg *CoordinatorConfig) { reloaded <- cfg })
	}()

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)

	// Invalid content is skipped.
	if err := os.WriteFile(path, []byte("instance:\n  id: watched\nlog:\n  level: loud\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(DefaultDebounce + 150*time.Millisecond)

	if err := os.WriteFile(path, []byte("instance:\n  id: watched\nlog:\n  level: debug\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Log.Level != "debug" {
			t.Errorf("reloaded Log.Level = %q, want debug", cfg.Log.Level)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for reload")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Watch returned %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatch_MissingDir(t *testing.T) {
	err := Watch(context.Background(), "/nonexistent-dir-for-watch/config.yaml", nil, func(*CoordinatorConfig) {})
	if err == nil {
		t.Error("Watch expected error for missing directory")
	}
}
