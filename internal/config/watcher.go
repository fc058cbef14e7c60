package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// LoadFunc loads a config file. It lets callers reapply environment and
// command line overrides on every reload.
type LoadFunc func(path string) (*Config, error)

// Watcher watches for configuration changes.
type Watcher struct {
	path     string
	load     LoadFunc
	onReload func(*Config, error)
	current  *Config
	debounce time.Duration
	fsw      *fsnotify.Watcher
	done     chan struct{}
	closed   sync.Once
	mu       sync.RWMutex
	reloads  atomic.Uint32
}

// NewWatcher loads path once and then reloads it on every change, calling
// onReload with the new config or the load error. A failed reload keeps the
// previous snapshot.
func NewWatcher(path string, load LoadFunc, onReload func(*Config, error)) (*Watcher, error) {
	return newWatcher(path, load, onReload, 500*time.Millisecond)
}

func newWatcher(path string, load LoadFunc, onReload func(*Config, error), debounce time.Duration) (*Watcher, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial config: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Editors often replace the file, so the directory is watched.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch config dir: %w", err)
	}

	watcher := &Watcher{
		path:     filepath.Clean(path),
		load:     load,
		onReload: onReload,
		current:  cfg,
		debounce: debounce,
		fsw:      fsw,
		done:     make(chan struct{}),
	}

	go watcher.watch()

	return watcher, nil
}

// watch watches for configuration changes.
func (cw *Watcher) watch() {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-cw.done:
			return

		case event, ok := <-cw.fsw.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != cw.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(cw.debounce, cw.reload)

		case err, ok := <-cw.fsw.Errors:
			if !ok {
				return
			}

			slog.Error("Watcher error", "error", err)
		}
	}
}

// reload reloads the config file.
func (cw *Watcher) reload() {
	count := cw.reloads.Add(1)
	slog.Info("Reloading config file", "path", cw.path, "count", count)

	cfg, err := cw.load(cw.path)
	if err != nil {
		slog.Error("Failed to reload config", "error", err)
		cw.onReload(nil, err)
		return
	}

	cw.mu.Lock()
	cw.current = cfg
	cw.mu.Unlock()

	slog.Info("Config reloaded successfully", "count", count)
	cw.onReload(cfg, nil)
}

// Snapshot returns the current config snapshot (thread-safe).
func (cw *Watcher) Snapshot() *Config {
	cw.mu.RLock()
	defer cw.mu.RUnlock()

	return cw.current
}

// ReloadCount returns the number of times the config has been reloaded.
func (cw *Watcher) ReloadCount() uint32 {
	return cw.reloads.Load()
}

// Close stops watching.
func (cw *Watcher) Close() error {
	var err error
	cw.closed.Do(func() {
		close(cw.done)
		err = cw.fsw.Close()
	})
	return err
}
