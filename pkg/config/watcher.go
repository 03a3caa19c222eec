package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/groupgate/groupgate/pkg/observability"
)

// Watcher reloads the access configuration file into a Settings holder
// whenever the file changes on disk.
type Watcher struct {
	path     string
	settings *Settings
	logger   *observability.Logger
	watcher  *fsnotify.Watcher
}

// NewWatcher creates a watcher for the given access config file.
func NewWatcher(path string, settings *Settings, logger *observability.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Watch the directory so editors that replace the file atomically
	// still trigger events.
	dir := filepath.Dir(path)
	if err := fsWatcher.Add(dir); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	return &Watcher{
		path:     path,
		settings: settings,
		logger:   logger,
		watcher:  fsWatcher,
	}, nil
}

// Run blocks processing file events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("config watcher error")
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadAccessFile(w.path, w.settings.Access())
	if err != nil {
		w.logger.WithError(err).WithField("path", w.path).
			Warn("failed to reload access config, keeping previous settings")
		return
	}

	if err := w.settings.Update(cfg); err != nil {
		w.logger.WithError(err).Warn("rejected reloaded access config")
		return
	}

	w.logger.WithField("strategy", cfg.Strategy).
		WithField("propagate_enabled", cfg.PropagateEnabled).
		Info("access config reloaded")
}
