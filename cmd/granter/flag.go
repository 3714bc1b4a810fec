package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// fileFlag is the badges.enabled switch of the config file. It is
// re-read whenever the file changes, so operators can turn granting off
// without a restart.
type fileFlag struct {
	path    string
	enabled atomic.Bool
	logger  *slog.Logger
}

func newFileFlag(path string, initial bool, logger *slog.Logger) *fileFlag {
	f := &fileFlag{path: path, logger: logger}
	f.enabled.Store(initial)
	return f
}

// BadgesEnabled implements badge.FeatureFlag.
func (f *fileFlag) BadgesEnabled(context.Context) bool { return f.enabled.Load() }

func (f *fileFlag) reload() {
	cfg, err := loadConfig(f.path)
	if err != nil {
		f.logger.Warn("config reload failed, keeping badges flag",
			slog.String("path", f.path),
			slog.String("error", err.Error()),
		)
		return
	}
	if old := f.enabled.Swap(cfg.Badges.Enabled); old != cfg.Badges.Enabled {
		f.logger.Info("badges flag changed", slog.Bool("enabled", cfg.Badges.Enabled))
	}
}

// watch reloads the flag on every write to the config file until ctx is
// done. The parent directory is watched because editors replace files
// by rename.
func (f *fileFlag) watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("watch %s: %w", f.path, err)
	}
	target := filepath.Clean(f.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				f.logger.Debug("config file changed", slog.String("op", event.Op.String()))
				f.reload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Error("fsnotify error", slog.String("error", err.Error()))
		}
	}
}
