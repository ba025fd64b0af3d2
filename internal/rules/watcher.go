package rules

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watching reports whether the set was configured to follow file changes.
func (s *Set) Watching() bool {
	return s.watch && s.path != ""
}

// Watch reloads the rules whenever the file is written or replaced. It
// blocks until ctx is cancelled. The parent directory is watched so that
// editors which rename a temp file over the original are still seen.
func (s *Set) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("rules: create watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("rules: watch %s: %w", dir, err)
	}
	s.logger.Info("watching rules file", "path", s.path)

	name := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return fmt.Errorf("rules: watcher events channel closed")
			}
			if !shouldReload(ev, name) {
				continue
			}
			if err := s.Reload(); err != nil {
				s.logger.Error("rules reload failed, keeping previous rules", "error", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return fmt.Errorf("rules: watcher errors channel closed")
			}
			s.logger.Warn("rules watcher error", "error", err)
		}
	}
}

func shouldReload(ev fsnotify.Event, name string) bool {
	if filepath.Clean(ev.Name) != name {
		return false
	}
	if ev.Op&fsnotify.Chmod == fsnotify.Chmod {
		return false
	}
	return ev.Op&(fsnotify.Write|fsnotify.Create) != 0
}
