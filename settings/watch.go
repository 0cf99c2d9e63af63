package settings

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeHandler receives the dotted keys whose effective value changed.
type ChangeHandler func(changed []string)

// DefaultDebounce batches editor save bursts into one reload.
const DefaultDebounce = 150 * time.Millisecond

// Watch reloads the store whenever either scope file changes and calls
// onChange with the keys that differ. It returns once the watcher is
// installed; watching stops when ctx is cancelled.
func (s *Store) Watch(ctx context.Context, debounce time.Duration, logger *zap.SugaredLogger, onChange ChangeHandler) error {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create settings watcher: %w", err)
	}
	files := map[string]bool{}
	dirs := map[string]bool{}
	for _, scope := range []Scope{ScopeGlobal, ScopeWorkspace} {
		path := s.Path(scope)
		if path == "" {
			continue
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			watcher.Close()
			return err
		}
		files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		// The directory may not exist yet; settings written later are then
		// only picked up after a restart.
		if err := watcher.Add(dir); err != nil {
			logger.Debugw("settings directory not watched", "dir", dir, "error", err)
		}
	}

	before := s.Flatten()
	go func() {
		defer watcher.Close()
		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				abs, err := filepath.Abs(ev.Name)
				if err != nil || !files[abs] {
					continue
				}
				if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) &&
					!ev.Op.Has(fsnotify.Rename) && !ev.Op.Has(fsnotify.Remove) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(debounce)
				} else {
					timer.Reset(debounce)
				}
				fire = timer.C
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warnw("settings watcher error", "error", err)
			case <-fire:
				fire = nil
				if err := s.Reload(); err != nil {
					logger.Warnw("reload settings", "error", err)
					continue
				}
				after := s.Flatten()
				changed := ChangedKeys(before, after)
				before = after
				if len(changed) > 0 && onChange != nil {
					onChange(changed)
				}
			}
		}
	}()
	return nil
}
