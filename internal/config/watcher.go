package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/loykin/runvisor/internal/logger"
)

// Watcher re-resolves the configuration when one of its files changes.
// A new snapshot is delivered only when no behavioral field changed; those
// require a full reload (restart of the runtime).
type Watcher struct {
	src       Sources
	overrides map[string]any
	log       *slog.Logger
	debounce  time.Duration
	current   *Snapshot
	onReload  func(*Snapshot)
}

func NewWatcher(current *Snapshot, src Sources, overrides map[string]any, onReload func(*Snapshot), log *slog.Logger) *Watcher {
	return &Watcher{
		src:       src,
		overrides: overrides,
		log:       logger.OrDiscard(log),
		debounce:  200 * time.Millisecond,
		current:   current,
		onReload:  onReload,
	}
}

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = fw.Close() }()

	// Watch directories: editors replace files by rename, which drops a
	// watch placed on the file itself.
	watched := make(map[string]bool)
	names := make(map[string]bool)
	for _, f := range w.current.Files {
		abs, err := filepath.Abs(f)
		if err != nil {
			continue
		}
		names[abs] = true
		dir := filepath.Dir(abs)
		if watched[dir] {
			continue
		}
		if err := fw.Add(dir); err != nil {
			w.log.Warn("cannot watch config directory", "dir", dir, "error", err)
			continue
		}
		watched[dir] = true
	}

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			abs, _ := filepath.Abs(ev.Name)
			if !names[abs] || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			fire = timer.C
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("config watcher error", "error", err)
		case <-fire:
			fire = nil
			w.reload(ctx)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	next, err := Resolve(ctx, w.src, w.overrides, w.log)
	if err != nil {
		w.log.Error("configuration reload rejected", "error", err)
		return
	}
	if changed := w.current.BehaviorChanged(next); len(changed) > 0 {
		w.log.Warn("configuration change needs a full reload; keeping current snapshot", "fields", changed)
		return
	}
	w.current = next
	w.log.Info("configuration reloaded", "files", next.Files)
	if w.onReload != nil {
		w.onReload(next)
	}
}
