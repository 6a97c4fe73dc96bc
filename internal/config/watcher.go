package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads a Holder when Trigger is called and, if watchFile is set,
// when its config file changes on disk. A file that fails to load leaves the
// current snapshot.
type Watcher struct {
	holder    *Holder
	log       *zerolog.Logger
	watchFile bool
	debounce  time.Duration
	trigger   chan struct{}
}

func NewWatcher(h *Holder, log *zerolog.Logger, watchFile bool) *Watcher {
	return &Watcher{
		holder:    h,
		log:       log,
		watchFile: watchFile,
		debounce:  250 * time.Millisecond,
		trigger:   make(chan struct{}, 1),
	}
}

// Trigger asks for a reload without waiting for it.
func (w *Watcher) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is done. Without a file watch it still serves Trigger.
func (w *Watcher) Run(ctx context.Context) error {
	path := w.holder.Current().Runtime.Path
	if !w.watchFile {
		return w.loop(ctx, path, nil, nil)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.Warn().Err(err).Msg("config file watch unavailable, reload on signal only")
		return w.loop(ctx, path, nil, nil)
	}
	defer fw.Close()
	// editors replace files on save, so watch the directory
	if err := fw.Add(filepath.Dir(path)); err != nil {
		w.log.Warn().Err(err).Str("path", path).Msg("config file watch unavailable, reload on signal only")
		return w.loop(ctx, path, nil, nil)
	}
	w.log.Info().Str("path", path).Msg("watching config file")
	return w.loop(ctx, path, fw.Events, fw.Errors)
}

func (w *Watcher) loop(ctx context.Context, path string, events <-chan fsnotify.Event, errs <-chan error) error {
	target := filepath.Clean(path)
	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			pending = timer.C
		case <-pending:
			pending = nil
			w.reload("file")
		case <-w.trigger:
			w.reload("signal")
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.log.Warn().Err(err).Msg("config watch error")
		}
	}
}

func (w *Watcher) reload(source string) {
	if _, err := w.holder.Reload(); err != nil {
		w.log.Error().Err(err).Str("source", source).Msg("config reload failed, keeping previous snapshot")
		return
	}
	w.log.Info().Str("source", source).Msg("config reloaded")
}
