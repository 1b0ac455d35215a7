package config

import (
	"context"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"amd/internal/errors"
	logx "amd/pkg/logx"
)

const (
	watchBackoffMin = 250 * time.Millisecond
	watchBackoffMax = 5 * time.Second

	relevantOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod
)

// Watch follows the config file until ctx is done and reloads it after each
// burst of changes. The directory is watched rather than the file so editors
// that replace the file by rename keep working. A broken watcher is recreated
// with jittered backoff.
func (m *Manager) Watch(ctx context.Context) error {
	w := &fileWatch{
		m:       m,
		dir:     filepath.Dir(m.path),
		file:    filepath.Base(m.path),
		backoff: watchBackoffMin,
		log:     m.log.With(logx.String("path", m.path)),
	}
	defer w.stopTimer()

	for ctx.Err() == nil {
		fw, err := w.open()
		if err != nil {
			w.log.Warn("config watch unavailable", logx.Err(err))
		} else {
			w.backoff = watchBackoffMin
			w.follow(ctx, fw)
			_ = fw.Close()
		}
		if ctx.Err() != nil {
			break
		}
		wait := w.nextBackoff()
		w.log.Warn("config watcher restarting", logx.Duration("backoff", wait))
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
	}
	return nil
}

type fileWatch struct {
	m         *Manager
	dir, file string
	backoff   time.Duration
	log       logx.Logger

	timerMu sync.Mutex
	timer   *time.Timer
}

func (w *fileWatch) open() (*fsnotify.Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create watcher")
	}
	if err := fw.Add(w.dir); err != nil {
		_ = fw.Close()
		return nil, errors.Wrapf(err, "watch %s", w.dir)
	}
	w.log.Debug("config watcher started")
	return fw, nil
}

// follow returns when ctx is done or the watcher's channels close.
func (w *fileWatch) follow(ctx context.Context, fw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if ev.Op&relevantOps != 0 && strings.EqualFold(filepath.Base(ev.Name), w.file) {
				w.schedule(ctx)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.log.Warn("config watch overflow; forcing reload", logx.Err(err))
				w.schedule(ctx)
			} else if err != nil {
				w.log.Warn("config watch error", logx.Err(err))
			}
		}
	}
}

// schedule (re)arms the debounce timer so a burst of writes causes one reload
// after the file has settled.
func (w *fileWatch) schedule(ctx context.Context) {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.m.wait, func() {
		if ctx.Err() == nil {
			w.m.reload(ctx)
		}
	})
}

func (w *fileWatch) stopTimer() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *fileWatch) nextBackoff() time.Duration {
	d := w.backoff + rand.N(w.backoff/2+1)
	w.backoff = min(w.backoff*2, watchBackoffMax)
	return d
}
