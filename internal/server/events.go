package server

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// EventWatcher reports output changes from file system notifications.
// fsnotify watches single directories, so every directory below the root is
// added, including ones created while watching.
type EventWatcher struct {
	dir   string
	quiet time.Duration
	fsw   *fsnotify.Watcher
	log   *zap.SugaredLogger
}

// NewEventWatcher starts watching dir and its subdirectories. It fails when
// dir does not exist or the platform offers no notifications; callers fall
// back to a Poller.
func NewEventWatcher(dir string, logger *zap.Logger) (*EventWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	w := &EventWatcher{
		dir:   dir,
		quiet: defaultQuietPeriod,
		fsw:   fsw,
		log:   logger.Named("watcher").Sugar(),
	}
	if err := w.addTree(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Watch delivers events until ctx is done, calling onChange once a burst of
// events has been quiet for the quiet period.
func (w *EventWatcher) Watch(ctx context.Context, onChange func()) error {
	debounced := debounce.New(w.quiet)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			// Permission and timestamp touches do not change content.
			if ev.Op == fsnotify.Chmod {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addTree(ev.Name); err != nil {
						w.log.Debugw("cannot watch new directory", "dir", ev.Name, "error", err)
					}
				}
			}
			w.log.Debugw("output changed", "path", ev.Name, "op", ev.Op.String())
			debounced(func() {
				if ctx.Err() == nil {
					onChange()
				}
			})

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warnw("file watcher error", "dir", w.dir, "error", err)
		}
	}
}

// Close stops the underlying notifications.
func (w *EventWatcher) Close() error {
	return w.fsw.Close()
}

func (w *EventWatcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return fmt.Errorf("watching %s: %w", root, err)
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}
