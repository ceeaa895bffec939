package server

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/bep/debounce"
	"go.uber.org/zap"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultQuietPeriod  = 100 * time.Millisecond
)

// fileState is what a poll compares between scans.
type fileState struct {
	modTime time.Time
	size    int64
}

// Poller detects changes in a directory tree by comparing modification
// times and sizes between periodic scans. A burst of changes produces a
// single notification once the tree has been quiet for the quiet period.
type Poller struct {
	dir      string
	interval time.Duration
	quiet    time.Duration
	log      *zap.SugaredLogger
}

// NewPoller creates a Poller for dir with the default intervals.
func NewPoller(dir string, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		dir:      dir,
		interval: defaultPollInterval,
		quiet:    defaultQuietPeriod,
		log:      logger.Named("watcher").Sugar(),
	}
}

// Watch scans until ctx is done, calling onChange after changes settle.
// A missing directory is treated as empty, so output that appears later
// counts as a change.
func (p *Poller) Watch(ctx context.Context, onChange func()) error {
	debounced := debounce.New(p.quiet)
	prev := snapshot(p.dir)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		cur := snapshot(p.dir)
		if changed(prev, cur) {
			p.log.Debugw("output changed", "dir", p.dir, "files", len(cur))
			prev = cur
			debounced(func() {
				if ctx.Err() == nil {
					onChange()
				}
			})
		}
	}
}

// snapshot records the state of every regular file below dir. Unreadable
// entries are skipped.
func snapshot(dir string) map[string]fileState {
	files := make(map[string]fileState)
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == dir {
				return filepath.SkipAll
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files[path] = fileState{modTime: info.ModTime(), size: info.Size()}
		return nil
	})
	return files
}

func changed(prev, cur map[string]fileState) bool {
	if len(prev) != len(cur) {
		return true
	}
	for path, st := range cur {
		old, ok := prev[path]
		if !ok || !old.modTime.Equal(st.modTime) || old.size != st.size {
			return true
		}
	}
	return false
}
