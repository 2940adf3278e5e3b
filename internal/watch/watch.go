// Package watch reloads the config file when it changes on disk.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/born-ml/born-train/internal/config"
)

// DefaultDebounce is how long the file must stay quiet before a reload.
const DefaultDebounce = 200 * time.Millisecond

// MinDebounce is the smallest quiet period SetDebounce accepts.
const MinDebounce = time.Millisecond

// ApplyFunc receives every successfully reloaded config.
type ApplyFunc func(cfg *config.Config) error

// Stats counts watcher activity.
type Stats struct {
	Events  int
	Reloads int
	Errors  int
	Missing int // reloads skipped because the file was gone
}

// Watcher watches one config file and calls ApplyFunc after each change.
//
// The parent directory is watched rather than the file so editors that
// save by rename keep being followed.
type Watcher struct {
	path     string
	apply    ApplyFunc
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu      sync.Mutex
	pending time.Time // last event time, zero when nothing is pending
	stats   Stats
}

// New creates a Watcher for the config file at path.
func New(path string, apply ApplyFunc, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{
		path:     abs,
		apply:    apply,
		logger:   logger.With(zap.String("config", abs)),
		watcher:  fw,
		debounce: DefaultDebounce,
	}, nil
}

// SetDebounce changes the quiet period. Must be called before Run.
// Values below MinDebounce are raised to it.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = max(d, MinDebounce)
}

// Stats returns a snapshot of the counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Run processes file events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	tick := time.NewTicker(w.debounce / 4)
	defer tick.Stop()

	w.logger.Debug("watching config")
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ev)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case now := <-tick.C:
			w.flush(now)
		}
	}
}

// Close stops watching. Run returns once it observes the closed channels.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if filepath.Clean(ev.Name) != w.path {
		return
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
		return
	}
	w.mu.Lock()
	w.pending = time.Now()
	w.stats.Events++
	w.mu.Unlock()
}

func (w *Watcher) flush(now time.Time) {
	w.mu.Lock()
	if w.pending.IsZero() || now.Sub(w.pending) < w.debounce {
		w.mu.Unlock()
		return
	}
	w.pending = time.Time{}
	w.mu.Unlock()

	w.reload()
}

func (w *Watcher) reload() {
	// config.Load falls back to the defaults for a missing file, which would
	// reset every live callback. A renamed or deleted file keeps the settings.
	if _, err := os.Stat(w.path); errors.Is(err, fs.ErrNotExist) {
		w.mu.Lock()
		w.stats.Missing++
		w.mu.Unlock()
		w.logger.Warn("config file missing, keeping current settings")
		return
	}

	cfg, err := config.Load(w.path)
	if err == nil {
		err = w.apply(cfg)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.stats.Errors++
		w.logger.Warn("config reload rejected", zap.Error(err))
		return
	}
	w.stats.Reloads++
	w.logger.Info("config reloaded")
}
