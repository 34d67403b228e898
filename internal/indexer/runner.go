package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/adhocore/gronx"
	"github.com/fsnotify/fsnotify"
)

// Runner defaults.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultDebounce     = 250 * time.Millisecond
)

// RunnerConfig selects what wakes a Runner. Every trigger is optional
// except the poll ticker.
type RunnerConfig struct {
	BatchSize    int
	PollInterval time.Duration

	// Notify wakes the runner immediately, usually a ledger subscription.
	Notify <-chan struct{}

	// WatchPath is a database file whose writes wake the runner, so appends
	// made by other processes are folded without waiting for the poll.
	WatchPath string
	Debounce  time.Duration

	// VerifyCron schedules Verify with a cron expression. Empty disables it.
	VerifyCron string
}

// Runner drives an Indexer from polling, notifications, file changes and a
// verification schedule until its context ends.
type Runner struct {
	ix     *Indexer
	cfg    RunnerConfig
	logger *slog.Logger
}

// NewRunner validates cfg and returns a runner for ix.
func NewRunner(ix *Indexer, cfg RunnerConfig) (*Runner, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.VerifyCron != "" && !gronx.IsValid(cfg.VerifyCron) {
		return nil, fmt.Errorf("invalid verify cron expression %q", cfg.VerifyCron)
	}
	return &Runner{ix: ix, cfg: cfg, logger: ix.logger}, nil
}

// Run catches up once, then keeps the index current until ctx is done.
// Batch and verification failures are logged and retried on the next
// trigger. Run releases the lease on exit and returns ctx.Err().
func (r *Runner) Run(ctx context.Context) error {
	defer func() {
		// ctx is already done here
		release, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := r.ix.Release(release); err != nil {
			r.logger.Warn("release lease", "error", err)
		}
	}()

	var fsChanged <-chan struct{}
	if r.cfg.WatchPath != "" {
		w, err := newFileWatcher(r.cfg.WatchPath, r.cfg.Debounce, r.logger)
		if err != nil {
			return err
		}
		defer w.stop()
		fsChanged = w.changed
	}

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	var verifyC <-chan time.Time
	var verifyTimer *time.Timer
	if r.cfg.VerifyCron != "" {
		verifyTimer = time.NewTimer(r.untilNextVerify())
		defer verifyTimer.Stop()
		verifyC = verifyTimer.C
	}

	r.logger.Info("indexer running",
		"owner", r.ix.Owner(),
		"batch_size", r.cfg.BatchSize,
		"poll", r.cfg.PollInterval,
		"watch", r.cfg.WatchPath,
		"verify_cron", r.cfg.VerifyCron,
	)
	r.drain(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("indexer stopping")
			return ctx.Err()
		case <-ticker.C:
			r.drain(ctx)
		case <-r.cfg.Notify:
			r.drain(ctx)
		case <-fsChanged:
			r.drain(ctx)
		case <-verifyC:
			r.verify(ctx)
			verifyTimer.Reset(r.untilNextVerify())
		}
	}
}

// drain folds everything pending. The pending check keeps the runner's own
// index writes, seen by the file watcher, from causing empty batches.
func (r *Runner) drain(ctx context.Context) {
	pending, err := r.ix.Pending(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error("read pending events", "error", err)
		}
		return
	}
	if pending == 0 {
		return
	}

	n, err := r.ix.CatchUp(ctx, r.cfg.BatchSize)
	switch {
	case err == nil:
		r.logger.Debug("index caught up", "events", n)
	case ctx.Err() != nil:
	default:
		r.logger.Error("indexer batch failed", "events", n, "error", err)
	}
}

func (r *Runner) verify(ctx context.Context) {
	if _, err := r.ix.Verify(ctx); err != nil {
		var cerr *ConsistencyError
		if !errors.As(err, &cerr) && ctx.Err() == nil {
			r.logger.Error("scheduled verification failed", "error", err)
		}
	}
}

func (r *Runner) untilNextVerify() time.Duration {
	now := time.Now().UTC()
	next, err := gronx.NextTickAfter(r.cfg.VerifyCron, now, false)
	if err != nil {
		r.logger.Error("next verify tick", "cron", r.cfg.VerifyCron, "error", err)
		return time.Hour
	}
	return max(next.Sub(now), 0)
}

// fileWatcher signals debounced writes to a sqlite database and its WAL.
type fileWatcher struct {
	fsw      *fsnotify.Watcher
	names    map[string]bool
	debounce time.Duration
	logger   *slog.Logger
	changed  chan struct{}
	done     chan struct{}
}

func newFileWatcher(path string, debounce time.Duration, logger *slog.Logger) (*fileWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching directory %s: %w", dir, err)
	}

	base := filepath.Base(path)
	w := &fileWatcher{
		fsw:      fsw,
		names:    map[string]bool{base: true, base + "-wal": true},
		debounce: debounce,
		logger:   logger,
		changed:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *fileWatcher) stop() {
	close(w.done)
	w.fsw.Close()
}

func (w *fileWatcher) loop() {
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 || !w.names[filepath.Base(ev.Name)] {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			select {
			case w.changed <- struct{}{}:
			default:
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher", "error", err)

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}
