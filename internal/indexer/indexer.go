package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/atomledger/internal/fold"
	"github.com/roach88/atomledger/internal/ir"
	"github.com/roach88/atomledger/internal/metrics"
	"github.com/roach88/atomledger/internal/store"
)

// Defaults for batch size and lease duration.
const (
	DefaultBatchSize = 500
	DefaultLeaseTTL  = 30 * time.Second
)

// Indexer folds ledger events into the materialized index.
type Indexer struct {
	store    *store.Store
	logger   *slog.Logger
	metrics  *metrics.Metrics
	owner    string
	leaseTTL time.Duration
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(ix *Indexer) { ix.logger = l }
}

// WithMetrics records batch and verification metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(ix *Indexer) { ix.metrics = m }
}

// WithOwner sets the lease owner id. The default is a random uuid.
func WithOwner(owner string) Option {
	return func(ix *Indexer) { ix.owner = owner }
}

// WithLeaseTTL sets how long a batch holds the lease without renewing it.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(ix *Indexer) {
		if ttl > 0 {
			ix.leaseTTL = ttl
		}
	}
}

// New creates an indexer over s.
func New(s *store.Store, opts ...Option) *Indexer {
	ix := &Indexer{
		store:    s,
		logger:   slog.Default(),
		owner:    uuid.NewString(),
		leaseTTL: DefaultLeaseTTL,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Owner returns the id this indexer holds the lease under.
func (ix *Indexer) Owner() string {
	return ix.owner
}

// Release gives up the lease so another indexer can take over at once.
func (ix *Indexer) Release(ctx context.Context) error {
	return ix.store.ReleaseLease(ctx, ix.owner)
}

// Pending returns how many ledger ids lie beyond the watermark.
func (ix *Indexer) Pending(ctx context.Context) (int64, error) {
	wm, err := ix.store.Watermark(ctx)
	if err != nil {
		return 0, err
	}
	head, err := ix.store.MaxEventID(ctx)
	if err != nil {
		return 0, err
	}
	return max(head-wm, 0), nil
}

// RunBatch folds at most batchSize events past the watermark and advances
// the watermark over them. It returns the number of events read. Zero
// means the index is caught up.
//
// If ctx is cancelled between groups, RunBatch returns the number of events
// in groups already written together with ctx.Err(), and leaves the
// watermark where it was.
func (ix *Indexer) RunBatch(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	start := time.Now()

	n, err := ix.runBatch(ctx, batchSize)
	if ix.metrics != nil {
		if err != nil {
			ix.metrics.BatchErrors.Inc()
		} else if n > 0 {
			ix.metrics.BatchesTotal.Inc()
			ix.metrics.BatchEvents.Add(float64(n))
			ix.metrics.BatchDuration.Observe(time.Since(start).Seconds())
		}
	}
	return n, err
}

func (ix *Indexer) runBatch(ctx context.Context, batchSize int) (int, error) {
	if err := ix.store.AcquireLease(ctx, ix.owner, ix.leaseTTL); err != nil {
		return 0, err
	}

	from, err := ix.store.Watermark(ctx)
	if err != nil {
		return 0, err
	}
	events, err := ix.store.ReadEventsAfter(ctx, from, batchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}
	batchMax := events[len(events)-1].StoreID

	order, groups := groupByUID(events)
	done := 0
	for _, uid := range order {
		if err := ctx.Err(); err != nil {
			ix.logger.Info("batch interrupted",
				"watermark", from,
				"groups_done", done,
			)
			return done, err
		}
		if err := ix.foldGroup(ctx, uid, groups[uid], batchMax); err != nil {
			return done, fmt.Errorf("fold %s: %w", uid, err)
		}
		done += len(groups[uid])
	}

	if err := ix.store.AdvanceWatermark(ctx, from, batchMax); err != nil {
		return done, err
	}
	if ix.metrics != nil {
		ix.metrics.Watermark.Set(float64(batchMax))
	}

	ix.logger.Debug("batch folded",
		"events", len(events),
		"atoms", len(order),
		"watermark", batchMax,
	)
	return len(events), nil
}

// groupByUID splits events by atom_uid, keeping uids in order of first
// appearance and each group in id order.
func groupByUID(events []ir.Event) ([]string, map[string][]ir.Event) {
	var order []string
	groups := make(map[string][]ir.Event)
	for _, ev := range events {
		if _, ok := groups[ev.AtomUID]; !ok {
			order = append(order, ev.AtomUID)
		}
		groups[ev.AtomUID] = append(groups[ev.AtomUID], ev)
	}
	return order, groups
}

func (ix *Indexer) foldGroup(ctx context.Context, uid string, group []ir.Event, batchMax int64) error {
	prev, err := ix.store.GetEntry(ctx, uid)
	hasPrev := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	fresh := group[:0:0]
	for _, ev := range group {
		if !hasPrev || ev.StoreID > prev.FoldedThrough {
			fresh = append(fresh, ev)
		}
	}
	if len(fresh) == 0 {
		return nil
	}
	fold.Sort(fresh)

	var next ir.IndexEntry
	if hasPrev && prev.Position().Before(fresh[0]) {
		next, err = fold.Fold(&prev, fresh)
	} else {
		next, err = ix.refold(ctx, uid, batchMax)
	}
	if err != nil {
		return err
	}

	if n := len(next.Anomalies); n > len(prev.Anomalies) {
		ix.logger.Warn("fold anomaly",
			"uid", uid,
			"anomalies", next.Anomalies[len(prev.Anomalies):],
		)
	}
	return ix.store.UpsertEntry(ctx, next)
}

// refold replays uid's history up to batchMax from scratch.
func (ix *Indexer) refold(ctx context.Context, uid string, batchMax int64) (ir.IndexEntry, error) {
	history, err := ix.store.ReadHistory(ctx, uid, batchMax)
	if err != nil {
		return ir.IndexEntry{}, err
	}
	ix.logger.Debug("refolding history", "uid", uid, "events", len(history))
	return fold.Replay(history)
}

// CatchUp runs batches until the index reaches the ledger head and returns
// the total number of events folded.
func (ix *Indexer) CatchUp(ctx context.Context, batchSize int) (int, error) {
	total := 0
	for {
		n, err := ix.RunBatch(ctx, batchSize)
		total += n
		if err != nil || n == 0 {
			return total, err
		}
	}
}
