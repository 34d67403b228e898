package indexer

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/atomledger/internal/fold"
	"github.com/roach88/atomledger/internal/ir"
	"github.com/roach88/atomledger/internal/metrics"
	"github.com/roach88/atomledger/internal/store"
)

const (
	uidA = "01HZY3K8Q2M4N6P8R0T2V4X6ZA"
	uidB = "01HZY3K8Q2M4N6P8R0T2V4X6ZB"
	uidC = "01HZY3K8Q2M4N6P8R0T2V4X6ZC"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestStore(t *testing.T) (*store.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func newTestIndexer(t *testing.T, opts ...Option) (*Indexer, *store.Store) {
	t.Helper()
	s, _ := newTestStore(t)
	return New(s, append([]Option{WithLogger(quiet)}, opts...)...), s
}

func appendEvent(t *testing.T, s *store.Store, ev ir.Event) int64 {
	t.Helper()
	if ev.Meta == nil {
		ev.Meta = ir.IRObject{}
	}
	id, inserted, err := s.Append(context.Background(), ev)
	require.NoError(t, err)
	require.True(t, inserted)
	return id
}

func created(uid, key string, ts time.Time, deps ...string) ir.Event {
	meta := ir.IRObject{ir.MetaTitle: ir.IRString("atom " + uid[len(uid)-1:])}
	if len(deps) > 0 {
		meta[ir.MetaDeps] = ir.StringArray(deps)
	}
	return ir.Event{AtomUID: uid, AtomKey: key, Type: ir.EventCreated, Timestamp: ts, Meta: meta}
}

func revised(uid string, ts time.Time, title string) ir.Event {
	return ir.Event{AtomUID: uid, Type: ir.EventRevised, Timestamp: ts, Meta: ir.IRObject{ir.MetaTitle: ir.IRString(title)}}
}

// seedSplit writes the A/B/C scenario: A is split into B and C.
func seedSplit(t *testing.T, s *store.Store) {
	t.Helper()
	appendEvent(t, s, created(uidA, "ns/wf/v1/build/all/001", t0))
	appendEvent(t, s, created(uidB, "ns/wf/v1/build/all/002", t0.Add(time.Minute), uidA))
	appendEvent(t, s, created(uidC, "ns/wf/v1/build/all/003", t0.Add(2*time.Minute), uidA))
	appendEvent(t, s, ir.Event{
		AtomUID:   uidA,
		Type:      ir.EventSplit,
		Timestamp: t0.Add(3 * time.Minute),
		Meta:      ir.IRObject{ir.MetaSplitInto: ir.StringArray([]string{uidB, uidC})},
	})
}

func TestRunBatch_FoldsSplit(t *testing.T) {
	ix, s := newTestIndexer(t)
	ctx := context.Background()
	seedSplit(t, s)

	n, err := ix.RunBatch(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	a, err := s.GetEntry(ctx, uidA)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusSplit, a.Status)
	assert.Equal(t, []string{uidB, uidC}, a.SplitInto)
	assert.Equal(t, 2, a.EventCount)
	assert.Equal(t, int64(4), a.FoldedThrough)

	b, err := s.GetEntry(ctx, uidB)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusActive, b.Status)
	assert.Equal(t, []string{uidA}, b.Deps)

	wm, err := s.Watermark(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), wm)

	n, err = ix.RunBatch(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunBatch_SmallBatchesMatchRebuild(t *testing.T) {
	ix, s := newTestIndexer(t)
	ctx := context.Background()
	seedSplit(t, s)
	appendEvent(t, s, revised(uidB, t0.Add(4*time.Minute), "renamed"))

	var sizes []int
	for {
		n, err := ix.RunBatch(ctx, 2)
		require.NoError(t, err)
		if n == 0 {
			break
		}
		sizes = append(sizes, n)
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)

	incremental, err := s.ListEntries(ctx)
	require.NoError(t, err)
	edges, err := s.ListEdges(ctx)
	require.NoError(t, err)

	require.NoError(t, ix.RebuildFull(ctx))

	rebuilt, err := s.ListEntries(ctx)
	require.NoError(t, err)
	rebuiltEdges, err := s.ListEdges(ctx)
	require.NoError(t, err)
	assert.Equal(t, incremental, rebuilt)
	assert.Equal(t, edges, rebuiltEdges)

	wm, err := s.Watermark(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), wm)
}

func TestRunBatch_LateEventRefolds(t *testing.T) {
	ix, s := newTestIndexer(t)
	ctx := context.Background()

	appendEvent(t, s, created(uidA, "ns/wf/v1/build/all/001", t0))
	appendEvent(t, s, revised(uidA, t0.Add(2*time.Hour), "latest"))
	_, err := ix.CatchUp(ctx, 10)
	require.NoError(t, err)

	// arrives later but happened earlier
	appendEvent(t, s, revised(uidA, t0.Add(time.Hour), "earlier"))
	n, err := ix.RunBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetEntry(ctx, uidA)
	require.NoError(t, err)
	assert.Equal(t, "latest", got.Title)
	assert.Equal(t, 3, got.EventCount)
	assert.Equal(t, int64(2), got.LastStoreID)
	assert.Equal(t, int64(3), got.FoldedThrough)

	history, err := s.ReadHistory(ctx, uidA, 0)
	require.NoError(t, err)
	want, err := fold.Replay(history)
	require.NoError(t, err)
	assert.Equal(t, want.HistoryHash, got.HistoryHash)
}

func TestRunBatch_SkipsGroupsWrittenBeforeInterruption(t *testing.T) {
	ix, s := newTestIndexer(t)
	ctx := context.Background()
	seedSplit(t, s)

	// a batch that wrote A and died before advancing the watermark
	history, err := s.ReadHistory(ctx, uidA, 4)
	require.NoError(t, err)
	partial, err := fold.Replay(history)
	require.NoError(t, err)
	require.NoError(t, s.UpsertEntry(ctx, partial))

	report, err := ix.Verify(ctx)
	require.NoError(t, err, "entries folded past the watermark are not divergent")
	assert.True(t, report.OK())

	n, err := ix.RunBatch(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	a, err := s.GetEntry(ctx, uidA)
	require.NoError(t, err)
	assert.Equal(t, partial.CanonicalObject(), a.CanonicalObject())
	assert.Equal(t, 2, a.EventCount)
}

func TestRunBatch_Cancelled(t *testing.T) {
	ix, s := newTestIndexer(t)
	seedSplit(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := ix.RunBatch(ctx, 100)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)

	wm, err := s.Watermark(context.Background())
	require.NoError(t, err)
	assert.Zero(t, wm)
}

func TestRunBatch_LeaseHeldElsewhere(t *testing.T) {
	ix, s := newTestIndexer(t)
	ctx := context.Background()
	seedSplit(t, s)

	require.NoError(t, s.AcquireLease(ctx, "other-indexer", time.Minute))

	_, err := ix.RunBatch(ctx, 100)
	require.ErrorIs(t, err, store.ErrLeaseHeld)

	require.NoError(t, s.ReleaseLease(ctx, "other-indexer"))
	n, err := ix.RunBatch(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestRunBatch_RecordsMetrics(t *testing.T) {
	m := metrics.New()
	ix, s := newTestIndexer(t, WithMetrics(m))
	seedSplit(t, s)

	_, err := ix.CatchUp(context.Background(), 3)
	require.NoError(t, err)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.BatchesTotal))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.BatchEvents))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.Watermark))
	assert.Zero(t, testutil.ToFloat64(m.BatchErrors))
}

func TestPending(t *testing.T) {
	ix, s := newTestIndexer(t)
	ctx := context.Background()

	n, err := ix.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	seedSplit(t, s)
	n, err = ix.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	_, err = ix.RunBatch(ctx, 3)
	require.NoError(t, err)
	n, err = ix.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRebuildFull_EmptyLedger(t *testing.T) {
	ix, s := newTestIndexer(t)
	ctx := context.Background()

	require.NoError(t, ix.RebuildFull(ctx))

	count, err := s.CountEntries(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}
