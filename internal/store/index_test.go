package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/atomledger/internal/ir"
)

func testEntry(uid, key string, status ir.Status, deps ...string) ir.IndexEntry {
	return ir.IndexEntry{
		AtomUID:       uid,
		AtomKey:       key,
		Status:        status,
		Title:         "title " + uid[len(uid)-1:],
		LastEventTS:   t0,
		LastStoreID:   1,
		FoldedThrough: 1,
		EventCount:    1,
		Deps:          deps,
		HistoryHash:   "abc",
	}
}

func TestUpsertEntry_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	want := testEntry(uidA, "ns/wf/v1/init/all/001", ir.StatusSplit, uidB)
	want.SplitInto = []string{uidB, uidC}
	want.Anomalies = []string{"created_after_split"}
	want.LastEventTS = t0.Add(1500 * time.Millisecond)
	require.NoError(t, s.UpsertEntry(ctx, want))

	got, err := s.GetEntry(ctx, uidA)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestGetEntry_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.GetEntry(context.Background(), uidA)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertEntry_ReplacesEdges(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertEntry(ctx, testEntry(uidA, "ns/wf/v1/init/all/001", ir.StatusActive, uidB, uidC)))
	edges, err := s.ListEdges(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ir.Edge{{AtomUID: uidA, DependsOn: uidB}, {AtomUID: uidA, DependsOn: uidC}}, edges)

	require.NoError(t, s.UpsertEntry(ctx, testEntry(uidA, "ns/wf/v1/init/all/001", ir.StatusActive, uidC)))
	edges, err = s.ListEdges(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ir.Edge{{AtomUID: uidA, DependsOn: uidC}}, edges)

	dependents, err := s.DependentsOf(ctx, uidC)
	require.NoError(t, err)
	assert.Equal(t, []string{uidA}, dependents)

	dependents, err = s.DependentsOf(ctx, uidB)
	require.NoError(t, err)
	assert.Empty(t, dependents)
}

func TestUpsertEntry_SkipsSelfEdge(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertEntry(ctx, testEntry(uidA, "ns/wf/v1/init/all/001", ir.StatusActive, uidA, uidB)))
	edges, err := s.ListEdges(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ir.Edge{{AtomUID: uidA, DependsOn: uidB}}, edges)
}

func TestListEntries_SortedByUID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertEntry(ctx, testEntry(uidC, "ns/wf/v1/init/all/003", ir.StatusActive)))
	require.NoError(t, s.UpsertEntry(ctx, testEntry(uidA, "ns/wf/v1/init/all/001", ir.StatusActive)))

	entries, err := s.ListEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, uidA, entries[0].AtomUID)
	assert.Equal(t, uidC, entries[1].AtomUID)

	n, err := s.CountEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestKeyCandidates_LiveEntriesAndUnfoldedEvents(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	key := "ns/wf/v1/init/all/001"
	require.NoError(t, s.UpsertEntry(ctx, testEntry(uidA, key, ir.StatusRemoved)))
	require.NoError(t, s.UpsertEntry(ctx, testEntry(uidB, key, ir.StatusDeprecated)))
	require.NoError(t, s.UpsertEntry(ctx, testEntry(uidC, "ns/wf/v1/init/all/002", ir.StatusActive)))

	holders, err := s.KeyCandidates(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []string{uidB}, holders)

	// Folded events no longer count; the index speaks for them.
	mustAppend(t, s, createdEvent(uidA, key, t0))
	require.NoError(t, s.AdvanceWatermark(ctx, 0, 1))
	mustAppend(t, s, ir.Event{
		AtomUID:   uidC,
		Type:      ir.EventMoved,
		Timestamp: t0,
		Meta:      ir.IRObject{"new_key": ir.IRString(key)},
	})

	holders, err = s.KeyCandidates(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []string{uidB, uidC}, holders)
}

func TestTruncateIndex(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustAppend(t, s, createdEvent(uidA, "ns/wf/v1/init/all/001", t0))
	require.NoError(t, s.UpsertEntry(ctx, testEntry(uidA, "ns/wf/v1/init/all/001", ir.StatusActive, uidB)))
	require.NoError(t, s.AdvanceWatermark(ctx, 0, 1))

	require.NoError(t, s.TruncateIndex(ctx))

	entries, err := s.ListEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
	edges, err := s.ListEdges(ctx)
	require.NoError(t, err)
	assert.Empty(t, edges)
	wm, err := s.Watermark(ctx)
	require.NoError(t, err)
	assert.Zero(t, wm)

	n, err := s.CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "ledger is untouched")
}
