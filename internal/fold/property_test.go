package fold

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/roach88/atomledger/internal/ir"
)

// genHistory draws one atom's history with arbitrary, possibly colliding
// timestamps and distinct store ids.
func genHistory(t *rapid.T) []ir.Event {
	n := rapid.IntRange(1, 12).Draw(t, "n")
	ids := rapid.Permutation(idRange(n)).Draw(t, "ids")
	keys := []string{"ns/wf/v1/a/all/001", "ns/wf/v1/b/all/002", "ns/wf/v1/c/all/003-r2"}

	events := make([]ir.Event, n)
	for i := range events {
		typ := rapid.SampledFrom(ir.EventTypes()).Draw(t, "type")
		e := ir.Event{
			StoreID:   ids[i],
			AtomUID:   uidA,
			Type:      typ,
			Timestamp: t0.Add(time.Duration(rapid.IntRange(0, 5).Draw(t, "ts")) * time.Second),
			Meta:      ir.IRObject{},
		}
		switch typ {
		case ir.EventCreated:
			e.AtomKey = rapid.SampledFrom(keys).Draw(t, "key")
		case ir.EventMoved:
			e.Meta["new_key"] = ir.IRString(rapid.SampledFrom(keys).Draw(t, "new_key"))
		case ir.EventSplit:
			e.Meta["split_into"] = ir.StringArray([]string{uidB, uidC})
		case ir.EventMerged:
			e.Meta["merged_into"] = ir.IRString(uidB)
		case ir.EventSuperseded:
			e.Meta["superseded_by"] = ir.IRString(uidC)
		case ir.EventCorrected:
			e.Meta["intended_type"] = ir.IRString(rapid.SampledFrom([]string{"removed", "revised", "created"}).Draw(t, "intended"))
		}
		events[i] = e
	}
	return events
}

func idRange(n int) []int64 {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	return ids
}

func TestProperty_ReplayIgnoresInputOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		events := genHistory(t)
		shuffled := append([]ir.Event(nil), events...)
		seed := rapid.Int64().Draw(t, "seed")
		rand.New(rand.NewSource(seed)).Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		a, err := Replay(events)
		require.NoError(t, err)
		b, err := Replay(shuffled)
		require.NoError(t, err)
		require.Equal(t, a, b)
	})
}

func TestProperty_IncrementalEqualsFull(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		events := genHistory(t)
		Sort(events)
		cut := rapid.IntRange(0, len(events)).Draw(t, "cut")

		full, err := Fold(nil, events)
		require.NoError(t, err)

		head, err := Fold(nil, events[:cut])
		require.NoError(t, err)
		var prev *ir.IndexEntry
		if cut > 0 {
			prev = &head
		}
		tail, err := Fold(prev, events[cut:])
		require.NoError(t, err)

		require.Equal(t, full, tail)
	})
}

func TestProperty_StatusAlwaysKnown(t *testing.T) {
	valid := map[ir.Status]bool{
		"": true, ir.StatusActive: true, ir.StatusDeprecated: true,
		ir.StatusRemoved: true, ir.StatusSplit: true, ir.StatusMerged: true,
	}
	rapid.Check(t, func(t *rapid.T) {
		got, err := Replay(genHistory(t))
		require.NoError(t, err)
		require.True(t, valid[got.Status], "status %q", got.Status)
		if got.Status != "" {
			require.NotEmpty(t, got.AtomKey)
		}
	})
}
