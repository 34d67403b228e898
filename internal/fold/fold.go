// Package fold is the pure projector from an atom's ordered events to its
// materialized index entry. It performs no I/O.
//
// Fold order is (event_ts, store_id). Callers sort with Sort before folding;
// Fold rejects input that would go backwards from the prior state.
//
// Fold never fails on bad event content. An event that cannot drive its
// transition is skipped and recorded in the entry's anomalies, so one bad
// fact never blocks the indexer. The history hash still covers it.
package fold

import (
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/atomledger/internal/ir"
)

// ErrOutOfOrder is returned when events are not in strictly increasing
// (event_ts, store_id) order, including relative to the prior entry.
var ErrOutOfOrder = errors.New("events out of fold order")

// ErrMixedAtoms is returned when one Fold call receives more than one atom_uid.
var ErrMixedAtoms = errors.New("events for more than one atom")

// Fold applies events on top of prev. A nil prev starts from an empty
// history. prev is not modified.
func Fold(prev *ir.IndexEntry, events []ir.Event) (ir.IndexEntry, error) {
	var st ir.IndexEntry
	hasPos := false
	if prev != nil {
		st = clone(*prev)
		hasPos = prev.EventCount > 0
	}

	for _, ev := range events {
		if st.AtomUID == "" {
			st.AtomUID = ev.AtomUID
		} else if ev.AtomUID != st.AtomUID {
			return ir.IndexEntry{}, fmt.Errorf("%w: %s and %s", ErrMixedAtoms, st.AtomUID, ev.AtomUID)
		}
		if hasPos && !st.Position().Before(ev) {
			return ir.IndexEntry{}, fmt.Errorf("%w: event %d at %s after (%s, %d)",
				ErrOutOfOrder, ev.StoreID, ir.FormatTS(ev.Timestamp), ir.FormatTS(st.LastEventTS), st.LastStoreID)
		}

		apply(&st, ev)

		h, err := ir.HistoryStep(st.HistoryHash, ev)
		if err != nil {
			return ir.IndexEntry{}, fmt.Errorf("fold %s: event %d: %w", ev.AtomUID, ev.StoreID, err)
		}
		st.HistoryHash = h
		st.LastEventTS = ev.Timestamp.UTC()
		st.LastStoreID = ev.StoreID
		st.FoldedThrough = max(st.FoldedThrough, ev.StoreID)
		st.EventCount++
		hasPos = true
	}
	return st, nil
}

// Sort orders events in place by (event_ts, store_id).
func Sort(events []ir.Event) {
	slices.SortStableFunc(events, func(a, b ir.Event) int {
		switch {
		case a.Before(b):
			return -1
		case b.Before(a):
			return 1
		}
		return 0
	})
}

// Replay folds one atom's complete history from scratch. events may be in
// any order; the input slice is not modified.
func Replay(events []ir.Event) (ir.IndexEntry, error) {
	sorted := slices.Clone(events)
	Sort(sorted)
	return Fold(nil, sorted)
}

// ReplayAll groups a ledger by atom_uid and replays each group.
func ReplayAll(events []ir.Event) (map[string]ir.IndexEntry, error) {
	groups := make(map[string][]ir.Event)
	for _, ev := range events {
		groups[ev.AtomUID] = append(groups[ev.AtomUID], ev)
	}

	out := make(map[string]ir.IndexEntry, len(groups))
	for uid, evs := range groups {
		entry, err := Replay(evs)
		if err != nil {
			return nil, err
		}
		out[uid] = entry
	}
	return out, nil
}

func clone(e ir.IndexEntry) ir.IndexEntry {
	e.SplitInto = slices.Clone(e.SplitInto)
	e.Deps = slices.Clone(e.Deps)
	e.Anomalies = slices.Clone(e.Anomalies)
	return e
}
