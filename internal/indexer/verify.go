package indexer

import (
	"bytes"
	"context"
	"slices"

	"github.com/roach88/atomledger/internal/fold"
	"github.com/roach88/atomledger/internal/ir"
	"github.com/roach88/atomledger/internal/store"
)

// VerifyReport summarizes a shadow verification run.
type VerifyReport struct {
	Watermark   int64        `json:"watermark"`
	Checked     int          `json:"checked"`
	Divergences []Divergence `json:"divergences,omitempty"`
}

// OK reports whether the index matched the replay.
func (r VerifyReport) OK() bool {
	return len(r.Divergences) == 0
}

// Verify replays the ledger up to the watermark in memory and compares the
// result with the stored index and edge table. It writes nothing. On
// divergence the report is returned together with a *ConsistencyError.
//
// All reads share one snapshot, so a batch committed by another process
// mid-run does not show up as divergence. An entry folded past the
// watermark by an interrupted batch is compared with a replay up to its
// own folded_through.
func (ix *Indexer) Verify(ctx context.Context) (VerifyReport, error) {
	var report VerifyReport
	err := ix.store.Snapshot(ctx, func(view *store.Store) error {
		var err error
		report, err = compare(ctx, view)
		return err
	})
	if err != nil {
		return report, err
	}
	wm := report.Watermark

	if ix.metrics != nil {
		ix.metrics.VerifyRuns.Inc()
		ix.metrics.Divergent.Set(float64(len(report.Divergences)))
	}
	if report.OK() {
		ix.logger.Info("index verified", "watermark", wm, "entries", report.Checked)
		return report, nil
	}

	if ix.metrics != nil {
		ix.metrics.VerifyFailures.Inc()
	}
	cerr := &ConsistencyError{Watermark: wm, Divergences: report.Divergences}
	ix.logger.Error("index diverges from ledger",
		"watermark", wm,
		"divergent", len(report.Divergences),
		"uids", cerr.UIDs(),
	)
	return report, cerr
}

// compare replays st up to its watermark and diffs the result with the
// stored index and edge table.
func compare(ctx context.Context, st *store.Store) (VerifyReport, error) {
	wm, err := st.Watermark(ctx)
	if err != nil {
		return VerifyReport{}, err
	}
	report := VerifyReport{Watermark: wm}

	expected := map[string]ir.IndexEntry{}
	if wm > 0 {
		events, err := st.ReadAllEvents(ctx, wm)
		if err != nil {
			return report, err
		}
		if expected, err = fold.ReplayAll(events); err != nil {
			return report, err
		}
	}

	stored, err := st.ListEntries(ctx)
	if err != nil {
		return report, err
	}
	storedEdges, err := st.ListEdges(ctx)
	if err != nil {
		return report, err
	}
	edgesByUID := make(map[string][]string)
	for _, e := range storedEdges {
		edgesByUID[e.AtomUID] = append(edgesByUID[e.AtomUID], e.DependsOn)
	}

	seen := make(map[string]bool, len(stored))
	for _, got := range stored {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		seen[got.AtomUID] = true
		report.Checked++

		want, ok := expected[got.AtomUID]
		if got.FoldedThrough > wm {
			history, err := st.ReadHistory(ctx, got.AtomUID, got.FoldedThrough)
			if err != nil {
				return report, err
			}
			if want, err = fold.Replay(history); err != nil {
				return report, err
			}
			ok = len(history) > 0
		}

		if !ok {
			report.Divergences = append(report.Divergences, Divergence{
				AtomUID:    got.AtomUID,
				Kind:       DivergenceOrphan,
				StoredHash: got.HistoryHash,
			})
			continue
		}
		if fields := diffEntries(got, want); len(fields) > 0 {
			report.Divergences = append(report.Divergences, Divergence{
				AtomUID:      got.AtomUID,
				Kind:         DivergenceMismatch,
				Fields:       fields,
				StoredHash:   got.HistoryHash,
				ReplayedHash: want.HistoryHash,
			})
		}
		if !sameSet(edgesByUID[got.AtomUID], want.Deps) {
			report.Divergences = append(report.Divergences, Divergence{
				AtomUID: got.AtomUID,
				Kind:    DivergenceEdges,
			})
		}
	}

	var missing []string
	for uid := range expected {
		if !seen[uid] {
			missing = append(missing, uid)
		}
	}
	slices.Sort(missing)
	for _, uid := range missing {
		report.Divergences = append(report.Divergences, Divergence{
			AtomUID:      uid,
			Kind:         DivergenceMissing,
			ReplayedHash: expected[uid].HistoryHash,
		})
	}
	for uid := range edgesByUID {
		if !seen[uid] {
			report.Divergences = append(report.Divergences, Divergence{AtomUID: uid, Kind: DivergenceEdges})
		}
	}
	slices.SortStableFunc(report.Divergences, func(a, b Divergence) int {
		if a.AtomUID < b.AtomUID {
			return -1
		}
		if a.AtomUID > b.AtomUID {
			return 1
		}
		return 0
	})

	return report, nil
}

// diffEntries names the canonical fields that differ between two entries.
func diffEntries(a, b ir.IndexEntry) []string {
	ca, cb := a.CanonicalObject(), b.CanonicalObject()
	keys := make(map[string]bool, len(ca)+len(cb))
	for k := range ca {
		keys[k] = true
	}
	for k := range cb {
		keys[k] = true
	}

	var fields []string
	for k := range keys {
		va, okA := ca[k]
		vb, okB := cb[k]
		if okA != okB {
			fields = append(fields, k)
			continue
		}
		ba, errA := ir.MarshalCanonical(va)
		bb, errB := ir.MarshalCanonical(vb)
		if errA != nil || errB != nil || !bytes.Equal(ba, bb) {
			fields = append(fields, k)
		}
	}
	slices.Sort(fields)
	return fields
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	a, b = slices.Clone(a), slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}
