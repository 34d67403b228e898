package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/atomledger/internal/ir"
)

// Snapshot renders a result as canonical JSON for golden comparison: the
// step trace, the watermark and every index entry without its history
// hash and last event timestamp.
func Snapshot(name string, result *Result) ([]byte, error) {
	trace := make(ir.IRArray, len(result.Trace))
	for i, ev := range result.Trace {
		obj := ir.IRObject{
			"seq":     ir.IRInt(ev.Seq),
			"op":      ir.IRString(ev.Op),
			"outcome": ir.IRString(ev.Outcome),
		}
		if ev.AtomUID != "" {
			obj["atom_uid"] = ir.IRString(ev.AtomUID)
			obj["event_type"] = ir.IRString(ev.EventType)
		}
		if ev.StoreID != 0 {
			obj["store_id"] = ir.IRInt(ev.StoreID)
		}
		if len(ev.Codes) > 0 {
			obj["codes"] = ir.StringArray(ev.Codes)
		}
		if ev.Folded != 0 {
			obj["folded"] = ir.IRInt(ev.Folded)
		}
		trace[i] = obj
	}

	atoms := make(ir.IRArray, len(result.Snapshot.Entries))
	for i, e := range result.Snapshot.Entries {
		obj := e.CanonicalObject()
		delete(obj, "history_hash")
		delete(obj, "last_event_ts")
		atoms[i] = obj
	}

	return ir.MarshalCanonical(ir.IRObject{
		"scenario_name": ir.IRString(name),
		"trace":         trace,
		"watermark":     ir.IRInt(result.Snapshot.Watermark),
		"atoms":         atoms,
	})
}

// RunWithGolden executes a scenario, fails the test on any scenario
// error, and compares the snapshot with testdata/golden/<name>.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an already computed result with its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := Snapshot(name, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
