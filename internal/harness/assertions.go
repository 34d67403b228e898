package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/atomledger/internal/deps"
	"github.com/roach88/atomledger/internal/indexer"
	"github.com/roach88/atomledger/internal/ir"
	"github.com/roach88/atomledger/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s", ev.Seq, ev.Op)
		if ev.AtomUID != "" {
			fmt.Fprintf(&buf, " %s %s", ev.EventType, ev.AtomUID)
		}
		fmt.Fprintf(&buf, " -> %s", ev.Outcome)
		if len(ev.Codes) > 0 {
			fmt.Fprintf(&buf, " %v", ev.Codes)
		}
		buf.WriteByte('\n')
	}
	return buf.String()
}

// AssertionContext gives assertions access to the scenario's registry.
type AssertionContext struct {
	Ctx     context.Context
	Store   *store.Store
	Indexer *indexer.Indexer
	Deps    *deps.Resolver
}

// EvaluateAssertions runs every assertion and returns one message per
// failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var msgs []string
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			msgs = append(msgs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return msgs
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertState:
		return assertState(result.Trace, a, actx)
	case AssertHistoryCount:
		return assertHistoryCount(result.Trace, a, actx)
	case AssertDeps:
		got, err := actx.Deps.ResolveDeps(actx.Ctx, a.UID)
		if err != nil {
			return err
		}
		return compareUIDs(result.Trace, a, got)
	case AssertDependents:
		got, err := actx.Deps.Dependents(actx.Ctx, a.UID)
		if err != nil {
			return err
		}
		return compareUIDs(result.Trace, a, got)
	case AssertWatermark:
		wm, err := actx.Store.Watermark(actx.Ctx)
		if err != nil {
			return err
		}
		if wm != a.Value {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("watermark %d", a.Value),
				Actual:   fmt.Sprintf("watermark %d", wm),
				Trace:    result.Trace,
			}
		}
		return nil
	case AssertConsistent:
		_, err := actx.Indexer.Verify(actx.Ctx)
		var cerr *indexer.ConsistencyError
		if errors.As(err, &cerr) {
			return &AssertionError{
				Type:     a.Type,
				Expected: "index matches a replay of the ledger",
				Actual:   cerr.Error(),
				Trace:    result.Trace,
			}
		}
		return err
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertState matches the expected fields against the entry's canonical
// form. An absent field matches an empty string or an empty list.
func assertState(trace []TraceEvent, a Assertion, actx *AssertionContext) error {
	entry, err := actx.Store.GetEntry(actx.Ctx, a.UID)
	if err != nil {
		return err
	}
	obj := entry.CanonicalObject()

	keys := make([]string, 0, len(a.Expect))
	for k := range a.Expect {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var diffs []string
	for _, k := range keys {
		want, err := convertToIRValue(a.Expect[k])
		if err != nil {
			return fmt.Errorf("expect.%s: %w", k, err)
		}
		wantJSON, err := ir.MarshalCanonical(want)
		if err != nil {
			return fmt.Errorf("expect.%s: %w", k, err)
		}

		got, ok := obj[k]
		if !ok {
			if isEmpty(want) {
				continue
			}
			diffs = append(diffs, fmt.Sprintf("%s: want %s, field absent", k, wantJSON))
			continue
		}
		gotJSON, err := ir.MarshalCanonical(got)
		if err != nil {
			return fmt.Errorf("entry.%s: %w", k, err)
		}
		if !bytes.Equal(gotJSON, wantJSON) {
			diffs = append(diffs, fmt.Sprintf("%s: want %s, got %s", k, wantJSON, gotJSON))
		}
	}

	if len(diffs) > 0 {
		return &AssertionError{
			Type:     AssertState,
			Expected: fmt.Sprintf("%s matches %v", a.UID, a.Expect),
			Actual:   strings.Join(diffs, "; "),
			Trace:    trace,
		}
	}
	return nil
}

func isEmpty(v ir.IRValue) bool {
	switch val := v.(type) {
	case ir.IRString:
		return val == ""
	case ir.IRArray:
		return len(val) == 0
	}
	return false
}

func assertHistoryCount(trace []TraceEvent, a Assertion, actx *AssertionContext) error {
	events, err := actx.Store.ReadHistory(actx.Ctx, a.UID, 0)
	if err != nil {
		return err
	}
	if len(events) != a.Count {
		return &AssertionError{
			Type:     AssertHistoryCount,
			Expected: fmt.Sprintf("%d events for %s", a.Count, a.UID),
			Actual:   fmt.Sprintf("%d events", len(events)),
			Trace:    trace,
		}
	}
	return nil
}

func compareUIDs(trace []TraceEvent, a Assertion, got []string) error {
	if len(got) == 0 && len(a.UIDs) == 0 {
		return nil
	}
	if !slices.Equal(got, a.UIDs) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s of %s: %v", a.Type, a.UID, a.UIDs),
			Actual:   fmt.Sprintf("%v", got),
			Trace:    trace,
		}
	}
	return nil
}
