package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/roach88/atomledger/internal/deps"
	"github.com/roach88/atomledger/internal/indexer"
	"github.com/roach88/atomledger/internal/ledger"
	"github.com/roach88/atomledger/internal/query"
	"github.com/roach88/atomledger/internal/store"
	"github.com/roach88/atomledger/internal/testutil"
	"github.com/roach88/atomledger/internal/validate"
)

// Harness wires a fresh registry for one scenario.
type Harness struct {
	store   *store.Store
	ledger  *ledger.Ledger
	indexer *indexer.Indexer
	query   *query.Service
	deps    *deps.Resolver
	start   time.Time
}

// Run executes a scenario against a fresh database in a temporary
// directory and returns the result. The error is set only when the
// scenario could not be executed at all.
func Run(scenario *Scenario) (*Result, error) {
	start, err := scenario.StartTime()
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "atomledger-scenario-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario dir: %w", err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(filepath.Join(dir, "scenario.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	defer st.Close()

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := testutil.NewDeterministicClock(start, time.Second)
	h := &Harness{
		store: st,
		ledger: ledger.New(st,
			ledger.WithLogger(quiet),
			ledger.WithClock(clock.Now),
		),
		indexer: indexer.New(st,
			indexer.WithLogger(quiet),
			indexer.WithOwner("harness"),
		),
		query: query.New(st, query.WithLogger(quiet), query.WithCacheTTL(0)),
		deps:  deps.NewResolver(st),
		start: start,
	}

	ctx := context.Background()
	result := NewResult()
	for i, step := range scenario.Flow {
		if err := h.execute(ctx, i, step, result); err != nil {
			return nil, err
		}
	}

	snap, err := h.query.ExportIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to export index: %w", err)
	}
	result.Snapshot = snap

	actx := &AssertionContext{
		Ctx:     ctx,
		Store:   st,
		Indexer: h.indexer,
		Deps:    h.deps,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// execute runs one flow step. Expected failures are recorded in the
// trace; only infrastructure failures are returned.
func (h *Harness) execute(ctx context.Context, i int, step FlowStep, result *Result) error {
	var ev TraceEvent
	ev.Op = step.Op

	switch step.Op {
	case OpAppend:
		event, err := step.Event.event(h.start)
		if err != nil {
			return fmt.Errorf("flow step %d: %w", i, err)
		}
		ev.AtomUID = event.AtomUID
		ev.EventType = step.Event.Type

		res, err := h.ledger.Append(ctx, event)
		var verrs validate.Errors
		switch {
		case err == nil && res.Inserted:
			ev.Outcome = OutcomeInserted
			ev.StoreID = res.StoreID
		case err == nil:
			ev.Outcome = OutcomeDuplicate
			ev.StoreID = res.StoreID
		case errors.As(err, &verrs):
			ev.Outcome = OutcomeRejected
			ev.Codes = verrs.Codes()
		default:
			return fmt.Errorf("flow step %d: append: %w", i, err)
		}

	case OpIndex:
		n, err := h.indexer.CatchUp(ctx, step.BatchSize)
		if err != nil {
			return fmt.Errorf("flow step %d: index: %w", i, err)
		}
		ev.Outcome = OutcomeOK
		ev.Folded = n

	case OpRebuild:
		if err := h.indexer.RebuildFull(ctx); err != nil {
			return fmt.Errorf("flow step %d: rebuild: %w", i, err)
		}
		ev.Outcome = OutcomeOK

	case OpVerify:
		_, err := h.indexer.Verify(ctx)
		var cerr *indexer.ConsistencyError
		switch {
		case err == nil:
			ev.Outcome = OutcomeOK
		case errors.As(err, &cerr):
			ev.Outcome = OutcomeDivergent
		default:
			return fmt.Errorf("flow step %d: verify: %w", i, err)
		}

	default:
		return fmt.Errorf("flow step %d: unknown op %q", i, step.Op)
	}

	result.addTrace(ev)
	checkExpect(i, step, ev, result)
	return nil
}

func checkExpect(i int, step FlowStep, ev TraceEvent, result *Result) {
	if step.Expect == nil {
		if ev.Outcome == OutcomeRejected || ev.Outcome == OutcomeDivergent {
			result.AddError(fmt.Sprintf("flow[%d] %s: unexpected outcome %s %v", i, step.Op, ev.Outcome, ev.Codes))
		}
		return
	}
	if ev.Outcome != step.Expect.Outcome {
		result.AddError(fmt.Sprintf("flow[%d] %s: expected outcome %s, got %s %v", i, step.Op, step.Expect.Outcome, ev.Outcome, ev.Codes))
		return
	}
	for _, code := range step.Expect.Codes {
		if !slices.Contains(ev.Codes, code) {
			result.AddError(fmt.Sprintf("flow[%d] %s: expected code %s, got %v", i, step.Op, code, ev.Codes))
		}
	}
}
