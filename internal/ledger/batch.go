package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/atomledger/internal/ir"
)

// Failure is one rejected event of a batch.
type Failure struct {
	Index int
	Event ir.Event
	Err   error
}

// BatchError lists every rejected event of an AppendAll call.
type BatchError struct {
	Failures []Failure
}

func (e *BatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d of the events were rejected", len(e.Failures))
	for _, f := range e.Failures {
		fmt.Fprintf(&b, "\n  [%d] %s %s: %v", f.Index, f.Event.Type, f.Event.AtomUID, f.Err)
	}
	return b.String()
}

// AppendAll appends events in order. It does not stop at the first
// rejection: every event is attempted and every failure is reported in a
// *BatchError. Results hold the accepted events in input order.
//
// Cancellation stops the batch and returns ctx.Err().
func (l *Ledger) AppendAll(ctx context.Context, events []ir.Event) ([]AppendResult, error) {
	var results []AppendResult
	var failures []Failure

	for i, ev := range events {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := l.Append(ctx, ev)
		if err != nil {
			failures = append(failures, Failure{Index: i, Event: ev, Err: err})
			continue
		}
		results = append(results, res)
	}

	if len(failures) > 0 {
		return results, &BatchError{Failures: failures}
	}
	return results, nil
}
