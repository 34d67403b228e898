package harness

import (
	"github.com/roach88/atomledger/internal/query"
)

// Step outcomes recorded in the trace.
const (
	OutcomeInserted  = "inserted"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeOK        = "ok"
	OutcomeDivergent = "divergent"
)

// TraceEvent records what one flow step did.
type TraceEvent struct {
	Seq       int64    `json:"seq"`
	Op        string   `json:"op"`
	AtomUID   string   `json:"atom_uid,omitempty"`
	EventType string   `json:"event_type,omitempty"`
	Outcome   string   `json:"outcome"`
	StoreID   int64    `json:"store_id,omitempty"`
	Codes     []string `json:"codes,omitempty"`
	Folded    int      `json:"folded,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`

	// Snapshot is the index exported after the flow.
	Snapshot query.Snapshot `json:"snapshot"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addTrace(ev TraceEvent) {
	ev.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, ev)
}
