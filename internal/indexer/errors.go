package indexer

import (
	"fmt"
	"strings"
)

// DivergenceKind categorizes a difference between the stored index and a
// replay of the ledger.
type DivergenceKind string

const (
	// DivergenceMismatch means the stored entry differs from the replay.
	DivergenceMismatch DivergenceKind = "mismatch"

	// DivergenceMissing means the replay produced an entry the index lacks.
	DivergenceMissing DivergenceKind = "missing"

	// DivergenceOrphan means the index holds an entry the ledger does not
	// explain.
	DivergenceOrphan DivergenceKind = "orphan"

	// DivergenceEdges means the stored edge rows disagree with the entry's deps.
	DivergenceEdges DivergenceKind = "edges"
)

// Divergence describes one inconsistent atom.
type Divergence struct {
	AtomUID string         `json:"atom_uid"`
	Kind    DivergenceKind `json:"kind"`

	// Fields lists the differing entry fields for a mismatch.
	Fields []string `json:"fields,omitempty"`

	StoredHash   string `json:"stored_history_hash,omitempty"`
	ReplayedHash string `json:"replayed_history_hash,omitempty"`
}

func (d Divergence) String() string {
	if len(d.Fields) > 0 {
		return fmt.Sprintf("%s %s (%s)", d.AtomUID, d.Kind, strings.Join(d.Fields, ", "))
	}
	return fmt.Sprintf("%s %s", d.AtomUID, d.Kind)
}

// ConsistencyError reports an index that no longer matches its ledger.
// It requires an operator-driven RebuildFull.
type ConsistencyError struct {
	Watermark   int64
	Divergences []Divergence
}

// Error implements the error interface.
func (e *ConsistencyError) Error() string {
	parts := make([]string, len(e.Divergences))
	for i, d := range e.Divergences {
		parts[i] = d.String()
	}
	return fmt.Sprintf("index diverges from ledger at watermark %d: %d atoms: %s",
		e.Watermark, len(e.Divergences), strings.Join(parts, "; "))
}

// UIDs returns the divergent atom uids in report order.
func (e *ConsistencyError) UIDs() []string {
	out := make([]string, len(e.Divergences))
	for i, d := range e.Divergences {
		out[i] = d.AtomUID
	}
	return out
}
