package query

import (
	"github.com/roach88/atomledger/internal/ir"
)

// Snapshot is an export of the materialized index at one watermark.
// Entries are sorted by atom_uid and edges by (atom_uid, depends_on_uid).
type Snapshot struct {
	Watermark int64           `json:"watermark"`
	Entries   []ir.IndexEntry `json:"entries"`
	Edges     []ir.Edge       `json:"edges"`
}

// MarshalCanonical encodes the snapshot as canonical JSON. Two indexes
// with the same content produce identical bytes.
func (s Snapshot) MarshalCanonical() ([]byte, error) {
	entries := make(ir.IRArray, len(s.Entries))
	for i, e := range s.Entries {
		entries[i] = e.CanonicalObject()
	}
	edges := make(ir.IRArray, len(s.Edges))
	for i, e := range s.Edges {
		edges[i] = ir.IRObject{
			"atom_uid":       ir.IRString(e.AtomUID),
			"depends_on_uid": ir.IRString(e.DependsOn),
		}
	}
	return ir.MarshalCanonical(ir.IRObject{
		"watermark": ir.IRInt(s.Watermark),
		"entries":   entries,
		"edges":     edges,
	})
}
