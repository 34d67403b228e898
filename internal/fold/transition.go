package fold

import (
	"fmt"

	"github.com/roach88/atomledger/internal/ir"
)

// apply runs one event's transition. Each case validates everything it
// reads before it writes, so a rejected event leaves st untouched apart
// from the anomaly.
func apply(st *ir.IndexEntry, ev ir.Event) {
	if ev.Type != ir.EventCreated && ev.Type != ir.EventCorrected && st.Status == "" {
		anomaly(st, fmt.Sprintf("%s_before_created@%d", ev.Type, ev.StoreID))
		return
	}

	switch ev.Type {
	case ir.EventCreated:
		if st.Status != "" {
			anomaly(st, fmt.Sprintf("created_after_%s@%d", st.Status, ev.StoreID))
			return
		}
		d, ok := readDetails(ev.Meta)
		if !ok || ev.AtomKey == "" {
			malformed(st, ev)
			return
		}
		st.Status = ir.StatusActive
		st.AtomKey = ev.AtomKey
		d.applyTo(st)

	case ir.EventRevised:
		d, ok := readDetails(ev.Meta)
		if !ok {
			malformed(st, ev)
			return
		}
		if ev.AtomKey != "" {
			st.AtomKey = ev.AtomKey
		}
		d.applyTo(st)

	case ir.EventMoved:
		newKey, ok := ev.Meta.GetString(ir.MetaNewKey)
		if !ok || newKey == "" {
			malformed(st, ev)
			return
		}
		st.AtomKey = newKey

	case ir.EventSuperseded:
		by, ok := ev.Meta.GetString(ir.MetaSupersededBy)
		if !ok || by == "" {
			malformed(st, ev)
			return
		}
		if !setStatus(st, ev, ir.StatusDeprecated) {
			return
		}
		st.SupersededBy = by

	case ir.EventDeprecated:
		setStatus(st, ev, ir.StatusDeprecated)

	case ir.EventRemoved:
		setStatus(st, ev, ir.StatusRemoved)

	case ir.EventSplit:
		into, ok := ev.Meta.GetStringList(ir.MetaSplitInto)
		if !ok || len(into) == 0 {
			malformed(st, ev)
			return
		}
		if !setStatus(st, ev, ir.StatusSplit) {
			return
		}
		st.SplitInto = into

	case ir.EventMerged:
		into, ok := ev.Meta.GetString(ir.MetaMergedInto)
		if !ok || into == "" {
			malformed(st, ev)
			return
		}
		if !setStatus(st, ev, ir.StatusMerged) {
			return
		}
		st.MergedInto = into

	case ir.EventCorrected:
		intended, ok := Intended(ev)
		if !ok {
			malformed(st, ev)
			return
		}
		apply(st, intended)

	default:
		malformed(st, ev)
	}
}

// Intended rewrites a corrected event into the event it stands for: the
// type named by meta.intended_type carrying the rest of the payload. It
// returns false when the correction itself is malformed. created and
// corrected cannot be intended types.
func Intended(ev ir.Event) (ir.Event, bool) {
	name, ok := ev.Meta.GetString(ir.MetaIntendedType)
	if !ok {
		return ir.Event{}, false
	}
	t, err := ir.ParseEventType(name)
	if err != nil || t == ir.EventCreated || t == ir.EventCorrected {
		return ir.Event{}, false
	}

	meta := ev.Meta.Clone()
	delete(meta, ir.MetaIntendedType)
	delete(meta, ir.MetaCorrects)

	out := ev
	out.Type = t
	out.Meta = meta
	return out, true
}

// setStatus moves st to status unless st already sits in a terminal status.
// Leaving removed, split or merged is refused and recorded.
func setStatus(st *ir.IndexEntry, ev ir.Event, status ir.Status) bool {
	if st.Status.Terminal() {
		anomaly(st, fmt.Sprintf("%s_after_%s@%d", ev.Type, st.Status, ev.StoreID))
		return false
	}
	st.Status = status
	return true
}

func malformed(st *ir.IndexEntry, ev ir.Event) {
	anomaly(st, fmt.Sprintf("malformed_%s@%d", ev.Type, ev.StoreID))
}

func anomaly(st *ir.IndexEntry, a string) {
	st.Anomalies = append(st.Anomalies, a)
}

// details are the optional descriptive fields carried by created/revised.
type details struct {
	title, role       string
	hasTitle, hasRole bool
	deps              []string
	hasDeps           bool
}

func readDetails(meta ir.IRObject) (details, bool) {
	var d details
	if meta.Has(ir.MetaTitle) {
		if d.title, d.hasTitle = meta.GetString(ir.MetaTitle); !d.hasTitle {
			return details{}, false
		}
	}
	if meta.Has(ir.MetaRole) {
		if d.role, d.hasRole = meta.GetString(ir.MetaRole); !d.hasRole {
			return details{}, false
		}
	}
	if meta.Has(ir.MetaDeps) {
		if d.deps, d.hasDeps = meta.GetStringList(ir.MetaDeps); !d.hasDeps {
			return details{}, false
		}
	}
	return d, true
}

func (d details) applyTo(st *ir.IndexEntry) {
	if d.hasTitle {
		st.Title = d.title
	}
	if d.hasRole {
		st.Role = d.role
	}
	if d.hasDeps {
		st.Deps = normalizeDeps(st.AtomUID, d.deps)
	}
}

// normalizeDeps drops self references and duplicates, keeping first-seen order.
func normalizeDeps(self string, deps []string) []string {
	seen := make(map[string]bool, len(deps))
	var out []string
	for _, d := range deps {
		if d == self || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}
