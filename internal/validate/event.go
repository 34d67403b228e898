package validate

import (
	"fmt"

	"github.com/roach88/atomledger/internal/atomid"
	"github.com/roach88/atomledger/internal/ir"
)

// Event checks one event before it is appended. It returns every problem
// found; an empty result means the event may be stored.
func Event(ev ir.Event) []ValidationError {
	var errs []ValidationError

	if !atomid.ValidateID(ev.AtomUID) {
		errs = append(errs, ValidationError{
			Field:   "atom_uid",
			Message: fmt.Sprintf("invalid atom_uid %q: want 26 Crockford base32 characters", ev.AtomUID),
			Code:    ErrInvalidUID,
		})
	}
	switch {
	case ev.Timestamp.IsZero():
		errs = append(errs, ValidationError{
			Field:   "event_ts",
			Message: "event_ts is required",
			Code:    ErrMissingTimestamp,
		})
	case !ir.TimestampInRange(ev.Timestamp):
		errs = append(errs, ValidationError{
			Field: "event_ts",
			Message: fmt.Sprintf("event_ts %s outside %s..%s", ir.FormatTS(ev.Timestamp),
				ir.FormatTS(ir.MinTimestamp), ir.FormatTS(ir.MaxTimestamp)),
			Code: ErrMissingTimestamp,
		})
	}
	if !ev.Type.Valid() {
		errs = append(errs, ValidationError{
			Field:   "event_type",
			Message: fmt.Sprintf("unknown event_type %q", ev.Type.String()),
			Code:    ErrInvalidEventType,
		})
		return errs
	}

	if ev.AtomKey != "" && !atomid.ValidateKey(ev.AtomKey) {
		errs = append(errs, ValidationError{
			Field:   "atom_key",
			Message: fmt.Sprintf("invalid atom_key %q", ev.AtomKey),
			Code:    ErrInvalidKey,
		})
	}
	if ev.Type == ir.EventCreated && ev.AtomKey == "" {
		errs = append(errs, ValidationError{
			Field:   "atom_key",
			Message: "atom_key is required for created",
			Code:    ErrInvalidKey,
		})
	}

	if _, err := ir.MetaHash(ev.Meta); err != nil {
		errs = append(errs, ValidationError{
			Field:   "meta",
			Message: err.Error(),
			Code:    ErrNonCanonicalMeta,
		})
		return errs
	}

	return append(errs, payload(ev.Type, ev.AtomUID, ev.Meta, "meta")...)
}

// payload checks the meta shape a given event type needs.
func payload(t ir.EventType, uid string, meta ir.IRObject, prefix string) []ValidationError {
	var errs []ValidationError
	field := func(k string) string { return prefix + "." + k }

	switch t {
	case ir.EventCreated, ir.EventRevised:
		for _, k := range []string{ir.MetaTitle, ir.MetaRole} {
			if meta.Has(k) {
				if _, ok := meta.GetString(k); !ok {
					errs = append(errs, ValidationError{Field: field(k), Message: "must be a string", Code: ErrInvalidMeta})
				}
			}
		}
		if meta.Has(ir.MetaDeps) {
			deps, ok := meta.GetStringList(ir.MetaDeps)
			if !ok {
				errs = append(errs, ValidationError{Field: field(ir.MetaDeps), Message: "must be a list of atom_uids", Code: ErrInvalidDeps})
				break
			}
			errs = append(errs, uidList(field(ir.MetaDeps), uid, deps, ErrInvalidDeps)...)
		}

	case ir.EventMoved:
		newKey, ok := meta.GetString(ir.MetaNewKey)
		switch {
		case !ok || newKey == "":
			errs = append(errs, ValidationError{Field: field(ir.MetaNewKey), Message: "new_key is required for moved", Code: ErrInvalidMeta})
		case !atomid.ValidateKey(newKey):
			errs = append(errs, ValidationError{Field: field(ir.MetaNewKey), Message: fmt.Sprintf("invalid atom_key %q", newKey), Code: ErrInvalidKey})
		}

	case ir.EventSuperseded:
		errs = append(errs, uidField(meta, field(ir.MetaSupersededBy), ir.MetaSupersededBy, uid)...)

	case ir.EventMerged:
		errs = append(errs, uidField(meta, field(ir.MetaMergedInto), ir.MetaMergedInto, uid)...)

	case ir.EventSplit:
		into, ok := meta.GetStringList(ir.MetaSplitInto)
		if !ok || len(into) == 0 {
			errs = append(errs, ValidationError{Field: field(ir.MetaSplitInto), Message: "split_into must be a non-empty list of atom_uids", Code: ErrInvalidMeta})
			break
		}
		errs = append(errs, uidList(field(ir.MetaSplitInto), uid, into, ErrInvalidMeta)...)

	case ir.EventDeprecated, ir.EventRemoved:
		// no payload

	case ir.EventCorrected:
		errs = append(errs, corrected(uid, meta, prefix)...)

	default:
		errs = append(errs, ValidationError{Field: "event_type", Message: fmt.Sprintf("unknown event_type %q", t.String()), Code: ErrInvalidEventType})
	}
	return errs
}

func corrected(uid string, meta ir.IRObject, prefix string) []ValidationError {
	name, ok := meta.GetString(ir.MetaIntendedType)
	if !ok {
		return []ValidationError{{
			Field:   prefix + "." + ir.MetaIntendedType,
			Message: "intended_type is required for corrected",
			Code:    ErrInvalidCorrected,
		}}
	}
	intended, err := ir.ParseEventType(name)
	if err != nil || intended == ir.EventCreated || intended == ir.EventCorrected {
		return []ValidationError{{
			Field:   prefix + "." + ir.MetaIntendedType,
			Message: fmt.Sprintf("intended_type %q cannot be corrected into", name),
			Code:    ErrInvalidCorrected,
		}}
	}

	var errs []ValidationError
	if meta.Has(ir.MetaCorrects) {
		if id, ok := meta[ir.MetaCorrects].(ir.IRInt); !ok || id <= 0 {
			errs = append(errs, ValidationError{
				Field:   prefix + "." + ir.MetaCorrects,
				Message: "corrects must be a positive store id",
				Code:    ErrInvalidCorrected,
			})
		}
	}

	rest := meta.Clone()
	delete(rest, ir.MetaIntendedType)
	delete(rest, ir.MetaCorrects)
	return append(errs, payload(intended, uid, rest, prefix)...)
}

func uidField(meta ir.IRObject, field, key, self string) []ValidationError {
	v, ok := meta.GetString(key)
	if !ok || v == "" {
		return []ValidationError{{Field: field, Message: key + " is required", Code: ErrInvalidMeta}}
	}
	return uidRef(field, v, self)
}

func uidRef(field, v, self string) []ValidationError {
	switch {
	case !atomid.ValidateID(v):
		return []ValidationError{{Field: field, Message: fmt.Sprintf("invalid atom_uid %q", v), Code: ErrInvalidUID}}
	case v == self:
		return []ValidationError{{Field: field, Message: "atom cannot refer to itself", Code: ErrSelfReference}}
	}
	return nil
}

func uidList(field, self string, uids []string, code string) []ValidationError {
	var errs []ValidationError
	for i, u := range uids {
		f := fmt.Sprintf("%s[%d]", field, i)
		switch {
		case !atomid.ValidateID(u):
			errs = append(errs, ValidationError{Field: f, Message: fmt.Sprintf("invalid atom_uid %q", u), Code: code})
		case u == self:
			errs = append(errs, ValidationError{Field: f, Message: "atom cannot refer to itself", Code: ErrSelfReference})
		}
	}
	return errs
}
