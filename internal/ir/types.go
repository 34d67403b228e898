package ir

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// EventType is the closed set of lifecycle event kinds. Adding a kind means
// adding a constant here and a case in every exhaustive switch over it.
type EventType uint8

const (
	EventUnknown EventType = iota
	EventCreated
	EventRevised
	EventMoved
	EventSuperseded
	EventDeprecated
	EventRemoved
	EventSplit
	EventMerged
	EventCorrected
)

var eventTypeNames = [...]string{
	EventUnknown:    "",
	EventCreated:    "created",
	EventRevised:    "revised",
	EventMoved:      "moved",
	EventSuperseded: "superseded",
	EventDeprecated: "deprecated",
	EventRemoved:    "removed",
	EventSplit:      "split",
	EventMerged:     "merged",
	EventCorrected:  "corrected",
}

// EventTypes lists every valid event type in declaration order.
func EventTypes() []EventType {
	return []EventType{
		EventCreated, EventRevised, EventMoved, EventSuperseded, EventDeprecated,
		EventRemoved, EventSplit, EventMerged, EventCorrected,
	}
}

// ParseEventType maps the wire name to an EventType.
func ParseEventType(s string) (EventType, error) {
	for _, t := range EventTypes() {
		if eventTypeNames[t] == s {
			return t, nil
		}
	}
	return EventUnknown, fmt.Errorf("unknown event type %q", s)
}

func (t EventType) String() string {
	if int(t) < len(eventTypeNames) {
		return eventTypeNames[t]
	}
	return fmt.Sprintf("EventType(%d)", t)
}

// Valid reports whether t is one of the nine ledger event types.
func (t EventType) Valid() bool {
	return t > EventUnknown && t <= EventCorrected
}

// MarshalText implements encoding.TextMarshaler.
func (t EventType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid event type %d", t)
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *EventType) UnmarshalText(b []byte) error {
	parsed, err := ParseEventType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Status is the lifecycle status held in the materialized index.
type Status string

const (
	StatusActive     Status = "active"
	StatusDeprecated Status = "deprecated"
	StatusRemoved    Status = "removed"
	StatusSplit      Status = "split"
	StatusMerged     Status = "merged"
)

// Terminal reports whether the status retires the atom for good.
// deprecated is not terminal: a deprecated atom still holds its key.
func (s Status) Terminal() bool {
	return s == StatusRemoved || s == StatusSplit || s == StatusMerged
}

// HoldsKey reports whether an entry with this status occupies its atom_key
// within its scope.
func (s Status) HoldsKey() bool {
	return s == StatusActive || s == StatusDeprecated
}

// Well-known meta keys.
const (
	MetaNewKey       = "new_key"
	MetaSupersededBy = "superseded_by"
	MetaSplitInto    = "split_into"
	MetaMergedInto   = "merged_into"
	MetaDeps         = "deps"
	MetaTitle        = "title"
	MetaRole         = "role"
	MetaIntendedType = "intended_type"
	MetaCorrects     = "corrects"
)

// Event is one immutable ledger fact.
type Event struct {
	StoreID   int64     `json:"store_id,omitempty"`
	AtomUID   string    `json:"atom_uid"`
	AtomKey   string    `json:"atom_key,omitempty"`
	Type      EventType `json:"event_type"`
	Timestamp time.Time `json:"event_ts"`
	Meta      IRObject  `json:"meta"`

	// MetaHash is filled in by the store on read.
	MetaHash string `json:"meta_hash,omitempty"`
}

// UnmarshalJSON keeps Meta non-nil so hashing never sees a missing payload.
func (e *Event) UnmarshalJSON(data []byte) error {
	type plain Event
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.Meta == nil {
		p.Meta = IRObject{}
	}
	*e = Event(p)
	return nil
}

// Before orders events by (event_ts, store_id).
func (e Event) Before(o Event) bool {
	if !e.Timestamp.Equal(o.Timestamp) {
		return e.Timestamp.Before(o.Timestamp)
	}
	return e.StoreID < o.StoreID
}

// IndexEntry is the materialized current state of one atom. Every field is
// derived from the atom's events; none is ever written independently.
type IndexEntry struct {
	AtomUID       string    `json:"atom_uid"`
	AtomKey       string    `json:"atom_key"`
	Status        Status    `json:"status"`
	Title         string    `json:"title,omitempty"`
	Role          string    `json:"role,omitempty"`
	LastEventTS   time.Time `json:"last_event_ts"`
	LastStoreID   int64     `json:"last_store_id"`
	FoldedThrough int64     `json:"folded_through"`
	EventCount    int       `json:"event_count"`
	SplitInto     []string  `json:"split_into,omitempty"`
	MergedInto    string    `json:"merged_into,omitempty"`
	SupersededBy  string    `json:"superseded_by,omitempty"`
	Deps          []string  `json:"deps,omitempty"`
	Anomalies     []string  `json:"anomalies,omitempty"`
	HistoryHash   string    `json:"history_hash"`
}

// Position is the (event_ts, store_id) of the last event folded in order.
func (e IndexEntry) Position() Event {
	return Event{Timestamp: e.LastEventTS, StoreID: e.LastStoreID}
}

// CanonicalObject renders the entry as an IRObject for canonical encoding.
// Optional fields are omitted when empty so both fold paths agree byte for byte.
func (e IndexEntry) CanonicalObject() IRObject {
	obj := IRObject{
		"atom_uid":       IRString(e.AtomUID),
		"atom_key":       IRString(e.AtomKey),
		"status":         IRString(e.Status),
		"last_event_ts":  IRString(FormatTS(e.LastEventTS)),
		"last_store_id":  IRInt(e.LastStoreID),
		"folded_through": IRInt(e.FoldedThrough),
		"event_count":    IRInt(e.EventCount),
		"history_hash":   IRString(e.HistoryHash),
	}
	setString(obj, "title", e.Title)
	setString(obj, "role", e.Role)
	setString(obj, "merged_into", e.MergedInto)
	setString(obj, "superseded_by", e.SupersededBy)
	setList(obj, "split_into", e.SplitInto)
	setList(obj, "deps", e.Deps)
	setList(obj, "anomalies", e.Anomalies)
	return obj
}

func setString(obj IRObject, key, val string) {
	if val != "" {
		obj[key] = IRString(val)
	}
}

func setList(obj IRObject, key string, vals []string) {
	if len(vals) > 0 {
		obj[key] = StringArray(vals)
	}
}

// Edge is a directed dependency: AtomUID depends on DependsOn.
type Edge struct {
	AtomUID   string `json:"atom_uid"`
	DependsOn string `json:"depends_on_uid"`
}

// AtomDefinition is the authored record consumed by the validator.
type AtomDefinition struct {
	AtomUID      string   `json:"atom_uid" yaml:"atom_uid"`
	AtomKey      string   `json:"atom_key" yaml:"atom_key"`
	Title        string   `json:"title" yaml:"title"`
	Role         string   `json:"role" yaml:"role"`
	Inputs       []string `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs      []string `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Deps         []string `json:"deps,omitempty" yaml:"deps,omitempty"`
	Status       string   `json:"status,omitempty" yaml:"status,omitempty"`
	SupersededBy string   `json:"superseded_by,omitempty" yaml:"superseded_by,omitempty"`
	SplitInto    []string `json:"split_into,omitempty" yaml:"split_into,omitempty"`
	MergedInto   string   `json:"merged_into,omitempty" yaml:"merged_into,omitempty"`
	DisplayOrder int      `json:"display_order,omitempty" yaml:"display_order,omitempty"`
	RevNotes     string   `json:"rev_notes,omitempty" yaml:"rev_notes,omitempty"`
	LegacyID     string   `json:"legacy_id,omitempty" yaml:"legacy_id,omitempty"`

	// Source is the file the definition was read from, for error reporting.
	Source string `json:"-" yaml:"-"`
}

// Event timestamps are stored as Unix nanoseconds, so only this range
// survives a round trip.
var (
	MinTimestamp = time.Unix(0, math.MinInt64).UTC()
	MaxTimestamp = time.Unix(0, math.MaxInt64).UTC()
)

// TimestampInRange reports whether t can be stored without changing.
func TimestampInRange(t time.Time) bool {
	return !t.Before(MinTimestamp) && !t.After(MaxTimestamp)
}

// FormatTS renders a timestamp the way every hash and snapshot sees it.
func FormatTS(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
