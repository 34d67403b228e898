package ir

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeRoundTrip(t *testing.T) {
	for _, et := range EventTypes() {
		parsed, err := ParseEventType(et.String())
		require.NoError(t, err)
		assert.Equal(t, et, parsed)
		assert.True(t, et.Valid())
	}
	assert.Len(t, EventTypes(), 9)

	_, err := ParseEventType("resurrected")
	assert.Error(t, err)
	assert.False(t, EventUnknown.Valid())
}

func TestEventJSON(t *testing.T) {
	var ev Event
	err := json.Unmarshal([]byte(`{
		"atom_uid": "01J0000000000000000000000A",
		"atom_key": "ns/wf/v1/init/all/001",
		"event_type": "created",
		"event_ts": "2024-05-01T10:00:00Z"
	}`), &ev)
	require.NoError(t, err)

	assert.Equal(t, EventCreated, ev.Type)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), ev.Timestamp.UTC())
	assert.NotNil(t, ev.Meta, "missing meta decodes as empty object")

	out, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"event_type":"created"`)
	assert.Contains(t, string(out), `"meta":{}`)
}

func TestEventJSONUnknownType(t *testing.T) {
	var ev Event
	err := json.Unmarshal([]byte(`{"atom_uid":"x","event_type":"renamed","event_ts":"2024-05-01T10:00:00Z"}`), &ev)
	assert.Error(t, err)
}

func TestEventBefore(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := Event{StoreID: 5, Timestamp: t0}
	b := Event{StoreID: 2, Timestamp: t0.Add(time.Second)}
	c := Event{StoreID: 6, Timestamp: t0}

	assert.True(t, a.Before(b), "earlier event_ts wins over store id")
	assert.True(t, a.Before(c), "equal event_ts breaks ties by store id")
	assert.False(t, c.Before(a))
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusActive.HoldsKey())
	assert.True(t, StatusDeprecated.HoldsKey())
	assert.False(t, StatusDeprecated.Terminal())
	for _, s := range []Status{StatusRemoved, StatusSplit, StatusMerged} {
		assert.True(t, s.Terminal(), s)
		assert.False(t, s.HoldsKey(), s)
	}
}

func TestIndexEntryCanonicalOmitsEmpty(t *testing.T) {
	e := IndexEntry{
		AtomUID:     "A",
		AtomKey:     "ns/wf/v1/init/all/001",
		Status:      StatusActive,
		LastEventTS: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		LastStoreID: 1, FoldedThrough: 1, EventCount: 1,
		HistoryHash: "h",
	}
	b, err := MarshalCanonical(e.CanonicalObject())
	require.NoError(t, err)
	assert.Equal(t,
		`{"atom_key":"ns/wf/v1/init/all/001","atom_uid":"A","event_count":1,"folded_through":1,"history_hash":"h","last_event_ts":"2024-01-01T00:00:00Z","last_store_id":1,"status":"active"}`,
		string(b))
}
