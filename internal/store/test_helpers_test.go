package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/atomledger/internal/ir"
)

const (
	uidA = "01HZY3K8Q2M4N6P8R0T2V4X6ZA"
	uidB = "01HZY3K8Q2M4N6P8R0T2V4X6ZB"
	uidC = "01HZY3K8Q2M4N6P8R0T2V4X6ZC"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createdEvent(uid, key string, ts time.Time) ir.Event {
	return ir.Event{
		AtomUID:   uid,
		AtomKey:   key,
		Type:      ir.EventCreated,
		Timestamp: ts,
		Meta:      ir.IRObject{"title": ir.IRString("t-" + uid[len(uid)-1:])},
	}
}

func mustAppend(t *testing.T, s *Store, ev ir.Event) int64 {
	t.Helper()
	id, inserted, err := s.Append(context.Background(), ev)
	require.NoError(t, err)
	require.True(t, inserted)
	return id
}
