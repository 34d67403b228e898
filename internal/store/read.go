package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/atomledger/internal/ir"
)

const eventColumns = `id, atom_uid, atom_key, event_type, event_ts_ns, meta, meta_hash`

// ReadEventsAfter returns up to limit events with id > after, in id order.
// A limit <= 0 reads to the head of the ledger.
//
// Returns an empty slice (not nil) when there is nothing to read.
func (s *Store) ReadEventsAfter(ctx context.Context, after int64, limit int) ([]ir.Event, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE id > ?
		ORDER BY id ASC
		LIMIT ?
	`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return collectEvents(rows)
}

// ReadHistory returns every event for uid in fold order (event_ts, id).
// When upTo > 0 only events with id <= upTo are returned.
func (s *Store) ReadHistory(ctx context.Context, uid string, upTo int64) ([]ir.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE atom_uid = ?`
	args := []any{uid}
	if upTo > 0 {
		query += ` AND id <= ?`
		args = append(args, upTo)
	}
	query += `
		ORDER BY event_ts_ns ASC, id ASC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return collectEvents(rows)
}

// ReadAllEvents returns the whole ledger in id order, bounded by upTo when
// upTo > 0.
func (s *Store) ReadAllEvents(ctx context.Context, upTo int64) ([]ir.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events`
	args := []any{}
	if upTo > 0 {
		query += ` WHERE id <= ?`
		args = append(args, upTo)
	}
	query += ` ORDER BY id ASC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query all events: %w", err)
	}
	return collectEvents(rows)
}

// ListUIDs returns every atom_uid present in the ledger, sorted.
func (s *Store) ListUIDs(ctx context.Context) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT DISTINCT atom_uid FROM events
		ORDER BY atom_uid COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query uids: %w", err)
	}
	return collectStrings(rows)
}

// HasUID reports whether any event for uid exists, folded or not.
func (s *Store) HasUID(ctx context.Context, uid string) (bool, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM (SELECT 1 FROM events WHERE atom_uid = ? LIMIT 1)
	`, uid).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check uid: %w", err)
	}
	return n > 0, nil
}

// MaxEventID returns the highest ledger id, or 0 for an empty ledger.
func (s *Store) MaxEventID(ctx context.Context) (int64, error) {
	var maxID sql.NullInt64
	if err := s.q.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&maxID); err != nil {
		return 0, fmt.Errorf("max event id: %w", err)
	}
	return maxID.Int64, nil
}

// CountEvents returns the number of ledger rows.
func (s *Store) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

func collectEvents(rows *sql.Rows) ([]ir.Event, error) {
	defer rows.Close()

	events := []ir.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func collectStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate: %w", err)
	}
	return out, nil
}

// scanEvent converts a row into an ir.Event.
func scanEvent(rows *sql.Rows) (ir.Event, error) {
	var (
		ev       ir.Event
		typeName string
		tsNS     int64
		metaJSON string
	)
	if err := rows.Scan(&ev.StoreID, &ev.AtomUID, &ev.AtomKey, &typeName, &tsNS, &metaJSON, &ev.MetaHash); err != nil {
		return ir.Event{}, fmt.Errorf("scan event: %w", err)
	}

	et, err := ir.ParseEventType(typeName)
	if err != nil {
		return ir.Event{}, fmt.Errorf("event %d: %w", ev.StoreID, err)
	}
	ev.Type = et
	ev.Timestamp = fromNanos(tsNS)

	ev.Meta, err = unmarshalMeta(metaJSON)
	if err != nil {
		return ir.Event{}, fmt.Errorf("event %d: %w", ev.StoreID, err)
	}
	return ev, nil
}
