package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/atomledger/internal/ir"
)

// Append inserts an event into the ledger and returns its ledger-assigned id.
//
// The natural key (atom_uid, event_ts, event_type, meta_hash) makes exact
// resubmissions a no-op: the existing id is returned with inserted=false.
// A second, distinct created event for the same atom_uid returns
// ErrDuplicateCreate. Callers validate the event first; Append only enforces
// what the schema enforces.
func (s *Store) Append(ctx context.Context, ev ir.Event) (id int64, inserted bool, err error) {
	if err := s.checkWritable(); err != nil {
		return 0, false, fmt.Errorf("append: %w", err)
	}
	if !ev.Type.Valid() {
		return 0, false, fmt.Errorf("append: invalid event type %d", ev.Type)
	}
	if !ir.TimestampInRange(ev.Timestamp) {
		return 0, false, fmt.Errorf("append %s at %s: %w", ev.AtomUID, ir.FormatTS(ev.Timestamp), ErrTimestampRange)
	}

	metaJSON, metaHash, err := marshalMeta(ev.Meta)
	if err != nil {
		return 0, false, fmt.Errorf("append: %w", err)
	}
	tsNS := toNanos(ev.Timestamp)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("append: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	// An exact duplicate of a created event would trip the one-created index
	// before ON CONFLICT sees it, so look the natural key up first.
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM events
		WHERE atom_uid = ? AND event_ts_ns = ? AND event_type = ? AND meta_hash = ?
	`, ev.AtomUID, tsNS, ev.Type.String(), metaHash).Scan(&id)
	switch {
	case err == nil:
		return id, false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return 0, false, fmt.Errorf("append: select existing: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO events
		(atom_uid, atom_key, event_type, event_ts_ns, meta, meta_hash, recorded_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(atom_uid, event_ts_ns, event_type, meta_hash) DO NOTHING
	`,
		ev.AtomUID,
		ev.AtomKey,
		ev.Type.String(),
		tsNS,
		metaJSON,
		metaHash,
		toNanos(s.now()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, false, fmt.Errorf("append %s: %w", ev.AtomUID, ErrDuplicateCreate)
		}
		return 0, false, fmt.Errorf("append: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("append: rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return 0, false, fmt.Errorf("append: insert ignored for %s", ev.AtomUID)
	}

	id, err = result.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("append: last insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("append: commit: %w", err)
	}

	return id, true, nil
}
