package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/atomledger/internal/ir"
)

const entryColumns = `atom_uid, atom_key, status, title, role, last_event_ts_ns, last_store_id,
	folded_through, event_count, split_into, merged_into, superseded_by, deps, anomalies, history_hash`

// GetEntry returns the materialized entry for uid, or ErrNotFound.
func (s *Store) GetEntry(ctx context.Context, uid string) (ir.IndexEntry, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM atom_index
		WHERE atom_uid = ?
	`, uid)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.IndexEntry{}, fmt.Errorf("index entry %s: %w", uid, ErrNotFound)
	}
	return entry, err
}

// ListEntries returns every index entry sorted by atom_uid.
func (s *Store) ListEntries(ctx context.Context) ([]ir.IndexEntry, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM atom_index
		ORDER BY atom_uid COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	defer rows.Close()

	entries := []ir.IndexEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate index: %w", err)
	}
	return entries, nil
}

// CountEntries returns the number of materialized entries.
func (s *Store) CountEntries(ctx context.Context) (int64, error) {
	var n int64
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM atom_index`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count index: %w", err)
	}
	return n, nil
}

// UpsertEntry writes entry and replaces its outgoing edges in one
// transaction, so a reader never sees an entry without its edges.
func (s *Store) UpsertEntry(ctx context.Context, entry ir.IndexEntry) error {
	if err := s.checkWritable(); err != nil {
		return fmt.Errorf("upsert entry: %w", err)
	}

	splitInto, err := marshalList(entry.SplitInto)
	if err != nil {
		return fmt.Errorf("upsert entry %s: %w", entry.AtomUID, err)
	}
	deps, err := marshalList(entry.Deps)
	if err != nil {
		return fmt.Errorf("upsert entry %s: %w", entry.AtomUID, err)
	}
	anomalies, err := marshalList(entry.Anomalies)
	if err != nil {
		return fmt.Errorf("upsert entry %s: %w", entry.AtomUID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("upsert entry: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO atom_index (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(atom_uid) DO UPDATE SET
			atom_key = excluded.atom_key,
			status = excluded.status,
			title = excluded.title,
			role = excluded.role,
			last_event_ts_ns = excluded.last_event_ts_ns,
			last_store_id = excluded.last_store_id,
			folded_through = excluded.folded_through,
			event_count = excluded.event_count,
			split_into = excluded.split_into,
			merged_into = excluded.merged_into,
			superseded_by = excluded.superseded_by,
			deps = excluded.deps,
			anomalies = excluded.anomalies,
			history_hash = excluded.history_hash
	`,
		entry.AtomUID,
		entry.AtomKey,
		string(entry.Status),
		entry.Title,
		entry.Role,
		toNanos(entry.LastEventTS),
		entry.LastStoreID,
		entry.FoldedThrough,
		entry.EventCount,
		splitInto,
		entry.MergedInto,
		entry.SupersededBy,
		deps,
		anomalies,
		entry.HistoryHash,
	)
	if err != nil {
		return fmt.Errorf("upsert entry %s: %w", entry.AtomUID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM atom_edges WHERE atom_uid = ?`, entry.AtomUID); err != nil {
		return fmt.Errorf("upsert entry %s: clear edges: %w", entry.AtomUID, err)
	}
	for _, dep := range entry.Deps {
		if dep == entry.AtomUID {
			continue
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO atom_edges (atom_uid, depends_on_uid) VALUES (?, ?)
			ON CONFLICT DO NOTHING
		`, entry.AtomUID, dep)
		if err != nil {
			return fmt.Errorf("upsert entry %s: edge to %s: %w", entry.AtomUID, dep, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("upsert entry %s: commit: %w", entry.AtomUID, err)
	}
	return nil
}

// TruncateIndex clears the index and edges and resets the watermark to 0,
// atomically. The ledger is untouched.
func (s *Store) TruncateIndex(ctx context.Context) error {
	if err := s.checkWritable(); err != nil {
		return fmt.Errorf("truncate index: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("truncate index: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM atom_edges`,
		`DELETE FROM atom_index`,
		`UPDATE watermark SET last_event_id = 0 WHERE id = 1`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate index: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("truncate index: commit: %w", err)
	}
	return nil
}

// ListEdges returns every dependency edge sorted by (atom_uid, depends_on_uid).
func (s *Store) ListEdges(ctx context.Context) ([]ir.Edge, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT atom_uid, depends_on_uid FROM atom_edges
		ORDER BY atom_uid COLLATE BINARY ASC, depends_on_uid COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()

	edges := []ir.Edge{}
	for rows.Next() {
		var e ir.Edge
		if err := rows.Scan(&e.AtomUID, &e.DependsOn); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edges: %w", err)
	}
	return edges, nil
}

// DependentsOf returns the atoms whose deps include uid, sorted.
func (s *Store) DependentsOf(ctx context.Context, uid string) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT atom_uid FROM atom_edges
		WHERE depends_on_uid = ?
		ORDER BY atom_uid COLLATE BINARY ASC
	`, uid)
	if err != nil {
		return nil, fmt.Errorf("query dependents: %w", err)
	}
	return collectStrings(rows)
}

// KeyCandidates returns the atoms that may hold key: folded entries with
// that atom_key in a live status (active or deprecated), plus atoms whose
// events past the watermark name key as their atom_key or meta.new_key.
// Callers replay each candidate to decide who holds it now.
func (s *Store) KeyCandidates(ctx context.Context, key string) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT atom_uid FROM atom_index
		WHERE atom_key = ? AND status IN (?, ?)
		UNION
		SELECT atom_uid FROM events
		WHERE id > (SELECT last_event_id FROM watermark WHERE id = 1)
		  AND (atom_key = ? OR json_extract(meta, '$.new_key') = ?)
		ORDER BY atom_uid COLLATE BINARY ASC
	`, key, string(ir.StatusActive), string(ir.StatusDeprecated), key, key)
	if err != nil {
		return nil, fmt.Errorf("query key candidates: %w", err)
	}
	return collectStrings(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (ir.IndexEntry, error) {
	var (
		e                          ir.IndexEntry
		status                     string
		tsNS                       int64
		splitInto, deps, anomalies string
	)
	err := row.Scan(
		&e.AtomUID, &e.AtomKey, &status, &e.Title, &e.Role, &tsNS, &e.LastStoreID,
		&e.FoldedThrough, &e.EventCount, &splitInto, &e.MergedInto, &e.SupersededBy,
		&deps, &anomalies, &e.HistoryHash,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ir.IndexEntry{}, err
		}
		return ir.IndexEntry{}, fmt.Errorf("scan index entry: %w", err)
	}

	e.Status = ir.Status(status)
	e.LastEventTS = fromNanos(tsNS)
	if e.SplitInto, err = unmarshalList(splitInto); err != nil {
		return ir.IndexEntry{}, fmt.Errorf("index entry %s: split_into: %w", e.AtomUID, err)
	}
	if e.Deps, err = unmarshalList(deps); err != nil {
		return ir.IndexEntry{}, fmt.Errorf("index entry %s: deps: %w", e.AtomUID, err)
	}
	if e.Anomalies, err = unmarshalList(anomalies); err != nil {
		return ir.IndexEntry{}, fmt.Errorf("index entry %s: anomalies: %w", e.AtomUID, err)
	}
	return e, nil
}
