// Package store provides SQLite-backed durable storage for the atom ledger.
//
// The store holds:
//   - events: the append-only ledger, one row per lifecycle fact
//   - atom_index: the materialized current state, one row per atom_uid
//   - atom_edges: dependency edges derived from indexed deps
//   - watermark: the last event id fully folded into the index
//   - indexer_lease: the single-writer lease for the index
//
// # Invariants
//
// Append-only ledger
//   - Every connection opened by this package carries an authorizer that
//     denies UPDATE and DELETE on events.
//   - BEFORE UPDATE/DELETE triggers abort the statement for other clients.
//
// Idempotent append
//   - UNIQUE(atom_uid, event_ts_ns, event_type, meta_hash) is the natural key.
//   - An exact duplicate returns the existing id with inserted=false.
//   - A partial unique index allows one created event per atom_uid.
//
// Deterministic reads
//   - Ledger scans order by id; histories order by (event_ts_ns, id).
//   - Index and edge listings order by atom_uid COLLATE BINARY.
//
// # Database Configuration
//
//   - WAL mode: concurrent readers during writes
//   - synchronous=NORMAL, busy_timeout=5000, foreign_keys=ON per connection
//   - _txlock=immediate: write transactions take the lock up front
//
// Meta is stored as canonical JSON; meta_hash is computed by ir.MetaHash.
package store
