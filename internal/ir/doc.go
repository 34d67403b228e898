// Package ir defines the value model shared by every atomledger package.
//
// It holds the ledger event shape, the closed set of event types, the
// materialized index entry, atom definition records, and the canonical JSON
// encoding used for every digest the registry computes. ir imports nothing
// internal; all other packages build on it.
//
// Constraints carried by every value in this package:
//   - Meta payloads are IRValue trees: no floats, no nulls.
//   - JSON tags use snake_case and match the wire/storage record.
//   - Ordering is by (event_ts, store_id), never by arrival time.
package ir
