// Package indexer keeps the materialized atom index in step with the
// ledger.
//
// Batch Processing:
//
// RunBatch is the only path that moves the watermark forward:
//  1. Take or renew the indexer lease (one writer per index).
//  2. Read the watermark fresh from the store.
//  3. Read up to batchSize events with id > watermark, in id order.
//  4. Group them by atom_uid and fold each group, upserting the entry and
//     its dependency edges in one transaction per group.
//  5. Compare-and-advance the watermark to the largest id in the batch.
//
// A group whose events all sort after the stored entry's position is
// folded incrementally from that entry. A late event (older event_ts than
// something already folded) makes the atom's whole history up to the
// batch end be re-folded instead, so folding order is always
// (event_ts, store_id) no matter the arrival order.
//
// Crash Safety:
//
// Cancellation is checked between groups. Groups written before a crash
// or cancellation stay written while the watermark stays behind; the next
// batch reads the same events again and skips every event whose id is at
// or below the entry's folded_through, so replaying a batch is a no-op for
// the groups that already made it.
//
// Verification:
//
// Verify replays the ledger in memory up to the watermark and compares the
// result with every stored entry and edge. Divergence is reported as a
// *ConsistencyError and never repaired automatically; RebuildFull is the
// explicit repair.
package indexer
