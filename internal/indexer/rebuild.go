package indexer

import (
	"context"
	"fmt"

	"github.com/roach88/atomledger/internal/fold"
)

// RebuildFull discards the index and replays every atom's full history up
// to the current ledger head, then sets the watermark to that head. Events
// appended meanwhile are left for the next RunBatch.
//
// The truncate and the watermark reset commit together, so an interrupted
// rebuild leaves a consistent, partially filled index that RunBatch
// completes.
func (ix *Indexer) RebuildFull(ctx context.Context) error {
	if err := ix.store.AcquireLease(ctx, ix.owner, ix.leaseTTL); err != nil {
		return err
	}

	head, err := ix.store.MaxEventID(ctx)
	if err != nil {
		return err
	}
	if err := ix.store.TruncateIndex(ctx); err != nil {
		return err
	}
	if head == 0 {
		return nil
	}

	uids, err := ix.store.ListUIDs(ctx)
	if err != nil {
		return err
	}
	ix.logger.Info("rebuilding index", "atoms", len(uids), "head", head)

	for i, uid := range uids {
		if err := ctx.Err(); err != nil {
			return err
		}
		// renew the lease on long rebuilds
		if i > 0 && i%DefaultBatchSize == 0 {
			if err := ix.store.AcquireLease(ctx, ix.owner, ix.leaseTTL); err != nil {
				return err
			}
		}

		history, err := ix.store.ReadHistory(ctx, uid, head)
		if err != nil {
			return err
		}
		if len(history) == 0 {
			continue
		}
		entry, err := fold.Replay(history)
		if err != nil {
			return fmt.Errorf("replay %s: %w", uid, err)
		}
		if err := ix.store.UpsertEntry(ctx, entry); err != nil {
			return err
		}
	}

	if err := ix.store.AdvanceWatermark(ctx, 0, head); err != nil {
		return err
	}
	if ix.metrics != nil {
		ix.metrics.Watermark.Set(float64(head))
	}
	ix.logger.Info("index rebuilt", "atoms", len(uids), "watermark", head)
	return nil
}
