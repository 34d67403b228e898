package store

import (
	"context"
	"fmt"
	"time"
)

// Watermark returns the last event id fully folded into the index.
// Indexers read it fresh at the start of every batch.
func (s *Store) Watermark(ctx context.Context) (int64, error) {
	var wm int64
	err := s.q.QueryRowContext(ctx, `SELECT last_event_id FROM watermark WHERE id = 1`).Scan(&wm)
	if err != nil {
		return 0, fmt.Errorf("read watermark: %w", err)
	}
	return wm, nil
}

// AdvanceWatermark moves the watermark from `from` to `to` atomically.
// It fails with ErrWatermarkMoved when the stored value is no longer `from`,
// and never moves the watermark backwards.
func (s *Store) AdvanceWatermark(ctx context.Context, from, to int64) error {
	if err := s.checkWritable(); err != nil {
		return fmt.Errorf("advance watermark: %w", err)
	}
	if to < from {
		return fmt.Errorf("advance watermark: %d is behind %d", to, from)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE watermark SET last_event_id = ?
		WHERE id = 1 AND last_event_id = ?
	`, to, from)
	if err != nil {
		return fmt.Errorf("advance watermark: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance watermark: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("advance watermark from %d: %w", from, ErrWatermarkMoved)
	}
	return nil
}

// AcquireLease takes or renews the indexer lease for owner until now+ttl.
// It succeeds when the lease is free, expired, or already held by owner.
func (s *Store) AcquireLease(ctx context.Context, owner string, ttl time.Duration) error {
	if err := s.checkWritable(); err != nil {
		return fmt.Errorf("acquire lease: %w", err)
	}
	if owner == "" {
		return fmt.Errorf("acquire lease: empty owner")
	}

	now := s.now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE indexer_lease SET owner = ?, expires_at_ns = ?
		WHERE id = 1 AND (owner = ? OR owner = '' OR expires_at_ns < ?)
	`, owner, toNanos(now.Add(ttl)), owner, toNanos(now))
	if err != nil {
		return fmt.Errorf("acquire lease: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("acquire lease: rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	holder, expires, err := s.LeaseHolder(ctx)
	if err != nil {
		return fmt.Errorf("acquire lease: %w", err)
	}
	return fmt.Errorf("%w: %s until %s", ErrLeaseHeld, holder, expires.Format(time.RFC3339))
}

// ReleaseLease frees the lease if owner holds it. Releasing a lease held by
// someone else is a no-op.
func (s *Store) ReleaseLease(ctx context.Context, owner string) error {
	if err := s.checkWritable(); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE indexer_lease SET owner = '', expires_at_ns = 0
		WHERE id = 1 AND owner = ?
	`, owner)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// LeaseHolder returns the current lease owner and expiry. An empty owner
// means the lease is free.
func (s *Store) LeaseHolder(ctx context.Context) (string, time.Time, error) {
	var (
		owner string
		expNS int64
	)
	err := s.q.QueryRowContext(ctx, `SELECT owner, expires_at_ns FROM indexer_lease WHERE id = 1`).Scan(&owner, &expNS)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("read lease: %w", err)
	}
	return owner, fromNanos(expNS), nil
}
