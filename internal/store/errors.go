package store

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when an index entry or atom does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateCreate is returned when a second, distinct created event is
	// appended for an atom_uid.
	ErrDuplicateCreate = errors.New("atom_uid already has a created event")

	// ErrWatermarkMoved is returned by AdvanceWatermark when the stored
	// watermark no longer equals the caller's starting point.
	ErrWatermarkMoved = errors.New("watermark moved concurrently")

	// ErrLeaseHeld is returned when another owner holds the indexer lease.
	ErrLeaseHeld = errors.New("indexer lease held by another owner")

	// ErrTimestampRange is returned by Append for an event_ts outside
	// ir.MinTimestamp..ir.MaxTimestamp.
	ErrTimestampRange = errors.New("event_ts outside the storable range")

	// ErrReadOnly is returned by write operations on a read-only store.
	ErrReadOnly = errors.New("store is read-only")
)

// IsTransient reports whether err is a lock contention error worth retrying.
func IsTransient(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique
}
