package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for hashes. The version suffix leaves room for a future
// algorithm change without colliding with stored values.
const (
	DomainMeta    = "atomledger/meta/v1"
	DomainHistory = "atomledger/history/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + parts[0] + 0x00 + parts[1] ...).
// The null separators keep domain and part boundaries unambiguous.
func hashWithDomain(domain string, parts ...[]byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	for _, p := range parts {
		h.Write([]byte{0x00})
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// MetaHash is the digest of an event's canonical meta. It is the fourth
// column of the ledger's natural key.
func MetaHash(meta IRObject) (string, error) {
	if meta == nil {
		meta = IRObject{}
	}
	canonical, err := MarshalCanonical(meta)
	if err != nil {
		return "", fmt.Errorf("MetaHash: %w", err)
	}
	return hashWithDomain(DomainMeta, canonical), nil
}

// HistoryTuple is the part of an event that feeds the history hash.
// store_id is excluded: two ledgers holding the same facts in a different
// physical order still agree on every atom's hash.
func HistoryTuple(ev Event) IRObject {
	meta := ev.Meta
	if meta == nil {
		meta = IRObject{}
	}
	obj := IRObject{
		"event_ts":   IRString(FormatTS(ev.Timestamp)),
		"event_type": IRString(ev.Type.String()),
		"meta":       meta,
	}
	if ev.AtomKey != "" {
		obj["atom_key"] = IRString(ev.AtomKey)
	}
	return obj
}

// HistoryStep extends a history hash chain by one event. The empty string
// is the hash of an empty history.
func HistoryStep(prev string, ev Event) (string, error) {
	canonical, err := MarshalCanonical(HistoryTuple(ev))
	if err != nil {
		return "", fmt.Errorf("HistoryStep: %w", err)
	}
	return hashWithDomain(DomainHistory, []byte(prev), canonical), nil
}

// HistoryHash folds HistoryStep over events already in fold order.
func HistoryHash(events []Event) (string, error) {
	h := ""
	for _, ev := range events {
		next, err := HistoryStep(h, ev)
		if err != nil {
			return "", err
		}
		h = next
	}
	return h, nil
}

// MustMetaHash is like MetaHash but panics on error.
// Use only in tests or when meta is known to be valid.
func MustMetaHash(meta IRObject) string {
	h, err := MetaHash(meta)
	if err != nil {
		panic(err)
	}
	return h
}
