package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/atomledger/internal/ir"
)

// marshalMeta converts meta to canonical JSON TEXT and its natural-key hash.
func marshalMeta(meta ir.IRObject) (text, hash string, err error) {
	if meta == nil {
		meta = ir.IRObject{}
	}
	data, err := ir.MarshalCanonical(meta)
	if err != nil {
		return "", "", fmt.Errorf("marshal meta: %w", err)
	}
	hash, err = ir.MetaHash(meta)
	if err != nil {
		return "", "", err
	}
	return string(data), hash, nil
}

// unmarshalMeta parses stored meta. Integers go through json.Number so values
// above 2^53 survive.
func unmarshalMeta(data string) (ir.IRObject, error) {
	if data == "" || data == "{}" {
		return ir.IRObject{}, nil
	}
	var obj ir.IRObject
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal meta: %w", err)
	}
	return obj, nil
}

// marshalList stores a uid list as a JSON array; nil becomes [].
func marshalList(vals []string) (string, error) {
	if len(vals) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(vals)
	if err != nil {
		return "", fmt.Errorf("marshal list: %w", err)
	}
	return string(data), nil
}

// unmarshalList parses a stored JSON array; [] becomes nil.
func unmarshalList(data string) ([]string, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var vals []string
	if err := json.Unmarshal([]byte(data), &vals); err != nil {
		return nil, fmt.Errorf("unmarshal list: %w", err)
	}
	return vals, nil
}

func toNanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
