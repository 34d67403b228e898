package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/atomledger/internal/atomid"
	"github.com/roach88/atomledger/internal/fold"
	"github.com/roach88/atomledger/internal/ir"
	"github.com/roach88/atomledger/internal/validate"
)

// HasUID reports whether the ledger holds a created event for uid.
func (l *Ledger) HasUID(ctx context.Context, uid string) (bool, error) {
	return l.store.HasUID(ctx, uid)
}

// KeyHolders returns the atoms holding key right now, folded or not: each
// candidate's history is replayed and it counts when it sits at key in a
// live status.
func (l *Ledger) KeyHolders(ctx context.Context, key string) ([]string, error) {
	candidates, err := l.store.KeyCandidates(ctx, key)
	if err != nil {
		return nil, err
	}

	var holders []string
	for _, uid := range candidates {
		hist, err := l.store.ReadHistory(ctx, uid, 0)
		if err != nil {
			return nil, err
		}
		entry, err := fold.Replay(hist)
		if err != nil {
			return nil, fmt.Errorf("replay %s: %w", uid, err)
		}
		if entry.AtomKey == key && entry.Status != "" && !entry.Status.Terminal() {
			holders = append(holders, uid)
		}
	}
	return holders, nil
}

// checkKey rejects an event that would move its atom onto a key another
// live atom holds.
func (l *Ledger) checkKey(ctx context.Context, ev ir.Event) (*validate.ValidationError, error) {
	key, field := targetKey(ev)
	if key == "" {
		return nil, nil
	}
	holders, err := l.KeyHolders(ctx, key)
	if err != nil {
		return nil, err
	}

	var others []string
	for _, h := range holders {
		if h != ev.AtomUID {
			others = append(others, h)
		}
	}
	if len(others) == 0 {
		return nil, nil
	}
	return &validate.ValidationError{
		Field:   field,
		Message: fmt.Sprintf("atom_key %s is held by %s in scope %s", key, strings.Join(others, ", "), atomid.KeyScope(key)),
		Code:    validate.ErrKeyCollision,
	}, nil
}

// targetKey is the atom_key ev gives its atom, if any.
func targetKey(ev ir.Event) (key, field string) {
	switch ev.Type {
	case ir.EventCreated, ir.EventRevised:
		return ev.AtomKey, "atom_key"
	case ir.EventMoved:
		k, _ := ev.Meta.GetString(ir.MetaNewKey)
		return k, "meta.new_key"
	case ir.EventCorrected:
		if intended, ok := fold.Intended(ev); ok {
			return targetKey(intended)
		}
	}
	return "", ""
}
