// Package deps answers dependency questions over the materialized edge set
// and detects cycles in proposed dependency graphs.
package deps

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/atomledger/internal/ir"
)

// Source is the read side the resolver needs. *store.Store satisfies it.
type Source interface {
	GetEntry(ctx context.Context, uid string) (ir.IndexEntry, error)
	DependentsOf(ctx context.Context, uid string) ([]string, error)
	HasUID(ctx context.Context, uid string) (bool, error)
}

// UnknownDepsError lists every dependency of an atom that the ledger has
// never seen.
type UnknownDepsError struct {
	AtomUID string
	Unknown []string
}

func (e *UnknownDepsError) Error() string {
	return fmt.Sprintf("atom %s depends on unknown atoms: %s", e.AtomUID, strings.Join(e.Unknown, ", "))
}

// Resolver serves dependency and dependent lookups.
type Resolver struct {
	src Source
}

// NewResolver creates a resolver over src.
func NewResolver(src Source) *Resolver {
	return &Resolver{src: src}
}

// ResolveDeps returns the direct dependencies of uid in declaration order.
// A dependency resolves when the ledger holds any event for it, folded or
// not. If some do not resolve the error is an *UnknownDepsError naming all
// of them. An atom missing from the index yields store.ErrNotFound.
func (r *Resolver) ResolveDeps(ctx context.Context, uid string) ([]string, error) {
	entry, err := r.src.GetEntry(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("resolve deps of %s: %w", uid, err)
	}

	var unknown []string
	for _, dep := range entry.Deps {
		ok, err := r.src.HasUID(ctx, dep)
		if err != nil {
			return nil, fmt.Errorf("resolve dep %s: %w", dep, err)
		}
		if !ok {
			unknown = append(unknown, dep)
		}
	}
	if len(unknown) > 0 {
		return nil, &UnknownDepsError{AtomUID: uid, Unknown: unknown}
	}
	return entry.Deps, nil
}

// Dependents returns the atoms that declare a dependency on uid, sorted.
func (r *Resolver) Dependents(ctx context.Context, uid string) ([]string, error) {
	out, err := r.src.DependentsOf(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("dependents of %s: %w", uid, err)
	}
	return out, nil
}
