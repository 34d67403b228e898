// Package query is the read side of the registry: current state, history
// and canonical exports of the materialized index.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/roach88/atomledger/internal/ir"
	"github.com/roach88/atomledger/internal/store"
)

// Cache defaults.
const (
	DefaultCacheTTL        = 30 * time.Second
	DefaultCleanupInterval = 5 * time.Minute
)

// Reader is the store surface queries need. *store.Store satisfies it.
type Reader interface {
	Watermark(ctx context.Context) (int64, error)
	GetEntry(ctx context.Context, uid string) (ir.IndexEntry, error)
	ListEntries(ctx context.Context) ([]ir.IndexEntry, error)
	ListEdges(ctx context.Context) ([]ir.Edge, error)
	ReadHistory(ctx context.Context, uid string, upTo int64) ([]ir.Event, error)
}

// Service answers state, history and export queries.
//
// GetState reads through a cache keyed by watermark and uid, so a cached
// entry is never served once the watermark has moved.
type Service struct {
	src    Reader
	cache  *gocache.Cache
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCacheTTL sets the state cache lifetime. Zero or less disables the
// cache.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl <= 0 {
			s.cache = nil
			return
		}
		s.cache = gocache.New(ttl, DefaultCleanupInterval)
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a query service over src.
func New(src Reader, opts ...Option) *Service {
	s := &Service{
		src:    src,
		cache:  gocache.New(DefaultCacheTTL, DefaultCleanupInterval),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetState returns the materialized entry for uid, or an error matching
// store.ErrNotFound.
func (s *Service) GetState(ctx context.Context, uid string) (ir.IndexEntry, error) {
	if s.cache == nil {
		return s.src.GetEntry(ctx, uid)
	}

	wm, err := s.src.Watermark(ctx)
	if err != nil {
		return ir.IndexEntry{}, err
	}
	key := fmt.Sprintf("%d:%s", wm, uid)
	if v, found := s.cache.Get(key); found {
		if entry, ok := v.(ir.IndexEntry); ok {
			s.logger.Debug("state cache hit", "uid", uid, "watermark", wm)
			return entry, nil
		}
	}

	entry, err := s.src.GetEntry(ctx, uid)
	if err != nil {
		return ir.IndexEntry{}, err
	}
	s.cache.SetDefault(key, entry)
	return entry, nil
}

// GetHistory returns every event of uid in fold order, or an error
// matching store.ErrNotFound when the ledger has none.
func (s *Service) GetHistory(ctx context.Context, uid string) ([]ir.Event, error) {
	events, err := s.src.ReadHistory(ctx, uid, 0)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("history %s: %w", uid, store.ErrNotFound)
	}
	return events, nil
}

// ExportIndex returns the whole index with its edges and watermark. When
// the source can pin a snapshot, as *store.Store can, the three reads see
// one database state.
func (s *Service) ExportIndex(ctx context.Context) (Snapshot, error) {
	pinned, ok := s.src.(snapshotter)
	if !ok {
		return export(ctx, s.src)
	}
	var snap Snapshot
	err := pinned.Snapshot(ctx, func(view *store.Store) error {
		var err error
		snap, err = export(ctx, view)
		return err
	})
	return snap, err
}

type snapshotter interface {
	Snapshot(ctx context.Context, fn func(view *store.Store) error) error
}

func export(ctx context.Context, src Reader) (Snapshot, error) {
	wm, err := src.Watermark(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	entries, err := src.ListEntries(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	edges, err := src.ListEdges(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Watermark: wm, Entries: entries, Edges: edges}, nil
}

// Flush drops every cached state.
func (s *Service) Flush() {
	if s.cache != nil {
		s.cache.Flush()
	}
}

// IsNotFound reports whether err means the atom is unknown.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
