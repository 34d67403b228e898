package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/roach88/atomledger/internal/indexer"
	"github.com/roach88/atomledger/internal/ledger"
	"github.com/roach88/atomledger/internal/metrics"
	"github.com/roach88/atomledger/internal/query"
	"github.com/roach88/atomledger/internal/store"
)

func (o *RootOptions) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// openStore opens the configured ledger for writing, creating it if needed.
func (o *RootOptions) openStore() (*store.Store, error) {
	o.logger().Debug("opening database", "path", o.Config.DB)
	st, err := store.Open(o.Config.DB)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// openReader opens an existing ledger read-only.
func (o *RootOptions) openReader() (*store.Store, error) {
	if _, err := os.Stat(o.Config.DB); errors.Is(err, fs.ErrNotExist) {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", o.Config.DB))
	}
	st, err := store.OpenReadOnly(o.Config.DB)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

func (o *RootOptions) closeStore(st *store.Store) {
	if err := st.Close(); err != nil {
		o.logger().Error("error closing database", "error", err)
	}
}

func (o *RootOptions) newLedger(st *store.Store, m *metrics.Metrics) *ledger.Ledger {
	opts := []ledger.Option{
		ledger.WithLogger(o.logger()),
		ledger.WithMaxAttempts(o.Config.AppendAttempts),
	}
	if m != nil {
		opts = append(opts, ledger.WithMetrics(m))
	}
	return ledger.New(st, opts...)
}

func (o *RootOptions) newIndexer(st *store.Store, m *metrics.Metrics) *indexer.Indexer {
	opts := []indexer.Option{
		indexer.WithLogger(o.logger()),
		indexer.WithLeaseTTL(o.Config.LeaseTTL),
	}
	if m != nil {
		opts = append(opts, indexer.WithMetrics(m))
	}
	return indexer.New(st, opts...)
}

func (o *RootOptions) newQuery(st *store.Store) *query.Service {
	return query.New(st,
		query.WithCacheTTL(o.Config.CacheTTL),
		query.WithLogger(o.logger()),
	)
}
