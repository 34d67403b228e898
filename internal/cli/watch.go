package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/atomledger/internal/indexer"
	"github.com/roach88/atomledger/internal/metrics"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	MetricsAddr string
	NoWatchFS   bool
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the index caught up with the ledger",
		Long: `Run the incremental indexer until interrupted.

The index is folded on start, on every poll interval, and shortly after the
database file changes. With verify_cron set, the index is verified against
a replay of the ledger on that schedule. With --metrics-addr, prometheus
metrics are served at /metrics.

Example:
  atomledger watch --db ./atoms.db --metrics-addr :9464
  ATOMLEDGER_VERIFY_CRON="*/15 * * * *" atomledger watch`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve /metrics on this address (default: metrics_addr from config)")
	cmd.Flags().BoolVar(&opts.NoWatchFS, "no-watch-fs", false, "poll only; do not watch the database file")

	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	logger := opts.logger()

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer opts.closeStore(st)

	m := metrics.New()
	ix := opts.newIndexer(st, m)

	rcfg := indexer.RunnerConfig{
		BatchSize:    opts.Config.BatchSize,
		PollInterval: opts.Config.PollInterval,
		VerifyCron:   opts.Config.VerifyCron,
	}
	if opts.Config.WatchFS && !opts.NoWatchFS {
		rcfg.WatchPath = opts.Config.DB
	}
	runner, err := indexer.NewRunner(ix, rcfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid runner config", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := opts.Config.MetricsAddr
	if opts.MetricsAddr != "" {
		addr = opts.MetricsAddr
	}
	if addr != "" {
		srv := newMetricsServer(addr, m)
		go func() {
			logger.Info("serving metrics", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics server shutdown", "error", err)
			}
		}()
	}

	logger.Info("indexer starting",
		"db", opts.Config.DB,
		"owner", ix.Owner(),
		"poll_interval", rcfg.PollInterval,
		"watch_fs", rcfg.WatchPath != "",
		"verify_cron", rcfg.VerifyCron,
	)
	fmt.Fprintln(cmd.OutOrStdout(), "Indexer running. Press Ctrl-C to stop.")

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "indexer error", err)
	}

	logger.Info("indexer stopped gracefully")
	return nil
}

func newMetricsServer(addr string, m *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
