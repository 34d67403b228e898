package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/atomledger/internal/indexer"
	"github.com/roach88/atomledger/internal/store"
)

// BuildIndexOptions holds flags for the build-index command.
type BuildIndexOptions struct {
	*RootOptions
	Full        bool
	Incremental bool
	BatchSize   int
}

// NewBuildIndexCommand creates the build-index command.
func NewBuildIndexCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BuildIndexOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "build-index",
		Short: "Fold ledger events into the materialized index",
		Long: `Fold ledger events into the materialized index.

--incremental (the default) folds bounded batches past the watermark until
the index reaches the ledger head. --full discards the index and replays
every atom's history from scratch.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuildIndex(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Full, "full", false, "rebuild the whole index from the ledger")
	cmd.Flags().BoolVar(&opts.Incremental, "incremental", false, "fold events past the watermark (default)")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "events per batch (default: batch_size from config)")
	cmd.MarkFlagsMutuallyExclusive("full", "incremental")

	return cmd
}

func runBuildIndex(opts *BuildIndexOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	out := newFormatter(cmd, opts.RootOptions)

	batchSize := opts.Config.BatchSize
	if opts.BatchSize > 0 {
		batchSize = opts.BatchSize
	}

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer opts.closeStore(st)

	ix := opts.newIndexer(st, nil)
	defer func() {
		if err := ix.Release(ctx); err != nil {
			opts.logger().Warn("lease release failed", "error", err)
		}
	}()

	mode := "incremental"
	folded := 0
	if opts.Full {
		mode = "full"
		err = ix.RebuildFull(ctx)
	} else {
		folded, err = ix.CatchUp(ctx, batchSize)
	}
	if errors.Is(err, store.ErrLeaseHeld) {
		return WrapExitError(ExitCommandError, "another indexer holds the lease", err)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "index build failed", err)
	}

	wm, err := st.Watermark(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "read watermark", err)
	}
	entries, err := st.CountEntries(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "count entries", err)
	}

	data := map[string]any{"mode": mode, "watermark": wm, "entries": entries}
	text := fmt.Sprintf("✓ Index rebuilt at watermark %d (%d atoms)", wm, entries)
	if !opts.Full {
		data["folded"] = folded
		text = fmt.Sprintf("✓ Folded %d events, watermark %d (%d atoms)", folded, wm, entries)
	}
	return out.Success(data, text)
}

// NewExportIndexCommand creates the export-index command.
func NewExportIndexCommand(rootOpts *RootOptions) *cobra.Command {
	var outFile string

	cmd := &cobra.Command{
		Use:   "export-index",
		Short: "Write the materialized index as canonical JSON",
		Long: `Write the materialized index, its dependency edges and the watermark
as one canonical JSON document. Two indexes over the same ledger prefix
export byte-identical documents.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := rootOpts.openReader()
			if err != nil {
				return err
			}
			defer rootOpts.closeStore(st)

			snap, err := rootOpts.newQuery(st).ExportIndex(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "export failed", err)
			}
			data, err := snap.MarshalCanonical()
			if err != nil {
				return WrapExitError(ExitFailure, "encode snapshot", err)
			}

			if outFile == "" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return err
			}
			if err := os.WriteFile(outFile, data, 0o644); err != nil {
				return WrapExitError(ExitCommandError, "write snapshot", err)
			}
			rootOpts.logger().Info("index exported", "path", outFile, "watermark", snap.Watermark, "entries", len(snap.Entries))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outFile, "out", "o", "", "output file (default: stdout)")
	return cmd
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Compare the index with a replay of the ledger",
		Long: `Replay the ledger up to the watermark in memory and compare the result with
the stored index and edges. Nothing is written. Divergent atoms are listed
and the command exits 1; repair with build-index --full.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(cmd, rootOpts)

			st, err := rootOpts.openReader()
			if err != nil {
				return err
			}
			defer rootOpts.closeStore(st)

			report, err := rootOpts.newIndexer(st, nil).Verify(cmd.Context())
			var cerr *indexer.ConsistencyError
			if err != nil && !errors.As(err, &cerr) {
				return WrapExitError(ExitFailure, "verification failed", err)
			}

			if report.OK() {
				return out.Success(report, fmt.Sprintf("✓ Index consistent at watermark %d (%d atoms)", report.Watermark, report.Checked))
			}

			msg := fmt.Sprintf("index diverges from ledger at watermark %d", report.Watermark)
			if out.JSON() {
				if err := out.Error("divergent", msg, report); err != nil {
					return err
				}
			} else {
				lines := make([]string, len(report.Divergences))
				for i, d := range report.Divergences {
					lines[i] = "  " + d.String()
				}
				fmt.Fprintf(out.Writer, "✗ %s (%d of %d atoms)\n%s\n", msg, len(report.Divergences), report.Checked, strings.Join(lines, "\n"))
			}
			return WrapExitError(ExitFailure, msg, cerr)
		},
	}
}
