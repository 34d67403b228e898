package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/atomledger/internal/deps"
	"github.com/roach88/atomledger/internal/ir"
	"github.com/roach88/atomledger/internal/query"
)

// NewStateCommand creates the state command.
func NewStateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "state <atom_uid>",
		Short:         "Show the materialized state of an atom",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(cmd, rootOpts)
			st, err := rootOpts.openReader()
			if err != nil {
				return err
			}
			defer rootOpts.closeStore(st)

			entry, err := rootOpts.newQuery(st).GetState(cmd.Context(), args[0])
			if query.IsNotFound(err) {
				return notFound(out, args[0])
			}
			if err != nil {
				return WrapExitError(ExitFailure, "state lookup failed", err)
			}
			return out.Success(entry, formatEntry(entry))
		},
	}
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "history <atom_uid>",
		Short:         "List an atom's events in fold order",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(cmd, rootOpts)
			st, err := rootOpts.openReader()
			if err != nil {
				return err
			}
			defer rootOpts.closeStore(st)

			events, err := rootOpts.newQuery(st).GetHistory(cmd.Context(), args[0])
			if query.IsNotFound(err) {
				return notFound(out, args[0])
			}
			if err != nil {
				return WrapExitError(ExitFailure, "history lookup failed", err)
			}

			var b strings.Builder
			for i, ev := range events {
				if i > 0 {
					b.WriteByte('\n')
				}
				meta, err := ir.MarshalCanonical(ev.Meta)
				if err != nil {
					return WrapExitError(ExitFailure, "encode meta", err)
				}
				fmt.Fprintf(&b, "%d\t%s\t%-10s\t%s\t%s", ev.StoreID, ir.FormatTS(ev.Timestamp), ev.Type, ev.AtomKey, meta)
			}
			return out.Success(events, b.String())
		},
	}
}

// NewDepsCommand creates the deps command.
func NewDepsCommand(rootOpts *RootOptions) *cobra.Command {
	var reverse bool

	cmd := &cobra.Command{
		Use:   "deps <atom_uid>",
		Short: "List an atom's dependencies, or its dependents with --reverse",
		Long: `List the atoms an atom depends on, in declaration order. Every dependency
must be known to the ledger; unknown ones are reported and the command
exits 1. With --reverse, list the atoms that depend on it instead.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(cmd, rootOpts)
			st, err := rootOpts.openReader()
			if err != nil {
				return err
			}
			defer rootOpts.closeStore(st)

			r := deps.NewResolver(st)
			var uids []string
			if reverse {
				uids, err = r.Dependents(cmd.Context(), args[0])
			} else {
				uids, err = r.ResolveDeps(cmd.Context(), args[0])
			}

			var unknown *deps.UnknownDepsError
			switch {
			case errors.As(err, &unknown):
				if err := out.Error("E212", unknown.Error(), unknown.Unknown); err != nil {
					return err
				}
				return WrapExitError(ExitFailure, "unresolved dependencies", err)
			case query.IsNotFound(err):
				return notFound(out, args[0])
			case err != nil:
				return WrapExitError(ExitFailure, "dependency lookup failed", err)
			}

			if uids == nil {
				uids = []string{}
			}
			return out.Success(uids, strings.Join(uids, "\n"))
		},
	}

	cmd.Flags().BoolVar(&reverse, "reverse", false, "list dependents instead of dependencies")
	return cmd
}

func notFound(out *OutputFormatter, uid string) error {
	msg := fmt.Sprintf("atom %s not found", uid)
	if err := out.Error("not_found", msg, nil); err != nil {
		return err
	}
	return NewExitError(ExitFailure, msg)
}

func formatEntry(e ir.IndexEntry) string {
	var b strings.Builder
	row := func(k, v string) {
		if v != "" {
			fmt.Fprintf(&b, "%-14s %s\n", k+":", v)
		}
	}
	row("atom_uid", e.AtomUID)
	row("atom_key", e.AtomKey)
	row("status", string(e.Status))
	row("title", e.Title)
	row("role", e.Role)
	row("deps", strings.Join(e.Deps, ", "))
	row("superseded_by", e.SupersededBy)
	row("split_into", strings.Join(e.SplitInto, ", "))
	row("merged_into", e.MergedInto)
	row("events", fmt.Sprint(e.EventCount))
	row("last_event", ir.FormatTS(e.LastEventTS))
	row("history_hash", e.HistoryHash)
	row("anomalies", strings.Join(e.Anomalies, ", "))
	return strings.TrimRight(b.String(), "\n")
}
