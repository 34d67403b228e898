package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/atomledger/internal/ir"
	"github.com/roach88/atomledger/internal/ledger"
	"github.com/roach88/atomledger/internal/store"
	"github.com/roach88/atomledger/internal/validate"
)

// NewRegisterCommand creates the register command.
func NewRegisterCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "register <defs-dir>",
		Short: "Validate atom definitions and record new atoms",
		Long: `Validate atom definitions against the ledger, then append a created event
for every definition whose atom_uid the ledger does not hold yet.

Title, role, deps and the other authored attributes are carried in the
created event's meta. A definition whose status is not active is followed
by the matching lifecycle event. Dependencies are created before their
dependents. Definitions already in the ledger are skipped, so register can
be re-run over a growing directory.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegister(rootOpts, args[0], cmd)
		},
	}
}

func runRegister(opts *RootOptions, dir string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	out := newFormatter(cmd, opts)

	defs, errs, err := loadDefinitions(dir)
	if err != nil {
		return err
	}

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer opts.closeStore(st)

	lg := opts.newLedger(st, nil)
	defErrs, err := validate.AtomDefinitions(ctx, defs, lg, validate.AllowExisting())
	if err != nil {
		return WrapExitError(ExitCommandError, "ledger lookup failed", err)
	}
	if errs = append(errs, defErrs...); len(errs) > 0 {
		if err := out.ValidationErrors("validation failed", errs); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%d validation errors", len(errs)))
	}

	fresh, err := unregistered(ctx, st, defs)
	if err != nil {
		return WrapExitError(ExitCommandError, "ledger lookup failed", err)
	}

	var events []ir.Event
	for _, def := range orderByDeps(fresh) {
		events = append(events, definitionEvents(def)...)
	}
	if len(events) == 0 {
		return out.Success(map[string]any{"registered": 0, "skipped": len(defs)},
			fmt.Sprintf("✓ Nothing to register (%d atoms already recorded)", len(defs)))
	}

	results, err := lg.AppendAll(ctx, events)
	var batchErr *ledger.BatchError
	if errors.As(err, &batchErr) {
		accepted := make([]appendRecord, len(results))
		for i, r := range results {
			accepted[i] = appendRecord{StoreID: r.StoreID, AtomUID: r.Event.AtomUID, EventType: r.Event.Type.String(), Inserted: r.Inserted}
		}
		return reportAppendFailures(out, accepted, batchErr)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "register failed", err)
	}

	uids := make([]string, len(fresh))
	for i, def := range fresh {
		uids[i] = def.AtomUID
	}
	opts.logger().Info("atoms registered", "atoms", len(fresh), "events", len(results))
	return out.Success(
		map[string]any{"registered": len(fresh), "skipped": len(defs) - len(fresh), "atom_uids": uids, "events": len(results)},
		fmt.Sprintf("✓ Registered %d atoms (%d events, %d skipped)\n  %s", len(fresh), len(results), len(defs)-len(fresh), strings.Join(uids, "\n  ")),
	)
}

func unregistered(ctx context.Context, st *store.Store, defs []ir.AtomDefinition) ([]ir.AtomDefinition, error) {
	var out []ir.AtomDefinition
	for _, def := range defs {
		known, err := st.HasUID(ctx, def.AtomUID)
		if err != nil {
			return nil, err
		}
		if !known {
			out = append(out, def)
		}
	}
	return out, nil
}

// orderByDeps returns defs with every dependency inside the set placed
// before its dependents, otherwise keeping input order. The set must be
// acyclic.
func orderByDeps(defs []ir.AtomDefinition) []ir.AtomDefinition {
	byUID := make(map[string]int, len(defs))
	for i, def := range defs {
		byUID[def.AtomUID] = i
	}

	out := make([]ir.AtomDefinition, 0, len(defs))
	placed := make([]bool, len(defs))
	var visit func(i int)
	visit = func(i int) {
		if placed[i] {
			return
		}
		placed[i] = true
		for _, dep := range defs[i].Deps {
			if j, ok := byUID[dep]; ok {
				visit(j)
			}
		}
		out = append(out, defs[i])
	}
	for i := range defs {
		visit(i)
	}
	return out
}

// definitionEvents is the created event for def, followed by a superseded
// event when superseded_by is set and the event its authored status implies.
func definitionEvents(def ir.AtomDefinition) []ir.Event {
	meta := ir.IRObject{}
	setMetaString(meta, ir.MetaTitle, def.Title)
	setMetaString(meta, ir.MetaRole, def.Role)
	setMetaString(meta, "rev_notes", def.RevNotes)
	setMetaString(meta, "legacy_id", def.LegacyID)
	setMetaList(meta, ir.MetaDeps, def.Deps)
	setMetaList(meta, "inputs", def.Inputs)
	setMetaList(meta, "outputs", def.Outputs)
	if def.DisplayOrder != 0 {
		meta["display_order"] = ir.IRInt(def.DisplayOrder)
	}

	events := []ir.Event{{AtomUID: def.AtomUID, AtomKey: def.AtomKey, Type: ir.EventCreated, Meta: meta}}
	if def.SupersededBy != "" {
		events = append(events, ir.Event{
			AtomUID: def.AtomUID,
			Type:    ir.EventSuperseded,
			Meta:    ir.IRObject{ir.MetaSupersededBy: ir.IRString(def.SupersededBy)},
		})
	}

	follow := ir.Event{AtomUID: def.AtomUID, Meta: ir.IRObject{}}
	switch ir.Status(def.Status) {
	case ir.StatusDeprecated:
		follow.Type = ir.EventDeprecated
	case ir.StatusRemoved:
		follow.Type = ir.EventRemoved
	case ir.StatusSplit:
		follow.Type = ir.EventSplit
		follow.Meta[ir.MetaSplitInto] = ir.StringArray(def.SplitInto)
	case ir.StatusMerged:
		follow.Type = ir.EventMerged
		follow.Meta[ir.MetaMergedInto] = ir.IRString(def.MergedInto)
	default:
		return events
	}
	return append(events, follow)
}

func setMetaString(meta ir.IRObject, key, val string) {
	if val != "" {
		meta[key] = ir.IRString(val)
	}
}

func setMetaList(meta ir.IRObject, key string, vals []string) {
	if len(vals) > 0 {
		meta[key] = ir.StringArray(vals)
	}
}
