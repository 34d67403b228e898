package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/atomledger/internal/ir"
	"github.com/roach88/atomledger/internal/validate"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Offline       bool
	AllowExisting bool
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <defs-dir>",
		Short: "Validate atom definitions",
		Long: `Validate atom definition files (YAML, JSON or CUE) without registering them.

Checks the definition schema, identifier formats, uniqueness of atom_uid and
atom_key, dependency resolution and acyclicity. When the ledger database
exists the definitions are also checked against the atoms it already holds.
Every failure is reported.

Exit codes:
  0 - All definitions valid
  1 - Validation failed
  2 - Command error (missing directory, unreadable database)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Offline, "offline", false, "validate the definitions on their own, ignoring the ledger")
	cmd.Flags().BoolVar(&opts.AllowExisting, "allow-existing", false, "accept atom_uids already in the ledger")

	return cmd
}

func runValidate(opts *ValidateOptions, dir string, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts.RootOptions)

	defs, errs, err := loadDefinitions(dir)
	if err != nil {
		return err
	}
	out.VerboseLog("loaded %d definitions from %s", len(defs), dir)

	var known validate.Ledger
	if !opts.Offline {
		if _, statErr := os.Stat(opts.Config.DB); statErr == nil {
			st, err := opts.openReader()
			if err != nil {
				return err
			}
			defer opts.closeStore(st)
			known = opts.newLedger(st, nil)
		}
	}

	var vopts []validate.Option
	if opts.AllowExisting {
		vopts = append(vopts, validate.AllowExisting())
	}
	defErrs, err := validate.AtomDefinitions(cmd.Context(), defs, known, vopts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "ledger lookup failed", err)
	}
	errs = append(errs, defErrs...)

	if len(errs) > 0 {
		if err := out.ValidationErrors("validation failed", errs); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%d validation errors", len(errs)))
	}

	return out.Success(
		map[string]any{"valid": true, "definitions": len(defs)},
		fmt.Sprintf("✓ All definitions valid (%d atoms)", len(defs)),
	)
}

// loadDefinitions reads dir and separates per-file load failures, which
// are reported like validation errors, from an unusable directory.
func loadDefinitions(dir string) ([]ir.AtomDefinition, []validate.ValidationError, error) {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil, nil, NewExitError(ExitCommandError, fmt.Sprintf("definitions directory not found: %s", dir))
	}
	defs, err := validate.LoadDefinitions(dir)
	if err == nil {
		return defs, nil, nil
	}
	var verrs validate.Errors
	if errors.As(err, &verrs) {
		return defs, verrs, nil
	}
	return nil, nil, WrapExitError(ExitCommandError, "failed to load definitions", err)
}
