package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/atomledger/internal/atomid"
)

// NewNewIDCommand creates the new-id command.
func NewNewIDCommand(rootOpts *RootOptions) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:           "new-id",
		Short:         "Generate fresh atom_uids",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return NewExitError(ExitCommandError, "--count must be at least 1")
			}
			ids := make([]string, count)
			for i := range ids {
				ids[i] = atomid.NewID()
			}
			return newFormatter(cmd, rootOpts).Success(ids, strings.Join(ids, "\n"))
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of ids")
	return cmd
}

// NewKeyCommand creates the key command with its build and parse
// subcommands.
func NewKeyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Build and inspect structured atom keys",
	}
	cmd.AddCommand(newKeyBuildCommand(rootOpts))
	cmd.AddCommand(newKeyParseCommand(rootOpts))
	return cmd
}

func newKeyBuildCommand(rootOpts *RootOptions) *cobra.Command {
	var k atomid.Key

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Assemble an atom_key from its parts",
		Long: `Assemble namespace/workflow/vN/phase/lane/NNN[-variant][-rM].

Example:
  atomledger key build --ns acme --workflow onboard --version 1 --phase intake --lane ops --seq 10`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := atomid.BuildKey(k.Namespace, k.Workflow, k.Version, k.Phase, k.Lane, k.Seq, k.Variant, k.Revision)
			if err != nil {
				return WrapExitError(ExitFailure, "invalid key", err)
			}
			return newFormatter(cmd, rootOpts).Success(
				map[string]string{"atom_key": key, "scope": atomid.KeyScope(key)},
				key,
			)
		},
	}

	f := cmd.Flags()
	f.StringVar(&k.Namespace, "ns", "", "namespace")
	f.StringVar(&k.Workflow, "workflow", "", "workflow")
	f.IntVar(&k.Version, "version", 1, "workflow version")
	f.StringVar(&k.Phase, "phase", "", "phase")
	f.StringVar(&k.Lane, "lane", "", "lane")
	f.IntVar(&k.Seq, "seq", 0, "sequence number")
	f.StringVar(&k.Variant, "variant", "", "optional variant")
	f.IntVar(&k.Revision, "revision", 0, "optional revision")
	for _, name := range []string{"ns", "workflow", "phase", "lane", "seq"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newKeyParseCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "parse <atom_key>",
		Short:         "Split an atom_key into its parts",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := atomid.ParseKey(args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "invalid key", err)
			}
			data := map[string]any{
				"namespace": k.Namespace,
				"workflow":  k.Workflow,
				"version":   k.Version,
				"phase":     k.Phase,
				"lane":      k.Lane,
				"seq":       k.Seq,
				"variant":   k.Variant,
				"revision":  k.Revision,
				"scope":     k.Scope(),
			}
			text := fmt.Sprintf("namespace: %s\nworkflow:  %s\nversion:   %d\nphase:     %s\nlane:      %s\nseq:       %d\nvariant:   %s\nrevision:  %d\nscope:     %s",
				k.Namespace, k.Workflow, k.Version, k.Phase, k.Lane, k.Seq, k.Variant, k.Revision, k.Scope())
			return newFormatter(cmd, rootOpts).Success(data, text)
		},
	}
}
