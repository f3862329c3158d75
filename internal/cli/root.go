package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the wreckit command tree. g is populated by cobra as
// persistent flags are parsed and read by every subcommand's RunE.
func NewRootCmd() *cobra.Command {
	g := &Globals{}

	root := &cobra.Command{
		Use:           "wreckit",
		Short:         "Autonomous engineering orchestrator",
		Long:          "wreckit drives rough ideas through research, planning, implementation, and review, delegating each phase to a configurable AI coding agent and emitting the result as a pull request.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := resolveCwd(g.Cwd)
			if err != nil {
				return err
			}
			g.Cwd = cwd
			return nil
		},
	}

	root.PersistentFlags().BoolVar(&g.DryRun, "dry-run", false, "describe what would happen without invoking an agent or mutating state")
	root.PersistentFlags().BoolVarP(&g.Verbose, "verbose", "v", false, "enable debug-level logging")
	root.PersistentFlags().BoolVarP(&g.Quiet, "quiet", "q", false, "only log errors")
	root.PersistentFlags().BoolVar(&g.NoTUI, "no-tui", false, "disable interactive terminal rendering, emit plain text only")
	root.PersistentFlags().StringVar(&g.Cwd, "cwd", "", "repository root (default: current directory)")

	root.AddCommand(
		newInitCmd(g),
		newStatusCmd(g),
		newIdeasCmd(g),
		newRunCmd(g),
		newNextCmd(g),
		newPhaseCmd(g),
		newDoctorCmd(g),
	)

	return root
}
