package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wreckit/wreckit/internal/doctor"
)

func newDoctorCmd(g *Globals) *cobra.Command {
	var fix bool
	var allowBranchDeletion bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose (and optionally repair) repository defects",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(g)
			if err != nil {
				return err
			}
			app.Doctor.AllowBranchDeletion = allowBranchDeletion

			var results []doctor.Diagnostic
			if g.DryRun || !fix {
				results, err = app.Doctor.Diagnose()
				if err != nil {
					return fmt.Errorf("diagnose: %w", err)
				}
			} else {
				results, err = app.Doctor.ApplyFixes()
				if err != nil {
					return fmt.Errorf("apply fixes: %w", err)
				}
			}

			printDiagnostics(cmd, results)
			if anyUnfixedErrors(results) {
				return exitCode{1, fmt.Errorf("doctor found unresolved defects")}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&fix, "fix", false, "apply repairs instead of only reporting them")
	cmd.Flags().BoolVar(&allowBranchDeletion, "allow-branch-deletion", false, "with --fix, also delete orphaned branches of items that have not reached implementing")
	return cmd
}

func printDiagnostics(cmd *cobra.Command, diags []doctor.Diagnostic) {
	if len(diags) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no defects found")
		return
	}
	for _, d := range diags {
		status := "unfixed"
		if d.Fixed {
			status = "fixed"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s (%s) - %s\n", d.Severity, d.Location, d.Kind, status, d.Description)
	}
}

func anyUnfixedErrors(diags []doctor.Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == doctor.SeverityError && !d.Fixed {
			return true
		}
	}
	return false
}
