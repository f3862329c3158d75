package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wreckit/wreckit/internal/orchestrator"
)

// interruptibleContext returns a context cancelled on SIGINT/SIGTERM, the
// external cancellation token §5 threads into the phase runner.
func interruptibleContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newRunCmd(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "run [id]",
		Short: "Advance one item through its remaining phases until it blocks, fails, or finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(g)
			if err != nil {
				return err
			}
			id := args[0]

			ctx, cancel := interruptibleContext()
			defer cancel()

			for {
				select {
				case <-ctx.Done():
					return exitCode{130, fmt.Errorf("interrupted")}
				default:
				}

				res, err := app.Orchestrator.RunOne(ctx, id)
				if err != nil {
					return err
				}
				if !res.Success {
					if res.Error != nil {
						fmt.Fprintf(cmd.OutOrStdout(), "phase failed: %s\n", res.Error.Error())
						return exitCode{1, res.Error}
					}
					fmt.Fprintln(cmd.OutOrStdout(), "item has no next phase")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", id, res.Item.State)
				if res.Item.State.Terminal() {
					return nil
				}
			}
		},
	}
}

func newNextCmd(g *Globals) *cobra.Command {
	var loop bool

	cmd := &cobra.Command{
		Use:   "next",
		Short: "Select and advance the single highest-priority ready item by one phase",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(g)
			if err != nil {
				return err
			}

			ctx, cancel := interruptibleContext()
			defer cancel()

			if loop {
				if err := app.Orchestrator.Loop(ctx); err != nil {
					if err == orchestrator.ErrInterrupted {
						return exitCode{130, err}
					}
					return exitCode{1, err}
				}
				return nil
			}

			id, err := app.Orchestrator.SelectNext()
			if err != nil {
				return err
			}
			if id == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing ready")
				return nil
			}

			res, err := app.Orchestrator.RunOne(ctx, id)
			if err != nil {
				if err == orchestrator.ErrInterrupted {
					return exitCode{130, err}
				}
				return err
			}
			if !res.Success {
				if res.Error != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "phase failed: %s\n", res.Error.Error())
					return exitCode{1, res.Error}
				}
				fmt.Fprintln(cmd.OutOrStdout(), "item has no next phase")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", id, res.Item.State)
			return nil
		},
	}

	cmd.Flags().BoolVar(&loop, "loop", false, "keep selecting and advancing items until nothing is ready, a phase fails, or interrupted")
	return cmd
}

func newPhaseCmd(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "phase <name> <id>",
		Short: "Run exactly one named phase for one item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(g)
			if err != nil {
				return err
			}
			phaseName, id := args[0], args[1]

			ctx, cancel := interruptibleContext()
			defer cancel()

			it, err := app.Store.LoadItem(id)
			if err != nil {
				return err
			}

			res := app.Phases.Run(ctx, it, phaseName)
			if !res.Success {
				if res.Error != nil {
					app.Logger.Error("phase failed", zap.String("item", id), zap.String("phase", phaseName), zap.Error(res.Error))
					fmt.Fprintf(cmd.OutOrStdout(), "phase failed: %s\n", res.Error.Error())
					return exitCode{1, res.Error}
				}
				return exitCode{1, fmt.Errorf("phase %q did not succeed", phaseName)}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", id, res.Item.State)
			return nil
		},
	}
}

// exitCode is a typed error carrying the process exit code main() should
// use, so a typed phase/orchestrator error (exit 1) is distinguishable from
// an interrupt (exit 130) without parsing error strings.
type exitCode struct {
	Code int
	Err  error
}

func (e exitCode) Error() string  { return e.Err.Error() }
func (e exitCode) Unwrap() error  { return e.Err }
func (e exitCode) ExitCode() int  { return e.Code }
