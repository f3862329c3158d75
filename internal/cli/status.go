package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wreckit/wreckit/internal/item"
)

func newStatusCmd(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show a summary of every item's state",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(g)
			if err != nil {
				return err
			}

			ids, err := app.Store.ListItems(nil)
			if err != nil {
				return fmt.Errorf("list items: %w", err)
			}

			counts := map[item.State]int{}
			for _, id := range ids {
				it, err := app.Store.LoadItem(id)
				if err != nil {
					app.Logger.Warn("skipping unreadable item", zap.String("id", id), zap.Error(err))
					continue
				}
				counts[it.State]++
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d item(s) in %s\n", len(ids), app.Store.Root)
			for _, s := range orderedStates() {
				if n := counts[s]; n > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "  %-12s %d\n", s, n)
				}
			}
			return nil
		},
	}
}

func orderedStates() []item.State {
	return []item.State{
		item.StateIdea, item.StateResearching, item.StateResearched,
		item.StatePlanning, item.StatePlanned, item.StateImplementing,
		item.StateCritique, item.StateInPR, item.StateMerged,
		item.StateDone, item.StateAbandoned,
	}
}

func newIdeasCmd(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "ideas",
		Short: "List items awaiting research (the intake backlog)",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(g)
			if err != nil {
				return err
			}
			return listByState(cmd, app, item.StateIdea)
		},
	}
}

func listByState(cmd *cobra.Command, app *App, want item.State) error {
	ids, err := app.Store.ListItems(nil)
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}

	type row struct {
		id       string
		title    string
		priority int
	}
	var rows []row
	for _, id := range ids {
		it, err := app.Store.LoadItem(id)
		if err != nil {
			app.Logger.Warn("skipping unreadable item", zap.String("id", id), zap.Error(err))
			continue
		}
		if it.State != want {
			continue
		}
		rows = append(rows, row{id: it.ID, title: it.Title, priority: it.Priority})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].priority > rows[j].priority })

	if len(rows) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "nothing")
		return nil
	}
	for _, r := range rows {
		fmt.Fprintf(cmd.OutOrStdout(), "%-30s  p%-3d  %s\n", r.id, r.priority, r.title)
	}
	return nil
}
