package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/wreckit/wreckit/internal/item"
)

// newTestGlobals builds Globals rooted at a scratch directory, independent
// of the process's actual working directory.
func newTestGlobals(t *testing.T) *Globals {
	t.Helper()
	return &Globals{Cwd: t.TempDir()}
}

// initRepo runs `init` against g.Cwd so subsequent commands have a store,
// default config, and prompt templates to work against.
func initRepo(t *testing.T, g *Globals) {
	t.Helper()
	cmd := newInitCmd(g)
	cmd.SetArgs(nil)
	var out bytes.Buffer
	cmd.SetOut(&out)
	if err := cmd.RunE(cmd, nil); err != nil {
		t.Fatalf("init: %v", err)
	}
}

// runCmd executes cmd's RunE directly (bypassing cobra's flag-parsing
// Execute, since these commands are constructed standalone in tests) and
// returns whatever was written to stdout.
func runCmd(t *testing.T, cmd *cobra.Command, args []string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	err := cmd.RunE(cmd, args)
	return out.String(), err
}

// newTestItem saves an item in state st and returns it.
func newTestItem(t *testing.T, g *Globals, id, section, title string, st item.State) *item.Item {
	t.Helper()
	app, err := newApp(g)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	now := time.Now()
	it := &item.Item{
		ID:        id,
		Title:     title,
		Section:   section,
		State:     st,
		CreatedAt: now,
		UpdatedAt: now,
		Priority:  1,
	}
	if err := app.Store.SaveItem(it); err != nil {
		t.Fatalf("SaveItem: %v", err)
	}
	return it
}
