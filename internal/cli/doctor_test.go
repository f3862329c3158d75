package cli

import (
	"strings"
	"testing"

	"github.com/wreckit/wreckit/internal/item"
)

func TestDoctorReportsNoDefectsOnCleanStore(t *testing.T) {
	g := newTestGlobals(t)
	initRepo(t, g)
	newTestItem(t, g, "auth/001-login", "auth", "Login", item.StateIdea)

	out, err := runCmd(t, newDoctorCmd(g), nil)
	if err != nil {
		t.Fatalf("doctor: %v", err)
	}
	if !strings.Contains(out, "no defects found") {
		t.Errorf("expected a clean report, got %q", out)
	}
}

func TestDoctorDetectsUnknownState(t *testing.T) {
	g := newTestGlobals(t)
	initRepo(t, g)
	it := newTestItem(t, g, "auth/001-login", "auth", "Login", item.StateIdea)
	it.State = "not_a_real_state"
	app, err := newApp(g)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	if err := app.Store.SaveItem(it); err != nil {
		t.Fatalf("SaveItem: %v", err)
	}

	out, execErr := runCmd(t, newDoctorCmd(g), nil)
	if execErr == nil {
		t.Fatalf("expected doctor to report exit code 1 for an unresolved error-severity defect")
	}
	if !strings.Contains(out, "not a recognized value") {
		t.Errorf("expected unknown-state diagnostic in output, got %q", out)
	}
}

func TestDoctorFixRepairsUnknownState(t *testing.T) {
	g := newTestGlobals(t)
	initRepo(t, g)
	it := newTestItem(t, g, "auth/001-login", "auth", "Login", item.StateIdea)
	it.State = "not_a_real_state"
	app, err := newApp(g)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	if err := app.Store.SaveItem(it); err != nil {
		t.Fatalf("SaveItem: %v", err)
	}

	cmd := newDoctorCmd(g)
	if err := cmd.Flags().Set("fix", "true"); err != nil {
		t.Fatalf("set --fix: %v", err)
	}
	if _, err := runCmd(t, cmd, nil); err != nil {
		t.Fatalf("doctor --fix: %v", err)
	}

	fixed, err := app.Store.LoadItem("auth/001-login")
	if err != nil {
		t.Fatalf("LoadItem: %v", err)
	}
	if fixed.State != item.StateIdea {
		t.Errorf("expected state reset to %s, got %s", item.StateIdea, fixed.State)
	}
}
