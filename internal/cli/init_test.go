package cli

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInitCreatesStoreConfigAndPrompts(t *testing.T) {
	g := newTestGlobals(t)
	initRepo(t, g)

	if _, err := os.Stat(filepath.Join(g.Cwd, ".store")); err != nil {
		t.Errorf("expected .store to exist: %v", err)
	}

	app, err := newApp(g)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	if _, err := os.Stat(app.Store.ConfigPath()); err != nil {
		t.Errorf("expected config.json to exist: %v", err)
	}

	for name := range defaultPrompts {
		path := filepath.Join(app.Store.Root, "prompts", name)
		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected prompt template %s to exist: %v", name, err)
		}
	}
}

func TestInitIsIdempotentAndPreservesEditedPrompts(t *testing.T) {
	g := newTestGlobals(t)
	initRepo(t, g)

	app, err := newApp(g)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	researchPath := filepath.Join(app.Store.Root, "prompts", "research.md")
	if err := os.WriteFile(researchPath, []byte("custom research prompt"), 0o644); err != nil {
		t.Fatalf("edit prompt: %v", err)
	}

	initRepo(t, g)

	data, err := os.ReadFile(researchPath)
	if err != nil {
		t.Fatalf("read prompt: %v", err)
	}
	if string(data) != "custom research prompt" {
		t.Errorf("expected edited prompt to survive re-init, got %q", string(data))
	}
}

func TestInitDryRunMakesNoChanges(t *testing.T) {
	g := newTestGlobals(t)
	g.DryRun = true

	cmd := newInitCmd(g)
	if _, err := runCmd(t, cmd, nil); err != nil {
		t.Fatalf("init --dry-run: %v", err)
	}

	if _, err := os.Stat(filepath.Join(g.Cwd, ".store")); !os.IsNotExist(err) {
		t.Errorf("expected no .store to be created under --dry-run, stat err = %v", err)
	}
}
