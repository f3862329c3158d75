package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/wreckit/wreckit/internal/agent"
	"github.com/wreckit/wreckit/internal/config"
	"github.com/wreckit/wreckit/internal/doctor"
	"github.com/wreckit/wreckit/internal/orchestrator"
	"github.com/wreckit/wreckit/internal/phase"
	"github.com/wreckit/wreckit/internal/skill"
	"github.com/wreckit/wreckit/internal/store"
	"github.com/wreckit/wreckit/internal/vcs"
)

// App is the fully-wired set of collaborators a command needs, assembled
// once per invocation from the resolved Globals and config.json.
type App struct {
	Globals      *Globals
	Config       *config.Config
	Logger       *zap.Logger
	Store        *store.Store
	Skills       *skill.Engine
	Phases       *phase.Runner
	Orchestrator *orchestrator.Orchestrator
	Doctor       *doctor.Doctor
}

// newLogger builds the ambient zap logger for g: --quiet raises the level
// to error, --verbose lowers it to debug, otherwise info.
func newLogger(g *Globals) (*zap.Logger, error) {
	level := zap.InfoLevel
	switch {
	case g.Quiet:
		level = zap.ErrorLevel
	case g.Verbose:
		level = zap.DebugLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = ""
	return cfg.Build()
}

// newApp resolves configuration, constructs the store, and wires every
// collaborator a command might need. Commands that don't need the agent
// backend or VCS (e.g. status, ideas) still get them, since construction
// itself has no side effects beyond reading config.json.
func newApp(g *Globals) (*App, error) {
	logger, err := newLogger(g)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	cfg, err := config.Load(g.Cwd, nil)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	storeRoot := cfg.StoreRoot
	if !filepath.IsAbs(storeRoot) {
		storeRoot = filepath.Join(g.Cwd, storeRoot)
	}
	st := store.New(storeRoot, store.DefaultLockTimeout)

	skills := skill.New(st, g.Cwd, cfg.Skills)

	backend, err := agent.New(cfg.Agent)
	if err != nil {
		return nil, fmt.Errorf("construct agent backend: %w", err)
	}

	promptsDir := filepath.Join(storeRoot, "prompts")
	phases := phase.New(st, skills, cfg, backend, logger, promptsDir, vcs.NewDriver())
	phases.DryRun = g.DryRun

	orch := orchestrator.New(st, phases, logger)
	doc := doctor.New(st, vcs.NewDoctorDriver(g.Cwd))
	doc.BranchPrefix = cfg.BranchPrefix

	return &App{
		Globals:      g,
		Config:       cfg,
		Logger:       logger,
		Store:        st,
		Skills:       skills,
		Phases:       phases,
		Orchestrator: orch,
		Doctor:       doc,
	}, nil
}

// resolveCwd applies the --cwd override, defaulting to the process's actual
// working directory.
func resolveCwd(cwd string) (string, error) {
	if cwd != "" {
		abs, err := filepath.Abs(cwd)
		if err != nil {
			return "", fmt.Errorf("resolve --cwd: %w", err)
		}
		return abs, nil
	}
	return os.Getwd()
}
