// Package skill resolves the configured skills for a phase into an
// effective tool allowlist, merged MCP endpoint set, and just-in-time
// context, enforcing the narrow-only security boundary between a phase's
// static tool allowlist and whatever a skill additionally requests.
package skill

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/wreckit/wreckit/internal/config"
	"github.com/wreckit/wreckit/internal/item"
	"github.com/wreckit/wreckit/internal/store"
	"github.com/wreckit/wreckit/internal/wreckerr"
)

// Loaded is the result of resolving a phase's configured skills.
type Loaded struct {
	Tools      []string
	MCPServers map[string]config.MCP
	Context    string
	LoadedIDs  []string
	Errors     []string
}

// PhaseAllowlists is the static tool allowlist per phase name, independent
// of configuration: this is the ceiling skills can only narrow, never raise.
var PhaseAllowlists = map[string][]string{
	"research":  {"Read", "Grep", "Glob", "WebFetch"},
	"plan":      {"Read", "Grep", "Glob"},
	"implement": {"Read", "Write", "Edit", "Bash", "Grep", "Glob"},
	"pr":        {"Read", "Bash"},
}

// Engine resolves skills against a repository store and a set of named skill
// definitions.
type Engine struct {
	Store  *store.Store
	Root   string // repository root, for resolving file-relative context paths
	Skills map[string]config.SkillDef
}

// New constructs an Engine.
func New(st *store.Store, repoRoot string, skills map[string]config.SkillDef) *Engine {
	return &Engine{Store: st, Root: repoRoot, Skills: skills}
}

// LoadForPhase resolves the skills configured for phase (via phaseSkillIDs)
// into the phase's effective permission envelope.
func (e *Engine) LoadForPhase(ctx context.Context, phase string, phaseSkillIDs []string, it *item.Item) (Loaded, error) {
	allow := PhaseAllowlists[phase]

	result := Loaded{
		Tools:      append([]string(nil), allow...),
		MCPServers: map[string]config.MCP{},
	}

	if len(phaseSkillIDs) == 0 {
		sort.Strings(result.Tools)
		return result, nil
	}

	requested := map[string]bool{}
	var resolved []config.SkillDef
	for _, id := range phaseSkillIDs {
		def, found := e.Skills[id]
		if !found {
			result.Errors = append(result.Errors, fmt.Sprintf("unknown skill id %q skipped", id))
			continue
		}
		resolved = append(resolved, def)
		result.LoadedIDs = append(result.LoadedIDs, id)
		for _, t := range def.Tools {
			requested[t] = true
		}
	}

	// The security boundary: the effective set is the intersection of the
	// phase's static allowlist and the union of all resolved skills' tool
	// sets. Skills can only narrow the phase allowlist, never widen it.
	allowSet := map[string]bool{}
	for _, t := range allow {
		allowSet[t] = true
	}
	var effective []string
	for _, t := range allow {
		if requested[t] {
			effective = append(effective, t)
		}
	}
	for t := range requested {
		if !allowSet[t] {
			result.Errors = append(result.Errors, fmt.Sprintf("skill requested tool %q outside phase allowlist; ignored", t))
		}
	}
	sort.Strings(effective)
	result.Tools = effective

	if err := mergeMCPServers(&result, resolved); err != nil {
		return result, err
	}

	ctxStr, ctxErrs := e.buildContext(ctx, resolved, it)
	result.Context = ctxStr
	result.Errors = append(result.Errors, ctxErrs...)

	return result, nil
}

// mergeMCPServers unions MCP endpoints by name; a name collision with a
// differing definition is a ConfigError, per §4.4.
func mergeMCPServers(result *Loaded, resolved []config.SkillDef) error {
	for _, def := range resolved {
		for name, srv := range def.MCPServers {
			if existing, found := result.MCPServers[name]; found {
				if existing != srv {
					return wreckerr.Newf(wreckerr.KindConfigError,
						"mcp server %q has conflicting definitions across resolved skills", name).
						WithDetailsf("existing=%+v new=%+v", existing, srv)
				}
				continue
			}
			result.MCPServers[name] = srv
		}
	}
	return nil
}

// buildContext loads every required_context entry across the resolved
// skills and assembles them into a single labelled string prepended to the
// agent prompt. A context load failure is recorded as an error but never
// stops execution.
func (e *Engine) buildContext(ctx context.Context, resolved []config.SkillDef, it *item.Item) (string, []string) {
	var sections []string
	var errs []string

	for _, def := range resolved {
		for _, req := range def.RequiredContext {
			label, body, err := e.loadContext(ctx, req, it)
			if err != nil {
				errs = append(errs, err.Error())
				continue
			}
			sections = append(sections, fmt.Sprintf("--- %s ---\n%s", label, body))
		}
	}

	return strings.Join(sections, "\n\n"), errs
}

func (e *Engine) loadContext(ctx context.Context, req config.ContextRequest, it *item.Item) (label, body string, err error) {
	switch req.Kind {
	case config.ContextFile:
		data, readErr := os.ReadFile(filepath.Join(e.Root, req.Path))
		if readErr != nil {
			return "", "", wreckerr.Wrap(readErr, wreckerr.KindFileNotFound, "load file context").WithDetailsf("path=%s", req.Path)
		}
		return "file:" + req.Path, string(data), nil

	case config.ContextGitState:
		status, gitErr := gitStatusPorcelain(ctx, e.Root)
		if gitErr != nil {
			return "", "", wreckerr.Wrap(gitErr, wreckerr.KindFileNotFound, "load git status context")
		}
		return "git_status", status, nil

	case config.ContextItem:
		data, jsonErr := json.MarshalIndent(it, "", "  ")
		if jsonErr != nil {
			return "", "", wreckerr.Wrap(jsonErr, wreckerr.KindInvalidJSON, "serialize item metadata context")
		}
		return "item_metadata", string(data), nil

	case config.ContextArtifact:
		data, artErr := e.Store.ReadArtifact(it.ID, req.Path)
		if artErr != nil {
			return "", "", wreckerr.Wrap(artErr, wreckerr.KindFileNotFound, "load phase artifact context").WithDetailsf("artifact=%s", req.Path)
		}
		return "artifact:" + req.Path, string(data), nil

	default:
		return "", "", wreckerr.Newf(wreckerr.KindConfigError, "unknown required_context kind %q", req.Kind)
	}
}

// gitStatusPorcelain captures `git status --porcelain` as a textual
// snapshot formatted "<status> <path>" per line.
func gitStatusPorcelain(ctx context.Context, repoRoot string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(cctx, "git", "status", "--porcelain")
	cmd.Dir = repoRoot
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git status --porcelain: %w: %s", err, out.String())
	}
	return out.String(), nil
}
