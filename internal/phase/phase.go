// Package phase implements the phase runner: the engine that executes
// exactly one phase for one item, from prompt assembly through state
// update. It is the orchestrator's innermost loop.
package phase

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wreckit/wreckit/internal/agent"
	"github.com/wreckit/wreckit/internal/config"
	"github.com/wreckit/wreckit/internal/item"
	"github.com/wreckit/wreckit/internal/skill"
	"github.com/wreckit/wreckit/internal/store"
	"github.com/wreckit/wreckit/internal/validate"
	"github.com/wreckit/wreckit/internal/wreckerr"
)

// VCS is the abstract git/VCS collaborator the PR phase delegates to. Only
// this contract is specified; the driver implementation is an external
// concern.
type VCS interface {
	EnsureBranch(ctx context.Context, repoRoot, branch, baseBranch string) error
	WorkingTreeDirty(ctx context.Context, dir string) (bool, error)
	Commit(ctx context.Context, repoRoot, message string) error
	CreatePR(ctx context.Context, repoRoot, branch, baseBranch, title, body string) (prNumber int, err error)
}

// Result is the outcome of running one phase.
type Result struct {
	Success bool
	Item    *item.Item
	Error   *wreckerr.Error
}

// spec describes one non-implement phase's contract: the state it requires,
// the event applied on success, the artifacts it must produce, and the
// validator used to content-check them. failEvent names the table's
// failure move; Run does not apply it, so a failed phase leaves the item in
// the state its begin event produced.
type spec struct {
	requiredState item.State
	beginEvent    item.Event
	successEvent  item.Event
	failEvent     item.Event
	artifacts     []string
	validate      func(st *store.Store, it *item.Item) ([]string, error)
}

var specs = map[string]spec{
	"research": {
		requiredState: item.StateIdea,
		beginEvent:    item.EventBeginResearch,
		successEvent:  item.EventResearchAccepted,
		failEvent:     item.EventPhaseFailed,
		artifacts:     []string{"research.md"},
		validate:      validateResearch,
	},
	"plan": {
		requiredState: item.StateResearched,
		beginEvent:    item.EventBeginPlan,
		successEvent:  item.EventPlanAccepted,
		failEvent:     item.EventPhaseFailed,
		artifacts:     []string{"plan.md", "prd.json"},
		validate:      validatePlanAndPRD,
	},
}

func validateResearch(st *store.Store, it *item.Item) ([]string, error) {
	data, err := st.ReadArtifact(it.ID, "research.md")
	if err != nil {
		return nil, err
	}
	res := validate.Research(data)
	return res.Defects, nil
}

func validatePlanAndPRD(st *store.Store, it *item.Item) ([]string, error) {
	planData, err := st.ReadArtifact(it.ID, "plan.md")
	if err != nil {
		return nil, err
	}
	prdData, err := st.ReadArtifact(it.ID, "prd.json")
	if err != nil {
		return nil, err
	}
	var defects []string
	if res := validate.Plan(planData); !res.Valid {
		defects = append(defects, res.Defects...)
	}
	if res := validate.PRD(prdData); !res.Valid {
		defects = append(defects, res.Defects...)
	}
	return defects, nil
}

// Runner executes phases for items against a repository store.
type Runner struct {
	Store      *store.Store
	Skills     *skill.Engine
	Config     *config.Config
	Backend    agent.Backend
	Logger     *zap.Logger
	PromptsDir string
	VCS        VCS

	// DryRun, when set, makes Run log the phase and return success at once,
	// without invoking the agent or changing the item's state.
	DryRun bool
}

// New constructs a Runner.
func New(st *store.Store, skills *skill.Engine, cfg *config.Config, backend agent.Backend, logger *zap.Logger, promptsDir string, vcs VCS) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{Store: st, Skills: skills, Config: cfg, Backend: backend, Logger: logger, PromptsDir: promptsDir, VCS: vcs}
}

// Run executes exactly one named phase for it, driving it through the nine
// steps of §4.3: preconditions, skill resolution, permission computation,
// JIT context build, prompt assembly, agent invocation, completion
// detection, artifact validation, state transition.
func (r *Runner) Run(ctx context.Context, it *item.Item, phaseName string) Result {
	if r.DryRun {
		r.Logger.Info("dry-run: skipping agent invocation and state transition",
			zap.String("item", it.ID), zap.String("phase", phaseName))
		return Result{Success: true, Item: it}
	}

	if phaseName == "implement" {
		return r.runImplement(ctx, it)
	}
	if phaseName == "pr" {
		return r.runPR(ctx, it)
	}

	sp, ok := specs[phaseName]
	if !ok {
		return r.fail(it, wreckerr.Newf(wreckerr.KindPhaseValidation, "unknown phase %q", phaseName))
	}

	// 1. Preconditions.
	if it.State != sp.requiredState {
		return r.fail(it, wreckerr.Newf(wreckerr.KindPhaseValidation,
			"phase %q requires state %s, item is in state %s", phaseName, sp.requiredState, it.State))
	}

	inProgress, err := r.beginPhase(ctx, it, sp.beginEvent)
	if err != nil {
		return r.fail(it, asWreckerr(err))
	}

	loaded, genErr := r.buildEnvelope(ctx, phaseName, it)
	if genErr != nil {
		return r.fail(it, asWreckerr(genErr))
	}

	prompt, err := r.assemblePrompt(phaseName, it, loaded.Context)
	if err != nil {
		return r.fail(it, asWreckerr(err))
	}

	res, err := r.invoke(ctx, it, phaseName, prompt, loaded)
	if err != nil {
		return r.fail(it, asWreckerr(err))
	}
	if !res.CompletionDetected {
		if res.TimedOut {
			return r.fail(it, wreckerr.Newf(wreckerr.KindTimeout, "phase %q timed out", phaseName))
		}
		return r.fail(it, wreckerr.Newf(wreckerr.KindPhaseValidation, "phase %q ended without completion signal", phaseName))
	}

	for _, a := range sp.artifacts {
		if !r.Store.ArtifactExists(it.ID, a) {
			return r.fail(it, wreckerr.Newf(wreckerr.KindArtifactNotCreated, "phase %q did not produce %s", phaseName, a))
		}
	}
	defects, err := sp.validate(r.Store, it)
	if err != nil {
		return r.fail(it, asWreckerr(err))
	}
	if len(defects) > 0 {
		return r.fail(it, qualityError(phaseName, defects))
	}

	return r.transition(it, inProgress, sp.successEvent)
}

// beginPhase records that phase execution has started by applying the
// phase's begin event and persisting the resulting state before the agent
// is invoked, so a crash mid-phase leaves the item observably in progress
// rather than silently stuck in its precondition state. Entering
// implementing additionally creates the item's branch: invariant 5 requires
// a branch to exist in git iff the item's state is at or past implementing,
// so the branch must come into being on this transition, not on first PR.
func (r *Runner) beginPhase(ctx context.Context, it *item.Item, beginEvent item.Event) (item.State, error) {
	lock, err := r.Store.AcquireItemLock(it.ID)
	if err != nil {
		return "", err
	}
	defer lock.Release()

	next, err := item.Apply(it.State, beginEvent)
	if err != nil {
		return "", err
	}

	if beginEvent == item.EventBeginImplement {
		if r.VCS == nil {
			return "", wreckerr.New(wreckerr.KindConfigError, "no VCS collaborator configured")
		}
		branch := r.branchName(it)
		if err := r.VCS.EnsureBranch(ctx, r.Store.ItemDir(it.ID), branch, r.baseBranch()); err != nil {
			return "", wreckerr.Wrap(err, wreckerr.KindBranchError, "ensure branch")
		}
		it.BranchName = branch
		it.RunID = uuid.NewString()
		it.BackendKind = string(r.Config.Agent.Kind)
	}

	it.State = next
	if err := r.Store.SaveItem(it); err != nil {
		return "", err
	}
	return next, nil
}

// branchName resolves the branch the item runs on, assigning the
// configured prefix the first time it's needed.
func (r *Runner) branchName(it *item.Item) string {
	if it.BranchName != "" {
		return it.BranchName
	}
	return r.Config.BranchPrefix + it.ID
}

// baseBranch resolves the branch PRs target, defaulting to main when the
// config leaves it unset.
func (r *Runner) baseBranch() string {
	if r.Config.BaseBranch != "" {
		return r.Config.BaseBranch
	}
	return "main"
}

// qualityError maps a phase's artifact kind to its typed quality error kind.
func qualityError(phaseName string, defects []string) *wreckerr.Error {
	kind := wreckerr.KindResearchQuality
	if phaseName == "plan" {
		kind = wreckerr.KindPlanQuality
	}
	return wreckerr.New(kind, fmt.Sprintf("%d defect(s) found", len(defects))).WithDetails(joinDefects(defects))
}

func joinDefects(defects []string) string {
	out := ""
	for i, d := range defects {
		if i > 0 {
			out += "; "
		}
		out += d
	}
	return out
}

// buildEnvelope runs steps 2-4: skill resolution, permission computation,
// and JIT context build.
func (r *Runner) buildEnvelope(ctx context.Context, phaseName string, it *item.Item) (skill.Loaded, error) {
	var skillIDs []string
	if r.Config.PhaseSkills != nil {
		skillIDs = r.Config.PhaseSkills[phaseName]
	}
	loaded, err := r.Skills.LoadForPhase(ctx, phaseName, skillIDs, it)
	if err != nil {
		return skill.Loaded{}, err
	}
	for _, w := range loaded.Errors {
		r.Logger.Warn("skill resolution warning", zap.String("item", it.ID), zap.String("phase", phaseName), zap.String("detail", w))
	}
	return loaded, nil
}

// assemblePrompt implements step 5: load the phase's prompt template and
// substitute the variables enumerated in §6. Missing variables substitute
// to empty string (missingkey=zero over a map of strings); malformed
// template syntax fails fast with ConfigError.
func (r *Runner) assemblePrompt(phaseName string, it *item.Item, skillContext string) (string, error) {
	return r.assemblePromptFromVars(phaseName, r.templateVars(it, skillContext))
}

// assemblePromptFromVars loads phaseName's template and executes it against
// an already-built variable set, letting callers (such as the story loop)
// extend the base variables before rendering.
func (r *Runner) assemblePromptFromVars(phaseName string, vars map[string]string) (string, error) {
	tmplPath := filepath.Join(r.PromptsDir, phaseName+".md")
	tmplBytes, err := os.ReadFile(tmplPath)
	if err != nil {
		return "", wreckerr.Wrap(err, wreckerr.KindFileNotFound, "read prompt template").WithDetailsf("phase=%s", phaseName)
	}

	tmpl, err := template.New(phaseName).Option("missingkey=zero").Parse(string(tmplBytes))
	if err != nil {
		return "", wreckerr.Wrap(err, wreckerr.KindConfigError, "malformed prompt template").WithDetailsf("phase=%s", phaseName)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", wreckerr.Wrap(err, wreckerr.KindConfigError, "execute prompt template").WithDetailsf("phase=%s", phaseName)
	}
	return buf.String(), nil
}

func (r *Runner) templateVars(it *item.Item, skillContext string) map[string]string {
	research, _ := r.readArtifactOrEmpty(it.ID, "research.md")
	plan, _ := r.readArtifactOrEmpty(it.ID, "plan.md")
	prd, _ := r.readArtifactOrEmpty(it.ID, "prd.json")
	progress, _ := r.readArtifactOrEmpty(it.ID, "progress.log")

	return map[string]string{
		"id":                it.ID,
		"title":             it.Title,
		"section":           it.Section,
		"overview":          it.Overview,
		"item_path":         r.Store.ItemDir(it.ID),
		"branch_name":       it.BranchName,
		"base_branch":       r.Config.BaseBranch,
		"completion_signal": defaultCompletionSignal,
		"research":          research,
		"plan":              plan,
		"prd":               prd,
		"progress":          progress,
		"skill_context":     skillContext,
	}
}

func (r *Runner) readArtifactOrEmpty(id, name string) (string, error) {
	data, err := r.Store.ReadArtifact(id, name)
	if err != nil {
		return "", nil
	}
	return string(data), nil
}

// defaultCompletionSignal is the string token an agent emits to mark the end
// of its run; every phase uses it.
const defaultCompletionSignal = "WRECKIT_PHASE_COMPLETE"

// invoke implements step 6 (agent dispatch) and appends the agent's
// AssistantText output to progress.log as it arrives.
func (r *Runner) invoke(ctx context.Context, it *item.Item, phaseName, prompt string, loaded skill.Loaded) (agent.Result, error) {
	timeout := time.Duration(r.Config.TimeoutSecs) * time.Second

	sink := agent.SamplingSink(func(e agent.Event) {
		if e.Kind == agent.EventAssistantText && e.Text != "" {
			_ = r.Store.AppendProgress(it.ID, e.Text)
		}
	}, 1)

	opts := agent.Options{
		Cwd:              r.Store.ItemDir(it.ID),
		Prompt:           prompt,
		AllowedTools:     loaded.Tools,
		MCPEndpoints:     loaded.MCPServers,
		Timeout:          timeout,
		EventSink:        sink,
		CompletionSignal: defaultCompletionSignal,
	}

	return r.Backend.Run(ctx, r.Config.Agent, opts)
}

// transition implements step 9: on success, atomically advance the item's
// state, touch updated_at, and update the index (folded into SaveItem).
func (r *Runner) transition(it *item.Item, preState item.State, event item.Event) Result {
	return r.transitionWithFields(it, preState, event, nil)
}

func (r *Runner) fail(it *item.Item, err *wreckerr.Error) Result {
	return Result{Success: false, Item: it, Error: err}
}

func asWreckerr(err error) *wreckerr.Error {
	if e, ok := err.(*wreckerr.Error); ok {
		return e
	}
	if kind, ok := wreckerr.KindOf(err); ok {
		return wreckerr.Wrap(err, kind, err.Error())
	}
	return wreckerr.Wrap(err, wreckerr.KindPhaseValidation, err.Error())
}
