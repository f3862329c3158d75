package phase

import (
	"context"
	"fmt"

	"github.com/wreckit/wreckit/internal/item"
	"github.com/wreckit/wreckit/internal/validate"
	"github.com/wreckit/wreckit/internal/wreckerr"
)

// runPR drives the mandatory critique step and the pull-request phase, both
// from Critique: the state machine has no intermediate state between "stories
// done" and "in PR", so critique.md is produced here, on first entry to
// Critique, before the branch/commit/PR work that shares its single
// EventCritiqueAccepted transition.
func (r *Runner) runPR(ctx context.Context, it *item.Item) Result {
	if it.State != item.StateCritique {
		return r.fail(it, wreckerr.Newf(wreckerr.KindPhaseValidation,
			"phase %q requires state %s, item is in state %s", "pr", item.StateCritique, it.State))
	}

	if !r.Store.ArtifactExists(it.ID, "critique.md") {
		if res := r.runCritique(ctx, it); !res.Success {
			return res
		}
	}

	if r.VCS == nil {
		return r.fail(it, wreckerr.New(wreckerr.KindConfigError, "no VCS collaborator configured"))
	}

	repoRoot := r.Store.ItemDir(it.ID)
	branch := r.branchName(it)
	baseBranch := r.baseBranch()

	if err := r.VCS.EnsureBranch(ctx, repoRoot, branch, baseBranch); err != nil {
		return r.fail(it, wreckerr.Wrap(err, wreckerr.KindBranchError, "ensure branch"))
	}

	dirty, err := r.VCS.WorkingTreeDirty(ctx, repoRoot)
	if err != nil {
		return r.fail(it, wreckerr.Wrap(err, wreckerr.KindBranchError, "check working tree"))
	}
	if dirty {
		msg := fmt.Sprintf("wreckit: %s", it.Title)
		if err := r.VCS.Commit(ctx, repoRoot, msg); err != nil {
			return r.fail(it, wreckerr.Wrap(err, wreckerr.KindPushError, "commit outstanding changes"))
		}
	}

	prNumber, err := r.VCS.CreatePR(ctx, repoRoot, branch, baseBranch, it.Title, it.Overview)
	if err != nil {
		return r.fail(it, wreckerr.Wrap(err, wreckerr.KindPrCreationError, "create pull request"))
	}

	return r.transitionWithFields(it, item.StateCritique, item.EventCritiqueAccepted, func(fresh *item.Item) {
		fresh.BranchName = branch
		fresh.PRNumber = prNumber
	})
}

// runCritique invokes the agent to produce critique.md, the mandatory
// adversarial review of the implementation. It is treated as opaque
// markdown: the only content check is that it is non-empty. As in the other
// phases, a failure here applies no fail event: the item stays in Critique,
// and the state machine has no "critique failed" event in any case.
func (r *Runner) runCritique(ctx context.Context, it *item.Item) Result {
	loaded, err := r.buildEnvelope(ctx, "critique", it)
	if err != nil {
		return r.fail(it, asWreckerr(err))
	}

	prompt, err := r.assemblePrompt("critique", it, loaded.Context)
	if err != nil {
		return r.fail(it, asWreckerr(err))
	}

	res, err := r.invoke(ctx, it, "critique", prompt, loaded)
	if err != nil {
		return r.fail(it, asWreckerr(err))
	}
	if !res.CompletionDetected {
		if res.TimedOut {
			return r.fail(it, wreckerr.Newf(wreckerr.KindTimeout, "phase %q timed out", "critique"))
		}
		return r.fail(it, wreckerr.Newf(wreckerr.KindPhaseValidation, "phase %q ended without completion signal", "critique"))
	}

	if !r.Store.ArtifactExists(it.ID, "critique.md") {
		return r.fail(it, wreckerr.Newf(wreckerr.KindArtifactNotCreated, "phase %q did not produce %s", "critique", "critique.md"))
	}
	data, err := r.Store.ReadArtifact(it.ID, "critique.md")
	if err != nil {
		return r.fail(it, asWreckerr(err))
	}
	if result := validate.Critique(data); !result.Valid {
		return r.fail(it, wreckerr.New(wreckerr.KindCritiqueQuality, "critique.md is empty"))
	}

	return Result{Success: true, Item: it}
}

// transitionWithFields is transition's general form: it applies mutate to
// the freshly reloaded item before saving, so fields that only become known
// as a side effect of the phase (branch name, PR number) land atomically
// with the state change.
func (r *Runner) transitionWithFields(it *item.Item, preState item.State, event item.Event, mutate func(*item.Item)) Result {
	lock, err := r.Store.AcquireItemLock(it.ID)
	if err != nil {
		return r.fail(it, asWreckerr(err))
	}
	defer lock.Release()

	fresh, err := r.Store.LoadItem(it.ID)
	if err != nil {
		return r.fail(it, asWreckerr(err))
	}
	if fresh.State != preState {
		return r.fail(it, wreckerr.Newf(wreckerr.KindConcurrentModification,
			"item %s changed state from %s to %s during phase execution", it.ID, preState, fresh.State))
	}

	next, err := item.Apply(fresh.State, event)
	if err != nil {
		return r.fail(it, asWreckerr(err))
	}
	fresh.State = next
	if mutate != nil {
		mutate(fresh)
	}
	if err := r.Store.SaveItem(fresh); err != nil {
		return r.fail(it, asWreckerr(err))
	}
	return Result{Success: true, Item: fresh}
}
