package phase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wreckit/wreckit/internal/item"
	"github.com/wreckit/wreckit/internal/wreckerr"
)

// maxStoryRetries bounds per-story retry attempts; once they are used up the
// phase fails and the item stays in implementing instead of looping forever
// on one story.
const maxStoryRetries = 3

// runImplement drives the implement phase's story loop (§4.3): pick the
// story left in_progress by an earlier run, or else the next pending one,
// run one agent invocation scoped to it, require its completion signal, and
// repeat until every story is done or the iteration cap is hit.
func (r *Runner) runImplement(ctx context.Context, it *item.Item) Result {
	if it.State != item.StatePlanned && it.State != item.StateImplementing {
		return r.fail(it, wreckerr.Newf(wreckerr.KindPhaseValidation,
			"phase %q requires state %s or %s, item is in state %s", "implement", item.StatePlanned, item.StateImplementing, it.State))
	}

	if it.State == item.StatePlanned {
		next, err := r.beginPhase(ctx, it, item.EventBeginImplement)
		if err != nil {
			return r.fail(it, asWreckerr(err))
		}
		it.State = next
	}

	stories, err := r.loadStories(it.ID)
	if err != nil {
		return r.fail(it, asWreckerr(err))
	}

	maxIterations := r.Config.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 100
	}

	for iteration := 0; iteration < maxIterations; iteration++ {
		if item.AllStoriesDone(stories) {
			return r.finishStories(it)
		}

		// A story left in_progress by an earlier failed or interrupted run
		// is retried before any pending story is started.
		story := it.InProgressStory(stories)
		if story == nil {
			story = item.NextPendingStory(stories)
		}
		if story == nil {
			// Nothing pending or in_progress but not all done: some story
			// carries a status outside the enum. The runner reports it
			// rather than spinning.
			return r.fail(it, wreckerr.Newf(wreckerr.KindStoryQuality, "no pending story but item has unfinished stories"))
		}

		res := r.runStory(ctx, it, story)
		if !res.Success {
			return res
		}

		stories, err = r.loadStories(it.ID)
		if err != nil {
			return r.fail(it, asWreckerr(err))
		}
	}

	return r.fail(it, wreckerr.Newf(wreckerr.KindStoryQuality, "implement phase exceeded %d iterations without finishing all stories", maxIterations))
}

// runStory executes one story: marks it in_progress, invokes the agent with
// a story-scoped prompt, checks the result, marks it done, and commits the
// result via the git collaborator (§4.3) before returning. A run that ends
// without the completion signal is retried up to maxStoryRetries times
// before the story (and the phase) fails; a timeout or any other error fails
// at once.
func (r *Runner) runStory(ctx context.Context, it *item.Item, story *item.Story) Result {
	if r.VCS == nil {
		return r.fail(it, wreckerr.New(wreckerr.KindConfigError, "no VCS collaborator configured"))
	}
	for attempt := 0; attempt <= maxStoryRetries; attempt++ {
		if err := r.markStoryInProgress(it, story.ID); err != nil {
			return r.fail(it, asWreckerr(err))
		}

		loaded, err := r.buildEnvelope(ctx, "implement", it)
		if err != nil {
			return r.fail(it, asWreckerr(err))
		}
		prompt, err := r.assembleStoryPrompt(it, story, loaded.Context)
		if err != nil {
			return r.fail(it, asWreckerr(err))
		}

		res, err := r.invoke(ctx, it, "implement", prompt, loaded)
		if err != nil {
			return r.fail(it, asWreckerr(err))
		}
		if !res.CompletionDetected {
			if res.TimedOut {
				return r.fail(it, wreckerr.Newf(wreckerr.KindTimeout, "story %s timed out", story.ID))
			}
			if attempt < maxStoryRetries {
				continue
			}
			return r.fail(it, wreckerr.Newf(wreckerr.KindStoryQuality, "story %s ended without completion signal after %d attempts", story.ID, attempt+1))
		}

		if err := r.markStoryDone(it, story.ID); err != nil {
			return r.fail(it, asWreckerr(err))
		}

		msg := fmt.Sprintf("wreckit: %s: %s", story.ID, story.Title)
		if err := r.VCS.Commit(ctx, r.Store.ItemDir(it.ID), msg); err != nil {
			return r.fail(it, wreckerr.Wrap(err, wreckerr.KindPushError, "commit story"))
		}
		return Result{Success: true, Item: it}
	}
	return r.fail(it, wreckerr.Newf(wreckerr.KindStoryQuality, "story %s exhausted retries", story.ID))
}

func (r *Runner) assembleStoryPrompt(it *item.Item, story *item.Story, skillContext string) (string, error) {
	vars := r.templateVars(it, skillContext)
	vars["story_id"] = story.ID
	vars["story_title"] = story.Title
	vars["story_acceptance_criteria"] = joinDefects(story.AcceptanceCriteria)
	return r.assemblePromptFromVars("implement", vars)
}

func (r *Runner) loadStories(id string) ([]item.Story, error) {
	data, err := r.Store.ReadArtifact(id, "prd.json")
	if err != nil {
		return nil, err
	}
	var doc struct {
		Stories []item.Story `json:"stories"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, wreckerr.Wrap(err, wreckerr.KindInvalidJSON, "parse prd.json")
	}
	return doc.Stories, nil
}

func (r *Runner) saveStories(id string, stories []item.Story) error {
	data, err := json.MarshalIndent(struct {
		Stories []item.Story `json:"stories"`
	}{Stories: stories}, "", "  ")
	if err != nil {
		return wreckerr.Wrap(err, wreckerr.KindInvalidJSON, "marshal prd.json")
	}
	return r.Store.WriteArtifact(id, "prd.json", data)
}

func (r *Runner) markStoryInProgress(it *item.Item, storyID string) error {
	return r.updateStory(it.ID, storyID, item.StoryInProgress)
}

func (r *Runner) markStoryDone(it *item.Item, storyID string) error {
	return r.updateStory(it.ID, storyID, item.StoryDone)
}

func (r *Runner) updateStory(id, storyID string, status item.StoryStatus) error {
	lock, err := r.Store.AcquireItemLock(id)
	if err != nil {
		return err
	}
	defer lock.Release()

	stories, err := r.loadStories(id)
	if err != nil {
		return err
	}
	found := false
	for i := range stories {
		if stories[i].ID == storyID {
			stories[i].Status = status
			found = true
			break
		}
	}
	if !found {
		return wreckerr.Newf(wreckerr.KindStoryQuality, "story %s not found in prd.json", storyID)
	}
	return r.saveStories(id, stories)
}

// finishStories applies the implement phase's terminal transition once every
// story is done.
func (r *Runner) finishStories(it *item.Item) Result {
	return r.transition(it, it.State, item.EventStoriesDone)
}
