package validate

import (
	"encoding/json"

	"github.com/wreckit/wreckit/internal/item"
)

// prdDocument mirrors prd.json's shape: {"stories": [...]}.
type prdDocument struct {
	Stories []item.Story `json:"stories"`
}

var legalStoryStatuses = map[item.StoryStatus]bool{
	item.StoryPending:    true,
	item.StoryInProgress: true,
	item.StoryDone:       true,
}

// PRD checks prd.json's shape, story id uniqueness, non-empty
// acceptance_criteria per story, and legal status values.
func PRD(content []byte) Result {
	var doc prdDocument
	if err := json.Unmarshal(content, &doc); err != nil {
		return fail("prd.json is not valid JSON: " + err.Error())
	}

	var defects []string
	if len(doc.Stories) == 0 {
		defects = append(defects, "prd.json has no stories")
	}

	seen := map[string]bool{}
	for _, s := range doc.Stories {
		if s.ID == "" {
			defects = append(defects, "story has empty id")
			continue
		}
		if seen[s.ID] {
			defects = append(defects, "duplicate story id: "+s.ID)
		}
		seen[s.ID] = true

		if len(s.AcceptanceCriteria) == 0 {
			defects = append(defects, "story "+s.ID+" has no acceptance_criteria")
		}
		if !legalStoryStatuses[s.Status] {
			defects = append(defects, "story "+s.ID+" has illegal status: "+string(s.Status))
		}
	}

	if len(defects) > 0 {
		return fail(defects...)
	}
	return ok()
}

// Story validates a single just-completed story during the implement phase.
func Story(s item.Story) Result {
	var defects []string
	if s.ID == "" {
		defects = append(defects, "story has empty id")
	}
	if len(s.AcceptanceCriteria) == 0 {
		defects = append(defects, "story "+s.ID+" has no acceptance_criteria")
	}
	if !legalStoryStatuses[s.Status] {
		defects = append(defects, "story "+s.ID+" has illegal status: "+string(s.Status))
	}
	if len(defects) > 0 {
		return fail(defects...)
	}
	return ok()
}
