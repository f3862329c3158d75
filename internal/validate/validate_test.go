package validate

import (
	"strings"
	"testing"

	"github.com/wreckit/wreckit/internal/item"
)

func validResearchMarkdown() string {
	return `# Summary

This change adds dark mode support across the web client.

# Current State Analysis

The client currently has one hardcoded theme defined in styles.css.

# Key Files

- ` + "`internal/web/styles.css`" + ` contains the theme constants.

# Technical Considerations

Theme switching needs to persist per-user.

# Risks and Mitigations

Risk: inconsistent contrast. Mitigation: run an accessibility pass.

# Recommended Approach

Introduce a theme provider and a CSS variable set per theme.

# Open Questions

Should the theme follow OS preference by default?
`
}

func TestResearch_ValidDocumentPasses(t *testing.T) {
	res := Research([]byte(validResearchMarkdown()))
	if !res.Valid {
		t.Errorf("expected valid, got defects: %v", res.Defects)
	}
}

func TestResearch_MissingSummarySection(t *testing.T) {
	// Scenario 4: mock agent writes research.md missing "Summary".
	doc := strings.Replace(validResearchMarkdown(), "# Summary\n\nThis change adds dark mode support across the web client.\n\n", "", 1)
	res := Research([]byte(doc))
	if res.Valid {
		t.Fatal("expected invalid document")
	}
	found := false
	for _, d := range res.Defects {
		if strings.Contains(d, "Summary") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a defect mentioning Summary, got %v", res.Defects)
	}
}

func TestResearch_KeyFilesWithoutCitationFails(t *testing.T) {
	doc := strings.Replace(validResearchMarkdown(),
		"- `internal/web/styles.css` contains the theme constants.",
		"Some files need to change but none are named here.", 1)
	res := Research([]byte(doc))
	if res.Valid {
		t.Fatal("expected invalid document due to missing file citation")
	}
}

func validPlanMarkdown() string {
	return `# Overview

Add dark mode.

# Current State

Single theme.

# Desired End State

Two themes, user-selectable.

# What We're NOT Doing

Not building a full theme marketplace.

# Implementation Approach

Add a theme context and CSS variables.

## Phase 1: Theme Infrastructure

Introduce the provider.

### Success Criteria

- Theme toggle renders without errors.

## Phase 2: Styling

Apply variables across components.

### Success Criteria

- All components pass contrast checks.
`
}

func TestPlan_ValidDocumentPasses(t *testing.T) {
	res := Plan([]byte(validPlanMarkdown()))
	if !res.Valid {
		t.Errorf("expected valid, got defects: %v", res.Defects)
	}
}

func TestPlan_MissingPhaseSection(t *testing.T) {
	doc := strings.Replace(validPlanMarkdown(), "## Phase 1: Theme Infrastructure", "## Infrastructure Work", 1)
	doc = strings.Replace(doc, "## Phase 2: Styling", "## Styling Work", 1)
	res := Plan([]byte(doc))
	if res.Valid {
		t.Fatal("expected invalid document: no Phase N heading present")
	}
}

func TestPlan_PhaseWithoutSuccessCriteria(t *testing.T) {
	doc := strings.Replace(validPlanMarkdown(), "### Success Criteria\n\n- Theme toggle renders without errors.\n\n", "", 1)
	res := Plan([]byte(doc))
	if res.Valid {
		t.Fatal("expected invalid document: phase 1 missing Success Criteria")
	}
}

func TestPRD_ValidDocumentPasses(t *testing.T) {
	res := PRD([]byte(`{"stories":[
		{"id":"US-001","title":"Add toggle","acceptance_criteria":["toggle exists"],"status":"pending"},
		{"id":"US-002","title":"Persist choice","acceptance_criteria":["choice persists"],"status":"pending"}
	]}`))
	if !res.Valid {
		t.Errorf("expected valid, got defects: %v", res.Defects)
	}
}

func TestPRD_DuplicateStoryID(t *testing.T) {
	res := PRD([]byte(`{"stories":[
		{"id":"US-001","title":"a","acceptance_criteria":["x"],"status":"pending"},
		{"id":"US-001","title":"b","acceptance_criteria":["y"],"status":"pending"}
	]}`))
	if res.Valid {
		t.Fatal("expected invalid document: duplicate story id")
	}
}

func TestPRD_EmptyAcceptanceCriteria(t *testing.T) {
	res := PRD([]byte(`{"stories":[{"id":"US-001","title":"a","acceptance_criteria":[],"status":"pending"}]}`))
	if res.Valid {
		t.Fatal("expected invalid document: empty acceptance_criteria")
	}
}

func TestPRD_IllegalStatus(t *testing.T) {
	res := PRD([]byte(`{"stories":[{"id":"US-001","title":"a","acceptance_criteria":["x"],"status":"bogus"}]}`))
	if res.Valid {
		t.Fatal("expected invalid document: illegal status")
	}
}

func TestPRD_MalformedJSON(t *testing.T) {
	res := PRD([]byte(`{not json`))
	if res.Valid {
		t.Fatal("expected invalid document: malformed JSON")
	}
}

func TestStory_Valid(t *testing.T) {
	s := item.Story{ID: "US-001", AcceptanceCriteria: []string{"works"}, Status: item.StoryDone}
	if res := Story(s); !res.Valid {
		t.Errorf("expected valid, got %v", res.Defects)
	}
}

func TestStory_MissingAcceptanceCriteria(t *testing.T) {
	s := item.Story{ID: "US-001", Status: item.StoryDone}
	if res := Story(s); res.Valid {
		t.Error("expected invalid story with no acceptance criteria")
	}
}
