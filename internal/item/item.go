// Package item defines the Item and Story entities and the item state
// machine: the fixed set of states a unit of work moves through and the
// transition table that governs which moves are legal.
package item

import (
	"time"

	"github.com/wreckit/wreckit/internal/wreckerr"
)

// State is one of the eleven values an item can occupy.
type State string

const (
	StateIdea        State = "idea"
	StateResearching State = "researching"
	StateResearched  State = "researched"
	StatePlanning    State = "planning"
	StatePlanned     State = "planned"
	StateImplementing State = "implementing"
	StateCritique    State = "critique"
	StateInPR        State = "in_pr"
	StateMerged      State = "merged"
	StateDone        State = "done"
	StateAbandoned   State = "abandoned"
)

// Terminal reports whether a state has no outgoing transitions at all; Apply
// rejects even the abandon event from a terminal state.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAbandoned
}

// StoryStatus is the lifecycle of a single user story inside an item's PRD.
type StoryStatus string

const (
	StoryPending    StoryStatus = "pending"
	StoryInProgress StoryStatus = "in_progress"
	StoryDone       StoryStatus = "done"
)

// Story is one element of prd.json.
type Story struct {
	ID                 string      `json:"id"`
	Title              string      `json:"title"`
	AcceptanceCriteria []string    `json:"acceptance_criteria"`
	Status             StoryStatus `json:"status"`
	Notes              string      `json:"notes,omitempty"`
}

// Item is a unit of work driven through the phase sequence.
type Item struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Overview string `json:"overview"`
	Section  string `json:"section"`
	State    State  `json:"state"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CurrentStoryID string `json:"current_story_id,omitempty"`
	PRNumber       int    `json:"pr_number,omitempty"`
	BranchName     string `json:"branch_name,omitempty"`

	Priority int      `json:"priority,omitempty"`
	Urgency  int      `json:"urgency,omitempty"`
	Signals  []string `json:"signals,omitempty"`

	// RunID is assigned when the item enters implementing and is kept from
	// then on; it is empty before that.
	RunID string `json:"run_id,omitempty"`
	// BackendKind records which agent backend was configured when the item
	// entered implementing, for display.
	BackendKind string `json:"backend_kind,omitempty"`
}

// Event names the trigger driving a state transition, matching the "Event"
// column of the transition table.
type Event string

const (
	EventBeginResearch       Event = "begin_research"
	EventResearchAccepted    Event = "research_accepted"
	EventPhaseFailed         Event = "phase_failed"
	EventBeginPlan           Event = "begin_plan"
	EventPlanAccepted        Event = "plan_accepted"
	EventBeginImplement      Event = "begin_implement"
	EventStoriesDone         Event = "stories_done"
	EventStoryRetry          Event = "story_retry"
	EventCritiqueAccepted    Event = "critique_accepted"
	EventPRMerged            Event = "pr_merged"
	EventCleanupComplete     Event = "cleanup_complete"
	EventAbandon             Event = "abandon"
)

type transitionKey struct {
	from  State
	event Event
}

// transitions is the exhaustive table from §4.2; every legal move in the
// system appears here exactly once.
var transitions = map[transitionKey]State{
	{StateIdea, EventBeginResearch}:       StateResearching,
	{StateResearching, EventResearchAccepted}: StateResearched,
	{StateResearching, EventPhaseFailed}:  StateIdea,
	{StateResearched, EventBeginPlan}:     StatePlanning,
	{StatePlanning, EventPlanAccepted}:    StatePlanned,
	{StatePlanning, EventPhaseFailed}:     StateResearched,
	{StatePlanned, EventBeginImplement}:   StateImplementing,
	{StateImplementing, EventStoriesDone}: StateCritique,
	{StateImplementing, EventStoryRetry}:  StateImplementing,
	{StateCritique, EventCritiqueAccepted}: StateInPR,
	{StateInPR, EventPRMerged}:            StateMerged,
	{StateMerged, EventCleanupComplete}:   StateDone,
}

// Apply computes the destination state for (current, event) and returns an
// InvalidTransition error if the move is not in the table. Abandon is
// permitted from any non-terminal state regardless of the table.
func Apply(current State, event Event) (State, error) {
	if event == EventAbandon {
		if current.Terminal() {
			return current, wreckerr.Newf(wreckerr.KindInvalidTransition,
				"cannot abandon an item already in terminal state %s", current).
				WithDetailsf("from=%s to=%s", current, StateAbandoned)
		}
		return StateAbandoned, nil
	}

	to, ok := transitions[transitionKey{current, event}]
	if !ok {
		return current, wreckerr.Newf(wreckerr.KindInvalidTransition,
			"no transition for event %s from state %s", event, current).
			WithDetailsf("from=%s event=%s", current, event)
	}
	return to, nil
}

// PhaseForState returns the phase name the orchestrator should run next for
// an item in the given state, and false if the state has no next phase
// (terminal, or awaiting an external event like PR merge).
func PhaseForState(s State) (string, bool) {
	switch s {
	case StateIdea:
		return "research", true
	case StateResearched:
		return "plan", true
	case StatePlanned:
		return "implement", true
	case StateCritique:
		return "pr", true
	default:
		return "", false
	}
}

// RequiredArtifacts returns the artifact filenames invariant 2 requires to
// be present on disk for an item in the given state (state-artifact
// correspondence, §4.2).
func RequiredArtifacts(s State) []string {
	switch s {
	case StateResearched:
		return []string{"research.md"}
	case StatePlanned:
		return []string{"research.md", "plan.md", "prd.json"}
	case StateImplementing, StateCritique:
		return []string{"research.md", "plan.md", "prd.json"}
	case StateInPR, StateMerged, StateDone:
		return []string{"research.md", "plan.md", "prd.json"}
	default:
		return nil
	}
}

// RequiresPRFields reports whether the state requires BranchName and
// PRNumber to be populated (state-artifact correspondence, §4.2).
func RequiresPRFields(s State) bool {
	switch s {
	case StateInPR, StateMerged, StateDone:
		return true
	default:
		return false
	}
}

// InProgressStory returns the single story with status in_progress, or nil
// if none. Invariant 4 requires at most one while the item is implementing.
func (i *Item) InProgressStory(stories []Story) *Story {
	for idx := range stories {
		if stories[idx].Status == StoryInProgress {
			return &stories[idx]
		}
	}
	return nil
}

// NextPendingStory returns the highest-priority pending story by input
// order (prd.json story order is the priority order), or nil if none remain.
func NextPendingStory(stories []Story) *Story {
	for idx := range stories {
		if stories[idx].Status == StoryPending {
			return &stories[idx]
		}
	}
	return nil
}

// AllStoriesDone reports whether every story in the slice has status done.
func AllStoriesDone(stories []Story) bool {
	for _, s := range stories {
		if s.Status != StoryDone {
			return false
		}
	}
	return len(stories) > 0
}
