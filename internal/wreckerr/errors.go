// Package wreckerr defines the typed error taxonomy used throughout Wreckit.
// Every error that crosses a component boundary is a *Error carrying a Kind
// from the taxonomy in spec §7, so callers can dispatch on kind with
// errors.As instead of string-matching messages.
package wreckerr

import (
	"errors"
	"fmt"
)

// Kind enumerates the typed error taxonomy from spec §7.
type Kind string

const (
	KindRepoNotFound          Kind = "RepoNotFound"
	KindInvalidJSON           Kind = "InvalidJson"
	KindSchemaValidation      Kind = "SchemaValidation"
	KindFileNotFound          Kind = "FileNotFound"
	KindResourceBusy          Kind = "ResourceBusy"
	KindConfigError           Kind = "ConfigError"
	KindPhaseValidation       Kind = "PhaseValidation"
	KindInvalidTransition     Kind = "InvalidTransition"
	KindInvalidState          Kind = "InvalidState"
	KindArtifactNotCreated    Kind = "ArtifactNotCreated"
	KindResearchQuality       Kind = "ResearchQuality"
	KindPlanQuality           Kind = "PlanQuality"
	KindStoryQuality          Kind = "StoryQuality"
	KindCritiqueQuality       Kind = "CritiqueQuality"
	KindTimeout               Kind = "Timeout"
	KindInterrupted           Kind = "Interrupted"
	KindBranchError           Kind = "BranchError"
	KindPushError             Kind = "PushError"
	KindPrCreationError       Kind = "PrCreationError"
	KindMergeConflict         Kind = "MergeConflict"
	KindConcurrentModification Kind = "ConcurrentModification"
)

// remediation holds a one-line hint shown alongside the kind in user-visible
// messages, per §7's "both the kind and a one-line remediation hint" rule.
var remediation = map[Kind]string{
	KindRepoNotFound:            "run `wreckit init` to create a repository",
	KindInvalidJSON:             "run `wreckit doctor --fix` to repair corrupted artifacts",
	KindSchemaValidation:        "check the artifact against its required schema",
	KindFileNotFound:            "verify the path exists and is readable",
	KindResourceBusy:            "retry once the holder of the lock releases it",
	KindConfigError:             "fix config.json and re-run",
	KindPhaseValidation:         "the item is not in a state that allows this phase",
	KindInvalidTransition:       "the requested state transition is not permitted",
	KindInvalidState:            "the item record has a state outside the known enum; run doctor",
	KindArtifactNotCreated:      "the agent did not produce a required artifact",
	KindResearchQuality:         "fix the listed defects in research.md and retry",
	KindPlanQuality:             "fix the listed defects in plan.md and retry",
	KindStoryQuality:            "fix the listed defects in the story and retry",
	KindCritiqueQuality:         "critique.md was empty; retry the critique phase",
	KindTimeout:                 "increase timeout_seconds or investigate a stuck agent",
	KindInterrupted:             "re-run to resume from the last persisted state",
	KindBranchError:             "inspect the git repository's branch state",
	KindPushError:               "check remote credentials and connectivity",
	KindPrCreationError:         "check the configured VCS collaborator's credentials",
	KindMergeConflict:           "resolve the conflict manually, then retry",
	KindConcurrentModification:  "run `wreckit doctor` to reconcile the item's state",
}

// Error is the typed error carried across every component boundary.
type Error struct {
	Kind    Kind
	Message string
	Details string
	Cause   error
}

// New creates an Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error that wraps an underlying cause.
func Wrap(cause error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Wrapf creates an Error that wraps an underlying cause with a formatted message.
func Wrapf(cause error, kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithDetails attaches additional detail to the error in place and returns it
// for chaining, mirroring the teacher ecosystem's builder-style error API.
func (e *Error) WithDetails(details string) *Error {
	e.Details = details
	return e
}

// WithDetailsf attaches formatted detail to the error in place.
func (e *Error) WithDetailsf(format string, args ...any) *Error {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Remediation returns the one-line hint associated with the error's kind.
func (e *Error) Remediation() string {
	return remediation[e.Kind]
}

// UserMessage renders the kind, message, and remediation hint together, the
// shape every user-visible surface (CLI output, TUI, logs) should print.
func (e *Error) UserMessage() string {
	hint := e.Remediation()
	if hint == "" {
		return e.Error()
	}
	return fmt.Sprintf("%s — %s", e.Error(), hint)
}

// Is reports whether target has the same Kind, so errors.Is(err, wreckerr.New(KindTimeout, "")) works.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return e.Kind == te.Kind
	}
	return false
}

// KindOf extracts the Kind from err if it is (or wraps) a *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
