// Package agent defines the abstract agent-backend contract and its
// discriminated implementations (claude_sdk, amp_sdk, codex_sdk,
// opencode_sdk, process, rlm, sprite, mock). Every backend implements the
// same Run method; the phase runner dispatches once at its entry and never
// branches on backend kind again inside the hot loop.
package agent

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/wreckit/wreckit/internal/config"
	"github.com/wreckit/wreckit/internal/wreckerr"
)

// EventKind discriminates the tagged AgentEvent union emitted during a run.
type EventKind string

const (
	EventAssistantText EventKind = "assistant_text"
	EventToolStarted   EventKind = "tool_started"
	EventToolResult    EventKind = "tool_result"
	EventToolError     EventKind = "tool_error"
	EventRunResult     EventKind = "run_result"
	EventError         EventKind = "error"
)

// Event is one item of the lazy event stream a backend emits. Only the
// fields relevant to Kind are populated.
type Event struct {
	Kind EventKind

	Text string // AssistantText

	ToolID     string // ToolStarted, ToolResult, ToolError
	ToolName   string // ToolStarted
	ToolInput  string // ToolStarted
	ToolOutput string // ToolResult
	ToolError  string // ToolError

	Err error // Error
}

// Sink receives the event stream. The engine imposes no backpressure on the
// sink's caller. A caller that wants AssistantText thinned out wraps its Sink
// with SamplingSink, which never drops RunResult or Error.
type Sink func(Event)

// SamplingSink wraps sink so that only every sampleEvery-th AssistantText
// event is delivered; every other kind of event is always delivered. A
// sampleEvery of 1 or less returns sink unchanged.
func SamplingSink(sink Sink, sampleEvery int) Sink {
	if sampleEvery <= 1 {
		return sink
	}
	count := 0
	return func(e Event) {
		if e.Kind == EventRunResult || e.Kind == EventError {
			sink(e)
			return
		}
		if e.Kind == EventAssistantText {
			count++
			if count%sampleEvery != 0 {
				return
			}
		}
		sink(e)
	}
}

// Options is the per-call configuration the phase runner assembles at step 6.
type Options struct {
	Cwd              string
	Prompt           string
	AllowedTools     []string
	MCPEndpoints     map[string]config.MCP
	Timeout          time.Duration
	EventSink        Sink
	DryRun           bool
	Mock             bool
	CompletionSignal string
}

// Result is the outcome of one backend invocation.
type Result struct {
	Success            bool
	Output             string
	TimedOut           bool
	ExitCode           int
	CompletionDetected bool
}

// Backend is the abstract contract every discriminated agent-backend
// variant implements.
type Backend interface {
	Run(ctx context.Context, cfg config.AgentConfig, opts Options) (Result, error)
}

// New constructs the Backend for cfg.Kind. Dispatch happens once, at
// phase-runner entry; the returned Backend itself performs no further kind
// switching.
func New(cfg config.AgentConfig) (Backend, error) {
	switch cfg.Kind {
	case config.AgentClaudeSDK:
		return &ClaudeBackend{}, nil
	case config.AgentCodexSDK:
		return &CodexBackend{}, nil
	case config.AgentAmpSDK, config.AgentOpencodeSDK:
		return &HTTPBackend{}, nil
	case config.AgentRLM:
		return NewRLMBackend(cfg), nil
	case config.AgentProcess:
		return &ProcessBackend{}, nil
	case config.AgentSprite:
		return &SpriteBackend{inner: &ProcessBackend{}}, nil
	case config.AgentMock:
		return &MockBackend{}, nil
	default:
		return nil, wreckerr.Newf(wreckerr.KindConfigError, "unknown agent backend kind %q", cfg.Kind)
	}
}

// runDryRun implements the dry-run contract shared by every backend: no
// side effects, a log-shaped event describing what would happen, and an
// immediate success.
func runDryRun(cfg config.AgentConfig, opts Options) Result {
	if opts.EventSink != nil {
		opts.EventSink(Event{Kind: EventAssistantText, Text: "[dry-run] would invoke " + string(cfg.Kind) + " with prompt of " + strconv.Itoa(len(opts.Prompt)) + " bytes"})
		opts.EventSink(Event{Kind: EventRunResult})
	}
	return Result{Success: true, Output: "[dry-run] no agent invoked", CompletionDetected: true}
}

// containsCompletionSignal reports whether output contains the configured
// completion signal token (step 7 of §4.3's two detection mechanisms).
func containsCompletionSignal(output, signal string) bool {
	if signal == "" {
		return false
	}
	return strings.Contains(output, signal)
}
