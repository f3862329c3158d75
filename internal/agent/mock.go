package agent

import (
	"context"

	"github.com/wreckit/wreckit/internal/config"
)

// MockBackend is a deterministic simulator used for end-to-end tests
// without API cost. It emits a canned sequence of events ending with the
// configured completion signal, then a terminal RunResult.
type MockBackend struct {
	// Script, when set, overrides the default canned AssistantText lines.
	Script []string
}

func (b *MockBackend) Run(ctx context.Context, cfg config.AgentConfig, opts Options) (Result, error) {
	if opts.DryRun {
		return runDryRun(cfg, opts), nil
	}

	lines := b.Script
	if lines == nil {
		lines = []string{
			"mock agent starting",
			"mock agent working",
		}
	}

	var output string
	for _, line := range lines {
		select {
		case <-ctx.Done():
			return Result{TimedOut: true}, ctx.Err()
		default:
		}
		if opts.EventSink != nil {
			opts.EventSink(Event{Kind: EventAssistantText, Text: line})
		}
		output += line + "\n"
	}

	signal := opts.CompletionSignal
	if signal == "" {
		signal = "DONE"
	}
	output += signal + "\n"
	if opts.EventSink != nil {
		opts.EventSink(Event{Kind: EventAssistantText, Text: signal})
		opts.EventSink(Event{Kind: EventRunResult})
	}

	return Result{
		Success:            true,
		Output:             output,
		CompletionDetected: containsCompletionSignal(output, signal),
	}, nil
}
