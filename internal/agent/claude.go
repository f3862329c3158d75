package agent

import (
	"context"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/wreckit/wreckit/internal/config"
	"github.com/wreckit/wreckit/internal/wreckerr"
)

// ClaudeBackend dispatches to the Anthropic Messages API directly, for
// deployments that want the claude_sdk variant without shelling out to a
// CLI (contrast ProcessBackend, which drives the claude CLI as a subprocess).
type ClaudeBackend struct{}

func (b *ClaudeBackend) Run(ctx context.Context, cfg config.AgentConfig, opts Options) (Result, error) {
	if opts.DryRun {
		return runDryRun(cfg, opts), nil
	}

	apiKeyEnv := cfg.APIKeyEnv
	if apiKeyEnv == "" {
		apiKeyEnv = "ANTHROPIC_API_KEY"
	}
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return Result{}, wreckerr.Newf(wreckerr.KindConfigError, "environment variable %s is not set", apiKeyEnv)
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	model := cfg.Model
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_5)
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	message, err := client.Messages.New(runCtx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 8192,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(opts.Prompt)),
		},
	})
	if err != nil {
		if runCtx.Err() != nil {
			return Result{TimedOut: true}, wreckerr.Wrap(err, wreckerr.KindTimeout, "claude_sdk invocation timed out")
		}
		return Result{}, wreckerr.Wrap(err, wreckerr.KindConfigError, "claude_sdk invocation failed")
	}

	var output string
	for _, block := range message.Content {
		if block.Type == "text" {
			output += block.Text
			if opts.EventSink != nil {
				opts.EventSink(Event{Kind: EventAssistantText, Text: block.Text})
			}
		}
	}
	if opts.EventSink != nil {
		opts.EventSink(Event{Kind: EventRunResult})
	}

	signal := opts.CompletionSignal
	return Result{
		Success:            true,
		Output:             output,
		CompletionDetected: containsCompletionSignal(output, signal) || signal == "",
	}, nil
}
