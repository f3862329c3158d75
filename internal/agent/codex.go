package agent

import (
	"context"
	"os"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/wreckit/wreckit/internal/config"
	"github.com/wreckit/wreckit/internal/wreckerr"
)

// CodexBackend dispatches through langchaingo's OpenAI-compatible client,
// used for the codex_sdk variant so the engine is not hard-wired to one
// vendor's SDK shape the way ClaudeBackend is.
type CodexBackend struct{}

func (b *CodexBackend) Run(ctx context.Context, cfg config.AgentConfig, opts Options) (Result, error) {
	if opts.DryRun {
		return runDryRun(cfg, opts), nil
	}

	apiKeyEnv := cfg.APIKeyEnv
	if apiKeyEnv == "" {
		apiKeyEnv = "OPENAI_API_KEY"
	}
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return Result{}, wreckerr.Newf(wreckerr.KindConfigError, "environment variable %s is not set", apiKeyEnv)
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o"
	}

	llmOpts := []openai.Option{openai.WithToken(apiKey), openai.WithModel(model)}
	if cfg.Endpoint != "" {
		llmOpts = append(llmOpts, openai.WithBaseURL(cfg.Endpoint))
	}
	llm, err := openai.New(llmOpts...)
	if err != nil {
		return Result{}, wreckerr.Wrap(err, wreckerr.KindConfigError, "construct codex_sdk client")
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var streamed string
	streamFn := llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
		streamed += string(chunk)
		if opts.EventSink != nil {
			opts.EventSink(Event{Kind: EventAssistantText, Text: string(chunk)})
		}
		return nil
	})

	completion, err := llms.GenerateFromSinglePrompt(runCtx, llm, opts.Prompt, streamFn)
	if err != nil {
		if runCtx.Err() != nil {
			return Result{TimedOut: true}, wreckerr.Wrap(err, wreckerr.KindTimeout, "codex_sdk invocation timed out")
		}
		return Result{}, wreckerr.Wrap(err, wreckerr.KindConfigError, "codex_sdk invocation failed")
	}

	output := completion
	if streamed != "" {
		output = streamed
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
