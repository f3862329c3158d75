package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"

	"github.com/wreckit/wreckit/internal/config"
	"github.com/wreckit/wreckit/internal/wreckerr"
)

// httpRequest is the JSON body posted to amp_sdk/opencode_sdk/rlm endpoints.
type httpRequest struct {
	Prompt       string   `json:"prompt"`
	Cwd          string   `json:"cwd"`
	AllowedTools []string `json:"allowed_tools"`
	Model        string   `json:"model,omitempty"`
}

// httpResponse is the expected JSON shape of a backend's reply.
type httpResponse struct {
	Output             string `json:"output"`
	CompletionDetected bool   `json:"completion_detected"`
}

// HTTPBackend implements amp_sdk and opencode_sdk: both are plain JSON-over-
// HTTP services with no vendor SDK in the dependency set, so a single
// generic client serves both, discriminated only by cfg.Endpoint.
type HTTPBackend struct {
	Client *http.Client
}

func (b *HTTPBackend) Run(ctx context.Context, cfg config.AgentConfig, opts Options) (Result, error) {
	if opts.DryRun {
		return runDryRun(cfg, opts), nil
	}
	if cfg.Endpoint == "" {
		return Result{}, wreckerr.Newf(wreckerr.KindConfigError, "%s backend requires an endpoint", cfg.Kind)
	}

	client := b.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	return postAndDetect(ctx, client, cfg, opts)
}

// postAndDetect posts the request and parses the response, shared by
// HTTPBackend and RLMBackend so the breaker wrapper only has to add circuit
// breaking around this call.
func postAndDetect(ctx context.Context, client *http.Client, cfg config.AgentConfig, opts Options) (Result, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(httpRequest{
		Prompt:       opts.Prompt,
		Cwd:          opts.Cwd,
		AllowedTools: opts.AllowedTools,
		Model:        cfg.Model,
	})
	if err != nil {
		return Result{}, wreckerr.Wrap(err, wreckerr.KindInvalidJSON, "marshal agent request")
	}

	req, err := http.NewRequestWithContext(runCtx, http.MethodPost, cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, wreckerr.Wrap(err, wreckerr.KindConfigError, "build agent request")
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.APIKeyEnv != "" {
		if key := os.Getenv(cfg.APIKeyEnv); key != "" {
			req.Header.Set("Authorization", "Bearer "+key)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		if runCtx.Err() != nil {
			return Result{TimedOut: true}, wreckerr.Wrap(err, wreckerr.KindTimeout, string(cfg.Kind)+" request timed out")
		}
		return Result{}, wreckerr.Wrap(err, wreckerr.KindConfigError, string(cfg.Kind)+" request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, wreckerr.Wrap(err, wreckerr.KindConfigError, "read agent response")
	}
	if resp.StatusCode >= 300 {
		return Result{}, wreckerr.Newf(wreckerr.KindConfigError, "%s returned status %d", cfg.Kind, resp.StatusCode).WithDetails(string(data))
	}

	var parsed httpResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Result{}, wreckerr.Wrap(err, wreckerr.KindInvalidJSON, "parse agent response")
	}

	if opts.EventSink != nil {
		opts.EventSink(Event{Kind: EventAssistantText, Text: parsed.Output})
		opts.EventSink(Event{Kind: EventRunResult})
	}

	completion := parsed.CompletionDetected || containsCompletionSignal(parsed.Output, opts.CompletionSignal)
	return Result{Success: true, Output: parsed.Output, CompletionDetected: completion}, nil
}
