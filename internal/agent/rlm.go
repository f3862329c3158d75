package agent

import (
	"context"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/wreckit/wreckit/internal/config"
	"github.com/wreckit/wreckit/internal/wreckerr"
)

// RLMBackend wraps the generic HTTP request/response cycle in a circuit
// breaker: a remote-language-model endpoint that is failing repeatedly
// should fail fast instead of holding up every item's phase runner in turn.
type RLMBackend struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[Result]
}

// NewRLMBackend constructs an RLMBackend whose breaker trips after
// cfg.BreakerMaxFailures consecutive failures (default 5).
func NewRLMBackend(cfg config.AgentConfig) *RLMBackend {
	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	breaker := gobreaker.NewCircuitBreaker[Result](gobreaker.Settings{
		Name:    "rlm-backend",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	})
	return &RLMBackend{client: &http.Client{}, breaker: breaker}
}

func (b *RLMBackend) Run(ctx context.Context, cfg config.AgentConfig, opts Options) (Result, error) {
	if opts.DryRun {
		return runDryRun(cfg, opts), nil
	}
	if cfg.Endpoint == "" {
		return Result{}, wreckerr.New(wreckerr.KindConfigError, "rlm backend requires an endpoint")
	}

	client := b.client
	client.Timeout = opts.Timeout

	res, err := b.breaker.Execute(func() (Result, error) {
		return postAndDetect(ctx, client, cfg, opts)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			return Result{}, wreckerr.Wrap(err, wreckerr.KindResourceBusy, "rlm circuit breaker open")
		}
		return Result{}, err
	}

	return res, nil
}
