// Package orchestrator drives items through the phase sequence: selecting
// the next candidate, advancing it one phase at a time via the phase
// runner, and handling interruption cleanly between phases.
package orchestrator

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/wreckit/wreckit/internal/item"
	"github.com/wreckit/wreckit/internal/phase"
	"github.com/wreckit/wreckit/internal/store"
	"github.com/wreckit/wreckit/internal/worker"
)

// ErrInterrupted is returned when the run loop exits because ctx was
// cancelled rather than because it ran out of work; the CLI maps this to
// exit code 130.
var ErrInterrupted = errors.New("orchestrator: interrupted")

// candidate is one item considered for selection, carrying just enough to
// sort without reloading the full record twice.
type candidate struct {
	id       string
	section  string
	ordinal  int
	priority int
	state    item.State
}

// Orchestrator selects and advances items through the phase runner.
type Orchestrator struct {
	Store  *store.Store
	Phases *phase.Runner
	Logger *zap.Logger
}

// New constructs an Orchestrator.
func New(st *store.Store, phases *phase.Runner, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{Store: st, Phases: phases, Logger: logger}
}

// SelectNext returns the id of the highest-priority non-terminal item ready
// for its next phase, or "" if nothing is ready. Fan-out over item
// directories uses the generic worker pool since it is a bounded, read-only
// scan with no suspension point; the subsequent per-item advancement is
// strictly sequential.
func (o *Orchestrator) SelectNext() (string, error) {
	ids, err := o.Store.ListItems(func(id string, e store.IndexEntry) bool {
		_, ok := item.PhaseForState(e.State)
		return ok
	})
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", nil
	}

	pool := worker.NewPool[candidate](0)
	results := pool.Process(ids, func(id string) (candidate, error) {
		it, err := o.Store.LoadItem(id)
		if err != nil {
			return candidate{}, err
		}
		section, ordinal := splitID(id)
		return candidate{id: id, section: section, ordinal: ordinal, priority: it.Priority, state: it.State}, nil
	})

	var candidates []candidate
	for _, r := range results {
		if r.Err != nil {
			o.Logger.Warn("skipping unreadable item during selection", zap.String("id", ids[r.Index]), zap.Error(r.Err))
			continue
		}
		candidates = append(candidates, r.Value)
	}
	if len(candidates) == 0 {
		return "", nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority > candidates[j].priority
		}
		if candidates[i].section != candidates[j].section {
			return candidates[i].section < candidates[j].section
		}
		return candidates[i].ordinal < candidates[j].ordinal
	})

	return candidates[0].id, nil
}

func splitID(id string) (section string, ordinal int) {
	for i := len(id) - 1; i >= 0; i-- {
		if id[i] == '/' {
			section = id[:i]
			ordinal = store.OrdinalOf(id[i+1:])
			return section, ordinal
		}
	}
	return id, 0
}

// RunOne advances a single item by exactly one phase, the step the CLI's
// `wreckit run` and `wreckit next` commands both drive.
func (o *Orchestrator) RunOne(ctx context.Context, id string) (phase.Result, error) {
	it, err := o.Store.LoadItem(id)
	if err != nil {
		return phase.Result{}, err
	}
	phaseName, ok := item.PhaseForState(it.State)
	if !ok {
		return phase.Result{Success: false, Item: it}, nil
	}
	return o.Phases.Run(ctx, it, phaseName), nil
}

// Loop repeatedly selects the highest-priority ready item and advances it
// one phase, stopping when nothing is left to do, a phase fails, or ctx is
// cancelled. Each phase completes fully before the next selection runs:
// cancellation between phases leaves the current item in whatever
// pre-phase state it was last durably saved at (P6), never mid-phase.
func (o *Orchestrator) Loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ErrInterrupted
		default:
		}

		id, err := o.SelectNext()
		if err != nil {
			return err
		}
		if id == "" {
			return nil
		}

		res, err := o.RunOne(ctx, id)
		if err != nil {
			return err
		}
		if !res.Success {
			o.Logger.Warn("phase did not complete", zap.String("id", id), zap.Error(res.Error))
			return nil
		}
	}
}
