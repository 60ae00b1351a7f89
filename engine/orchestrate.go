package engine

import (
	"context"

	"github.com/arcflow/orchestrator/state"
)

// Engine is the top-level entry point: it tracks an in-flight run in a
// RunRegistry while delegating actual graph traversal to StateMachine,
// mirroring pkg/orchestration's AIOrchestrator split between request
// bookkeeping and the routing logic it delegates to.
type Engine struct {
	Machine  *StateMachine
	Registry *RunRegistry
}

// NewEngine wires a StateMachine to a bounded RunRegistry.
func NewEngine(m *StateMachine, registryCapacity int) *Engine {
	return &Engine{Machine: m, Registry: NewRunRegistry(registryCapacity)}
}

// Orchestrate runs one task through the pipeline to completion, recording
// it in the registry under runID for later GET /runs/{id} lookups.
func (e *Engine) Orchestrate(ctx context.Context, runID string, task string, maxRetries int) *state.OrchestrationState {
	s := state.New(task)
	if maxRetries > 0 {
		s.MaxRetries = maxRetries
	}

	e.Registry.Start(runID, s)
	defer e.Registry.Finish(runID)

	return e.Machine.Run(ctx, s)
}

// Lookup returns the RunRecord for runID, if it is still retained.
func (e *Engine) Lookup(runID string) (*RunRecord, bool) {
	return e.Registry.Get(runID)
}
