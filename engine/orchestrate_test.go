package engine

import (
	"context"
	"testing"

	"github.com/arcflow/orchestrator/core"
	"github.com/arcflow/orchestrator/events"
	"github.com/arcflow/orchestrator/state"
)

func TestEngine_OrchestrateRecordsRunAndAppliesMaxRetries(t *testing.T) {
	bus := events.New()
	architect := &fakeAgent{name: "architect", run: func(ctx context.Context, s *state.OrchestrationState) error { return nil }}
	coder := &fakeAgent{name: "coder", run: func(ctx context.Context, s *state.OrchestrationState) error { return nil }}
	reviewer := &fakeAgent{name: "reviewer", run: func(ctx context.Context, s *state.OrchestrationState) error {
		s.ReviewAttempts++
		s.ReviewPassed = true
		return nil
	}}
	executor := &fakeAgent{name: "executor", run: func(ctx context.Context, s *state.OrchestrationState) error {
		s.ExecutionSuccess = true
		return nil
	}}

	m := &StateMachine{
		Architect: architect, Coder: coder, Reviewer: reviewer, Executor: executor,
		Bus: bus, Logger: core.NoOpLogger{}, Telemetry: core.NoOpTelemetry{}, MaxRecursion: 50,
	}
	e := NewEngine(m, 10)

	result := e.Orchestrate(context.Background(), "run-42", "build a thing", 7)

	if result.MaxRetries != 7 {
		t.Errorf("MaxRetries = %d, want 7", result.MaxRetries)
	}
	rec, ok := e.Lookup("run-42")
	if !ok {
		t.Fatal("expected run-42 to be recorded")
	}
	if rec.Running {
		t.Error("expected Orchestrate to finish the run before returning")
	}
	if rec.State != result {
		t.Error("expected the registry to retain the same state pointer returned by Orchestrate")
	}
}
