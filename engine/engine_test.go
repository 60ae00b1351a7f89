package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/arcflow/orchestrator/core"
	"github.com/arcflow/orchestrator/events"
	"github.com/arcflow/orchestrator/state"
)

// fakeAgent lets each test script a sequence of behaviors without a real
// inference backend, mirroring the teacher's pattern of hand-rolled fakes
// over mocking frameworks for interface-shaped dependencies.
type fakeAgent struct {
	name string
	run  func(ctx context.Context, s *state.OrchestrationState) error
	n    int
}

func (f *fakeAgent) Name() string { return f.name }
func (f *fakeAgent) Invoke(ctx context.Context, s *state.OrchestrationState) error {
	f.n++
	return f.run(ctx, s)
}

func TestRouteAfterReview_PassedGoesToExecutor(t *testing.T) {
	s := state.New("t")
	s.ReviewPassed = true
	if got := routeAfterReview(s); got != nodeExecutor {
		t.Errorf("routeAfterReview = %v, want executor", got)
	}
}

func TestRouteAfterReview_FailedUnderLimitGoesToCoder(t *testing.T) {
	s := state.New("t")
	s.ReviewPassed = false
	s.ReviewAttempts = 1
	s.MaxReviewAttempts = 2
	if got := routeAfterReview(s); got != nodeCoder {
		t.Errorf("routeAfterReview = %v, want coder", got)
	}
}

func TestRouteAfterReview_FailedAtLimitDegradesToExecutor(t *testing.T) {
	s := state.New("t")
	s.ReviewPassed = false
	s.ReviewAttempts = 2
	s.MaxReviewAttempts = 2
	if got := routeAfterReview(s); got != nodeExecutor {
		t.Errorf("routeAfterReview = %v, want degraded executor", got)
	}
}

func TestRouteAfterExecution_SuccessEnds(t *testing.T) {
	s := state.New("t")
	s.ExecutionSuccess = true
	if got := routeAfterExecution(s); got != nodeEnd {
		t.Errorf("routeAfterExecution = %v, want end", got)
	}
}

func TestRouteAfterExecution_FailureUnderLimitRetriesAndResetsReview(t *testing.T) {
	s := state.New("t")
	s.ExecutionSuccess = false
	s.ErrorCount = 0
	s.MaxRetries = 3
	s.ReviewAttempts = 2
	s.ReviewPassed = true

	got := routeAfterExecution(s)
	if got != nodeCoder {
		t.Errorf("routeAfterExecution = %v, want coder", got)
	}
	if s.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", s.ErrorCount)
	}
	if s.ReviewAttempts != 0 || s.ReviewPassed {
		t.Errorf("review state not reset: attempts=%d passed=%v", s.ReviewAttempts, s.ReviewPassed)
	}
}

func TestRouteAfterExecution_FailureAtLimitEnds(t *testing.T) {
	s := state.New("t")
	s.ExecutionSuccess = false
	s.ErrorCount = 3
	s.MaxRetries = 3
	if got := routeAfterExecution(s); got != nodeEnd {
		t.Errorf("routeAfterExecution = %v, want end", got)
	}
}

// TestStateMachine_HappyPath covers the "happy path" seed scenario:
// architect -> coder -> reviewer (pass) -> executor (success) -> end.
func TestStateMachine_HappyPath(t *testing.T) {
	bus := events.New()
	s := state.New("build a thing")
	s.Plan = &state.Plan{Files: []state.FileSpec{{Path: "a.py"}, {Path: "b.py"}}}

	architect := &fakeAgent{name: "architect", run: func(ctx context.Context, s *state.OrchestrationState) error {
		return nil
	}}
	coder := &fakeAgent{name: "coder", run: func(ctx context.Context, s *state.OrchestrationState) error {
		return nil
	}}
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

	result := m.Run(context.Background(), s)

	if !result.ExecutionSuccess {
		t.Error("expected execution to succeed")
	}
	if architect.n != 1 || coder.n != 1 || reviewer.n != 1 || executor.n != 1 {
		t.Errorf("expected each agent invoked exactly once, got architect=%d coder=%d reviewer=%d executor=%d",
			architect.n, coder.n, reviewer.n, executor.n)
	}
}

// TestStateMachine_ReviewFailureLoopsToCoder covers the "review -> coder
// loop" seed scenario: the first review fails, a second coder pass runs,
// and the second review passes.
func TestStateMachine_ReviewFailureLoopsToCoder(t *testing.T) {
	bus := events.New()
	s := state.New("build a thing")

	architect := &fakeAgent{name: "architect", run: func(ctx context.Context, s *state.OrchestrationState) error { return nil }}
	coder := &fakeAgent{name: "coder", run: func(ctx context.Context, s *state.OrchestrationState) error { return nil }}
	reviewer := &fakeAgent{name: "reviewer", run: func(ctx context.Context, s *state.OrchestrationState) error {
		s.ReviewAttempts++
		s.ReviewPassed = s.ReviewAttempts >= 2
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

	m.Run(context.Background(), s)

	if coder.n != 2 {
		t.Errorf("coder invocations = %d, want 2", coder.n)
	}
	if reviewer.n != 2 {
		t.Errorf("reviewer invocations = %d, want 2", reviewer.n)
	}
	if !s.ReviewPassed {
		t.Error("expected review to eventually pass")
	}
}

// TestStateMachine_ExecutorFailureLoopsToCoder covers the "executor ->
// coder loop" seed scenario: execution fails once, error_count increments
// and review state resets, then a second pass succeeds.
func TestStateMachine_ExecutorFailureLoopsToCoder(t *testing.T) {
	bus := events.New()
	s := state.New("build a thing")

	architect := &fakeAgent{name: "architect", run: func(ctx context.Context, s *state.OrchestrationState) error { return nil }}
	coder := &fakeAgent{name: "coder", run: func(ctx context.Context, s *state.OrchestrationState) error { return nil }}
	reviewer := &fakeAgent{name: "reviewer", run: func(ctx context.Context, s *state.OrchestrationState) error {
		s.ReviewAttempts++
		s.ReviewPassed = true
		return nil
	}}
	executor := &fakeAgent{name: "executor", run: func(ctx context.Context, s *state.OrchestrationState) error {
		s.ExecutionSuccess = s.ErrorCount > 0
		return nil
	}}

	m := &StateMachine{
		Architect: architect, Coder: coder, Reviewer: reviewer, Executor: executor,
		Bus: bus, Logger: core.NoOpLogger{}, Telemetry: core.NoOpTelemetry{}, MaxRecursion: 50,
	}

	m.Run(context.Background(), s)

	if executor.n != 2 {
		t.Errorf("executor invocations = %d, want 2", executor.n)
	}
	if s.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", s.ErrorCount)
	}
	if !s.ExecutionSuccess {
		t.Error("expected eventual execution success")
	}
}

func TestStateMachine_RecursionLimitAddsHistoryAndStops(t *testing.T) {
	s := state.New("infinite")
	bus := events.New()

	looping := &fakeAgent{name: "coder", run: func(ctx context.Context, s *state.OrchestrationState) error {
		return nil
	}}
	reviewer := &fakeAgent{name: "reviewer", run: func(ctx context.Context, s *state.OrchestrationState) error {
		s.ReviewAttempts = 0 // never advances -> infinite review/coder loop
		s.ReviewPassed = false
		s.MaxReviewAttempts = 100
		return nil
	}}
	architect := &fakeAgent{name: "architect", run: func(ctx context.Context, s *state.OrchestrationState) error { return nil }}
	executor := &fakeAgent{name: "executor", run: func(ctx context.Context, s *state.OrchestrationState) error { return nil }}

	m := &StateMachine{
		Architect: architect, Coder: looping, Reviewer: reviewer, Executor: executor,
		Bus: bus, Logger: core.NoOpLogger{}, Telemetry: core.NoOpTelemetry{}, MaxRecursion: 5,
	}

	m.Run(context.Background(), s)

	found := false
	for _, h := range s.History {
		if h.Agent == "state_machine" && h.Action == "recursion_limit" {
			found = true
		}
	}
	if !found {
		t.Error("expected a recursion_limit history entry when the bound is hit")
	}
}

func TestStateMachine_CoderCrashBypassesToFailedExecution(t *testing.T) {
	s := state.New("t")
	bus := events.New()

	architect := &fakeAgent{name: "architect", run: func(ctx context.Context, s *state.OrchestrationState) error { return nil }}
	coder := &fakeAgent{name: "coder", run: func(ctx context.Context, s *state.OrchestrationState) error {
		return errors.New("panic recovered: nil pointer")
	}}
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

	m.Run(context.Background(), s)

	bypassed := false
	for _, h := range s.History {
		if h.Agent == "coder" && h.Action == "bypass" {
			bypassed = true
		}
	}
	if !bypassed {
		t.Error("expected a coder bypass history entry after the crash")
	}
}
