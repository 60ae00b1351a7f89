package agents

import (
	"context"
	"fmt"

	"github.com/arcflow/orchestrator/events"
	"github.com/arcflow/orchestrator/sandbox"
	"github.com/arcflow/orchestrator/state"
)

// Executor runs each planned step in order, falling back to running the
// single generated file when the plan has no steps, grounded on
// agents/executor.py's ExecutorAgent.
type Executor struct {
	Base
	Runner *sandbox.Runner
}

func NewExecutor(b Base, runner *sandbox.Runner) *Executor {
	b.AgentName = "executor"
	return &Executor{Base: b, Runner: runner}
}

func (e *Executor) Invoke(ctx context.Context, s *state.OrchestrationState) error {
	if s.Plan == nil || len(s.Plan.Execution.Steps) == 0 {
		return e.runFallback(ctx, s)
	}
	return e.runPlan(ctx, s)
}

func (e *Executor) runPlan(ctx context.Context, s *state.OrchestrationState) error {
	for i, step := range s.Plan.Execution.Steps {
		e.Bus.Emit(events.TypeExecutionStep, e.AgentName, map[string]interface{}{
			"n": i, "label": step.Label, "cmd": step.Cmd, "status": "running",
		})

		var result sandbox.StepResult
		if step.Background {
			result = e.Runner.RunBackground(ctx, step)
			if result.Success && result.Port != 0 {
				s.PreviewURL = fmt.Sprintf("http://localhost:%d", result.Port)
			}
		} else {
			result = e.Runner.RunForeground(ctx, step)
		}

		status := "success"
		if !result.Success {
			status = "failed"
		}
		e.Bus.Emit(events.TypeExecutionStep, e.AgentName, map[string]interface{}{
			"n": i, "label": step.Label, "status": status, "output": truncate(result.Output, 2000),
		})
		e.Bus.EmitExecution(e.AgentName, result.Success, result.Output, exitCodeFor(result.Success))

		s.ExecutionOutput = result.Output
		s.ExecutionSuccess = result.Success

		if !result.Success {
			s.AddHistory(e.AgentName, "execute", fmt.Sprintf("step %d (%s) failed", i, step.Label))
			return nil
		}
	}

	s.AddHistory(e.AgentName, "execute", fmt.Sprintf("completed %d steps", len(s.Plan.Execution.Steps)))
	return nil
}

func (e *Executor) runFallback(ctx context.Context, s *state.OrchestrationState) error {
	target, ok := sandbox.FallbackTarget(e.Runner.WorkspaceDir, s.FilePath)
	if !ok {
		s.ExecutionSuccess = false
		s.ExecutionOutput = "no executable file found in workspace"
		s.AddHistory(e.AgentName, "execute", "fallback target not found")
		return nil
	}

	if err := sandbox.CheckLegacyCommand(e.Runner.WorkspaceDir, target, "python3"); err != nil {
		s.ExecutionSuccess = false
		s.ExecutionOutput = err.Error()
		s.AddHistory(e.AgentName, "execute", "rejected by security envelope")
		return nil
	}

	step := state.ExecutionStep{Cmd: "python3 " + target, Label: "run"}
	result := e.Runner.RunForeground(ctx, step)

	e.Bus.EmitExecution(e.AgentName, result.Success, result.Output, exitCodeFor(result.Success))
	s.ExecutionOutput = result.Output
	s.ExecutionSuccess = result.Success
	s.AddHistory(e.AgentName, "execute", summarizeResult(result.Success))
	return nil
}

func exitCodeFor(success bool) int {
	if success {
		return 0
	}
	return 1
}

func summarizeResult(success bool) string {
	if success {
		return "fallback execution succeeded"
	}
	return "fallback execution failed"
}
