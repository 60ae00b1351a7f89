// Package engine implements the orchestration state machine described in
// SPEC_FULL.md section 4.10: Architect -> Coder -> Reviewer ->
// (Executor|Coder), Executor -> (end|Coder), each node wrapped in a crash
// bypass and the whole graph bounded by a recursion limit. Grounded
// structurally on pkg/orchestration's AIOrchestrator request lifecycle
// (context-based request ID, Start/Stop/Shutdown) for the Engine's own
// lifecycle, with the graph topology itself specified by SPEC_FULL.md
// rather than carried from the teacher (the teacher's orchestrator routes
// to AI-selected capability agents; this one runs a fixed four-node
// pipeline).
package engine

import (
	"context"
	"fmt"

	"github.com/arcflow/orchestrator/agents"
	"github.com/arcflow/orchestrator/core"
	"github.com/arcflow/orchestrator/events"
	"github.com/arcflow/orchestrator/state"
)

// nodeName identifies a position in the graph for routing decisions.
type nodeName string

const (
	nodeArchitect nodeName = "architect"
	nodeCoder     nodeName = "coder"
	nodeReviewer  nodeName = "reviewer"
	nodeExecutor  nodeName = "executor"
	nodeEnd       nodeName = "end"
)

// StateMachine drives one run through the four-agent pipeline. Each node is
// held as an agents.Agent rather than a concrete type so tests can swap in
// fakes without a live inference backend.
type StateMachine struct {
	Architect agents.Agent
	Coder     agents.Agent
	Reviewer  agents.Agent
	Executor  agents.Agent

	Bus          *events.Bus
	Logger       core.Logger
	Telemetry    core.Telemetry
	MaxRecursion int
}

// NewStateMachine wires the four concrete pipeline agents into a
// StateMachine.
func NewStateMachine(architect *agents.Architect, coder *agents.Coder, reviewer *agents.Reviewer, executor *agents.Executor, bus *events.Bus, logger core.Logger, tel core.Telemetry, maxRecursion int) *StateMachine {
	return &StateMachine{
		Architect: architect, Coder: coder, Reviewer: reviewer, Executor: executor,
		Bus: bus, Logger: logger, Telemetry: tel, MaxRecursion: maxRecursion,
	}
}

// Run executes the graph to completion (or until the recursion bound is
// hit), returning the final state.
func (m *StateMachine) Run(ctx context.Context, s *state.OrchestrationState) *state.OrchestrationState {
	node := nodeArchitect
	transitions := 0

	for node != nodeEnd {
		if transitions >= m.MaxRecursion {
			s.AddHistory("state_machine", "recursion_limit", fmt.Sprintf("exceeded %d transitions", m.MaxRecursion))
			m.Bus.Emit(events.TypeError, "state_machine", map[string]interface{}{
				"reason": "recursion_limit", "limit": m.MaxRecursion,
			})
			break
		}
		transitions++

		switch node {
		case nodeArchitect:
			m.invokeBypassed(ctx, m.Architect, s, crashBypassArchitect)
			node = nodeCoder

		case nodeCoder:
			m.invokeBypassed(ctx, m.Coder, s, crashBypassCoder)
			node = nodeReviewer

		case nodeReviewer:
			m.invokeBypassed(ctx, m.Reviewer, s, crashBypassReviewer)
			node = routeAfterReview(s)

		case nodeExecutor:
			m.invokeBypassed(ctx, m.Executor, s, crashBypassExecutor)
			node = routeAfterExecution(s)

		default:
			node = nodeEnd
		}
	}

	m.Bus.Emit(events.TypeComplete, "state_machine", map[string]interface{}{
		"success": s.ExecutionSuccess, "retries": s.ErrorCount,
	})
	return s
}

// routeAfterReview implements: review_passed -> executor; else if
// review_attempts < max_review_attempts -> coder; else -> executor
// (degraded), per SPEC_FULL.md section 4.10. review_attempts has already
// been incremented by Reviewer.Invoke before this check runs, per
// SPEC_FULL.md section 9's Open Question decision.
func routeAfterReview(s *state.OrchestrationState) nodeName {
	if s.ReviewPassed {
		return nodeExecutor
	}
	if s.ReviewAttempts < s.MaxReviewAttempts {
		return nodeCoder
	}
	return nodeExecutor
}

// routeAfterExecution implements: execution_success -> end; else if
// error_count < max_retries -> increment error_count, reset review state,
// -> coder; else -> end.
func routeAfterExecution(s *state.OrchestrationState) nodeName {
	if s.ExecutionSuccess {
		return nodeEnd
	}
	if s.CanRetry() {
		s.ErrorCount++
		s.ReviewAttempts = 0
		s.ReviewPassed = false
		return nodeCoder
	}
	return nodeEnd
}

// invokeBypassed runs agent.Invoke wrapped in the crash-bypass contract:
// an unhandled error becomes a neutral state mutation (supplied by
// onCrash) plus a "bypass" history entry, and the graph continues rather
// than aborting, per SPEC_FULL.md section 4.10.
func (m *StateMachine) invokeBypassed(ctx context.Context, agent agents.Agent, s *state.OrchestrationState, onCrash func(*state.OrchestrationState)) {
	err := agents.RunWithTelemetry(ctx, agent, m.Bus, m.Telemetry, s, agent.Invoke)
	if err == nil {
		return
	}

	m.Logger.Error("agent crashed, applying bypass", map[string]interface{}{
		"agent": agent.Name(), "error": err.Error(),
	})
	onCrash(s)
	s.AddHistory(agent.Name(), "bypass", err.Error())
}

func crashBypassArchitect(s *state.OrchestrationState) {
	s.Plan = &state.Plan{
		ProjectName: "fallback",
		Summary:     s.Task,
		Files:       []state.FileSpec{{Path: "main.py", Description: s.Task}},
		Execution: state.ExecutionPlan{
			Steps:       []state.ExecutionStep{{Cmd: "python3 main.py", Label: "run"}},
			PreviewType: state.PreviewTerminal,
		},
	}
}

func crashBypassReviewer(s *state.OrchestrationState) {
	s.ReviewPassed = true
	s.ReviewFeedback = "review bypassed after agent crash"
}

func crashBypassCoder(s *state.OrchestrationState) {
	s.ExecutionSuccess = false
	s.ExecutionOutput = "coder crashed before producing output"
}

func crashBypassExecutor(s *state.OrchestrationState) {
	s.ExecutionSuccess = false
	s.ExecutionOutput = "executor crashed before completion"
}
