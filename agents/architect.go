package agents

import (
	"context"
	"fmt"

	"github.com/arcflow/orchestrator/events"
	"github.com/arcflow/orchestrator/inference"
	"github.com/arcflow/orchestrator/state"
)

const architectSystemPrompt = `You are an expert software architect and task planner.

Given a coding task, you will:
1. Analyze the requirements
2. Optionally use tools to search/read existing code
3. Produce a structured project plan

## Available Tools

You can use tools by outputting a JSON block:
` + "```json" + `
{"tool": "grep", "args": {"pattern": "def function_name"}}
` + "```" + `

**grep** - Search files for patterns
**read_file** - Read file contents

After tool results, continue planning.

## Output Format

When ready, output ONLY this JSON shape with no extra text:
` + "```json" + `
{
  "project_name": "short-name",
  "summary": "Brief description of overall approach",
  "files": [{"path": "main.py", "description": "what it does"}],
  "execution": {
    "steps": [{"cmd": "python main.py", "label": "run", "background": false, "port": null, "requires_approval": false}],
    "preview_type": "terminal",
    "preview_url": ""
  }
}
` + "```" + `

Emit at least two files. Order files by dependency.`

const maxToolIterations = 3

// Architect produces the project plan that drives Coder and Executor,
// grounded on agents/architect.py's ArchitectAgent.
type Architect struct {
	Base
}

// NewArchitect builds an Architect wired to the shared infrastructure.
func NewArchitect(b Base) *Architect {
	b.AgentName = "architect"
	b.SystemPrompt = architectSystemPrompt
	return &Architect{Base: b}
}

func (a *Architect) Invoke(ctx context.Context, s *state.OrchestrationState) error {
	messages := []inference.Message{
		{Role: "user", Content: "Create an execution plan for this task:\n\n" + s.Task},
	}

	var response string
	var err error
	for iter := 0; iter < maxToolIterations; iter++ {
		response, err = a.CallLLM(ctx, messages, 1024)
		if err != nil {
			return err
		}

		calls := ParseToolCalls(response)
		if len(calls) == 0 {
			break
		}

		var toolContext []string
		for _, call := range calls {
			result := a.ExecuteTool(call.Tool, call.Args)
			output := result.Output
			if !result.Success {
				output = "Error: " + result.Error
			}
			toolContext = append(toolContext, fmt.Sprintf("Tool: %s\nResult:\n%s", call.Tool, output))
			a.Bus.Emit(events.TypeToolExecuted, a.AgentName, map[string]interface{}{
				"tool": call.Tool, "success": result.Success,
			})
		}

		messages = append(messages,
			inference.Message{Role: "assistant", Content: response},
			inference.Message{Role: "user", Content: "Tool results:\n\n" + joinSections(toolContext) +
				"\n\nNow continue with your analysis and output the final plan."},
		)
	}

	plan := parsePlan(response)
	if plan == nil {
		plan = fallbackPlan(s.Task)
		a.Logger.Warn("architect failed to parse plan, using fallback", map[string]interface{}{})
	}

	a.Bus.Emit(events.TypePlanCreated, a.AgentName, map[string]interface{}{
		"file_count": len(plan.Files),
		"step_count": len(plan.Execution.Steps),
	})

	s.Plan = plan
	s.CurrentFileIndex = 0
	s.AddHistory(a.AgentName, "plan", fmt.Sprintf("Created plan with %d files", len(plan.Files)))
	return nil
}

func joinSections(sections []string) string {
	out := ""
	for i, sec := range sections {
		if i > 0 {
			out += "\n\n---\n\n"
		}
		out += sec
	}
	return out
}

// parsePlan decodes the Architect's JSON plan, rejecting anything without a
// files key, per architect.py's _parse_plan (adapted to SPEC_FULL.md's
// richer files/execution schema).
func parsePlan(response string) *state.Plan {
	data, ok := ExtractJSONObject(response)
	if !ok {
		return nil
	}
	rawFiles, ok := data["files"].([]interface{})
	if !ok || len(rawFiles) == 0 {
		return nil
	}

	plan := &state.Plan{
		ProjectName: stringField(data, "project_name"),
		Summary:     stringField(data, "summary"),
	}
	for _, rf := range rawFiles {
		fm, ok := rf.(map[string]interface{})
		if !ok {
			continue
		}
		plan.Files = append(plan.Files, state.FileSpec{
			Path:        stringField(fm, "path"),
			Description: stringField(fm, "description"),
		})
	}
	if len(plan.Files) < 2 {
		return nil
	}

	if exec, ok := data["execution"].(map[string]interface{}); ok {
		plan.Execution.PreviewType = state.PreviewType(stringField(exec, "preview_type"))
		plan.Execution.PreviewURL = stringField(exec, "preview_url")
		if rawSteps, ok := exec["steps"].([]interface{}); ok {
			for _, rs := range rawSteps {
				sm, ok := rs.(map[string]interface{})
				if !ok {
					continue
				}
				step := state.ExecutionStep{
					Cmd:              stringField(sm, "cmd"),
					Label:            stringField(sm, "label"),
					Background:       boolField(sm, "background"),
					RequiresApproval: boolField(sm, "requires_approval"),
				}
				if port, ok := sm["port"].(float64); ok {
					step.Port = int(port)
				}
				plan.Execution.Steps = append(plan.Execution.Steps, step)
			}
		}
	}
	if plan.Execution.PreviewType == "" {
		plan.Execution.PreviewType = state.PreviewNone
	}
	return plan
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func boolField(m map[string]interface{}, key string) bool {
	b, _ := m[key].(bool)
	return b
}

// fallbackPlan is architect.py's _parse_plan fallback, adapted to
// SPEC_FULL.md's two-significant-file minimum: the task as a single
// main.py plus a utils.py, per SPEC_FULL.md section 4.6.
func fallbackPlan(task string) *state.Plan {
	return &state.Plan{
		ProjectName: "fallback",
		Summary:     task,
		Files: []state.FileSpec{
			{Path: "main.py", Description: task},
			{Path: "utils.py", Description: "Supporting helpers"},
		},
		Execution: state.ExecutionPlan{
			Steps:       []state.ExecutionStep{{Cmd: "python main.py", Label: "run"}},
			PreviewType: state.PreviewTerminal,
		},
	}
}
