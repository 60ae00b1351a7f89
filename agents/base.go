// Package agents implements the shared agent framework and the four
// concrete pipeline agents described in SPEC_FULL.md sections 4.5-4.9,
// grounded on services/orchestrator/src/agents/{base,architect,coder,
// reviewer,executor}.py.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/arcflow/orchestrator/classify"
	"github.com/arcflow/orchestrator/core"
	"github.com/arcflow/orchestrator/events"
	"github.com/arcflow/orchestrator/inference"
	"github.com/arcflow/orchestrator/state"
	"github.com/arcflow/orchestrator/tools"
)

// mockResponses mirrors base.py's MOCK_RESPONSES: canned output per agent
// name so the pipeline can run end to end without a live inference backend.
var mockResponses = map[string]string{
	"architect": `{"project_name":"demo","summary":"Print hello world","files":[` +
		`{"path":"main.py","description":"Entry point"},` +
		`{"path":"utils.py","description":"Helpers"}],` +
		`"execution":{"steps":[{"cmd":"python main.py","label":"run"}],"preview_type":"terminal"}}`,
	"coder": "```python\nprint(\"hello world\")\n```",
}

// Agent is the shared contract every pipeline node implements.
type Agent interface {
	Name() string
	Invoke(ctx context.Context, s *state.OrchestrationState) error
}

// Base carries the LLM call path, tool plumbing, and telemetry wrapper
// shared by every concrete agent, mirroring BaseAgent in base.py.
type Base struct {
	AgentName    string
	SystemPrompt string

	Inference *inference.Factory
	Tools     *tools.Registry
	Bus       *events.Bus
	Logger    core.Logger
	Telemetry core.Telemetry

	Model      string
	MockLLM    bool
	AgentTimeout time.Duration
}

func (b *Base) Name() string { return b.AgentName }

// RunWithTelemetry wraps an agent's Invoke with agent_start/agent_end/error
// events, an invocation counter and a duration metric, matching base.py's
// run_with_telemetry.
func RunWithTelemetry(ctx context.Context, agent Agent, bus *events.Bus, tel core.Telemetry, s *state.OrchestrationState, invoke func(context.Context, *state.OrchestrationState) error) error {
	ctx, span := tel.StartSpan(ctx, "agent."+agent.Name())
	defer span.End()

	start := time.Now()
	bus.Emit(events.TypeAgentStart, agent.Name(), map[string]interface{}{"task": s.Task})
	s.CurrentAgent = agent.Name()

	err := invoke(ctx, s)
	duration := time.Since(start)
	tel.Counter("agent.invocations", "agent", agent.Name())
	tel.RecordDuration("agent.duration_seconds", duration.Seconds(), "agent", agent.Name())

	if err != nil {
		span.RecordError(err)
		bus.Emit(events.TypeAgentEnd, agent.Name(), map[string]interface{}{"success": false, "duration": duration.Seconds()})
		bus.Emit(events.TypeError, agent.Name(), map[string]interface{}{"message": err.Error()})
		return err
	}
	bus.Emit(events.TypeAgentEnd, agent.Name(), map[string]interface{}{"success": true, "duration": duration.Seconds()})
	return nil
}

// toolCallBlock matches the teacher's fenced ```json {...}``` or
// ```tool {...}``` tool-call shape from base.py's parse_tool_calls.
var toolCallBlock = regexp.MustCompile("(?s)```(?:json|tool)?\\s*(\\{.*?\\})\\s*```")
var toolCallInline = regexp.MustCompile(`\{"tool"\s*:\s*"(\w+)"(?:[^{}]|\{[^{}]*\})*\}`)

// ToolCall is a parsed {"tool": name, "args": {...}} directive from an LLM
// response.
type ToolCall struct {
	Tool string
	Args map[string]interface{}
}

// ParseToolCalls extracts tool-call directives from free-form LLM text,
// checking fenced JSON blocks first and then bare inline JSON objects, per
// base.py's parse_tool_calls.
func ParseToolCalls(response string) []ToolCall {
	var calls []ToolCall
	seen := make(map[string]bool)

	for _, m := range toolCallBlock.FindAllStringSubmatch(response, -1) {
		if tc, ok := decodeToolCall(m[1]); ok {
			key := tc.Tool + fmt.Sprint(tc.Args)
			if !seen[key] {
				seen[key] = true
				calls = append(calls, tc)
			}
		}
	}
	for _, m := range toolCallInline.FindAllString(response, -1) {
		if tc, ok := decodeToolCall(m); ok {
			key := tc.Tool + fmt.Sprint(tc.Args)
			if !seen[key] {
				seen[key] = true
				calls = append(calls, tc)
			}
		}
	}
	return calls
}

func decodeToolCall(raw string) (ToolCall, bool) {
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return ToolCall{}, false
	}
	name, ok := data["tool"].(string)
	if !ok {
		return ToolCall{}, false
	}
	args, _ := data["args"].(map[string]interface{})
	return ToolCall{Tool: name, Args: args}, true
}

// ExecuteTool dispatches a tool call through the agent's registry,
// returning a generic failure result if no registry is attached.
func (b *Base) ExecuteTool(name string, args map[string]interface{}) tools.Result {
	if b.Tools == nil {
		return tools.Result{Success: false, Error: "No tools registered for this agent"}
	}
	return b.Tools.Execute(name, args)
}

// CallLLM issues a single, non-streaming completion, honoring mock mode.
// It mirrors base.py's call_llm: prepend the system prompt, apply the
// agent-level wall clock timeout, and return the accumulated content.
func (b *Base) CallLLM(ctx context.Context, messages []inference.Message, maxTokens int) (string, error) {
	if b.MockLLM {
		if resp, ok := mockResponses[b.AgentName]; ok {
			return resp, nil
		}
		return "Mock response for " + b.AgentName, nil
	}

	ctx, cancel := context.WithTimeout(ctx, b.AgentTimeout)
	defer cancel()

	full := append([]inference.Message{{Role: "system", Content: b.SystemPrompt}}, messages...)
	req := inference.CompletionRequest{
		Messages:    full,
		MaxTokens:   maxTokens,
		Temperature: 0.7,
		Model:       b.Model,
	}

	resp, err := b.Inference.CompleteWithDowngrade(ctx, req)
	if err != nil {
		ce := classify.Classify(err, map[string]interface{}{"agent": b.AgentName})
		if ce.Category == classify.CategoryConnection || ce.Category == classify.CategoryTimeout {
			policy := classify.PolicyFor(ce.Category)
			for attempt := 0; policy.ShouldRetry(attempt, ce); attempt++ {
				b.Bus.Emit(events.TypeRetry, b.AgentName, map[string]interface{}{"attempt": attempt, "category": string(ce.Category)})
				select {
				case <-time.After(policy.GetDelay(attempt)):
				case <-ctx.Done():
					return "", ctx.Err()
				}
				resp, err = b.Inference.CompleteWithDowngrade(ctx, req)
				if err == nil {
					break
				}
				ce = classify.Classify(err, map[string]interface{}{"agent": b.AgentName})
			}
			if err != nil && ce.Category == classify.CategoryConnection {
				b.Bus.Emit(events.TypeRetry, b.AgentName, map[string]interface{}{"queued": true, "category": string(ce.Category)})
				resp, err = b.Inference.EnqueueAndAwait(ctx, req)
			}
		}
		if err != nil {
			return "", err
		}
	}
	return resp.Content, nil
}

// CallLLMStreaming issues a streaming completion, emitting one token event
// per fragment with {token, file_path}, falling back to a non-streaming
// call if the streaming call returns any error (including one after some
// tokens were already emitted) — matching the "streaming variant"
// described in SPEC_FULL.md section 4.5.
func (b *Base) CallLLMStreaming(ctx context.Context, messages []inference.Message, maxTokens int, filePath string) (string, error) {
	if b.MockLLM {
		return b.CallLLM(ctx, messages, maxTokens)
	}

	ctx, cancel := context.WithTimeout(ctx, b.AgentTimeout)
	defer cancel()

	full := append([]inference.Message{{Role: "system", Content: b.SystemPrompt}}, messages...)
	req := inference.CompletionRequest{
		Messages:    full,
		MaxTokens:   maxTokens,
		Temperature: 0.7,
		Stream:      true,
		Model:       b.Model,
	}

	client := b.Inference.GetClient(ctx)
	var accumulated strings.Builder
	err := client.StreamComplete(ctx, req, func(token string) {
		accumulated.WriteString(token)
		b.Bus.Emit(events.TypeToken, b.AgentName, map[string]interface{}{"token": token, "file_path": filePath})
	})
	if err != nil {
		return b.CallLLM(ctx, messages, maxTokens)
	}
	return accumulated.String(), nil
}

// jsonFenceRe and braceRe ground the JSON extraction used both by
// CallLLMWithJSONRetry and by the Architect's plan parser.
var jsonFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ExtractJSONObject finds a JSON object in response text: first a fenced
// ```json block, then the first top-level {...} span, per architect.py's
// _parse_plan.
func ExtractJSONObject(response string) (map[string]interface{}, bool) {
	if m := jsonFenceRe.FindStringSubmatch(response); m != nil {
		var data map[string]interface{}
		if err := json.Unmarshal([]byte(m[1]), &data); err == nil {
			return data, true
		}
	}
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start >= 0 && end > start {
		var data map[string]interface{}
		if err := json.Unmarshal([]byte(response[start:end+1]), &data); err == nil {
			return data, true
		}
	}
	return nil, false
}

// CallLLMWithJSONRetry calls the LLM and parses its response with parse; on
// failure it appends the bad response plus a format-fix prompt and retries
// under the parse retry policy, per base.py/errors.py's reformat strategy.
func (b *Base) CallLLMWithJSONRetry(ctx context.Context, messages []inference.Message, maxTokens int, parse func(string) (map[string]interface{}, error)) (map[string]interface{}, error) {
	policy := classify.ParseRetryPolicy()
	var lastErr error
	attempt := 0
	for {
		response, err := b.CallLLM(ctx, messages, maxTokens)
		if err != nil {
			return nil, err
		}
		parsed, perr := parse(response)
		if perr == nil {
			return parsed, nil
		}
		lastErr = perr
		ce := classify.ClassifyMessage(perr.Error(), perr, map[string]interface{}{"agent": b.AgentName})
		if !policy.ShouldRetry(attempt, ce) {
			return nil, lastErr
		}
		messages = append(messages,
			inference.Message{Role: "assistant", Content: response},
			inference.Message{Role: "user", Content: classify.FixPrompt(ce)},
		)
		attempt++
	}
}

// truncate caps s at n bytes for prompt context inclusion (used by Coder
// when embedding sibling file contents or execution output).
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
