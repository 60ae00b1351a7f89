package agents

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/arcflow/orchestrator/core"
	"github.com/arcflow/orchestrator/events"
	"github.com/arcflow/orchestrator/inference"
)

func newTestBus() *events.Bus {
	return events.New()
}

func TestParseToolCalls_FencedJSONBlock(t *testing.T) {
	response := "Let me check.\n```json\n{\"tool\": \"grep\", \"args\": {\"pattern\": \"foo\"}}\n```\n"
	calls := ParseToolCalls(response)
	if len(calls) != 1 || calls[0].Tool != "grep" {
		t.Fatalf("expected 1 grep call, got %+v", calls)
	}
	if calls[0].Args["pattern"] != "foo" {
		t.Errorf("unexpected args: %+v", calls[0].Args)
	}
}

func TestParseToolCalls_InlineJSON(t *testing.T) {
	response := `I'll run {"tool": "read_file", "args": {"path": "main.go"}} now.`
	calls := ParseToolCalls(response)
	if len(calls) != 1 || calls[0].Tool != "read_file" {
		t.Fatalf("expected 1 read_file call, got %+v", calls)
	}
}

func TestParseToolCalls_DedupsIdenticalCalls(t *testing.T) {
	response := "```json\n{\"tool\": \"grep\", \"args\": {\"pattern\": \"foo\"}}\n```\n" +
		"```json\n{\"tool\": \"grep\", \"args\": {\"pattern\": \"foo\"}}\n```\n"
	calls := ParseToolCalls(response)
	if len(calls) != 1 {
		t.Errorf("expected duplicate identical calls to collapse to 1, got %d", len(calls))
	}
}

func TestParseToolCalls_NoMatchesReturnsNil(t *testing.T) {
	calls := ParseToolCalls("just a plain response with no tool calls")
	if len(calls) != 0 {
		t.Errorf("expected no tool calls, got %+v", calls)
	}
}

func TestExtractJSONObject_FencedBlock(t *testing.T) {
	response := "Here's the plan:\n```json\n{\"project_name\": \"demo\"}\n```\n"
	data, ok := ExtractJSONObject(response)
	if !ok || data["project_name"] != "demo" {
		t.Errorf("ExtractJSONObject() = %+v, %v", data, ok)
	}
}

func TestExtractJSONObject_BareBraceScan(t *testing.T) {
	response := `some preamble {"project_name": "demo"} trailing text`
	data, ok := ExtractJSONObject(response)
	if !ok || data["project_name"] != "demo" {
		t.Errorf("ExtractJSONObject() = %+v, %v", data, ok)
	}
}

func TestExtractJSONObject_NoJSONReturnsFalse(t *testing.T) {
	_, ok := ExtractJSONObject("no json here at all")
	if ok {
		t.Error("expected ExtractJSONObject to fail when there is no JSON")
	}
}

func TestCallLLMWithJSONRetry_SucceedsFirstTry(t *testing.T) {
	b := &Base{AgentName: "tester", MockLLM: true, Bus: newTestBus()}

	calls := 0
	parse := func(response string) (map[string]interface{}, error) {
		calls++
		return map[string]interface{}{"response": response}, nil
	}

	result, err := b.CallLLMWithJSONRetry(context.Background(), nil, 0, parse)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected parse to be called once on immediate success, got %d", calls)
	}
	if result["response"] == nil {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestCallLLMWithJSONRetry_RetriesThenGivesUp(t *testing.T) {
	b := &Base{AgentName: "tester", MockLLM: true, Bus: newTestBus()}

	calls := 0
	parse := func(response string) (map[string]interface{}, error) {
		calls++
		return nil, errors.New("invalid character 'x' looking for beginning of value")
	}

	_, err := b.CallLLMWithJSONRetry(context.Background(), nil, 0, parse)
	if err == nil {
		t.Fatal("expected an error after exhausting the parse retry policy")
	}
	// ParseRetryPolicy allows attempts 0 and 1 to retry, then gives up at
	// attempt 2 (MaxRetries=2), so parse runs 3 times total.
	if calls != 3 {
		t.Errorf("expected 3 parse attempts, got %d", calls)
	}
}

func TestCallLLMWithJSONRetry_AbortStrategyGivesUpImmediately(t *testing.T) {
	b := &Base{AgentName: "tester", MockLLM: true, Bus: newTestBus()}

	calls := 0
	parse := func(response string) (map[string]interface{}, error) {
		calls++
		return nil, errors.New("totally unrecognized failure shape")
	}

	_, err := b.CallLLMWithJSONRetry(context.Background(), nil, 0, parse)
	if err == nil {
		t.Fatal("expected an error")
	}
	if calls != 1 {
		t.Errorf("expected an unclassifiable (abort) error to give up after 1 attempt, got %d", calls)
	}
}

// countingSink counts delivered events by type, for asserting on the retry
// loop's emitted events without depending on timing.
type countingSink struct {
	mu     sync.Mutex
	counts map[events.Type]int
}

func newCountingSink() *countingSink {
	return &countingSink{counts: make(map[events.Type]int)}
}

func (c *countingSink) Send(e events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[e.Type]++
	return nil
}

func (c *countingSink) count(t events.Type) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[t]
}

func TestCallLLM_RetriesOnTimeoutClassifiedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	bus := newTestBus()
	sink := newCountingSink()
	bus.Subscribe(sink)

	factory := inference.NewFactory(srv.URL, "", inference.RuntimeAuto, 10*time.Millisecond, core.NoOpTelemetry{}, core.NoOpLogger{})
	b := &Base{
		AgentName: "tester", Bus: bus, Inference: factory,
		AgentTimeout: 80 * time.Millisecond, Logger: core.NoOpLogger{},
	}

	_, err := b.CallLLM(context.Background(), nil, 10)
	if err == nil {
		t.Fatal("expected an error once the agent timeout elapses")
	}
	if sink.count(events.TypeRetry) == 0 {
		t.Error("expected a timeout-classified inference error to enter the retry loop and emit a retry event")
	}
}

func TestCallLLM_ConnectionErrorEntersRetryLoop(t *testing.T) {
	bus := newTestBus()
	sink := newCountingSink()
	bus.Subscribe(sink)

	// Nothing listens on this port, so every dial attempt fails immediately
	// with a connection-refused error, classified as CategoryConnection.
	factory := inference.NewFactory("http://127.0.0.1:1", "", inference.RuntimeAuto, 10*time.Millisecond, core.NoOpTelemetry{}, core.NoOpLogger{})
	b := &Base{
		AgentName: "tester", Bus: bus, Inference: factory,
		AgentTimeout: 60 * time.Millisecond, Logger: core.NoOpLogger{},
	}

	_, err := b.CallLLM(context.Background(), nil, 10)
	if err == nil {
		t.Fatal("expected an error once the agent timeout elapses")
	}
	if sink.count(events.TypeRetry) == 0 {
		t.Error("expected a connection-classified inference error to enter the retry loop and emit a retry event")
	}
}
