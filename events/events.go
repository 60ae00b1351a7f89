// Package events implements the process-wide event fan-out described in
// SPEC_FULL.md section 4.1, grounded on the original EventBroadcaster
// (services/orchestrator/src/events.py) and generalized from the teacher's
// per-connection websocket broadcast (ui/transports/websocket/websocket.go)
// into a transport-agnostic Sink contract.
package events

import (
	"sync"
	"time"
)

// Type discriminates the kind of event on the wire. Kept as a string enum
// per SPEC_FULL.md's re-architecture guidance for the python original's
// dynamic dict-shaped events.
type Type string

const (
	TypeAgentStart    Type = "agent_start"
	TypeAgentEnd      Type = "agent_end"
	TypeToken         Type = "token"
	TypeCodeWritten   Type = "code_written"
	TypeFileCreated   Type = "file_created"
	TypeExecution     Type = "execution"
	TypeExecutionStep Type = "execution_step"
	TypeRetry         Type = "retry"
	TypeError         Type = "error"
	TypeComplete      Type = "complete"
	TypePlanCreated   Type = "plan_created"
	TypeToolExecuted  Type = "tool_executed"
	TypeCodeReviewed  Type = "code_reviewed"
)

// Event is the wire envelope described in SPEC_FULL.md section 6.
type Event struct {
	Type      Type                   `json:"type"`
	Agent     string                 `json:"agent"`
	Timestamp float64                `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Sink receives events. A Sink must not block indefinitely — Emit gives it
// exactly one delivery attempt and drops it (unsubscribing the sink) on
// failure, mirroring events.py's try/except-then-discard behaviour.
type Sink interface {
	// Send delivers one event. A non-nil error causes the bus to remove
	// this sink from future deliveries.
	Send(Event) error
}

// SinkFunc adapts a plain function to a Sink.
type SinkFunc func(Event) error

func (f SinkFunc) Send(e Event) error { return f(e) }

// Bus is the process-wide fan-out channel. The zero value is not usable;
// use New().
type Bus struct {
	mu    sync.RWMutex
	sinks map[Sink]struct{}
}

// New creates an empty event Bus.
func New() *Bus {
	return &Bus{sinks: make(map[Sink]struct{})}
}

// Subscribe registers a sink to receive future events.
func (b *Bus) Subscribe(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks[s] = struct{}{}
}

// Unsubscribe removes a sink. Safe to call even if s was never subscribed
// or was already removed by a failed delivery.
func (b *Bus) Unsubscribe(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sinks, s)
}

// SubscriberCount reports the number of currently registered sinks.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sinks)
}

// Emit delivers event to every subscribed sink, one send attempt each. A
// sink whose Send returns an error is removed; other sinks are unaffected.
// The subscriber list is copied under the lock and iterated outside it, so
// a sink that unsubscribes itself (or another sink) during delivery can't
// deadlock or corrupt the map — the same shape as events.py's
// `for sink in list(self._sinks)`.
func (b *Bus) Emit(eventType Type, agent string, data map[string]interface{}) {
	event := Event{
		Type:      eventType,
		Agent:     agent,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
		Data:      data,
	}

	b.mu.RLock()
	sinks := make([]Sink, 0, len(b.sinks))
	for s := range b.sinks {
		sinks = append(sinks, s)
	}
	b.mu.RUnlock()

	var failed []Sink
	for _, s := range sinks {
		if err := s.Send(event); err != nil {
			failed = append(failed, s)
		}
	}

	if len(failed) == 0 {
		return
	}
	b.mu.Lock()
	for _, s := range failed {
		delete(b.sinks, s)
	}
	b.mu.Unlock()
}

// EmitExecution is a convenience wrapper mirroring events.py's
// emit_execution helper: it shapes the {success, output, exit_code} payload
// used by both the legacy single-file path and the plan-driven Executor.
func (b *Bus) EmitExecution(agent string, success bool, output string, exitCode int) {
	b.Emit(TypeExecution, agent, map[string]interface{}{
		"success":   success,
		"output":    output,
		"exit_code": exitCode,
	})
}
