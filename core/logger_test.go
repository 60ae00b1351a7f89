package core

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func newTestLogger(format string) (*ProductionLogger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	l := &ProductionLogger{level: "info", format: format, output: buf, component: "test"}
	return l, buf
}

func TestProductionLogger_JSONFormat(t *testing.T) {
	l, buf := newTestLogger("json")
	l.Info("hello", map[string]interface{}{"key": "value"})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON line, got %q: %v", buf.String(), err)
	}
	if entry["message"] != "hello" || entry["level"] != "INFO" || entry["component"] != "test" || entry["key"] != "value" {
		t.Errorf("unexpected entry: %+v", entry)
	}
}

func TestProductionLogger_TextFormat(t *testing.T) {
	l, buf := newTestLogger("text")
	l.Warn("careful", map[string]interface{}{"n": 3})

	line := buf.String()
	if !strings.Contains(line, "[WARN]") || !strings.Contains(line, "[test]") || !strings.Contains(line, "careful") || !strings.Contains(line, "n=3") {
		t.Errorf("unexpected text line: %q", line)
	}
}

func TestProductionLogger_DebugSuppressedUnlessEnabled(t *testing.T) {
	l, buf := newTestLogger("json")
	l.Debug("should not appear", nil)
	if buf.Len() != 0 {
		t.Errorf("expected debug to be suppressed at info level, got: %q", buf.String())
	}

	l.debug = true
	l.Debug("should appear", nil)
	if buf.Len() == 0 {
		t.Error("expected debug to be emitted once enabled")
	}
}

func TestProductionLogger_WithComponentClonesInsteadOfMutating(t *testing.T) {
	l, buf := newTestLogger("json")
	scoped := l.WithComponent("scoped")

	scoped.Info("from scoped", nil)
	l.Info("from original", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}
	var first, second map[string]interface{}
	json.Unmarshal([]byte(lines[0]), &first)
	json.Unmarshal([]byte(lines[1]), &second)
	if first["component"] != "scoped" || second["component"] != "test" {
		t.Errorf("expected WithComponent to not affect the original logger, got %+v then %+v", first, second)
	}
}

func TestProductionLogger_WithContextEmbedsRequestID(t *testing.T) {
	l, buf := newTestLogger("json")
	ctx := WithRequestID(context.Background(), "run-123")
	l.InfoWithContext(ctx, "handled", nil)

	var entry map[string]interface{}
	json.Unmarshal(buf.Bytes(), &entry)
	if entry["request_id"] != "run-123" {
		t.Errorf("expected request_id to be embedded, got %+v", entry)
	}
}

func TestNewProductionLogger_StderrOutput(t *testing.T) {
	l := NewProductionLogger(LoggingConfig{Level: "info", Format: "json", Output: "stderr"}, "svc")
	if l == nil {
		t.Fatal("expected a non-nil logger")
	}
}
