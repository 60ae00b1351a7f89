package core

import (
	"errors"
	"strings"
	"testing"
)

func TestFrameworkError_ErrorIncludesOpAndMessage(t *testing.T) {
	err := NewFrameworkError("Config.Validate", "config", "", "workspace_dir must not be empty", ErrInvalidConfig)
	if !strings.Contains(err.Error(), "Config.Validate") || !strings.Contains(err.Error(), "workspace_dir must not be empty") {
		t.Errorf("unexpected error string: %q", err.Error())
	}
}

func TestFrameworkError_ErrorIncludesIDWhenSet(t *testing.T) {
	err := NewFrameworkError("inference.GetClient", "inference", "http://host:8000", "unreachable", errors.New("dial refused"))
	if !strings.Contains(err.Error(), "http://host:8000") {
		t.Errorf("expected ID to appear in error string, got %q", err.Error())
	}
}

func TestFrameworkError_UnwrapReturnsUnderlying(t *testing.T) {
	underlying := errors.New("boom")
	err := NewFrameworkError("op", "kind", "", "failed", underlying)
	if !errors.Is(err, underlying) {
		t.Error("expected errors.Is to find the wrapped underlying error")
	}
}

func TestFrameworkError_IsInvalidConfig(t *testing.T) {
	err := NewFrameworkError("Config.Validate", "config", "", "bad", ErrInvalidConfig)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Error("expected errors.Is to match ErrInvalidConfig through the wrapper")
	}
}
