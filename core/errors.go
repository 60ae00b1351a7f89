package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for infrastructure-level failures. Domain-level failures
// (a generated file fails review, a subprocess exits non-zero) are not
// errors in this sense — they are recorded in OrchestrationState and
// classified by the classify package.
var ErrInvalidConfig = errors.New("invalid configuration")

// FrameworkError wraps an infrastructure failure with the operation and
// component that produced it, so logs and error chains stay greppable
// without parsing message strings.
type FrameworkError struct {
	Op      string // e.g. "config.Load", "inference.GetClient"
	Kind    string // coarse category, e.g. "config", "transport", "inference"
	ID      string // optional identifier (run id, agent name, url)
	Message string
	Err     error
}

func (e *FrameworkError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s[%s]: %s: %s", e.Op, e.ID, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Message, e.Err)
}

func (e *FrameworkError) Unwrap() error {
	return e.Err
}

// NewFrameworkError builds a FrameworkError, wrapping err.
func NewFrameworkError(op, kind, id, message string, err error) *FrameworkError {
	return &FrameworkError{Op: op, Kind: kind, ID: id, Message: message, Err: err}
}
