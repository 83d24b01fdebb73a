// Package agent implements the reasoning loop and its supporting pieces:
// conversation memory, the concurrent tool execution engine, and the
// process-wide instance manager.
package agent

import (
	"errors"
	"fmt"
)

// ErrMaxSteps is returned when a run exhausts its step budget without the
// provider finishing the turn.
var ErrMaxSteps = errors.New("agent: max steps exceeded")

// AgentError wraps any failure escaping a run with the agent and run that
// produced it.
type AgentError struct {
	AgentID string
	RunID   string
	Cause   error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent %s run %s: %v", e.AgentID, e.RunID, e.Cause)
}

func (e *AgentError) Unwrap() error {
	return e.Cause
}

// IsMaxSteps reports whether err is a step-budget exhaustion, possibly
// wrapped in an AgentError.
func IsMaxSteps(err error) bool {
	return errors.Is(err, ErrMaxSteps)
}
