package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSessionNotFound is returned when acting on a session that does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists is returned when creating a session whose ID is taken.
	ErrSessionExists = errors.New("session already exists")
	// ErrInvalidSession is returned when a session ID or agent roster is unusable.
	ErrInvalidSession = errors.New("invalid session")
	// ErrEmptyMessage is returned when posting an empty user message.
	ErrEmptyMessage = errors.New("empty message")
	// ErrSessionLimit is returned when the session cap is reached and no idle
	// session can be evicted.
	ErrSessionLimit = errors.New("session limit reached")
	// ErrGeneration matches any turn rejected because an agent failed to respond.
	ErrGeneration = errors.New("generation failed")

	// errStaleSession signals that a session state was evicted while a caller
	// waited for it; the caller should look the session up again.
	errStaleSession = errors.New("stale session state")
)

// AgentError records the failure of one agent during a turn.
type AgentError struct {
	AgentID string
	Err     error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent %s: %v", e.AgentID, e.Err)
}

func (e *AgentError) Unwrap() error { return e.Err }

// TurnError is returned when a turn is rejected. No part of the turn is
// committed to history.
type TurnError struct {
	SessionID string
	Agents    []*AgentError
}

func (e *TurnError) Error() string {
	parts := make([]string, len(e.Agents))
	for i, a := range e.Agents {
		parts[i] = a.Error()
	}
	return fmt.Sprintf("%s for session %s: %s", ErrGeneration, e.SessionID, strings.Join(parts, "; "))
}

// Is reports ErrGeneration.
func (e *TurnError) Is(target error) bool { return target == ErrGeneration }

// Unwrap exposes every agent failure to errors.Is and errors.As.
func (e *TurnError) Unwrap() []error {
	out := make([]error, len(e.Agents))
	for i, a := range e.Agents {
		out[i] = a
	}
	return out
}

// newTurnError aggregates per-agent failures. Cancellations caused by a
// sibling's failure are dropped unless the caller's own context ended.
func newTurnError(ctx context.Context, sessionID string, errs []*AgentError) *TurnError {
	te := &TurnError{SessionID: sessionID}
	var cancelled []*AgentError
	for _, e := range errs {
		if e == nil {
			continue
		}
		if ctx.Err() == nil && errors.Is(e.Err, context.Canceled) {
			cancelled = append(cancelled, e)
			continue
		}
		te.Agents = append(te.Agents, e)
	}
	if len(te.Agents) == 0 {
		te.Agents = cancelled
	}
	return te
}
