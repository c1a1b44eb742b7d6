package session

import (
	"errors"
	"fmt"
)

// Sentinel errors for the session package.
var (
	// ErrMissingAgentID indicates no agent was configured.
	ErrMissingAgentID = errors.New("session: agent ID is required")

	// ErrNotConnected indicates the provider is not connected.
	ErrNotConnected = errors.New("session: not connected")

	// ErrAlreadyConnected indicates Connect was called on a live provider.
	ErrAlreadyConnected = errors.New("session: already connected")

	// ErrAlreadyActive indicates Start was called while a session is live.
	ErrAlreadyActive = errors.New("session: already active")
)

// ConnectionError is a transport failure talking to the agent service.
type ConnectionError struct {
	Message   string
	Err       error
	Retryable bool
}

// NewConnectionError creates a ConnectionError.
func NewConnectionError(message string, err error, retryable bool) *ConnectionError {
	return &ConnectionError{Message: message, Err: err, Retryable: retryable}
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session: connection error: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("session: connection error: %s", e.Message)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the user can simply try again.
func (e *ConnectionError) IsRetryable() bool {
	return e.Retryable
}

// APIError is an error event reported by the agent service.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("session: API error [%s]: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("session: API error: %s", e.Message)
}

// SessionError is returned by Start and End. Its text is what the user sees.
type SessionError struct {
	Op  string
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s failed: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr.IsRetryable()
	}
	return false
}
