package voiceflow

import "errors"

// Common errors for history store operations.
var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrInvalidStoreType = errors.New("invalid store type")
	ErrVersionConflict  = errors.New("history version conflict")
	ErrNotFound         = errors.New("history not found")
)

// Errors surfaced at the session and transport boundaries.
var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionExists     = errors.New("session already exists")
	ErrSessionTerminated = errors.New("session terminated")
	ErrAgentNotFound     = errors.New("agent not found")
	ErrTransportClosed   = errors.New("transport closed")
)
