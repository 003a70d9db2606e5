package orchestrator

import "errors"

// Sentinel errors the HTTP layer maps to status codes.
var (
	// ErrInvalidInput covers empty or malformed questions (400).
	ErrInvalidInput = errors.New("invalid input")
	// ErrTimeout means the total deadline expired with nothing usable (408).
	ErrTimeout = errors.New("request timeout")
	// ErrUpstream means a required collaborator is unavailable (503).
	ErrUpstream = errors.New("upstream unavailable")
	// ErrSaturated means the admission queue rejected the request (503).
	ErrSaturated = errors.New("server saturated")
)
