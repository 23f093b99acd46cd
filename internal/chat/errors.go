package chat

import "errors"

// Errors surfaced across the session boundary. Sites wrap them with context;
// match with errors.Is.
var (
	ErrValidation             = errors.New("validation failed")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrAuthServiceUnavailable = errors.New("auth service unavailable")
	ErrConnection             = errors.New("connection error")
	ErrNotJoined              = errors.New("not joined")
	ErrNotConnected           = errors.New("not connected")
)
