package domain

import "errors"

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadRequest   = errors.New("bad request")
)

// Auth taxonomy. ErrInvalidCredentials and ErrUserLocked are returned bare
// (never wrapped) so an unknown login and a wrong password produce
// bit-identical outcomes.
var (
	ErrInvalidCredentials = errors.New("incorrect username or password")
	ErrUserLocked         = errors.New("user is locked")
	ErrUsernameReserved   = errors.New("username is reserved")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidToken       = errors.New("invalid token")
)
