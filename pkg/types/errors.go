package types

import "errors"

var (
	ErrInvalidUserID  = errors.New("user ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidPayload = errors.New("message payload failed validation")
	ErrInvalidRole    = errors.New("role must be Student, Counselor or Admin")
)
