// Package common provides shared constants, types, and utilities
// used across the VPN Rotator application.
package common

import "errors"

// Sentinel errors for rotation operations.
// These can be checked with errors.Is() for proper error handling.
var (
	// Tunnel process errors.
	ErrTerminateFailed   = errors.New("tunnel process still running after stop broadcast")
	ErrConnectionFailed  = errors.New("tunnel failed to initialize")
	ErrAttemptsExhausted = errors.New("reconnect attempts exhausted")

	// Address resolution errors.
	ErrNoAddress      = errors.New("no public IPv4 address obtained")
	ErrInvalidAddress = errors.New("response is not a valid IPv4 address")

	// Credential errors.
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidAuthFile     = errors.New("invalid credential file")

	// Configuration errors.
	ErrConfigLoad = errors.New("failed to load configuration")

	// Permission errors.
	ErrRootRequired = errors.New("root privileges required")
)

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return &wrappedError{
		msg: message,
		err: err,
	}
}

type wrappedError struct {
	msg string
	err error
}

func (e *wrappedError) Error() string {
	return e.msg + ": " + e.err.Error()
}

func (e *wrappedError) Unwrap() error {
	return e.err
}
