package session

import (
	"context"
	"errors"
	"net"
)

var (
	// ErrNoSession is returned when an operation needs a session and none is held.
	ErrNoSession = errors.New("no session")
	// ErrSuperseded is returned by a refresh whose result was discarded because
	// a newer refresh, sign-in, or discard committed first.
	ErrSuperseded = errors.New("refresh superseded")
	// ErrInvalidCredentials is wrapped by the AuthError a provider returns
	// when sign-in credentials are rejected.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// Kind sentinels matched by AuthError.Is.
	ErrExpired        = errors.New("session expired")
	ErrRevoked        = errors.New("session revoked")
	ErrNetworkFailure = errors.New("identity provider unreachable")
	ErrUnknown        = errors.New("identity provider error")
)

// AuthErrorKind classifies identity provider failures.
type AuthErrorKind int

const (
	Unknown AuthErrorKind = iota
	Expired
	Revoked
	NetworkFailure
)

func (k AuthErrorKind) String() string {
	switch k {
	case Expired:
		return "expired"
	case Revoked:
		return "revoked"
	case NetworkFailure:
		return "network_failure"
	}
	return "unknown"
}

// AuthError is a classified identity provider failure.
type AuthError struct {
	Kind AuthErrorKind
	// Status is the provider's HTTP status when one was received.
	Status int
	Err    error
}

func (e *AuthError) Error() string {
	msg := "auth " + e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is matches the kind sentinels.
func (e *AuthError) Is(target error) bool {
	switch target {
	case ErrExpired:
		return e.Kind == Expired
	case ErrRevoked:
		return e.Kind == Revoked
	case ErrNetworkFailure:
		return e.Kind == NetworkFailure
	case ErrUnknown:
		return e.Kind == Unknown
	}
	return false
}

// Retryable reports whether the failure may succeed on retry.
func (e *AuthError) Retryable() bool { return e.Kind == NetworkFailure }

// Classify returns err as an *AuthError. Errors that are already classified
// pass through; transport errors become NetworkFailure; anything else is
// Unknown.
func Classify(err error) *AuthError {
	if err == nil {
		return nil
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return &AuthError{Kind: NetworkFailure, Err: err}
	}
	return &AuthError{Kind: Unknown, Err: err}
}

// KindOf returns the kind of err, or Unknown when err is not an AuthError.
func KindOf(err error) AuthErrorKind {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return Unknown
}
