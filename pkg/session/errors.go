package session

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNoSession is returned when an operation needs a session and none is stored.
	ErrNoSession = errors.New("no session")
	// ErrSessionSuperseded is returned when a refresh completed after the session
	// it started from was cleared or replaced. Its result has been discarded.
	ErrSessionSuperseded = errors.New("session superseded during refresh")
	// ErrRefreshThrottled is returned when the refresh rate limit is exhausted.
	ErrRefreshThrottled = errors.New("refresh throttled")
	// ErrInvalidTokenPair is returned for a pair missing one of its tokens.
	ErrInvalidTokenPair = errors.New("invalid token pair")
)

// ErrorKind tells callers whether an identity bridge failure may go away by
// retrying later.
type ErrorKind int

const (
	// Retryable covers transient failures: network errors, timeouts, 5xx.
	Retryable ErrorKind = iota + 1
	// Terminal covers an invalid, expired or revoked credential.
	Terminal
)

func (k ErrorKind) String() string {
	switch k {
	case Retryable:
		return "retryable"
	case Terminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// AuthError is the error type returned by an IdentityBridge.
type AuthError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Op, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// NewRetryableError wraps err as a Retryable failure of op.
func NewRetryableError(op string, err error) *AuthError {
	return &AuthError{Kind: Retryable, Op: op, Err: err}
}

// NewTerminalError wraps err as a Terminal failure of op.
func NewTerminalError(op string, err error) *AuthError {
	return &AuthError{Kind: Terminal, Op: op, Err: err}
}

// IsTerminal reports whether err carries a Terminal AuthError.
func IsTerminal(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr) && authErr.Kind == Terminal
}

// IsRetryable reports whether err carries a Retryable AuthError.
func IsRetryable(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr) && authErr.Kind == Retryable
}

// classify normalises whatever a bridge returned into an *AuthError.
// Anything the bridge did not tag, including timeouts, is Retryable.
func classify(op string, err error) *AuthError {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewRetryableError(op, fmt.Errorf("bridge timed out: %w", err))
	}

	return NewRetryableError(op, err)
}
