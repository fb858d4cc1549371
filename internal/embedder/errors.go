package embedder

import (
	"errors"
	"fmt"
)

// ErrorKind classifies embedding-service failures.
type ErrorKind int

const (
	RateLimited ErrorKind = iota
	InvalidInput
	ServiceUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case RateLimited:
		return "rate limited"
	case InvalidInput:
		return "invalid input"
	case ServiceUnavailable:
		return "service unavailable"
	}
	return "unknown"
}

// Error is a classified embedding-service failure.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Msg        string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("embed: %s (status %d): %s", e.Kind, e.StatusCode, e.Msg)
	}
	return fmt.Sprintf("embed: %s: %s", e.Kind, e.Msg)
}

// Transient reports whether retrying the same request may succeed.
// InvalidInput never recovers by retrying.
func (e *Error) Transient() bool {
	return e.Kind == RateLimited || e.Kind == ServiceUnavailable
}

// IsTransient reports whether err is a retryable embedding-service failure.
func IsTransient(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Transient()
}

func errorFromStatus(status int, body string) *Error {
	kind := ServiceUnavailable
	switch {
	case status == 429:
		kind = RateLimited
	case status >= 400 && status < 500:
		kind = InvalidInput
	}
	return &Error{Kind: kind, StatusCode: status, Msg: body}
}
