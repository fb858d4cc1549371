package llm

import "fmt"

// ErrorKind classifies LLM-provider failures.
type ErrorKind int

const (
	RateLimited ErrorKind = iota
	ContentFiltered
	ServiceUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case RateLimited:
		return "rate limited"
	case ContentFiltered:
		return "content filtered"
	case ServiceUnavailable:
		return "service unavailable"
	}
	return "unknown"
}

// Error is a classified LLM-provider failure.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Msg        string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm: %s (status %d): %s", e.Kind, e.StatusCode, e.Msg)
	}
	return fmt.Sprintf("llm: %s: %s", e.Kind, e.Msg)
}

func errorFromStatus(status int, body string) *Error {
	kind := ServiceUnavailable
	switch status {
	case 429:
		kind = RateLimited
	case 403, 451:
		kind = ContentFiltered
	}
	return &Error{Kind: kind, StatusCode: status, Msg: body}
}
