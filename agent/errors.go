package agent

import (
	"errors"
	"fmt"
)

// Kind classifies why an answer could not be produced.
type Kind int

const (
	// Upstream covers vector store and model failures: network, quota, auth.
	Upstream Kind = iota
	// Timeout means the call ran past its deadline.
	Timeout
	// EmptyResponse means the model answered with no text.
	EmptyResponse
)

func (k Kind) String() string {
	switch k {
	case Timeout:
		return "timeout"
	case EmptyResponse:
		return "empty_response"
	default:
		return "upstream"
	}
}

// Error is the only error type returned by Agent.Answer.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "agent: " + e.Kind.String()
	}
	return fmt.Sprintf("agent: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the Kind of err. Errors that are not *Error count as Upstream.
func KindOf(err error) Kind {
	var agentErr *Error
	if errors.As(err, &agentErr) {
		return agentErr.Kind
	}
	return Upstream
}

var errEmptyResponse = errors.New("model returned no text")
