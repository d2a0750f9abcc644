package gateway

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kitbuilder587/genstream/internal/llm"
)

var ErrExhausted = errors.New("all credentials failed")

type Status int

const (
	StatusSucceeded Status = iota
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Result is the outcome of a logical request that did not fail. A cancelled
// result carries no text; fragments delivered before cancellation belong to
// the caller.
type Result struct {
	Status Status
	Text   string

	FinishReason llm.FinishReason
	// Truncated is set when the provider stopped on its output limit.
	Truncated bool

	CredentialIndex int
	// Calls counts every network call made, fallback included.
	Calls    int
	Fallback bool

	RequestID string
	Duration  time.Duration
}

func (r *Result) Cancelled() bool { return r.Status == StatusCancelled }

// CredentialFailure is the reason one credential was given up on.
type CredentialFailure struct {
	Index    int
	Key      string // redacted
	Attempts int
	Err      error
}

func (f CredentialFailure) Kind() llm.ErrorKind { return llm.KindOf(f.Err) }

func (f CredentialFailure) String() string {
	s := fmt.Sprintf("key %s: %v", f.Key, f.Err)
	if f.Attempts > 1 {
		s += fmt.Sprintf(" (after %d attempts)", f.Attempts)
	}
	return s
}

// AggregateError is returned once every credential failed. It lists one
// failure per credential in the order they were tried.
type AggregateError struct {
	Failures []CredentialFailure
}

func (e *AggregateError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.String())
	}
	return "generation failed: " + strings.Join(parts, " | ")
}

func (e *AggregateError) Is(target error) bool { return target == ErrExhausted }

func (e *AggregateError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
