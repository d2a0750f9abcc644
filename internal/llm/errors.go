package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration"
	KindTimeout       ErrorKind = "timeout"
	KindTransport     ErrorKind = "transport"
	KindProtocol      ErrorKind = "protocol"
)

// Error is an attempt-level failure with its classification.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// KindOf classifies any error returned by a transport or the decoder.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrNoCredentials):
		return KindConfiguration
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrStalled), isNetTimeout(err):
		return KindTimeout
	case errors.Is(err, ErrMalformedResponse):
		return KindProtocol
	}
	return KindTransport
}

func IsTimeout(err error) bool {
	return KindOf(err) == KindTimeout
}

// WrapTransportError classifies a failed round trip as timeout or transport.
func WrapTransportError(err error) error {
	if isNetTimeout(err) {
		return &Error{Kind: KindTimeout, Cause: err}
	}
	return &Error{Kind: KindTransport, Cause: fmt.Errorf("%w: %v", ErrRequestFailed, err)}
}

func isNetTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Redact hides all but a short suffix of a credential. Keys shorter than
// eight characters reveal at most half of their length.
func Redact(key string) string {
	n := len(key) / 2
	if n > 4 {
		n = 4
	}
	return "****" + key[len(key)-n:]
}
