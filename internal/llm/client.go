package llm

import (
	"context"
	"errors"
	"io"
)

var (
	ErrNoCredentials     = errors.New("no api credentials configured")
	ErrAuthFailed        = errors.New("authentication failed")
	ErrRequestFailed     = errors.New("request failed")
	ErrEmptyResponse     = errors.New("empty response")
	ErrRateLimit         = errors.New("rate limit exceeded")
	ErrTimeout           = errors.New("attempt timed out")
	ErrStalled           = errors.New("stream stalled")
	ErrMalformedResponse = errors.New("malformed response")
)

// Transport is the network capability the gateway drives. Both calls carry
// the credential as a bearer header and must abort when ctx is done.
type Transport interface {
	// Complete performs a buffered call and returns the full response body.
	Complete(ctx context.Context, apiKey string, req ChatRequest) ([]byte, error)
	// Stream opens a streamed call. The returned body yields raw chunks as
	// they arrive; the caller closes it.
	Stream(ctx context.Context, apiKey string, req ChatRequest) (io.ReadCloser, error)
}
