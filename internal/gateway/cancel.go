package gateway

import "context"

// CancelToken is the one-shot cancellation signal of a logical request.
// Raising it cancels its context, which aborts the active transport call.
type CancelToken struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func NewCancelToken(parent context.Context) *CancelToken {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &CancelToken{ctx: ctx, cancel: cancel}
}

// Cancel raises the token. Repeated calls are no-ops.
func (t *CancelToken) Cancel() { t.cancel() }

func (t *CancelToken) Cancelled() bool { return t.ctx.Err() != nil }

func (t *CancelToken) Done() <-chan struct{} { return t.ctx.Done() }

// Context is what Dispatcher.Generate takes as its cancellation input.
func (t *CancelToken) Context() context.Context { return t.ctx }
