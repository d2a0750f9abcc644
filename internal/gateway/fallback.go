package gateway

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kitbuilder587/genstream/internal/llm"
)

// fallback re-issues the prompt once as a buffered call on the same key
// after a stream closed cleanly without any text. It gets the deadline of
// the attempt it belongs to; a timeout here is retried by tryCredential like
// any other attempt timeout.
func (r *run) fallback(entry Entry, attempt int, logger *zap.Logger) (string, error) {
	if r.ctx.Err() != nil {
		return "", r.ctx.Err()
	}
	logger.Info("stream ended without text, issuing buffered fallback")

	deadline := r.d.policy.Deadline(attempt)
	ctx, cancel := context.WithTimeout(r.ctx, deadline)
	defer cancel()

	start := time.Now()
	r.result.Calls++

	req := llm.NewChatRequest(r.d.params, r.prompt, false)
	text, finish, err := r.complete(ctx, entry.Key, req)
	err = r.normalize(ctx, err, deadline)
	r.d.metrics.RecordAttempt(ModeBuffered.String(), outcomeOf(err), time.Since(start))
	if err != nil {
		if r.ctx.Err() != nil {
			return "", err
		}
		r.d.metrics.RecordFallback("failed")
		return "", fmt.Errorf("stream produced no text; fallback: %w", err)
	}
	r.d.metrics.RecordFallback("succeeded")

	r.noteFinish(finish, logger)
	if !r.sink.emit(text) {
		return "", r.ctx.Err()
	}
	r.result.Fallback = true
	return text, nil
}
