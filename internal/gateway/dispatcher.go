// Package gateway turns one "generate text for this prompt" call into a
// sequence of network attempts across a pool of credentials, delivering text
// fragments to the caller as they are decoded.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kitbuilder587/genstream/internal/llm"
	"github.com/kitbuilder587/genstream/internal/metrics"
)

type Mode int

const (
	// ModeStream streams each attempt and falls back to one buffered call
	// when a stream ends without text.
	ModeStream Mode = iota
	ModeBuffered
)

func (m Mode) String() string {
	if m == ModeBuffered {
		return "buffered"
	}
	return "stream"
}

// FragmentFunc receives text in decode order. It runs on the goroutine that
// called Generate.
type FragmentFunc func(text string)

type CallOption func(*callOptions)

type callOptions struct {
	onReset func()
}

// WithResetHandler registers fn to run before a new attempt starts when the
// previous one had already delivered fragments and then failed. Without it
// the caller may see the beginning of the text twice.
func WithResetHandler(fn func()) CallOption {
	return func(o *callOptions) { o.onReset = fn }
}

type Config struct {
	Params llm.GenerationParams
	Policy TimeoutPolicy
	Mode   Mode
}

type Deps struct {
	Transport llm.Transport
	Pool      *CredentialPool
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Config    Config
}

type Dispatcher struct {
	transport llm.Transport
	pool      *CredentialPool
	logger    *zap.Logger
	metrics   *metrics.Metrics
	params    llm.GenerationParams
	policy    TimeoutPolicy
	mode      Mode
}

func New(deps Deps) *Dispatcher {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Pool == nil {
		deps.Pool = NewCredentialPool(nil)
	}
	return &Dispatcher{
		transport: deps.Transport,
		pool:      deps.Pool,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		params:    deps.Config.Params,
		policy:    deps.Config.Policy.withDefaults(),
		mode:      deps.Config.Mode,
	}
}

// Generate runs one logical request. ctx is the cancellation token: once it
// is done no further fragments are delivered and the result is
// StatusCancelled with a nil error. Failures are reported only when every
// credential is exhausted, as *AggregateError, or immediately as a
// configuration error when no credentials exist.
func (d *Dispatcher) Generate(ctx context.Context, prompt string, onFragment FragmentFunc, opts ...CallOption) (*Result, error) {
	start := time.Now()

	var co callOptions
	for _, o := range opts {
		if o != nil {
			o(&co)
		}
	}

	reqID := uuid.NewString()
	ctx = llm.WithRequestID(ctx, reqID)
	logger := d.logger.With(zap.String("request_id", reqID))

	d.metrics.IncRequestsInFlight()
	defer d.metrics.DecRequestsInFlight()

	entries, err := d.pool.Entries()
	if err != nil {
		logger.Error("cannot generate", zap.Error(err))
		d.metrics.RecordRequest("config_error", time.Since(start))
		return nil, err
	}

	r := &run{
		d:       d,
		ctx:     ctx,
		logger:  logger,
		prompt:  prompt,
		sink:    &sink{ctx: ctx, fn: onFragment},
		onReset: co.onReset,
		result:  &Result{RequestID: reqID},
	}

	logger.Debug("generation started",
		zap.Int("prompt_length", len(prompt)),
		zap.String("mode", d.mode.String()),
		zap.Int("credentials", len(entries)),
	)

	failures := make([]CredentialFailure, 0, len(entries))
	for _, entry := range entries {
		if ctx.Err() != nil {
			return r.cancelled(start), nil
		}

		text, attempts, err := r.tryCredential(entry)
		if ctx.Err() != nil {
			return r.cancelled(start), nil
		}
		if err == nil {
			d.pool.Advance(entry.Index)
			return r.succeeded(entry, text, start), nil
		}

		f := CredentialFailure{
			Index:    entry.Index,
			Key:      llm.Redact(entry.Key),
			Attempts: attempts,
			Err:      err,
		}
		failures = append(failures, f)
		d.metrics.RecordCredentialFailure(string(f.Kind()))
		logger.Warn("credential failed",
			zap.String("key", f.Key),
			zap.Int("attempts", attempts),
			zap.String("kind", string(f.Kind())),
			zap.Error(err),
		)
	}

	d.metrics.RecordRequest("exhausted", time.Since(start))
	logger.Error("all credentials failed", zap.Int("credentials", len(failures)))
	return nil, &AggregateError{Failures: failures}
}

// run is the state of one logical request.
type run struct {
	d       *Dispatcher
	ctx     context.Context
	logger  *zap.Logger
	prompt  string
	sink    *sink
	onReset func()
	result  *Result

	finish llm.FinishReason
}

// tryCredential retries timeouts on the same key up to the policy bound.
// Any other failure gives up on the key at once.
func (r *run) tryCredential(entry Entry) (string, int, error) {
	for attempt := 0; ; attempt++ {
		if r.ctx.Err() != nil {
			return "", attempt, r.ctx.Err()
		}

		text, err := r.attempt(entry, attempt)
		if err == nil {
			return text, attempt + 1, nil
		}
		if r.ctx.Err() != nil {
			return "", attempt + 1, r.ctx.Err()
		}
		if llm.IsTimeout(err) && r.d.policy.CanRetry(attempt) {
			r.logger.Warn("attempt timed out, retrying",
				zap.String("key", llm.Redact(entry.Key)),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			continue
		}
		return "", attempt + 1, err
	}
}

func (r *run) attempt(entry Entry, attempt int) (string, error) {
	r.resetIfDirty()
	r.finish = ""

	deadline := r.d.policy.Deadline(attempt)
	actx, cancel := context.WithTimeout(r.ctx, deadline)
	defer cancel()

	logger := r.logger.With(
		zap.String("key", llm.Redact(entry.Key)),
		zap.Int("attempt", attempt),
	)
	logger.Debug("attempt started",
		zap.Duration("deadline", deadline),
		zap.String("mode", r.d.mode.String()),
	)

	if r.d.mode == ModeBuffered {
		return r.buffered(actx, entry, deadline, logger)
	}

	text, err := r.stream(actx, entry, deadline, logger)
	if err != nil || text != "" {
		return text, err
	}
	return r.fallback(entry, attempt, logger)
}

func (r *run) buffered(ctx context.Context, entry Entry, deadline time.Duration, logger *zap.Logger) (string, error) {
	start := time.Now()
	r.result.Calls++

	req := llm.NewChatRequest(r.d.params, r.prompt, false)
	text, finish, err := r.complete(ctx, entry.Key, req)
	err = r.normalize(ctx, err, deadline)
	r.d.metrics.RecordAttempt(ModeBuffered.String(), outcomeOf(err), time.Since(start))
	if err != nil {
		return "", err
	}

	r.noteFinish(finish, logger)
	if !r.sink.emit(text) {
		return "", r.ctx.Err()
	}
	return text, nil
}

// complete performs one buffered call and extracts its text.
func (r *run) complete(ctx context.Context, key string, req llm.ChatRequest) (string, llm.FinishReason, error) {
	body, err := r.d.transport.Complete(ctx, key, req)
	if err != nil {
		return "", "", err
	}
	resp, err := llm.ParseChatResponse(body)
	if err != nil {
		return "", "", err
	}
	text, err := llm.ExtractContent(resp)
	if err != nil {
		return "", "", err
	}
	return text, llm.ClassifyFinish(resp.Choices[0].FinishReason), nil
}

// normalize turns an expired attempt context into a TimeoutError and leaves
// cancellation of the logical request recognisable by the caller.
func (r *run) normalize(ctx context.Context, err error, deadline time.Duration) error {
	if err == nil {
		return nil
	}
	if r.ctx.Err() != nil {
		return r.ctx.Err()
	}
	if ctx.Err() == context.DeadlineExceeded {
		return &llm.Error{
			Kind:    llm.KindTimeout,
			Message: fmt.Sprintf("no completion within %s", deadline),
			Cause:   llm.ErrTimeout,
		}
	}
	return err
}

func (r *run) noteFinish(reason llm.FinishReason, logger *zap.Logger) {
	if reason == "" {
		return
	}
	r.finish = reason
	if reason == llm.FinishLength {
		logger.Warn("output truncated by provider limit", zap.String("finish_reason", string(reason)))
	}
}

func (r *run) resetIfDirty() {
	if !r.sink.dirty {
		return
	}
	r.sink.dirty = false
	r.logger.Info("previous attempt delivered partial output before failing")
	if r.onReset != nil {
		r.onReset()
	}
}

func (r *run) succeeded(entry Entry, text string, start time.Time) *Result {
	res := r.result
	res.Status = StatusSucceeded
	res.Text = text
	res.CredentialIndex = entry.Index
	res.FinishReason = r.finish
	res.Truncated = r.finish == llm.FinishLength
	res.Duration = time.Since(start)

	if res.Truncated {
		r.d.metrics.RecordTruncation()
	}
	r.d.metrics.RecordRequest(StatusSucceeded.String(), res.Duration)
	r.logger.Info("generation succeeded",
		zap.String("key", llm.Redact(entry.Key)),
		zap.Int("calls", res.Calls),
		zap.Int("text_length", len(text)),
		zap.Bool("fallback", res.Fallback),
		zap.Bool("truncated", res.Truncated),
		zap.Duration("duration", res.Duration),
	)
	return res
}

func (r *run) cancelled(start time.Time) *Result {
	res := r.result
	res.Status = StatusCancelled
	res.Text = ""
	res.Fallback = false
	res.Duration = time.Since(start)

	r.d.metrics.RecordRequest(StatusCancelled.String(), res.Duration)
	r.logger.Info("generation cancelled", zap.Int("calls", res.Calls))
	return res
}

// sink delivers fragments until the request is cancelled.
type sink struct {
	ctx context.Context
	fn  FragmentFunc
	// dirty is set once the current attempt delivered anything.
	dirty bool
}

func (s *sink) emit(text string) bool {
	if s.ctx.Err() != nil {
		return false
	}
	if s.fn != nil {
		s.fn(text)
	}
	s.dirty = true
	return true
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case err == context.Canceled:
		return "cancelled"
	}
	return string(llm.KindOf(err))
}
