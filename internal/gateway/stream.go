package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kitbuilder587/genstream/internal/llm"
	"github.com/kitbuilder587/genstream/internal/llm/sse"
)

const readBufferSize = 32 * 1024

func (r *run) stream(ctx context.Context, entry Entry, deadline time.Duration, logger *zap.Logger) (string, error) {
	start := time.Now()
	r.result.Calls++

	req := llm.NewChatRequest(r.d.params, r.prompt, true)
	text, err := r.consume(ctx, entry.Key, req, logger)
	err = r.normalize(ctx, err, deadline)

	outcome := outcomeOf(err)
	if err == nil && text == "" {
		outcome = "empty"
	}
	r.d.metrics.RecordAttempt(ModeStream.String(), outcome, time.Since(start))
	if err != nil {
		return "", err
	}
	return text, nil
}

// consume reads the stream until the done marker or EOF. It returns early
// on cancellation, on the attempt deadline, or when no fragment arrived
// within the idle window.
func (r *run) consume(ctx context.Context, key string, req llm.ChatRequest, logger *zap.Logger) (string, error) {
	body, err := r.d.transport.Stream(ctx, key, req)
	if err != nil {
		return "", err
	}

	rctx, stop := context.WithCancel(ctx)
	chunks := make(chan []byte)
	readErr := make(chan error, 1)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		readChunks(rctx, body, chunks, readErr)
	}()
	defer func() {
		stop()
		body.Close()
		<-readerDone
	}()

	idleWindow := r.d.policy.IdleTimeout
	var idle <-chan time.Time
	var idleTimer *time.Timer
	if idleWindow > 0 {
		idleTimer = time.NewTimer(idleWindow)
		defer idleTimer.Stop()
		idle = idleTimer.C
	}

	dec := sse.NewDecoder(logger)
	var text strings.Builder
	for {
		var events []sse.Event
		eof := false

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-idle:
			return "", &llm.Error{
				Kind:    llm.KindTimeout,
				Message: fmt.Sprintf("no fragment within %s", idleWindow),
				Cause:   llm.ErrStalled,
			}
		case chunk := <-chunks:
			events = dec.Feed(chunk)
		case err := <-readErr:
			if !errors.Is(err, io.EOF) {
				return "", llm.WrapTransportError(err)
			}
			events = dec.Flush()
			eof = true
		}

		done, progressed, err := r.apply(events, &text, logger)
		if err != nil {
			return "", err
		}
		if done || eof {
			return text.String(), nil
		}
		if progressed && idleTimer != nil {
			idleTimer.Reset(idleWindow)
		}
	}
}

// apply delivers decoded events in order. It stops at the done marker, at a
// provider error, or as soon as the request is cancelled.
func (r *run) apply(events []sse.Event, text *strings.Builder, logger *zap.Logger) (done, progressed bool, err error) {
	for _, ev := range events {
		switch ev.Kind {
		case sse.EventText:
			if !r.sink.emit(ev.Text) {
				return false, progressed, r.ctx.Err()
			}
			text.WriteString(ev.Text)
			progressed = true
		case sse.EventFinish:
			r.noteFinish(ev.FinishReason, logger)
		case sse.EventUnparsable:
			r.d.metrics.RecordUnparsableLine()
		case sse.EventError:
			return false, progressed, &llm.Error{Kind: llm.KindTransport, Message: ev.Text, Cause: llm.ErrRequestFailed}
		case sse.EventDone:
			return true, progressed, nil
		}
	}
	return false, progressed, nil
}

func readChunks(ctx context.Context, body io.Reader, chunks chan<- []byte, errc chan<- error) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			errc <- err
			return
		}
	}
}
