package mock

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/kitbuilder587/genstream/internal/llm"
)

var ErrNoReply = errors.New("mock: no reply scripted")

type Mode string

const (
	ModeComplete Mode = "complete"
	ModeStream   Mode = "stream"
)

// Reply scripts the outcome of one call.
type Reply struct {
	// Err is returned by Complete/Stream before any body is produced.
	Err error
	// Body is the buffered response.
	Body string
	// Chunks are yielded by the stream body, one per Read at most.
	Chunks []string
	// Delay is waited before the buffered reply and before every chunk.
	Delay time.Duration
	// Hang blocks after the chunks (or instead of the buffered reply) until
	// the call's context is done.
	Hang bool
	// ReadErr is returned by the stream body after the chunks.
	ReadErr error
}

type Call struct {
	Mode      Mode
	APIKey    string
	RequestID string
	Request   llm.ChatRequest
}

// Transport is a scripted llm.Transport. Replies are consumed per
// (mode, key) in order; the last one repeats.
type Transport struct {
	mu      sync.Mutex
	replies map[Mode]map[string][]Reply

	Calls         []Call
	active        int
	MaxConcurrent int
}

func New() *Transport {
	return &Transport{
		replies: map[Mode]map[string][]Reply{
			ModeComplete: {},
			ModeStream:   {},
		},
	}
}

func (t *Transport) OnStream(apiKey string, replies ...Reply) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replies[ModeStream][apiKey] = append(t.replies[ModeStream][apiKey], replies...)
	return t
}

func (t *Transport) OnComplete(apiKey string, replies ...Reply) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replies[ModeComplete][apiKey] = append(t.replies[ModeComplete][apiKey], replies...)
	return t
}

func (t *Transport) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}

// CallsFor returns the recorded calls of one mode.
func (t *Transport) CallsFor(mode Mode) []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Call
	for _, c := range t.Calls {
		if c.Mode == mode {
			out = append(out, c)
		}
	}
	return out
}

func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = nil
	t.MaxConcurrent = 0
}

func (t *Transport) next(ctx context.Context, mode Mode, apiKey string, req llm.ChatRequest) (Reply, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Calls = append(t.Calls, Call{Mode: mode, APIKey: apiKey, RequestID: llm.RequestIDFrom(ctx), Request: req})
	t.active++
	if t.active > t.MaxConcurrent {
		t.MaxConcurrent = t.active
	}

	queue := t.replies[mode][apiKey]
	if len(queue) == 0 {
		return Reply{}, false
	}
	r := queue[0]
	if len(queue) > 1 {
		t.replies[mode][apiKey] = queue[1:]
	}
	return r, true
}

func (t *Transport) release() {
	t.mu.Lock()
	t.active--
	t.mu.Unlock()
}

func (t *Transport) Complete(ctx context.Context, apiKey string, req llm.ChatRequest) ([]byte, error) {
	defer t.release()

	r, ok := t.next(ctx, ModeComplete, apiKey, req)
	if !ok {
		return nil, ErrNoReply
	}
	if r.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, llm.WrapTransportError(ctx.Err())
		case <-time.After(r.Delay):
		}
	}
	if r.Hang {
		<-ctx.Done()
		return nil, llm.WrapTransportError(ctx.Err())
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return []byte(r.Body), nil
}

func (t *Transport) Stream(ctx context.Context, apiKey string, req llm.ChatRequest) (io.ReadCloser, error) {
	r, ok := t.next(ctx, ModeStream, apiKey, req)
	if !ok {
		t.release()
		return nil, ErrNoReply
	}
	if r.Err != nil {
		t.release()
		return nil, r.Err
	}

	chunks := make([][]byte, 0, len(r.Chunks))
	for _, c := range r.Chunks {
		chunks = append(chunks, []byte(c))
	}
	return &streamBody{
		ctx:     ctx,
		chunks:  chunks,
		delay:   r.Delay,
		hang:    r.Hang,
		readErr: r.ReadErr,
		closed:  make(chan struct{}),
		release: t.release,
	}, nil
}

type streamBody struct {
	ctx     context.Context
	chunks  [][]byte
	delay   time.Duration
	hang    bool
	readErr error

	closed  chan struct{}
	once    sync.Once
	release func()
}

func (b *streamBody) Read(p []byte) (int, error) {
	if len(b.chunks) > 0 {
		if err := b.wait(b.delay); err != nil {
			return 0, err
		}
		n := copy(p, b.chunks[0])
		if n < len(b.chunks[0]) {
			b.chunks[0] = b.chunks[0][n:]
		} else {
			b.chunks = b.chunks[1:]
		}
		return n, nil
	}
	if b.hang {
		select {
		case <-b.ctx.Done():
			return 0, b.ctx.Err()
		case <-b.closed:
			return 0, io.ErrClosedPipe
		}
	}
	if b.readErr != nil {
		return 0, b.readErr
	}
	return 0, io.EOF
}

func (b *streamBody) wait(d time.Duration) error {
	var timer <-chan time.Time
	if d > 0 {
		timer = time.After(d)
	} else {
		ch := make(chan time.Time)
		close(ch)
		timer = ch
	}
	select {
	case <-b.ctx.Done():
		return b.ctx.Err()
	case <-b.closed:
		return io.ErrClosedPipe
	case <-timer:
		return nil
	}
}

func (b *streamBody) Close() error {
	b.once.Do(func() {
		close(b.closed)
		b.release()
	})
	return nil
}

var _ llm.Transport = (*Transport)(nil)
