package gateway

import (
	"context"
	"sync"
)

// Session serialises logical requests from one caller: starting a new
// generation raises the token of the one still running.
type Session struct {
	d *Dispatcher

	mu      sync.Mutex
	current *CancelToken
}

func NewSession(d *Dispatcher) *Session {
	return &Session{d: d}
}

func (s *Session) Generate(ctx context.Context, prompt string, onFragment FragmentFunc, opts ...CallOption) (*Result, error) {
	token := NewCancelToken(ctx)

	s.mu.Lock()
	if s.current != nil {
		s.current.Cancel()
	}
	s.current = token
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.current == token {
			s.current = nil
		}
		s.mu.Unlock()
		token.Cancel()
	}()

	return s.d.Generate(token.Context(), prompt, onFragment, opts...)
}

// Cancel raises the token of the running generation, if any.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.Cancel()
	}
}
