package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitbuilder587/genstream/internal/llm/mock"
)

func TestSession_NewGenerationCancelsPrevious(t *testing.T) {
	f := newFixture([]string{"k1"}, ModeStream, fastPolicy())
	f.tr.OnStream("k1",
		mock.Reply{Chunks: []string{textEvent("first")}, Hang: true},
		mock.Reply{Chunks: []string{textEvent("second"), doneEvent}},
	)
	s := NewSession(f.d)

	started := make(chan struct{})
	type outcome struct {
		res *Result
		err error
	}
	firstDone := make(chan outcome, 1)
	go func() {
		res, err := s.Generate(context.Background(), "one", func(string) { close(started) })
		firstDone <- outcome{res, err}
	}()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("first generation did not start")
	}

	var c collector
	res, err := s.Generate(context.Background(), "two", c.add)
	require.NoError(t, err)
	assert.Equal(t, "second", res.Text)
	assert.Equal(t, []string{"second"}, c.got())

	select {
	case first := <-firstDone:
		require.NoError(t, first.err)
		assert.True(t, first.res.Cancelled())
	case <-time.After(time.Second):
		t.Fatal("first generation was not cancelled")
	}
}

func TestSession_Cancel(t *testing.T) {
	f := newFixture([]string{"k1"}, ModeStream, fastPolicy())
	f.tr.OnStream("k1", mock.Reply{Chunks: []string{textEvent("a")}, Hang: true})
	s := NewSession(f.d)

	go func() {
		time.Sleep(30 * time.Millisecond)
		s.Cancel()
	}()

	res, err := s.Generate(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.True(t, res.Cancelled())

	// no generation running
	s.Cancel()
}
