package mock

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/kitbuilder587/genstream/internal/llm"
)

func TestTransport_RepliesInOrder(t *testing.T) {
	tr := New().OnComplete("k", Reply{Body: "one"}, Reply{Body: "two"})
	ctx := llm.WithRequestID(context.Background(), "rid")

	for _, want := range []string{"one", "two", "two"} {
		got, err := tr.Complete(ctx, "k", llm.ChatRequest{})
		if err != nil || string(got) != want {
			t.Errorf("Complete() = %q, %v, want %q", got, err, want)
		}
	}
	if tr.CallCount() != 3 || tr.Calls[0].RequestID != "rid" {
		t.Errorf("calls = %+v", tr.Calls)
	}
	if _, err := tr.Complete(ctx, "other", llm.ChatRequest{}); !errors.Is(err, ErrNoReply) {
		t.Errorf("unscripted key error = %v", err)
	}
}

func TestTransport_StreamBody(t *testing.T) {
	readErr := errors.New("reset")
	tr := New().OnStream("k", Reply{Chunks: []string{"ab", "c"}, ReadErr: readErr})

	body, err := tr.Stream(context.Background(), "k", llm.ChatRequest{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	got, err := io.ReadAll(body)
	if !errors.Is(err, readErr) || string(got) != "abc" {
		t.Errorf("ReadAll() = %q, %v", got, err)
	}
	body.Close()
	body.Close()
	if tr.active != 0 {
		t.Errorf("active = %d after close", tr.active)
	}
}

func TestTransport_HangHonoursContext(t *testing.T) {
	tr := New().OnStream("k", Reply{Hang: true}).OnComplete("k", Reply{Hang: true})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := tr.Complete(ctx, "k", llm.ChatRequest{}); !llm.IsTimeout(err) {
		t.Errorf("Complete() error = %v, want timeout", err)
	}

	body, err := tr.Stream(context.Background(), "k", llm.ChatRequest{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	done := make(chan error, 1)
	go func() {
		_, err := body.Read(make([]byte, 8))
		done <- err
	}()
	body.Close()
	select {
	case err := <-done:
		if !errors.Is(err, io.ErrClosedPipe) {
			t.Errorf("Read() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Read did not return after Close")
	}
}
