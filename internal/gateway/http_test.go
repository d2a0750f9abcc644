package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kitbuilder587/genstream/internal/llm"
	"github.com/kitbuilder587/genstream/internal/llm/openai"
)

func sseServer(t *testing.T, handle func(w http.ResponseWriter, r *http.Request, flush func(string))) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		handle(w, r, func(s string) {
			io.WriteString(w, s)
			flusher.Flush()
		})
	}))
}

func httpDispatcher(baseURL string, keys []string, policy TimeoutPolicy) *Dispatcher {
	return New(Deps{
		Transport: openai.New(openai.Config{BaseURL: baseURL}, zap.NewNop()),
		Pool:      NewCredentialPool(keys),
		Logger:    zap.NewNop(),
		Config: Config{
			Params: llm.GenerationParams{Model: "qwen3-max", Temperature: 0.6, MaxTokens: 1024},
			Policy: policy,
		},
	})
}

func TestDispatcher_OverHTTP(t *testing.T) {
	t.Run("streams and rotates past a rejected key", func(t *testing.T) {
		var rejected atomic.Int32
		server := sseServer(t, func(w http.ResponseWriter, r *http.Request, flush func(string)) {
			if r.Header.Get("Authorization") == "Bearer bad-key" {
				rejected.Add(1)
				flush(`data: {"error":{"message":"invalid api key"}}` + "\n\n")
				return
			}
			assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
			flush(textEvent("Hel"))
			flush(textEvent("lo"))
			flush(finishEvent("stop"))
			flush(doneEvent)
		})
		defer server.Close()

		d := httpDispatcher(server.URL, []string{"bad-key", "good-key"}, fastPolicy())
		var c collector
		res, err := d.Generate(context.Background(), "hi", c.add)
		require.NoError(t, err)

		assert.Equal(t, "Hello", res.Text)
		assert.Equal(t, []string{"Hel", "lo"}, c.got())
		assert.Equal(t, llm.FinishStop, res.FinishReason)
		assert.Equal(t, 1, res.CredentialIndex)
		assert.Equal(t, int32(1), rejected.Load())
	})

	t.Run("cancel aborts the open connection", func(t *testing.T) {
		closed := make(chan struct{})
		server := sseServer(t, func(w http.ResponseWriter, r *http.Request, flush func(string)) {
			flush(textEvent("a"))
			<-r.Context().Done()
			close(closed)
		})
		defer server.Close()

		d := httpDispatcher(server.URL, []string{"k"}, fastPolicy())
		token := NewCancelToken(context.Background())
		res, err := d.Generate(token.Context(), "hi", func(s string) {
			if strings.Contains(s, "a") {
				token.Cancel()
			}
		})
		require.NoError(t, err)
		assert.True(t, res.Cancelled())

		select {
		case <-closed:
		case <-time.After(2 * time.Second):
			t.Fatal("server connection still open after cancel")
		}
	})
}
