package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pai-context-go/internal/config"
)

func TestEventStreamParsesDeltas(t *testing.T) {
	body := "data: {\"choices\":[{\"delta\":{\"content\":\"\"}}]}\n\n" +
		": keep-alive\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
		"data:{\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\r\n\r\n" +
		"data: [DONE]\n\n"
	s := NewEventStream(io.NopCloser(strings.NewReader(body)))

	var deltas []string
	for {
		ev, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		if ev.Done {
			deltas = append(deltas, "<done>")
			continue
		}
		deltas = append(deltas, ev.Delta)
	}
	assert.Equal(t, []string{"", "Hel", "lo", "<done>"}, deltas)
}

func TestEventStreamMalformedEvent(t *testing.T) {
	body := "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\ndata: {not json\n\n"
	s := NewEventStream(io.NopCloser(strings.NewReader(body)))

	ev, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "ok", ev.Delta)

	_, err = s.Next()
	assert.ErrorIs(t, err, ErrMalformedEvent)

	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestEventStreamEndsWithoutDone(t *testing.T) {
	s := NewEventStream(io.NopCloser(strings.NewReader("data: {\"choices\":[]}")))
	ev, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "", ev.Delta)
	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestCompleteUsesCallerKeyAndParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-caller", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "deepseek-chat", req.Model)
		assert.False(t, req.Stream)
		require.NotNil(t, req.Temperature)
		assert.Equal(t, 0.1, *req.Temperature)
		require.NotNil(t, req.MaxTokens)
		assert.Equal(t, 512, *req.MaxTokens)

		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"answer"}}],"usage":{"total_tokens":42}}`)
	}))
	defer srv.Close()

	c := NewClient(config.LLMConfig{
		APIKey:     "sk-server",
		BaseURL:    srv.URL,
		Model:      "deepseek-chat",
		Generation: config.LLMGenerationConfig{Temperature: 0.7, MaxTokens: 512},
	})
	temp := 0.1
	resp, err := c.Complete(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
		Params:   &GenerationParams{Temperature: &temp},
		APIKey:   "sk-caller",
	})
	require.NoError(t, err)
	assert.Equal(t, "answer", resp.Text)
	assert.Equal(t, 42, resp.TotalTokens)
}

func TestUpstreamErrorIsPropagated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, "invalid api key")
	}))
	defer srv.Close()

	c := NewClient(config.LLMConfig{BaseURL: srv.URL})
	_, err := c.Stream(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusUnauthorized, ue.StatusCode)
	assert.Equal(t, "invalid api key", ue.Body)
}

func TestStreamOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"A\"}}]}\n\ndata: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewClient(config.LLMConfig{BaseURL: srv.URL, Model: "m"})
	s, err := c.Stream(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	defer s.Close()

	ev, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "A", ev.Delta)
	ev, err = s.Next()
	require.NoError(t, err)
	assert.True(t, ev.Done)
}

func TestStreamOutlivesRequestTimeout(t *testing.T) {
	const chunks = 8
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for i := 0; i < chunks; i++ {
			_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\n")
			flusher.Flush()
			time.Sleep(250 * time.Millisecond)
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	// 整个流约 2 秒，超过 1 秒的超时
	c := NewClient(config.LLMConfig{BaseURL: srv.URL, Model: "m", TimeoutSeconds: 1})
	s, err := c.Stream(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	defer s.Close()

	var got int
	for {
		ev, err := s.Next()
		require.NoError(t, err)
		if ev.Done {
			break
		}
		got++
	}
	assert.Equal(t, chunks, got)
}

func TestStreamHeaderTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(3 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c := NewClient(config.LLMConfig{BaseURL: srv.URL, Model: "m", TimeoutSeconds: 1})
	start := time.Now()
	_, err := c.Stream(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
}
