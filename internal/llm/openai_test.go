package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightgems/openai-api-server/internal/config"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewOpenAI("test-key", srv.URL+"/v1", "gpt-3.5-turbo", "", "")
}

func TestOpenAIComplete(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"chatcmpl-1","model":"gpt-3.5-turbo-0613","choices":[{"index":0,"message":{"role":"assistant","content":"hi there"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`)
	})

	resp, err := c.Complete(context.Background(), Request{
		Messages:    []Message{SystemMessage("be nice"), UserMessage("hello")},
		Temperature: 0.5,
		MaxTokens:   100,
		Stop:        []string{"\n\n\n"},
	})
	require.NoError(t, err)
	assert.Equal(t, "chatcmpl-1", resp.ID)
	assert.Equal(t, "hi there", resp.Content)
	assert.Equal(t, "gpt-3.5-turbo-0613", resp.Model)
	assert.Equal(t, 7, resp.TotalTokens)

	assert.Equal(t, "gpt-3.5-turbo", got["model"])
	assert.EqualValues(t, 100, got["max_tokens"])
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
}

func TestOpenAICompleteNoChoices(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"x","choices":[]}`)
	})
	_, err := c.Complete(context.Background(), Request{Messages: []Message{UserMessage("hi")}})
	assert.ErrorIs(t, err, ErrNoChoices)
	assert.True(t, IsProtocolError(err))
}

func TestOpenAIRateLimited(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit_exceeded"}}`)
	})
	_, err := c.Complete(context.Background(), Request{Messages: []Message{UserMessage("hi")}})
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestOpenAIStreamCoalescesWhitespace(t *testing.T) {
	frames := []string{
		`{"id":"s1","choices":[{"index":0,"delta":{"role":"assistant","content":""}}]}`,
		`{"id":"s1","choices":[{"index":0,"delta":{"content":"Hello"}}]}`,
		`{"id":"s1","choices":[{"index":0,"delta":{"content":"\n\n"}}]}`,
		`{"id":"s1","choices":[{"index":0,"delta":{"content":"world"}}]}`,
		`{"id":"s1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	s, err := c.CompleteStream(context.Background(), Request{Messages: []Message{UserMessage("hi")}})
	require.NoError(t, err)
	defer s.Close()

	var got []Chunk
	for {
		ch, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, ch)
	}
	assert.Equal(t, []Chunk{
		{ID: "s1", Text: "Hello"},
		{ID: "s1", Text: "\n\nworld"},
		{ID: "s1", Done: true},
	}, got)
}

func TestOpenAIEmbed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, DefaultEmbeddingModel, body["model"])
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.5,-0.25]}],"model":"text-embedding-ada-002"}`)
	})
	vec, err := c.Embed(context.Background(), "hello", "")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -0.25}, vec)
}

func TestOpenAIExtraHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "https://example.com", r.Header.Get("HTTP-Referer"))
		assert.Equal(t, "chatter", r.Header.Get("X-Title"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"x","choices":[{"index":0,"message":{"role":"assistant","content":"ok"}}]}`)
	}))
	defer srv.Close()

	c := NewOpenAI("k", srv.URL, "m", "https://example.com", "chatter")
	resp, err := c.Complete(context.Background(), Request{Messages: []Message{UserMessage("hi")}})
	require.NoError(t, err)
	assert.Equal(t, "m", resp.Model)
}

func TestFactory(t *testing.T) {
	f := NewFactory(&config.Config{OpenAIAPIKey: "k"})

	c, err := f.CreateClient("OpenAI", "gpt-4")
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, c)

	_, err = f.CreateClient("yandex", "")
	assert.Error(t, err, "yandex needs credentials")

	_, err = f.CreateClient("claude", "")
	assert.Error(t, err)
}

func TestRoleJSON(t *testing.T) {
	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{"role":"assistant","content":"x"}`), &m))
	assert.Equal(t, AssistantMessage("x"), m)
	assert.Error(t, json.Unmarshal([]byte(`{"role":"tool","content":"x"}`), &m))
}
