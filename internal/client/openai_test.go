package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rlmkit/rlm/internal/types"
)

// fakeEndpoint mimics the two OpenAI-compatible routes the client uses.
type fakeEndpoint struct {
	models      []string
	reply       string
	usage       [2]int64
	listCalls   atomic.Int64
	lastRequest map[string]any
}

func (f *fakeEndpoint) start(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /models", func(w http.ResponseWriter, r *http.Request) {
		f.listCalls.Add(1)
		data := make([]map[string]any, 0, len(f.models))
		for _, id := range f.models {
			data = append(data, map[string]any{"id": id, "object": "model"})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data})
	})
	mux.HandleFunc("POST /chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.lastRequest = body
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-test",
			"object": "chat.completion",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": f.reply},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{
				"prompt_tokens":     f.usage[0],
				"completion_tokens": f.usage[1],
				"total_tokens":      f.usage[0] + f.usage[1],
			},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIResolveAuto(t *testing.T) {
	f := &fakeEndpoint{models: []string{"local-model", "other-model"}}
	srv := f.start(t)

	c := NewOpenAI(srv.URL, "test-key", "", 0, 0)
	assert.Equal(t, ModelAuto, c.Model())

	require.NoError(t, c.Resolve(context.Background()))
	assert.Equal(t, "local-model", c.Model(), "auto picks the first listed model")

	// Resolution happens once per client.
	require.NoError(t, c.Resolve(context.Background()))
	assert.Equal(t, int64(1), f.listCalls.Load())
}

func TestOpenAIResolveConcurrent(t *testing.T) {
	f := &fakeEndpoint{models: []string{"local-model"}}
	srv := f.start(t)

	// One client is shared across sessions; concurrent resolution must
	// list once and leave a single winner.
	c := NewOpenAI(srv.URL, "test-key", "", 0, 0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Resolve(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, "local-model", c.Model())
	assert.Equal(t, int64(1), f.listCalls.Load())
}

func TestOpenAIResolveExplicitModelSkipsListing(t *testing.T) {
	f := &fakeEndpoint{models: []string{"local-model"}}
	srv := f.start(t)

	c := NewOpenAI(srv.URL, "test-key", "gpt-5", 0, 0)
	require.NoError(t, c.Resolve(context.Background()))
	assert.Equal(t, "gpt-5", c.Model())
	assert.Zero(t, f.listCalls.Load())
}

func TestOpenAIResolveEmptyListing(t *testing.T) {
	f := &fakeEndpoint{}
	srv := f.start(t)

	c := NewOpenAI(srv.URL, "test-key", "", 0, 0)
	err := c.Resolve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no models")
}

func TestOpenAICompletion(t *testing.T) {
	f := &fakeEndpoint{reply: "pong", usage: [2]int64{12, 3}}
	srv := f.start(t)

	c := NewOpenAI(srv.URL, "test-key", "gpt-5", 0.7, 4096)
	resp, err := c.Completion(context.Background(), []types.Message{
		{Role: "system", Content: "you are terse"},
		{Role: "user", Content: "ping"},
		{Role: "assistant", Content: "thinking"},
		{Role: "user", Content: "ping again"},
	}, "")
	require.NoError(t, err)

	assert.Equal(t, "pong", resp.Text)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, int64(12), resp.Usage.InputTokens)
	assert.Equal(t, int64(3), resp.Usage.OutputTokens)

	assert.Equal(t, "gpt-5", f.lastRequest["model"])
	assert.Equal(t, 0.7, f.lastRequest["temperature"])
	msgs, ok := f.lastRequest["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 4)
	first := msgs[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
}

func TestOpenAICompletionModelOverride(t *testing.T) {
	f := &fakeEndpoint{reply: "ok"}
	srv := f.start(t)

	c := NewOpenAI(srv.URL, "test-key", "gpt-5", 0, 0)
	_, err := c.Completion(context.Background(), []types.Message{
		{Role: "user", Content: "hi"},
	}, "gpt-5-nano")
	require.NoError(t, err)
	assert.Equal(t, "gpt-5-nano", f.lastRequest["model"])
	assert.Equal(t, "gpt-5", c.Model(), "overrides are per-call, not sticky")
}

func TestOpenAICompletionNoUsageReported(t *testing.T) {
	f := &fakeEndpoint{reply: "ok"}
	srv := f.start(t)

	c := NewOpenAI(srv.URL, "test-key", "gpt-5", 0, 0)
	resp, err := c.Completion(context.Background(), []types.Message{
		{Role: "user", Content: "hi"},
	}, "")
	require.NoError(t, err)
	assert.Nil(t, resp.Usage, "zero usage means the endpoint did not report it")
}
