package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rlmkit/rlm/internal/client"
	"github.com/rlmkit/rlm/internal/config"
	"github.com/rlmkit/rlm/internal/ledger"
	"github.com/rlmkit/rlm/internal/rlm"
	"github.com/rlmkit/rlm/internal/types"
)

// scriptedClient replays canned model responses.
type scriptedClient struct {
	model     string
	responses []string
	calls     int
}

func (c *scriptedClient) Completion(ctx context.Context, messages []types.Message, modelOverride string) (*client.Response, error) {
	if c.calls >= len(c.responses) {
		return &client.Response{Text: "Nothing further."}, nil
	}
	text := c.responses[c.calls]
	c.calls++
	return &client.Response{Text: text}, nil
}

func (c *scriptedClient) Resolve(ctx context.Context) error { return nil }

func (c *scriptedClient) Model() string { return c.model }

func newTestMux(responses []string) (*http.ServeMux, *ledger.Ledger) {
	root := &scriptedClient{model: "scripted-root", responses: responses}
	recursive := &scriptedClient{model: "scripted-recursive"}
	costs := ledger.New()
	newEngine := func(maxIter int) *rlm.RLM {
		if maxIter <= 0 {
			maxIter = config.DefaultMaxIterations
		}
		return rlm.New(root, recursive,
			rlm.WithMaxIterations(maxIter),
			rlm.WithLedger(costs),
		)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return newMux(logger, costs, newEngine), costs
}

func TestRespondError(t *testing.T) {
	w := httptest.NewRecorder()
	respondError(w, http.StatusBadRequest, "test error")

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}

	if w.Header().Get("Content-Type") != "application/json" {
		t.Errorf("Expected content type application/json, got %s", w.Header().Get("Content-Type"))
	}

	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if resp["error"] != "test error" {
		t.Errorf("Expected error message 'test error', got %s", resp["error"])
	}
}

func TestCompletionEndpoint(t *testing.T) {
	mux, costs := newTestMux([]string{"```\nFINAL(\"four\")\n```"})

	body := `{"query": "how many lights?", "context": "there are four lights"}`
	req := httptest.NewRequest(http.MethodPost, "/completion", strings.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp types.Completion
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !resp.Answered {
		t.Error("Expected an answered completion")
	}
	if resp.Final != "four" {
		t.Errorf("Expected final 'four', got %v", resp.Final)
	}
	if resp.Iterations != 1 {
		t.Errorf("Expected 1 iteration, got %d", resp.Iterations)
	}
	if costs.Summary().Root.Calls != 1 {
		t.Errorf("Expected 1 root call in the ledger, got %d", costs.Summary().Root.Calls)
	}
}

func TestCompletionMaxIterationsOverride(t *testing.T) {
	mux, _ := newTestMux([]string{"Still thinking.", "Still thinking."})

	body := `{"query": "q", "max_iterations": 1}`
	req := httptest.NewRequest(http.MethodPost, "/completion", strings.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var resp types.Completion
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Answered {
		t.Error("Expected an unanswered completion at budget exhaustion")
	}
	if resp.Iterations != 1 {
		t.Errorf("Expected 1 iteration, got %d", resp.Iterations)
	}
}

func TestCompletionRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name   string
		method string
		body   string
		status int
	}{
		{"missing query", http.MethodPost, `{"context": "doc"}`, http.StatusBadRequest},
		{"invalid json", http.MethodPost, `{"query": `, http.StatusBadRequest},
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux, _ := newTestMux(nil)
			req := httptest.NewRequest(tt.method, "/completion", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			if w.Code != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, w.Code)
			}
		})
	}
}

func TestCostEndpoint(t *testing.T) {
	mux, _ := newTestMux([]string{"FINAL(1)"})

	// Run one completion so the ledger has something to report.
	req := httptest.NewRequest(http.MethodPost, "/completion", strings.NewReader(`{"query": "q"}`))
	mux.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodGet, "/cost", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var sum types.CostSummary
	if err := json.NewDecoder(w.Body).Decode(&sum); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if sum.Root.Calls != 1 {
		t.Errorf("Expected 1 root call, got %d", sum.Root.Calls)
	}

	req = httptest.NewRequest(http.MethodPost, "/cost", nil)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	mux, _ := newTestMux(nil)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}
