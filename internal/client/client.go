// Package client issues single request/response completions against a
// configured model-serving endpoint.
package client

import (
	"context"

	"github.com/rlmkit/rlm/internal/types"
)

// ModelAuto asks the client to resolve a concrete model from the
// endpoint's model listing.
const ModelAuto = "auto"

// Response is one completion: generated text plus optional token usage.
type Response struct {
	Text  string
	Usage *types.Usage
}

// Client is the narrow completion interface the engine consumes. One
// Client instance serves one tier (root or recursive).
type Client interface {
	// Completion performs one blocking exchange over the full message
	// history. A non-empty modelOverride replaces the resolved model
	// for this call only.
	Completion(ctx context.Context, messages []types.Message, modelOverride string) (*Response, error)

	// Resolve pins the "auto" model sentinel to a concrete model via
	// the endpoint's model listing. Called once per session per tier;
	// failure is a fatal configuration error, never retried silently.
	Resolve(ctx context.Context) error

	// Model returns the resolved model name.
	Model() string
}

// PromptChars is the character length of a message history, used for
// ledger estimates.
func PromptChars(messages []types.Message) int {
	n := 0
	for _, m := range messages {
		n += len(m.Content)
	}
	return n
}
