// Package ledger accumulates per-tier model call statistics and derives
// estimated cost from them.
package ledger

import (
	"sync"

	"github.com/rlmkit/rlm/internal/observability"
	"github.com/rlmkit/rlm/internal/types"
)

// Tier distinguishes root loop calls from recursive sub-calls for cost
// accounting and model selection.
type Tier string

const (
	TierRoot      Tier = "root"
	TierRecursive Tier = "recursive"
)

// Pricing is USD per one million tokens.
type Pricing struct {
	Input  float64
	Output float64
}

// Default pricing table, keyed by model name. Models not listed fall
// back to local-model pricing.
var defaultPricing = map[string]Pricing{
	"gpt-5":      {2.50, 10.00},
	"gpt-5-mini": {0.15, 0.60},
	"gpt-5-nano": {0.10, 0.40},
}

var fallbackPricing = Pricing{0.05, 0.20}

// defaultCharsPerToken is the estimation constant used when an endpoint
// does not report usage.
const defaultCharsPerToken = 4

// Call is one recorded model invocation. Calls are append-only; ledger
// aggregates are monotonically increasing within a session.
type Call struct {
	Tier            Tier    `json:"tier"`
	Model           string  `json:"model"`
	PromptChars     int     `json:"prompt_chars"`
	CompletionChars int     `json:"completion_chars"`
	InputTokens     int64   `json:"input_tokens"`
	OutputTokens    int64   `json:"output_tokens"`
	Estimated       bool    `json:"estimated"`
	Cost            float64 `json:"cost"`
}

// Ledger accumulates call records. Safe for use from the loop and the
// sandbox's recursive-call primitive within a single session.
type Ledger struct {
	mu            sync.Mutex
	pricing       map[string]Pricing
	charsPerToken map[string]int
	calls         []Call
	root          types.TierTotals
	recursive     types.TierTotals
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithPricing overrides or extends the per-model pricing table.
func WithPricing(model string, p Pricing) Option {
	return func(l *Ledger) { l.pricing[model] = p }
}

// WithCharsPerToken overrides the estimation constant for one model.
func WithCharsPerToken(model string, chars int) Option {
	return func(l *Ledger) { l.charsPerToken[model] = chars }
}

func New(opts ...Option) *Ledger {
	l := &Ledger{
		pricing:       make(map[string]Pricing, len(defaultPricing)),
		charsPerToken: make(map[string]int),
	}
	for k, v := range defaultPricing {
		l.pricing[k] = v
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends one call. When usage is reported by the endpoint its
// counts are used verbatim; otherwise tokens are estimated from
// character lengths.
func (l *Ledger) Record(tier Tier, model string, promptChars, completionChars int, usage *types.Usage) Call {
	l.mu.Lock()
	defer l.mu.Unlock()

	call := Call{
		Tier:            tier,
		Model:           model,
		PromptChars:     promptChars,
		CompletionChars: completionChars,
	}

	if usage != nil {
		call.InputTokens = usage.InputTokens
		call.OutputTokens = usage.OutputTokens
	} else {
		cpt := defaultCharsPerToken
		if v, ok := l.charsPerToken[model]; ok && v > 0 {
			cpt = v
		}
		call.InputTokens = int64(promptChars / cpt)
		call.OutputTokens = int64(completionChars / cpt)
		call.Estimated = true
	}

	price, ok := l.pricing[model]
	if !ok {
		price = fallbackPricing
	}
	call.Cost = float64(call.InputTokens)/1_000_000*price.Input +
		float64(call.OutputTokens)/1_000_000*price.Output

	l.calls = append(l.calls, call)

	totals := &l.root
	if tier == TierRecursive {
		totals = &l.recursive
	}
	totals.Calls++
	totals.InputTokens += call.InputTokens
	totals.OutputTokens += call.OutputTokens
	totals.Cost += call.Cost
	if call.Estimated {
		totals.EstimatedCalls++
	}

	observability.TokenUsage.WithLabelValues(model, string(tier), "input").Add(float64(call.InputTokens))
	observability.TokenUsage.WithLabelValues(model, string(tier), "output").Add(float64(call.OutputTokens))

	return call
}

// Summary returns a read-only snapshot of the accumulated state.
func (l *Ledger) Summary() types.CostSummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return types.CostSummary{
		Root:      l.root,
		Recursive: l.recursive,
		TotalCost: l.root.Cost + l.recursive.Cost,
	}
}

// Calls returns a copy of every recorded call in order.
func (l *Ledger) Calls() []Call {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Call, len(l.calls))
	copy(out, l.calls)
	return out
}

// Reset discards accumulated counters. The engine's Reset does not call
// this; cumulative totals persist until the caller explicitly discards
// them.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = nil
	l.root = types.TierTotals{}
	l.recursive = types.TierTotals{}
}
