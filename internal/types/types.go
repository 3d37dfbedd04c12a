package types

// Message is one role-tagged entry in a session's conversation history.
// History is append-only: once a message is appended it is never mutated
// or reordered, and every model call sees the full prior sequence.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage carries token counts as reported by a model endpoint. A nil
// *Usage means the endpoint reported nothing and the ledger estimates
// from character lengths instead.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// ContextKind tags how the context resource was supplied.
type ContextKind string

const (
	KindText       ContextKind = "text"
	KindStructured ContextKind = "structured"
)

// Termination is the signal a fragment raises to end a session. Exactly
// one termination takes effect per session; the first directive
// encountered wins. A by-reference termination is resolved against the
// sandbox namespace at the moment the loop observes it, not earlier.
type Termination struct {
	Value   any    `json:"value,omitempty"`
	VarName string `json:"var_name,omitempty"`
	ByRef   bool   `json:"by_ref"`
}

// ExecutionRecord is the outcome of running one code fragment. It is
// folded into the next observation message and then discarded.
type ExecutionRecord struct {
	Stdout      string       `json:"stdout"`
	Stderr      string       `json:"stderr"`
	Value       any          `json:"value,omitempty"`
	Termination *Termination `json:"termination,omitempty"`
	Duration    float64      `json:"duration"`
}

// TierTotals aggregates call statistics for one call tier.
type TierTotals struct {
	Calls          int     `json:"calls"`
	InputTokens    int64   `json:"input_tokens"`
	OutputTokens   int64   `json:"output_tokens"`
	EstimatedCalls int     `json:"estimated_calls"`
	Cost           float64 `json:"cost"`
}

// CostSummary is a read-only snapshot of the cost ledger.
type CostSummary struct {
	Root      TierTotals `json:"root"`
	Recursive TierTotals `json:"recursive"`
	TotalCost float64    `json:"total_cost"`
}

// Completion is the result of one full orchestration session. Answered
// is false when the iteration budget ran out before a directive; Final
// is nil in that case.
type Completion struct {
	RootModel     string      `json:"root_model"`
	Query         string      `json:"query"`
	Final         any         `json:"final"`
	Answered      bool        `json:"answered"`
	Iterations    int         `json:"iterations"`
	Cost          CostSummary `json:"cost"`
	ExecutionTime float64     `json:"execution_time"`
}
