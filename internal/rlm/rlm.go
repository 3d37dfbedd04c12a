// Package rlm drives the Recursive Language Model orchestration loop:
// it feeds the conversation to the root model, routes the response
// through the directive parser into the sandbox, and decides whether
// the session continues or terminates.
package rlm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/rlmkit/rlm/internal/client"
	"github.com/rlmkit/rlm/internal/config"
	"github.com/rlmkit/rlm/internal/ledger"
	"github.com/rlmkit/rlm/internal/observability"
	"github.com/rlmkit/rlm/internal/parse"
	"github.com/rlmkit/rlm/internal/sandbox"
	"github.com/rlmkit/rlm/internal/types"
)

// RLM is the engine. One Completion call runs one session; the cost
// ledger persists across sessions until the caller discards it.
type RLM struct {
	root              client.Client
	recursive         client.Client
	ledger            *ledger.Ledger
	maxIterations     int
	maxOutputChars    int
	maxRecursiveCalls int
	sess              *session
}

// Option configures an RLM.
type Option func(*RLM)

func WithMaxIterations(n int) Option {
	return func(r *RLM) { r.maxIterations = n }
}

func WithMaxOutputChars(n int) Option {
	return func(r *RLM) { r.maxOutputChars = n }
}

func WithMaxRecursiveCalls(n int) Option {
	return func(r *RLM) { r.maxRecursiveCalls = n }
}

func WithLedger(l *ledger.Ledger) Option {
	return func(r *RLM) { r.ledger = l }
}

// New creates an engine with root- and recursive-tier clients.
func New(root, recursive client.Client, opts ...Option) *RLM {
	r := &RLM{
		root:              root,
		recursive:         recursive,
		maxIterations:     config.DefaultMaxIterations,
		maxOutputChars:    config.DefaultMaxOutputChars,
		maxRecursiveCalls: config.DefaultMaxRecursiveCalls,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.ledger == nil {
		r.ledger = ledger.New()
	}
	return r
}

// session is one orchestration run: the context resource bound into a
// fresh sandbox namespace, the growing conversation, and the iteration
// counter. Strictly sequential; destroyed when Completion returns.
type session struct {
	id             string
	query          string
	box            *sandbox.Sandbox
	messages       []types.Message
	iterations     int
	recursiveCalls int
	kind           types.ContextKind
	chars          int
	items          int
}

func (s *session) append(role, content string) {
	s.messages = append(s.messages, types.Message{Role: role, Content: content})
}

// Completion answers query over contextData. contextData may be a
// plain string (text kind) or any structured value; exactly one
// 'context' binding is installed either way. A nil Final with
// Answered=false means the iteration budget ran out - a defined
// outcome, not an error.
func (r *RLM) Completion(ctx context.Context, contextData any, query string) (*types.Completion, error) {
	start := time.Now()
	defer func() {
		observability.SessionDuration.Observe(time.Since(start).Seconds())
	}()

	if err := r.root.Resolve(ctx); err != nil {
		observability.SessionErrors.Inc()
		return nil, fmt.Errorf("resolve root model: %w", err)
	}
	if err := r.recursive.Resolve(ctx); err != nil {
		observability.SessionErrors.Inc()
		return nil, fmt.Errorf("resolve recursive model: %w", err)
	}

	sess := r.newSession(contextData, query)
	r.sess = sess
	slog.Info("starting session", "session", sess.id, "query_len", len(query),
		"context_kind", sess.kind, "context_chars", sess.chars)

	for i := 1; i <= r.maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			observability.SessionErrors.Inc()
			return nil, err
		}

		slog.Debug("awaiting response", "session", sess.id, "iteration", i)
		resp, err := r.root.Completion(ctx, sess.messages, "")
		if err != nil {
			observability.SessionErrors.Inc()
			return nil, fmt.Errorf("root completion: %w", err)
		}
		r.ledger.Record(ledger.TierRoot, r.root.Model(),
			client.PromptChars(sess.messages), len(resp.Text), resp.Usage)
		sess.append("assistant", resp.Text)
		sess.iterations = i

		parsed := parse.Extract(resp.Text)
		if parsed.Skipped > 0 {
			slog.Debug("skipped extra code blocks", "session", sess.id, "count", parsed.Skipped)
		}
		if parsed.Code == "" {
			sess.append("user", nudgeMessage)
			continue
		}

		rec := sess.box.Run(ctx, parsed.Code)
		observability.SandboxExecutions.Inc()
		sess.append("user", observation(rec, sess.box.Names()))

		if rec.Termination == nil {
			continue
		}
		final, ok := r.resolveTermination(sess, rec.Termination)
		if !ok {
			continue
		}
		observability.SessionIterations.Observe(float64(i))
		slog.Info("session terminated", "session", sess.id, "iterations", i)
		return r.result(sess, final, true, start), nil
	}

	observability.SessionIterations.Observe(float64(r.maxIterations))
	slog.Warn("iteration budget exhausted", "session", sess.id, "max_iterations", r.maxIterations)
	return r.result(sess, nil, false, start), nil
}

// CostSummary returns the cumulative ledger snapshot.
func (r *RLM) CostSummary() types.CostSummary {
	return r.ledger.Summary()
}

// Reset clears the current session's history, namespace, and counters.
// The ledger's cumulative totals are deliberately preserved; callers
// discard them explicitly via the ledger.
func (r *RLM) Reset() {
	if r.sess != nil {
		r.sess.box.Reset()
		r.sess.messages = nil
		r.sess.iterations = 0
		r.sess.recursiveCalls = 0
	}
	r.sess = nil
}

func (r *RLM) newSession(contextData any, query string) *session {
	value, kind, chars, items := describeContext(contextData)
	sess := &session{
		id:    uuid.NewString(),
		query: query,
		kind:  kind,
		chars: chars,
		items: items,
	}

	queryFn := func(ctx context.Context, prompt, model string) (string, error) {
		if sess.recursiveCalls >= r.maxRecursiveCalls {
			slog.Warn("recursive call budget exhausted", "session", sess.id, "calls", sess.recursiveCalls)
			return "", fmt.Errorf("recursive call budget exhausted after %d calls", sess.recursiveCalls)
		}
		sess.recursiveCalls++
		resp, err := r.recursive.Completion(ctx, []types.Message{{Role: "user", Content: prompt}}, model)
		if err != nil {
			return "", err
		}
		name := r.recursive.Model()
		if model != "" {
			name = model
		}
		r.ledger.Record(ledger.TierRecursive, name, len(prompt), len(resp.Text), resp.Usage)
		observability.RecursiveCalls.Inc()
		return resp.Text, nil
	}

	sess.box = sandbox.New(queryFn, r.maxOutputChars)
	sess.box.Bind("context", value)
	sess.messages = []types.Message{
		{Role: "system", Content: systemPrompt(kind, chars, items)},
		{Role: "user", Content: queryPrompt(query)},
	}
	return sess
}

// resolveTermination turns a termination signal into the final value.
// By-reference results are resolved against the namespace at this
// instant; the namespace is not consulted again afterward. A reference
// to an unbound name discards the signal and the session continues.
func (r *RLM) resolveTermination(sess *session, term *types.Termination) (any, bool) {
	if !term.ByRef {
		return term.Value, true
	}
	v, ok := sess.box.Var(term.VarName)
	if !ok {
		sess.box.DiscardTermination()
		sess.append("user", fmt.Sprintf("FINAL_VAR(%s) failed: no variable named %q exists in the environment. Continue.", term.VarName, term.VarName))
		slog.Debug("discarded unresolvable termination", "session", sess.id, "var", term.VarName)
		return nil, false
	}
	return v, true
}

func (r *RLM) result(sess *session, final any, answered bool, start time.Time) *types.Completion {
	return &types.Completion{
		RootModel:     r.root.Model(),
		Query:         sess.query,
		Final:         final,
		Answered:      answered,
		Iterations:    sess.iterations,
		Cost:          r.ledger.Summary(),
		ExecutionTime: time.Since(start).Seconds(),
	}
}

// describeContext derives the context resource's kind tag and size
// summary. Exactly one value comes back for binding, so a string form
// and a structured form can never both be materialized.
func describeContext(contextData any) (value any, kind types.ContextKind, chars, items int) {
	switch v := contextData.(type) {
	case nil:
		return "", types.KindText, 0, 1
	case string:
		return v, types.KindText, len(v), 1
	}

	items = 1
	rv := reflect.ValueOf(contextData)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		items = rv.Len()
	}
	if b, err := json.Marshal(contextData); err == nil {
		chars = len(b)
	} else {
		chars = len(fmt.Sprintf("%v", contextData))
	}
	return contextData, types.KindStructured, chars, items
}
