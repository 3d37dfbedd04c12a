// Package sandbox runs model-authored code fragments against a
// persistent per-session namespace.
//
// Fragments are evaluated with expr-lang, which has no filesystem,
// process, or network builtins; the only way out of the namespace is the
// recursive-query primitive supplied at construction. Isolation targets
// accidental unsafe code from a cooperative model, not a hostile one.
package sandbox

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/expr-lang/expr"

	"github.com/rlmkit/rlm/internal/types"
)

// QueryFunc issues one recursive-tier completion and returns its text.
// Errors are returned to the fragment as an error string, so
// model-authored retry logic can react to them.
type QueryFunc func(ctx context.Context, prompt, model string) (string, error)

// TruncationMarker is appended to captured output that was clipped at
// the configured maximum.
const TruncationMarker = "\n...[truncated]"

// reserved names installed fresh into every run's environment.
var builtinNames = map[string]struct{}{
	"print":     {},
	"llm_query": {},
	"FINAL":     {},
}

// Sandbox owns one session's namespace. Not safe for concurrent use;
// sessions are strictly sequential.
type Sandbox struct {
	vars      map[string]any
	query     QueryFunc
	maxOutput int
	term      *types.Termination
}

func New(query QueryFunc, maxOutput int) *Sandbox {
	return &Sandbox{
		vars:      make(map[string]any),
		query:     query,
		maxOutput: maxOutput,
	}
}

// Bind installs a named value before iteration 1. Idempotent per
// session: rebinding the same name simply overwrites it.
func (s *Sandbox) Bind(name string, value any) {
	s.vars[name] = value
}

// Var looks up a namespace binding.
func (s *Sandbox) Var(name string) (any, bool) {
	v, ok := s.vars[name]
	return v, ok
}

// Names returns the sorted user-visible binding names.
func (s *Sandbox) Names() []string {
	names := make([]string, 0, len(s.vars))
	for k := range s.vars {
		if strings.HasPrefix(k, "_") {
			continue
		}
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Termination returns the session's termination signal, if any fragment
// has raised one. The first directive encountered wins for the whole
// session.
func (s *Sandbox) Termination() *types.Termination {
	return s.term
}

// DiscardTermination drops a termination signal that could not be
// resolved (FINAL_VAR naming an unbound variable) so the session can
// continue.
func (s *Sandbox) DiscardTermination() {
	s.term = nil
}

// Reset clears the namespace and any termination signal.
func (s *Sandbox) Reset() {
	s.vars = make(map[string]any)
	s.term = nil
}

// Run executes one fragment. New and updated bindings persist into
// subsequent runs. Fragment errors are captured into the record's
// Stderr and never propagate; execution of the fragment stops at the
// first failing statement, but the session survives.
func (s *Sandbox) Run(ctx context.Context, code string) *types.ExecutionRecord {
	start := time.Now()
	rec := &types.ExecutionRecord{}
	var stdout, stderr strings.Builder
	before := s.term

	env := make(map[string]any, len(s.vars)+len(builtinNames))
	for k, v := range s.vars {
		env[k] = v
	}
	env["print"] = func(args ...any) any {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = fmt.Sprintf("%v", a)
		}
		stdout.WriteString(strings.Join(parts, " "))
		stdout.WriteByte('\n')
		return nil
	}
	env["llm_query"] = func(args ...any) (any, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("llm_query requires a prompt")
		}
		prompt, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("llm_query prompt must be a string")
		}
		model := ""
		if len(args) > 1 {
			model, _ = args[1].(string)
		}
		resp, err := s.query(ctx, prompt, model)
		if err != nil {
			return "llm_query error: " + err.Error(), nil
		}
		return resp, nil
	}
	env["FINAL"] = func(v any) any {
		if s.term == nil {
			s.term = &types.Termination{Value: v}
		}
		return v
	}

	stmts := splitStatements(code)
loop:
	for i, st := range stmts {
		if err := ctx.Err(); err != nil {
			fmt.Fprintf(&stderr, "execution cancelled: %v", err)
			break
		}
		switch st.kind {
		case stmtFinalVar:
			if st.target == "" {
				fmt.Fprintf(&stderr, "line %d: FINAL_VAR expects a variable name", st.line)
				break loop
			}
			if s.term == nil {
				s.term = &types.Termination{ByRef: true, VarName: st.target}
			}
		case stmtAssign:
			out, err := s.eval(st.src, env)
			if err != nil {
				fmt.Fprintf(&stderr, "line %d: %v", st.line, err)
				break loop
			}
			env[st.target] = out
		case stmtExpr:
			out, err := s.eval(st.src, env)
			if err != nil {
				fmt.Fprintf(&stderr, "line %d: %v", st.line, err)
				break loop
			}
			rec.Value = out
			if i == len(stmts)-1 && out != nil {
				fmt.Fprintf(&stdout, "%v\n", out)
			}
		}
	}

	for k, v := range env {
		if _, reserved := builtinNames[k]; reserved {
			continue
		}
		s.vars[k] = v
	}

	rec.Stdout = s.clip(stdout.String())
	rec.Stderr = s.clip(stderr.String())
	s.vars["_stdout"] = rec.Stdout
	s.vars["_stderr"] = rec.Stderr

	if before == nil && s.term != nil {
		rec.Termination = s.term
	}
	rec.Duration = time.Since(start).Seconds()
	return rec
}

// eval compiles and runs a single expression against the namespace.
// A recover guard keeps evaluator panics inside the record; a fragment
// must never abort the session.
func (s *Sandbox) eval(src string, env map[string]any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	program, err := expr.Compile(src, expr.Env(map[string]any{}), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	return expr.Run(program, env)
}

func (s *Sandbox) clip(out string) string {
	if s.maxOutput <= 0 || len(out) <= s.maxOutput {
		return out
	}
	return out[:s.maxOutput] + TruncationMarker
}
