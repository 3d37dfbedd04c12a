// Package parse extracts the executable fragment and termination
// directives from a raw model response.
//
// The grammar is deliberately small: a fenced code region opens with a
// line beginning ``` (optionally followed by an info string) and closes
// with a line containing only ```; the directive verbs FINAL( and
// FINAL_VAR( are recognized at the start of a line with their argument
// captured up to the balancing parenthesis.
package parse

import (
	"strconv"
	"strings"
)

// Result is what one model response parses into. Code may be empty
// (a no-op iteration). Implicit marks a fragment synthesized from a
// prose-level directive rather than a fence.
type Result struct {
	Code     string
	Implicit bool
	Skipped  int
}

// Extract scans a model response. When multiple fenced regions are
// present only the first becomes the fragment; the rest are counted in
// Skipped. When no fence exists, a prose-level FINAL/FINAL_VAR
// directive is promoted to an implicit one-line fragment.
func Extract(text string) Result {
	blocks := fences(text)
	if len(blocks) > 0 {
		return Result{Code: blocks[0], Skipped: len(blocks) - 1}
	}

	verb, arg, ok := directive(text)
	if !ok {
		return Result{}
	}
	switch verb {
	case "FINAL_VAR":
		name := strings.Trim(strings.TrimSpace(arg), `"'`)
		return Result{Code: "FINAL_VAR(" + strconv.Quote(name) + ")", Implicit: true}
	default:
		return Result{Code: "FINAL(" + strconv.Quote(strings.TrimSpace(arg)) + ")", Implicit: true}
	}
}

// fences returns the body of every complete fenced region in order.
func fences(text string) []string {
	var blocks []string
	var body []string
	inFence := false

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if !inFence {
			if strings.HasPrefix(trimmed, "```") {
				inFence = true
				body = body[:0]
			}
			continue
		}
		if trimmed == "```" {
			inFence = false
			blocks = append(blocks, strings.TrimSpace(strings.Join(body, "\n")))
			continue
		}
		body = append(body, line)
	}
	return blocks
}

// directive finds the first FINAL_VAR or FINAL verb at the start of a
// line and captures its balanced-paren argument. FINAL_VAR is checked
// first since FINAL is a prefix of it.
func directive(text string) (verb, arg string, ok bool) {
	for _, verb := range []string{"FINAL_VAR", "FINAL"} {
		offset := 0
		for offset < len(text) {
			idx := strings.Index(text[offset:], verb+"(")
			if idx < 0 {
				break
			}
			abs := offset + idx
			if !atLineStart(text, abs) {
				offset = abs + len(verb)
				continue
			}
			arg, ok := balancedParens(text[abs+len(verb):])
			if ok {
				return verb, arg, true
			}
			offset = abs + len(verb)
		}
	}
	return "", "", false
}

// atLineStart reports whether only whitespace precedes pos on its line.
func atLineStart(text string, pos int) bool {
	for i := pos - 1; i >= 0; i-- {
		switch text[i] {
		case '\n':
			return true
		case ' ', '\t':
		default:
			return false
		}
	}
	return true
}

// balancedParens consumes an argument list starting at an opening
// parenthesis, honoring nesting and string literals, and returns the
// inner text.
func balancedParens(s string) (string, bool) {
	if len(s) == 0 || s[0] != '(' {
		return "", false
	}
	depth := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return s[1:i], true
			}
		}
	}
	return "", false
}
