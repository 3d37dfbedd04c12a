package sandbox

import "strings"

type stmtKind int

const (
	stmtExpr stmtKind = iota
	stmtAssign
	stmtFinalVar
)

// statement is one logical line of a fragment: a bare expression, an
// `ident = expr` assignment, or a FINAL_VAR directive (handled by the
// sandbox itself so the variable *name* is captured, not its value).
type statement struct {
	kind   stmtKind
	target string
	src    string
	line   int
}

// splitStatements breaks a fragment into logical statements. Lines are
// joined while brackets remain open. The fragment language has no
// comment syntax; # is the closure-argument placeholder.
func splitStatements(code string) []statement {
	var stmts []statement
	var buf []string
	depth := 0
	startLine := 0

	for i, raw := range strings.Split(code, "\n") {
		if len(buf) == 0 {
			startLine = i + 1
		}
		buf = append(buf, raw)
		depth += scanLine(raw)
		if depth > 0 {
			continue
		}
		depth = 0
		src := strings.TrimSpace(strings.Join(buf, "\n"))
		buf = buf[:0]
		if src == "" {
			continue
		}
		stmts = append(stmts, classify(src, startLine))
	}
	if src := strings.TrimSpace(strings.Join(buf, "\n")); src != "" {
		stmts = append(stmts, classify(src, startLine))
	}
	return stmts
}

// scanLine reports the net bracket depth change of one source line.
// String literals cannot span lines, so quote state resets at each
// line end.
func scanLine(line string) (depth int) {
	var quote byte
	for i := 0; i < len(line); i++ {
		c := line[i]
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
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		}
	}
	return depth
}

func classify(src string, line int) statement {
	if rest, ok := strings.CutPrefix(src, "FINAL_VAR("); ok && strings.HasSuffix(rest, ")") {
		name := strings.Trim(strings.TrimSpace(rest[:len(rest)-1]), `"'`)
		if !isIdent(name) {
			name = ""
		}
		return statement{kind: stmtFinalVar, target: name, src: src, line: line}
	}
	if target, expr, ok := splitAssign(src); ok {
		return statement{kind: stmtAssign, target: target, src: expr, line: line}
	}
	return statement{kind: stmtExpr, src: src, line: line}
}

// splitAssign detects a top-level `ident = expr` form, rejecting
// comparison operators.
func splitAssign(src string) (target, expr string, ok bool) {
	depth := 0
	var quote byte
	for i := 0; i < len(src); i++ {
		c := src[i]
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
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case '=':
			if depth != 0 {
				continue
			}
			if i+1 < len(src) && src[i+1] == '=' {
				i++
				continue
			}
			if i > 0 && strings.ContainsRune("=!<>+-*/%", rune(src[i-1])) {
				continue
			}
			left := strings.TrimSpace(src[:i])
			if !isIdent(left) {
				return "", "", false
			}
			return left, strings.TrimSpace(src[i+1:]), true
		}
	}
	return "", "", false
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		letter := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		if i == 0 && !letter {
			return false
		}
		if !letter && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
