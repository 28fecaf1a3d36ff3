package filter

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrParse is wrapped by every *ParseError.
var ErrParse = errors.New("filter: parse error")

// ParseError names the part of the input that could not be parsed.
type ParseError struct {
	// Input is the full text handed to Parse.
	Input string
	// Remainder is the unparsed tail where matching stopped.
	Remainder string
	// Reason is a short description of what was expected.
	Reason string
}

func (e *ParseError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("filter: cannot parse %q: %s", e.Remainder, e.Reason)
	}
	return fmt.Sprintf("filter: cannot parse %q", e.Remainder)
}

// Unwrap lets errors.Is match ErrParse.
func (e *ParseError) Unwrap() error { return ErrParse }

var textOps = map[string]Op{
	"eq":      OpEq,
	"==":      OpEq,
	"ne":      OpNe,
	"!=":      OpNe,
	"lt":      OpLt,
	"<":       OpLt,
	"le":      OpLe,
	"<=":      OpLe,
	"gt":      OpGt,
	">":       OpGt,
	"ge":      OpGe,
	">=":      OpGe,
	"&":       OpBitAnd,
	"in":      OpIn,
	"contain": OpContain,
	"like":    OpLike,
	"!like":   OpNotLike,
	"glob":    OpGlob,
	"!glob":   OpNotGlob,
}

var (
	termPattern = regexp.MustCompile(`^(~)?\s*([A-Za-z_][\w.\-]*)\s+(eq|ne|lt|le|gt|ge|in|contain|like|!like|glob|!glob|==|!=|<=|>=|<|>|&)\s+("(?:[^"\\]|\\.)*"|'[^']*'|[^\s,()]+)`)
	joinPattern = regexp.MustCompile(`^(?:((?i:and|or))(?:\s+|$)|(,)\s*)`)
)

// Parse turns a plain-text filter into an expression.
//
// The grammar is a sequence of "[~]field op value" terms joined by "and",
// "or" or ",". A comma juxtaposes (Join) instead of building a Complex.
// Joins associate to the right: "a and b or c" is And(a, Or(b, c)).
// Parenthesized groups are parsed recursively. Values may be quoted; bare
// integers are sent as numbers; "in" takes a |-separated list.
//
//	Parse("name eq host_1 and conf_status eq insync")
//	Parse("~name like host_%")
//	Parse("name eq a, name eq b")
func Parse(text string) (Expr, error) {
	return parse(text, text)
}

func parse(input, text string) (Expr, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &ParseError{Input: input, Remainder: text, Reason: "expected a condition"}
	}
	var (
		left Expr
		rest string
	)
	if strings.HasPrefix(text, "(") {
		end := closingParen(text)
		if end < 0 {
			return nil, &ParseError{Input: input, Remainder: text, Reason: "unbalanced parenthesis"}
		}
		inner, err := parse(input, text[1:end])
		if err != nil {
			return nil, err
		}
		left, rest = inner, text[end+1:]
	} else {
		m := termPattern.FindStringSubmatch(text)
		if m == nil {
			return nil, &ParseError{Input: input, Remainder: text, Reason: "expected [~]field op value"}
		}
		f, err := termFilter(m[2], m[3], m[4])
		if err != nil {
			return nil, &ParseError{Input: input, Remainder: text, Reason: err.Error()}
		}
		if m[1] == "~" {
			f = Not(f)
		}
		left, rest = f, text[len(m[0]):]
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return left, nil
	}
	j := joinPattern.FindStringSubmatch(rest)
	if j == nil {
		return nil, &ParseError{Input: input, Remainder: rest, Reason: "expected and, or or ,"}
	}
	if strings.TrimSpace(rest[len(j[0]):]) == "" {
		join := strings.ToLower(j[1])
		if j[2] != "" {
			join = j[2]
		}
		return nil, &ParseError{Input: input, Remainder: rest, Reason: "expected a condition after " + join}
	}
	right, err := parse(input, rest[len(j[0]):])
	if err != nil {
		return nil, err
	}
	if j[2] == "," {
		return Join(left, right), nil
	}
	if strings.EqualFold(j[1], "and") {
		return And(left, right), nil
	}
	return Or(left, right), nil
}

func termFilter(field, opText, raw string) (*Filter, error) {
	op, ok := textOps[opText]
	if !ok {
		return nil, fmt.Errorf("unknown operator %q", opText)
	}
	value, err := unquote(raw)
	if err != nil {
		return nil, err
	}
	if op == OpIn && !isQuoted(raw) {
		parts := strings.Split(value, "|")
		values := make([]any, 0, len(parts))
		for _, p := range parts {
			values = append(values, typed(p))
		}
		return New(field, op, values...)
	}
	if isQuoted(raw) {
		return New(field, op, value)
	}
	return New(field, op, typed(value))
}

func isQuoted(raw string) bool {
	return len(raw) >= 2 && (raw[0] == '"' || raw[0] == '\'')
}

func unquote(raw string) (string, error) {
	if !isQuoted(raw) {
		return raw, nil
	}
	if raw[0] == '\'' {
		return raw[1 : len(raw)-1], nil
	}
	return strconv.Unquote(raw)
}

func typed(value string) any {
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	return value
}

// closingParen returns the index of the parenthesis closing text[0], skipping
// quoted sections, or -1.
func closingParen(text string) int {
	depth := 0
	var quote byte
	for i := 0; i < len(text); i++ {
		c := text[i]
		if quote != 0 {
			if c == '\\' && quote == '"' {
				i++
				continue
			}
			if c == quote {
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
				return i
			}
		}
	}
	return -1
}
