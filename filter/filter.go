// Package filter builds FortiManager query predicates and renders them into
// the nested-array form accepted by the "filter" parameter of get requests.
//
// A Filter holds exactly one field comparison. Anything larger is built by
// composition:
//
//	f := filter.And(
//	    filter.Join(filter.F("name", "root"), filter.F("name", "rootp")),
//	    filter.MustNew("status", filter.OpEq, 1),
//	)
//	f.Generate() // [[["name","==","root"],["name","==","rootp"]],"&&",["status","==",1]]
//
// Trees are never simplified; the rendered nesting follows the composition
// order exactly.
package filter

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// Op is a comparison operator.
type Op string

// Supported comparison operators.
const (
	OpEq      Op = "=="
	OpNe      Op = "!="
	OpLt      Op = "<"
	OpLe      Op = "<="
	OpGt      Op = ">"
	OpGe      Op = ">="
	OpBitAnd  Op = "&"
	OpIn      Op = "in"
	OpContain Op = "contain"
	OpLike    Op = "like"
	OpNotLike Op = "!like"
	OpGlob    Op = "glob"
	OpNotGlob Op = "!glob"
)

var ops = []Op{OpEq, OpNe, OpLt, OpLe, OpGt, OpGe, OpBitAnd, OpIn, OpContain, OpLike, OpNotLike, OpGlob, OpNotGlob}

// Keyword suffixes accepted by Kw ("name__like"). "and" is the bitwise
// "&" test ("flags__and").
var keywordOps = map[string]Op{
	"eq":       OpEq,
	"ne":       OpNe,
	"lt":       OpLt,
	"le":       OpLe,
	"gt":       OpGt,
	"ge":       OpGe,
	"and":      OpBitAnd,
	"in":       OpIn,
	"contain":  OpContain,
	"like":     OpLike,
	"not_like": OpNotLike,
	"glob":     OpGlob,
	"not_glob": OpNotGlob,
}

// Valid reports whether op is in the supported set.
func (op Op) Valid() bool {
	for _, known := range ops {
		if op == known {
			return true
		}
	}
	return false
}

// Logic joins two expressions in a Complex.
type Logic string

// Logical operators.
const (
	LogicAnd Logic = "&&"
	LogicOr  Logic = "||"
)

var (
	// ErrInvalid reports a malformed single-field filter.
	ErrInvalid = errors.New("filter: invalid filter")
	// ErrMultipleConditions is returned when a keyword filter names more than
	// one field. Combine filters with And, Or or Join instead.
	ErrMultipleConditions = errors.New("filter: only one condition per filter")
)

// Expr is anything that renders into the wire format.
type Expr interface {
	Generate() []any
}

// Filter is a single field comparison.
type Filter struct {
	field   string
	op      Op
	values  []any
	negated bool
}

// New builds a filter. A single slice value is expanded so that
// New("member", OpIn, []string{"a","b"}) renders as ["member","in","a","b"].
func New(field string, op Op, values ...any) (*Filter, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return nil, fmt.Errorf("%w: field required", ErrInvalid)
	}
	if !op.Valid() {
		return nil, fmt.Errorf("%w: unsupported operator %q", ErrInvalid, op)
	}
	flat := flatten(values)
	if len(flat) == 0 {
		return nil, fmt.Errorf("%w: %s %s needs a value", ErrInvalid, field, op)
	}
	return &Filter{field: field, op: op, values: flat}, nil
}

// MustNew is New that panics on error. Intended for literals.
func MustNew(field string, op Op, values ...any) *Filter {
	f, err := New(field, op, values...)
	if err != nil {
		panic(err)
	}
	return f
}

// F is shorthand for an equality filter.
func F(field string, value any) *Filter {
	return MustNew(field, OpEq, value)
}

// Kw builds a filter from a single "field" or "field__op" keyword, the way
// callers spell it in configuration files. More than one key is rejected.
func Kw(kw map[string]any) (*Filter, error) {
	if len(kw) != 1 {
		if len(kw) == 0 {
			return nil, fmt.Errorf("%w: no condition given", ErrInvalid)
		}
		return nil, fmt.Errorf("%w: got %d", ErrMultipleConditions, len(kw))
	}
	for key, value := range kw {
		field, op := key, OpEq
		if idx := strings.LastIndex(key, "__"); idx > 0 {
			suffix := key[idx+2:]
			mapped, ok := keywordOps[suffix]
			if !ok {
				return nil, fmt.Errorf("%w: unknown operator suffix %q", ErrInvalid, suffix)
			}
			field, op = key[:idx], mapped
		}
		return New(field, op, value)
	}
	return nil, ErrInvalid
}

// Field returns the compared field name.
func (f *Filter) Field() string { return f.field }

// Op returns the comparison operator.
func (f *Filter) Op() Op { return f.op }

// Values returns a copy of the compared values.
func (f *Filter) Values() []any {
	out := make([]any, len(f.values))
	copy(out, f.values)
	return out
}

// Negated reports whether the filter carries a leading "!".
func (f *Filter) Negated() bool { return f.negated }

// Generate renders [field, op, values...] or ["!", field, op, values...].
func (f *Filter) Generate() []any {
	out := make([]any, 0, len(f.values)+3)
	if f.negated {
		out = append(out, "!")
	}
	out = append(out, f.field, string(f.op))
	return append(out, f.values...)
}

func (f *Filter) String() string {
	return fmt.Sprint(f.Generate())
}

// Not returns a copy of f with negation toggled.
func Not(f *Filter) *Filter {
	if f == nil {
		return nil
	}
	out := *f
	out.values = f.Values()
	out.negated = !f.negated
	return &out
}

// List is a flat juxtaposition of expressions. The server treats juxtaposed
// conditions as independent alternatives.
type List []Expr

// Generate renders each member in order.
func (l List) Generate() []any {
	out := make([]any, 0, len(l))
	for _, e := range l {
		out = append(out, e.Generate())
	}
	return out
}

// Join juxtaposes expressions into a List. Lists on either side are
// flattened rather than nested.
func Join(a, b Expr, more ...Expr) List {
	var out List
	for _, e := range append([]Expr{a, b}, more...) {
		if e == nil || isNilPointer(e) {
			continue
		}
		if l, ok := e.(List); ok {
			out = append(out, l...)
			continue
		}
		out = append(out, e)
	}
	return out
}

// Complex combines two expressions with an explicit logical operator.
type Complex struct {
	Left  Expr
	Logic Logic
	Right Expr
}

// Generate renders [left, logic, right].
func (c *Complex) Generate() []any {
	return []any{c.Left.Generate(), string(c.Logic), c.Right.Generate()}
}

// And combines expressions with "&&", folding left: And(a, b, c) is
// And(And(a, b), c).
func And(a, b Expr, more ...Expr) *Complex {
	return fold(LogicAnd, a, b, more)
}

// Or combines expressions with "||", folding left.
func Or(a, b Expr, more ...Expr) *Complex {
	return fold(LogicOr, a, b, more)
}

func fold(logic Logic, a, b Expr, more []Expr) *Complex {
	out := &Complex{Left: a, Logic: logic, Right: b}
	for _, e := range more {
		out = &Complex{Left: out, Logic: logic, Right: e}
	}
	return out
}

// Generate renders e, returning nil for a nil expression so callers can pass
// the result straight into request params.
func Generate(e Expr) []any {
	if e == nil || isNilPointer(e) {
		return nil
	}
	return e.Generate()
}

func flatten(values []any) []any {
	if len(values) != 1 {
		return values
	}
	v := values[0]
	if v == nil {
		return values
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return values
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return values
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

func isNilPointer(e Expr) bool {
	rv := reflect.ValueOf(e)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map:
		return rv.IsNil()
	}
	return false
}
