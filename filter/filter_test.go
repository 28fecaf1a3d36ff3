package filter_test

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"pkt.systems/fmg/filter"
)

func assertGenerate(t *testing.T, e filter.Expr, want []any) {
	t.Helper()
	got := e.Generate()
	if !reflect.DeepEqual(got, want) {
		gotJSON, _ := json.Marshal(got)
		wantJSON, _ := json.Marshal(want)
		t.Fatalf("generate mismatch:\n got: %s\nwant: %s", gotJSON, wantJSON)
	}
}

func TestSimpleFilter(t *testing.T) {
	assertGenerate(t, filter.F("name", "test_address"), []any{"name", "==", "test_address"})
}

func TestEveryOperatorRendersFieldOpValue(t *testing.T) {
	ops := []filter.Op{
		filter.OpEq, filter.OpNe, filter.OpLt, filter.OpLe, filter.OpGt, filter.OpGe,
		filter.OpBitAnd, filter.OpIn, filter.OpContain, filter.OpLike, filter.OpNotLike,
		filter.OpGlob, filter.OpNotGlob,
	}
	for _, op := range ops {
		t.Run(string(op), func(t *testing.T) {
			f, err := filter.New("field", op, 7)
			if err != nil {
				t.Fatalf("new: %v", err)
			}
			assertGenerate(t, f, []any{"field", string(op), 7})
		})
	}
}

func TestFilterWithMoreValues(t *testing.T) {
	f := filter.MustNew("member", filter.OpIn, []string{"abc", "def", "ghi"})
	assertGenerate(t, f, []any{"member", "in", "abc", "def", "ghi"})
}

func TestNegation(t *testing.T) {
	f := filter.F("name", "test_address")
	assertGenerate(t, filter.Not(f), []any{"!", "name", "==", "test_address"})
	assertGenerate(t, filter.Not(filter.Not(f)), f.Generate())
	if f.Negated() {
		t.Fatal("Not must not mutate its argument")
	}
}

func TestJoinIsFlat(t *testing.T) {
	a, b, c := filter.F("name", "a"), filter.F("name", "b"), filter.F("name", "c")
	assertGenerate(t, filter.Join(a, b), []any{
		[]any{"name", "==", "a"},
		[]any{"name", "==", "b"},
	})
	assertGenerate(t, filter.Join(filter.Join(a, b), filter.Join(c, a)), []any{
		[]any{"name", "==", "a"},
		[]any{"name", "==", "b"},
		[]any{"name", "==", "c"},
		[]any{"name", "==", "a"},
	})
}

func TestJoinSkipsNilMembers(t *testing.T) {
	a := filter.F("name", "a")
	var none *filter.Filter
	var empty filter.List
	assertGenerate(t, filter.Join(a, none, nil, empty), []any{
		[]any{"name", "==", "a"},
	})
}

func TestExplicitOr(t *testing.T) {
	f := filter.Or(filter.F("name", "test_address"), filter.F("name", "prod_address"))
	assertGenerate(t, f, []any{
		[]any{"name", "==", "test_address"},
		"||",
		[]any{"name", "==", "prod_address"},
	})
}

func TestCompositionKeepsNesting(t *testing.T) {
	a, b, c := filter.F("name", "acceptance"), filter.F("name", "test"), filter.F("name", "prod")

	left := filter.Or(filter.Or(a, b), c)
	assertGenerate(t, left, []any{
		[]any{[]any{"name", "==", "acceptance"}, "||", []any{"name", "==", "test"}},
		"||",
		[]any{"name", "==", "prod"},
	})
	assertGenerate(t, filter.Or(a, b, c), left.Generate())

	right := filter.Or(a, filter.Or(b, c))
	assertGenerate(t, right, []any{
		[]any{"name", "==", "acceptance"},
		"||",
		[]any{[]any{"name", "==", "test"}, "||", []any{"name", "==", "prod"}},
	})

	if reflect.DeepEqual(filter.And(filter.And(a, b), c).Generate(), filter.And(a, filter.And(b, c)).Generate()) {
		t.Fatal("(A&B)&C and A&(B&C) must render differently")
	}
}

func TestMixedComposition(t *testing.T) {
	f := filter.And(
		filter.Join(filter.F("name", "root"), filter.F("name", "rootp")),
		filter.Join(filter.F("status", 1), filter.F("status", 2)),
	)
	assertGenerate(t, f, []any{
		[]any{[]any{"name", "==", "root"}, []any{"name", "==", "rootp"}},
		"&&",
		[]any{[]any{"status", "==", 1}, []any{"status", "==", 2}},
	})
}

func TestKeywordFilters(t *testing.T) {
	f, err := filter.Kw(map[string]any{"name__like": "test%"})
	if err != nil {
		t.Fatalf("kw: %v", err)
	}
	assertGenerate(t, f, []any{"name", "like", "test%"})

	f, err = filter.Kw(map[string]any{"interface": "port1"})
	if err != nil {
		t.Fatalf("kw: %v", err)
	}
	assertGenerate(t, f, []any{"interface", "==", "port1"})

	f, err = filter.Kw(map[string]any{"flags__and": 4})
	if err != nil {
		t.Fatalf("kw: %v", err)
	}
	assertGenerate(t, f, []any{"flags", "&", 4})

	f, err = filter.Kw(map[string]any{"conf_status__ne": "insync"})
	if err != nil {
		t.Fatalf("kw: %v", err)
	}
	assertGenerate(t, f, []any{"conf_status", "!=", "insync"})

	_, err = filter.Kw(map[string]any{"name": "a", "type": "ipmask"})
	if !errors.Is(err, filter.ErrMultipleConditions) {
		t.Fatalf("expected ErrMultipleConditions, got %v", err)
	}
	_, err = filter.Kw(map[string]any{"name__bogus": "a"})
	if !errors.Is(err, filter.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	if _, err := filter.New("", filter.OpEq, 1); !errors.Is(err, filter.ErrInvalid) {
		t.Fatalf("empty field: %v", err)
	}
	if _, err := filter.New("a", filter.Op("~~"), 1); !errors.Is(err, filter.ErrInvalid) {
		t.Fatalf("bad op: %v", err)
	}
	if _, err := filter.New("a", filter.OpEq); !errors.Is(err, filter.ErrInvalid) {
		t.Fatalf("no value: %v", err)
	}
}

func TestGenerateNil(t *testing.T) {
	if got := filter.Generate(nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
	var f *filter.Filter
	if got := filter.Generate(f); got != nil {
		t.Fatalf("expected nil for typed nil, got %v", got)
	}
}
