package memory

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/theapemachine/mem-go/pkg/errors"
)

func TestCompileFilterRequiresScope(t *testing.T) {
	_, err := CompileFilter(map[string]any{"category": "food"})
	assert.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrInvalidFilter))

	_, err = CompileFilter(map[string]any{})
	assert.True(t, stderrors.Is(err, errors.ErrInvalidFilter))
}

func TestCompileFilterAcceptsScopeField(t *testing.T) {
	expr, err := CompileFilter(map[string]any{"user_id": "u1"})
	assert.NoError(t, err)
	assert.NotNil(t, expr.Cond)
	assert.Equal(t, "user_id", expr.Cond.Field)
	assert.Equal(t, OpEq, expr.Cond.Operator)
}

func TestCompileFilterScopeInsideCombinator(t *testing.T) {
	expr, err := CompileFilter(map[string]any{
		"OR": []any{
			map[string]any{"user_id": "u1"},
			map[string]any{"agent_id": "a1"},
		},
	})
	assert.NoError(t, err)
	assert.Len(t, expr.Or, 2)
}

func TestCompileFilterUnknownOperator(t *testing.T) {
	_, err := CompileFilter(map[string]any{
		"user_id":  "u1",
		"category": map[string]any{"like": "foo"},
	})
	assert.True(t, stderrors.Is(err, errors.ErrInvalidFilter))
}

func TestCompileFilterWildcardOnlyOnScopeFields(t *testing.T) {
	_, err := CompileFilter(map[string]any{"user_id": "u1", "category": "*"})
	assert.True(t, stderrors.Is(err, errors.ErrInvalidFilter))

	expr, err := CompileFilter(map[string]any{"user_id": "*"})
	assert.NoError(t, err)
	assert.Equal(t, Wildcard, expr.Cond.Value)
}

func TestCompileFilterMalformedCombinators(t *testing.T) {
	_, err := CompileFilter(map[string]any{"AND": []any{}})
	assert.True(t, stderrors.Is(err, errors.ErrInvalidFilter))

	_, err = CompileFilter(map[string]any{"NOT": "nope"})
	assert.True(t, stderrors.Is(err, errors.ErrInvalidFilter))
}

func TestScopeFilterRoundTrip(t *testing.T) {
	scope := Scope{UserID: "u1", RunID: "r1"}
	expr := ScopeFilter(scope)

	assert.True(t, expr.hasScopeCondition())
	assert.Equal(t, scope, expr.Scope())
}

func TestFilterMatches(t *testing.T) {
	item := Item{
		ID:     "m1",
		Memory: "likes pizza",
		Scope:  Scope{UserID: "u1"},
		Metadata: map[string]any{
			"category": "food",
			"priority": 3,
		},
	}

	cases := []struct {
		name   string
		raw    map[string]any
		expect bool
	}{
		{"scope equality", map[string]any{"user_id": "u1"}, true},
		{"scope mismatch", map[string]any{"user_id": "u2"}, false},
		{"wildcard scope", map[string]any{"user_id": "*"}, true},
		{"metadata in", map[string]any{"user_id": "u1", "category": map[string]any{"in": []any{"food", "travel"}}}, true},
		{"metadata nin", map[string]any{"user_id": "u1", "category": map[string]any{"nin": []any{"food"}}}, false},
		{"numeric gte", map[string]any{"user_id": "u1", "priority": map[string]any{"gte": 3}}, true},
		{"numeric lt", map[string]any{"user_id": "u1", "priority": map[string]any{"lt": 3}}, false},
		{"contains", map[string]any{"user_id": "u1", "category": map[string]any{"contains": "oo"}}, true},
		{"icontains", map[string]any{"user_id": "u1", "category": map[string]any{"icontains": "FOOD"}}, true},
		{"negation", map[string]any{"user_id": "u1", "NOT": map[string]any{"category": "food"}}, false},
		{"disjunction", map[string]any{"OR": []any{
			map[string]any{"user_id": "u2"},
			map[string]any{"run_id": map[string]any{"eq": "*"}},
		}}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			expr, err := CompileFilter(tc.raw)
			assert.NoError(t, err)
			assert.Equal(t, tc.expect, expr.Matches(item))
		})
	}
}

func TestFilterSatisfiableBy(t *testing.T) {
	expr, err := CompileFilter(map[string]any{
		"user_id":  "u1",
		"category": map[string]any{"icontains": "food"},
	})
	assert.NoError(t, err)

	assert.False(t, expr.SatisfiableBy([]Operator{OpEq, OpContains}))
	assert.True(t, expr.SatisfiableBy([]Operator{OpEq, OpIContains}))
}
