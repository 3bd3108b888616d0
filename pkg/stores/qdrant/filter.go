package qdrant

import (
	"github.com/theapemachine/mem-go/pkg/errors"
	"github.com/theapemachine/mem-go/pkg/memory"
)

/*
translateFilter lowers a compiled filter expression into Qdrant's native
filter form: AND becomes must, OR becomes should, NOT becomes must_not, and
leaves map onto match/range conditions. A wildcard scope condition constrains
nothing and is dropped. Translation fails only for operators Qdrant cannot
evaluate server-side; the coordinator normally routes those away via
SupportedOperators first.
*/
func translateFilter(expr *memory.FilterExpression) (map[string]any, error) {
	if expr == nil {
		return nil, nil
	}

	if expr.Cond != nil {
		cond, err := translateCondition(*expr.Cond)
		if err != nil {
			return nil, err
		}
		if cond == nil {
			return nil, nil
		}
		return map[string]any{"must": []any{cond}}, nil
	}

	if len(expr.And) > 0 {
		clauses, err := translateList(expr.And)
		if err != nil {
			return nil, err
		}
		if len(clauses) == 0 {
			return nil, nil
		}
		return map[string]any{"must": clauses}, nil
	}

	if len(expr.Or) > 0 {
		clauses, err := translateList(expr.Or)
		if err != nil {
			return nil, err
		}
		if len(clauses) == 0 {
			return nil, nil
		}
		return map[string]any{"should": clauses}, nil
	}

	if expr.Not != nil {
		inner, err := translateFilter(expr.Not)
		if err != nil {
			return nil, err
		}
		if inner == nil {
			return nil, nil
		}
		return map[string]any{"must_not": []any{inner}}, nil
	}

	return nil, nil
}

func translateList(exprs []*memory.FilterExpression) ([]any, error) {
	var clauses []any
	for _, sub := range exprs {
		clause, err := translateFilter(sub)
		if err != nil {
			return nil, err
		}
		if clause != nil {
			clauses = append(clauses, clause)
		}
	}
	return clauses, nil
}

func translateCondition(cond memory.Condition) (map[string]any, error) {
	if cond.Value == memory.Wildcard {
		return nil, nil
	}

	switch cond.Operator {
	case memory.OpEq:
		return map[string]any{"key": cond.Field, "match": map[string]any{"value": cond.Value}}, nil
	case memory.OpNe:
		return map[string]any{"must_not": []any{
			map[string]any{"key": cond.Field, "match": map[string]any{"value": cond.Value}},
		}}, nil
	case memory.OpIn:
		return map[string]any{"key": cond.Field, "match": map[string]any{"any": cond.Value}}, nil
	case memory.OpNin:
		return map[string]any{"key": cond.Field, "match": map[string]any{"except": cond.Value}}, nil
	case memory.OpGt:
		return map[string]any{"key": cond.Field, "range": map[string]any{"gt": cond.Value}}, nil
	case memory.OpGte:
		return map[string]any{"key": cond.Field, "range": map[string]any{"gte": cond.Value}}, nil
	case memory.OpLt:
		return map[string]any{"key": cond.Field, "range": map[string]any{"lt": cond.Value}}, nil
	case memory.OpLte:
		return map[string]any{"key": cond.Field, "range": map[string]any{"lte": cond.Value}}, nil
	case memory.OpContains:
		return map[string]any{"key": cond.Field, "match": map[string]any{"text": cond.Value}}, nil
	}

	return nil, errors.ErrInvalidFilter.WithMessagef(
		"operator %q cannot be evaluated by the vector backend", cond.Operator,
	)
}
