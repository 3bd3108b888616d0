package memory

import (
	"fmt"
	"strings"

	"github.com/cohesivestack/valgo"
	"github.com/theapemachine/mem-go/pkg/errors"
)

// Operator is one of the fixed comparison operators a filter leaf may use.
// Filtering is deliberately a small closed set, not an expression language.
type Operator string

const (
	OpEq        Operator = "eq"
	OpNe        Operator = "ne"
	OpIn        Operator = "in"
	OpNin       Operator = "nin"
	OpGt        Operator = "gt"
	OpGte       Operator = "gte"
	OpLt        Operator = "lt"
	OpLte       Operator = "lte"
	OpContains  Operator = "contains"
	OpIContains Operator = "icontains"
)

// Wildcard matches any value for a scope field. It broadens scope but never
// satisfies the "at least one scope field present" rule by itself being
// absent; it is only permitted on scope fields.
const Wildcard = "*"

var operatorNames = []string{
	string(OpEq), string(OpNe), string(OpIn), string(OpNin),
	string(OpGt), string(OpGte), string(OpLt), string(OpLte),
	string(OpContains), string(OpIContains),
}

var scopeFields = map[string]bool{
	"user_id":  true,
	"agent_id": true,
	"run_id":   true,
}

// Condition is a single leaf predicate.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// FilterExpression is a compiled, backend-agnostic predicate tree. Exactly
// one of And, Or, Not or Cond is populated per node.
type FilterExpression struct {
	And  []*FilterExpression `json:"and,omitempty"`
	Or   []*FilterExpression `json:"or,omitempty"`
	Not  *FilterExpression   `json:"not,omitempty"`
	Cond *Condition          `json:"cond,omitempty"`
}

/*
CompileFilter translates a raw filter mapping into a FilterExpression. The
raw form accepts scope fields and metadata fields as keys, either with a
direct value (equality) or an operator mapping, plus AND/OR/NOT combinators:

	{"user_id": "u1", "category": {"in": ["food", "travel"]}}
	{"AND": [{"user_id": "*"}, {"NOT": {"archived": {"eq": true}}}]}

It fails with ErrInvalidFilter when no scope field is present anywhere in the
expression, when an operator is unknown, or when a combinator value is
malformed. Compilation is pure: no backend is touched.
*/
func CompileFilter(raw map[string]any) (*FilterExpression, error) {
	if len(raw) == 0 {
		return nil, errors.ErrInvalidFilter.WithMessagef("filter must not be empty")
	}

	expr, err := compileNode(raw)
	if err != nil {
		return nil, err
	}

	if !expr.hasScopeCondition() {
		return nil, errors.ErrInvalidFilter.WithMessagef(
			"filter requires at least one of user_id, agent_id, run_id",
		)
	}

	return expr, nil
}

// ScopeFilter builds the canonical filter for a scope: the conjunction of
// equality conditions over its non-empty fields.
func ScopeFilter(scope Scope) *FilterExpression {
	var children []*FilterExpression

	add := func(field, value string) {
		if value == "" {
			return
		}
		children = append(children, &FilterExpression{
			Cond: &Condition{Field: field, Operator: OpEq, Value: value},
		})
	}

	add("user_id", scope.UserID)
	add("agent_id", scope.AgentID)
	add("run_id", scope.RunID)

	if len(children) == 1 {
		return children[0]
	}

	return &FilterExpression{And: children}
}

func compileNode(raw map[string]any) (*FilterExpression, error) {
	var children []*FilterExpression

	for key, value := range raw {
		switch strings.ToUpper(key) {
		case "AND", "OR":
			list, ok := value.([]any)
			if !ok || len(list) == 0 {
				return nil, errors.ErrInvalidFilter.WithMessagef(
					"%s expects a non-empty list of sub-filters", key,
				)
			}

			var subs []*FilterExpression
			for _, entry := range list {
				sub, ok := entry.(map[string]any)
				if !ok {
					return nil, errors.ErrInvalidFilter.WithMessagef(
						"%s entries must be objects", key,
					)
				}
				compiled, err := compileNode(sub)
				if err != nil {
					return nil, err
				}
				subs = append(subs, compiled)
			}

			if strings.ToUpper(key) == "AND" {
				children = append(children, &FilterExpression{And: subs})
			} else {
				children = append(children, &FilterExpression{Or: subs})
			}
		case "NOT":
			sub, ok := value.(map[string]any)
			if !ok {
				return nil, errors.ErrInvalidFilter.WithMessagef("NOT expects an object")
			}
			compiled, err := compileNode(sub)
			if err != nil {
				return nil, err
			}
			children = append(children, &FilterExpression{Not: compiled})
		default:
			leaf, err := compileLeaf(key, value)
			if err != nil {
				return nil, err
			}
			children = append(children, leaf)
		}
	}

	if len(children) == 1 {
		return children[0], nil
	}

	return &FilterExpression{And: children}, nil
}

func compileLeaf(field string, value any) (*FilterExpression, error) {
	if validation := valgo.Is(valgo.String(field, "field").Not().Blank()); !validation.Valid() {
		return nil, errors.ErrInvalidFilter.WithMessagef("field name must not be blank")
	}

	// Operator mapping form: {"category": {"in": [...]}}.
	if opMap, ok := value.(map[string]any); ok {
		if len(opMap) != 1 {
			return nil, errors.ErrInvalidFilter.WithMessagef(
				"field %q expects exactly one operator, got %d", field, len(opMap),
			)
		}

		for opName, opValue := range opMap {
			if validation := valgo.Is(
				valgo.String(strings.ToLower(opName), "operator").InSlice(operatorNames),
			); !validation.Valid() {
				return nil, errors.ErrInvalidFilter.WithMessagef(
					"unknown operator %q on field %q", opName, field,
				)
			}

			if opValue == Wildcard && !scopeFields[field] {
				return nil, errors.ErrInvalidFilter.WithMessagef(
					"wildcard is only permitted on scope fields, not %q", field,
				)
			}

			return &FilterExpression{Cond: &Condition{
				Field:    field,
				Operator: Operator(strings.ToLower(opName)),
				Value:    opValue,
			}}, nil
		}
	}

	if value == Wildcard && !scopeFields[field] {
		return nil, errors.ErrInvalidFilter.WithMessagef(
			"wildcard is only permitted on scope fields, not %q", field,
		)
	}

	return &FilterExpression{Cond: &Condition{
		Field:    field,
		Operator: OpEq,
		Value:    value,
	}}, nil
}

// hasScopeCondition walks the whole tree looking for any scope-field leaf.
func (expr *FilterExpression) hasScopeCondition() bool {
	if expr == nil {
		return false
	}
	if expr.Cond != nil {
		return scopeFields[expr.Cond.Field]
	}
	for _, sub := range expr.And {
		if sub.hasScopeCondition() {
			return true
		}
	}
	for _, sub := range expr.Or {
		if sub.hasScopeCondition() {
			return true
		}
	}
	if expr.Not != nil {
		return expr.Not.hasScopeCondition()
	}
	return false
}

// Operators returns the set of operators the expression uses, for capability
// checks against backends that support only a subset.
func (expr *FilterExpression) Operators() []Operator {
	seen := map[Operator]bool{}
	expr.collectOperators(seen)

	out := make([]Operator, 0, len(seen))
	for op := range seen {
		out = append(out, op)
	}
	return out
}

func (expr *FilterExpression) collectOperators(seen map[Operator]bool) {
	if expr == nil {
		return
	}
	if expr.Cond != nil {
		seen[expr.Cond.Operator] = true
	}
	for _, sub := range expr.And {
		sub.collectOperators(seen)
	}
	for _, sub := range expr.Or {
		sub.collectOperators(seen)
	}
	if expr.Not != nil {
		expr.Not.collectOperators(seen)
	}
}

// SatisfiableBy reports whether every operator the expression uses appears in
// the supported set.
func (expr *FilterExpression) SatisfiableBy(supported []Operator) bool {
	allowed := map[Operator]bool{}
	for _, op := range supported {
		allowed[op] = true
	}
	for _, op := range expr.Operators() {
		if !allowed[op] {
			return false
		}
	}
	return true
}

// ScopeConditions returns the scope-field equality conditions found on the
// expression's conjunctive spine, wildcards excluded. Backends that only
// understand plain scope equality (the graph adapters) constrain on these.
func (expr *FilterExpression) ScopeConditions() []Condition {
	var out []Condition
	expr.collectScopeConditions(&out)
	return out
}

func (expr *FilterExpression) collectScopeConditions(out *[]Condition) {
	if expr == nil {
		return
	}
	if expr.Cond != nil {
		cond := *expr.Cond
		if scopeFields[cond.Field] && cond.Operator == OpEq && cond.Value != Wildcard {
			*out = append(*out, cond)
		}
		return
	}
	for _, sub := range expr.And {
		sub.collectScopeConditions(out)
	}
}

// Scope reconstructs a Scope from the expression's scope conditions.
func (expr *FilterExpression) Scope() Scope {
	var scope Scope
	for _, cond := range expr.ScopeConditions() {
		value, _ := cond.Value.(string)
		switch cond.Field {
		case "user_id":
			scope.UserID = value
		case "agent_id":
			scope.AgentID = value
		case "run_id":
			scope.RunID = value
		}
	}
	return scope
}

// Matches evaluates the expression against an item. Scope fields resolve
// from the item's scope, everything else from its metadata.
func (expr *FilterExpression) Matches(item Item) bool {
	if expr == nil {
		return true
	}

	if expr.Cond != nil {
		return matchCondition(*expr.Cond, item)
	}

	if len(expr.And) > 0 {
		for _, sub := range expr.And {
			if !sub.Matches(item) {
				return false
			}
		}
		return true
	}

	if len(expr.Or) > 0 {
		for _, sub := range expr.Or {
			if sub.Matches(item) {
				return true
			}
		}
		return false
	}

	if expr.Not != nil {
		return !expr.Not.Matches(item)
	}

	return true
}

func matchCondition(cond Condition, item Item) bool {
	var actual any
	switch cond.Field {
	case "user_id":
		actual = item.Scope.UserID
	case "agent_id":
		actual = item.Scope.AgentID
	case "run_id":
		actual = item.Scope.RunID
	default:
		actual = item.Metadata[cond.Field]
	}

	if scopeFields[cond.Field] && cond.Value == Wildcard {
		return true
	}

	switch cond.Operator {
	case OpEq:
		return looseEqual(actual, cond.Value)
	case OpNe:
		return !looseEqual(actual, cond.Value)
	case OpIn:
		return inList(actual, cond.Value)
	case OpNin:
		return !inList(actual, cond.Value)
	case OpGt, OpGte, OpLt, OpLte:
		return compareNumbers(cond.Operator, actual, cond.Value)
	case OpContains:
		return strings.Contains(toString(actual), toString(cond.Value))
	case OpIContains:
		return strings.Contains(
			strings.ToLower(toString(actual)),
			strings.ToLower(toString(cond.Value)),
		)
	}

	return false
}

func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return toString(a) == toString(b)
}

func inList(actual, list any) bool {
	entries, ok := list.([]any)
	if !ok {
		if strs, sok := list.([]string); sok {
			for _, entry := range strs {
				if looseEqual(actual, entry) {
					return true
				}
			}
		}
		return false
	}
	for _, entry := range entries {
		if looseEqual(actual, entry) {
			return true
		}
	}
	return false
}

func compareNumbers(op Operator, a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return false
	}
	switch op {
	case OpGt:
		return af > bf
	case OpGte:
		return af >= bf
	case OpLt:
		return af < bf
	case OpLte:
		return af <= bf
	}
	return false
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func toString(value any) string {
	if value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", value)
}
