package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrUnknownOperator indicates a condition references an operator that no
// field-type handler or fallback operator supports.
var ErrUnknownOperator = errors.New("unknown operator")

const (
	logicAnd = "AND"
	logicOr  = "OR"
)

// EvaluateCondition evaluates a condition against the given context.
// A nil condition always evaluates to true. With AND logic the result is true
// iff every expression passes; with OR logic iff at least one passes.
func EvaluateCondition(cond *Condition, ctx EvalContext) (bool, error) {
	if cond == nil {
		return true, nil
	}

	if cond.Logic == logicOr {
		for _, expr := range cond.Expressions {
			ok, err := evaluateExpression(expr, ctx)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}

	for _, expr := range cond.Expressions {
		ok, err := evaluateExpression(expr, ctx)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evaluateExpression(expr ConditionExpression, ctx EvalContext) (bool, error) {
	fieldType := FieldText
	if t, ok := ctx.FieldTypes[expr.Field]; ok {
		fieldType = t
	}

	handler, ok := fieldTypeHandlers[fieldType]
	if !ok {
		handler = fieldTypeHandlers[FieldText]
	}

	fieldValue := resolvePath(ctx.Fields, expr.Field)

	// Operators the field type declares are answered by its handler;
	// everything else goes through the generic fallback table.
	if handler.supports(expr.Operator) {
		results := handler.evaluate(fieldValue, expr.Value)
		return results[expr.Operator], nil
	}

	switch expr.Operator {
	case "exists":
		return genericExists(fieldValue), nil
	case "not_exists":
		return !genericExists(fieldValue), nil
	case "changed":
		return valueChanged(fieldValue, expr.Field, ctx.BeforeFields), nil
	}

	op, ok := fallbackOperators[expr.Operator]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownOperator, expr.Operator)
	}
	return op(fieldValue, expr.Value), nil
}

// resolvePath walks a dot-path through nested maps. A missing segment or a
// non-map intermediate resolves to nil.
func resolvePath(fields map[string]any, path string) any {
	var current any = fields
	for _, part := range strings.Split(path, ".") {
		if current == nil {
			return nil
		}
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}

// valueChanged fails open: with no before-state the field is treated as
// changed so first-time observations still trigger.
func valueChanged(fieldValue any, field string, beforeFields map[string]any) bool {
	if beforeFields == nil {
		return true
	}
	before := beforeFields[field]
	cur, err1 := json.Marshal(fieldValue)
	prev, err2 := json.Marshal(before)
	if err1 != nil || err2 != nil {
		return true
	}
	return string(cur) != string(prev)
}

// fieldTypeHandler answers the operators a field type declares, producing the
// verdict for every declared operator in one pass.
type fieldTypeHandler struct {
	operators []string
	evaluate  func(fieldValue, conditionValue any) map[string]bool
}

func (h fieldTypeHandler) supports(op string) bool {
	for _, o := range h.operators {
		if o == op {
			return true
		}
	}
	return false
}

var fieldTypeHandlers = map[FieldType]fieldTypeHandler{
	FieldText: {
		operators: []string{"equals", "not_equals", "contains", "not_contains", "exists", "not_exists"},
		evaluate: func(fieldValue, conditionValue any) map[string]bool {
			v := asString(fieldValue)
			c := asString(conditionValue)
			contains := strings.Contains(strings.ToLower(v), strings.ToLower(c))
			return map[string]bool{
				"equals":       v == c,
				"not_equals":   v != c,
				"contains":     contains,
				"not_contains": !contains,
				"exists":       v != "",
				"not_exists":   v == "",
			}
		},
	},
	FieldNumber: {
		operators: []string{"equals", "not_equals", ">", "<", ">=", "<=", "exists", "not_exists"},
		evaluate: func(fieldValue, conditionValue any) map[string]bool {
			v := asNumber(fieldValue)
			c := asNumber(conditionValue)
			return map[string]bool{
				"equals":     v == c,
				"not_equals": v != c,
				">":          v > c,
				"<":          v < c,
				">=":         v >= c,
				"<=":         v <= c,
				"exists":     fieldValue != nil,
				"not_exists": fieldValue == nil,
			}
		},
	},
	FieldSingleSelect: {
		operators: []string{"equals", "not_equals", "exists", "not_exists"},
		evaluate: func(fieldValue, conditionValue any) map[string]bool {
			v := asString(fieldValue)
			c := asString(conditionValue)
			return map[string]bool{
				"equals":     v == c,
				"not_equals": v != c,
				"exists":     v != "",
				"not_exists": v == "",
			}
		},
	},
	FieldMultiSelect: {
		operators: []string{"contains", "not_contains", "exists", "not_exists", "in"},
		evaluate: func(fieldValue, conditionValue any) map[string]bool {
			values := asSlice(fieldValue)
			c := asString(conditionValue)
			contains := false
			for _, v := range values {
				if asString(v) == c {
					contains = true
					break
				}
			}
			return map[string]bool{
				"contains":     contains,
				"not_contains": !contains,
				"exists":       len(values) > 0,
				"not_exists":   len(values) == 0,
				"in":           contains,
			}
		},
	},
	FieldUser: {
		operators: []string{"contains", "not_contains", "exists", "not_exists", "in"},
		evaluate:  referenceEvaluator("user_id"),
	},
	FieldLink: {
		operators: []string{"contains", "not_contains", "exists", "not_exists", "in"},
		evaluate:  referenceEvaluator("record_id"),
	},
	FieldDate: {
		operators: []string{"equals", "not_equals", ">", "<", ">=", "<=", "exists", "not_exists", "between"},
		evaluate: func(fieldValue, conditionValue any) map[string]bool {
			v := asTimestamp(fieldValue)
			c := asTimestamp(conditionValue)
			results := map[string]bool{
				"equals":     !math.IsNaN(v) && !math.IsNaN(c) && v == c,
				"not_equals": v != c && !math.IsNaN(v) && !math.IsNaN(c),
				">":          v > c,
				"<":          v < c,
				">=":         v >= c,
				"<=":         v <= c,
				"exists":     !math.IsNaN(v),
				"not_exists": math.IsNaN(v),
			}
			if bounds, ok := conditionValue.([]any); ok && len(bounds) == 2 {
				start := asTimestamp(bounds[0])
				end := asTimestamp(bounds[1])
				results["between"] = v >= start && v <= end
			}
			return results
		},
	},
	FieldCheckbox: {
		operators: []string{"equals", "not_equals"},
		evaluate: func(fieldValue, conditionValue any) map[string]bool {
			v := asBool(fieldValue)
			c := asBool(conditionValue)
			return map[string]bool{
				"equals":     v == c,
				"not_equals": v != c,
			}
		},
	},
}

// referenceEvaluator builds the evaluator shared by user and link fields:
// each element carries an id (with a type-specific fallback key) and the
// condition value is matched against the extracted id set.
func referenceEvaluator(fallbackKey string) func(fieldValue, conditionValue any) map[string]bool {
	extractID := func(v any) string {
		if m, ok := v.(map[string]any); ok {
			if id := asString(m["id"]); id != "" {
				return id
			}
			return asString(m[fallbackKey])
		}
		return asString(v)
	}

	return func(fieldValue, conditionValue any) map[string]bool {
		var ids []string
		if items, ok := fieldValue.([]any); ok {
			for _, item := range items {
				ids = append(ids, extractID(item))
			}
		}
		target := extractID(conditionValue)
		contains := false
		for _, id := range ids {
			if id == target {
				contains = true
				break
			}
		}
		return map[string]bool{
			"contains":     contains,
			"not_contains": !contains,
			"exists":       len(ids) > 0,
			"not_exists":   len(ids) == 0,
			"in":           contains,
		}
	}
}

var fallbackOperators = map[string]func(a, b any) bool{
	"equals":     func(a, b any) bool { return asString(a) == asString(b) },
	"not_equals": func(a, b any) bool { return asString(a) != asString(b) },
	"contains": func(a, b any) bool {
		return strings.Contains(strings.ToLower(asString(a)), strings.ToLower(asString(b)))
	},
	"not_contains": func(a, b any) bool {
		return !strings.Contains(strings.ToLower(asString(a)), strings.ToLower(asString(b)))
	},
	">":  func(a, b any) bool { return asNumber(a) > asNumber(b) },
	"<":  func(a, b any) bool { return asNumber(a) < asNumber(b) },
	">=": func(a, b any) bool { return asNumber(a) >= asNumber(b) },
	"<=": func(a, b any) bool { return asNumber(a) <= asNumber(b) },
}

func genericExists(v any) bool {
	if v == nil {
		return false
	}
	if s, ok := v.(string); ok && s == "" {
		return false
	}
	return true
}

// asString renders a value the way the condition language compares strings:
// nil becomes the empty string, scalars use their natural representation.
func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// asNumber coerces a value to a number; anything non-coercible collapses to 0.
func asNumber(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case bool:
		if x {
			return 1
		}
		return 0
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || math.IsNaN(n) {
			return 0
		}
		return n
	default:
		return 0
	}
}

func asBool(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	case int:
		return x != 0
	default:
		return true
	}
}

func asSlice(v any) []any {
	switch x := v.(type) {
	case nil:
		return nil
	case []any:
		return x
	default:
		return []any{x}
	}
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
}

// asTimestamp parses a value as epoch milliseconds. Numbers are taken as
// epoch millis directly; strings are tried against the known date layouts.
// A non-parseable value yields NaN, which makes every comparison false.
func asTimestamp(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return math.NaN()
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return n
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return float64(t.UnixMilli())
			}
		}
		return math.NaN()
	default:
		return math.NaN()
	}
}
