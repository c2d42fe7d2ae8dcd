package style

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Filter is a compiled feature filter.
type Filter struct {
	raw     []any
	source  string
	program *vm.Program
}

// filterEnv is the evaluation environment of a compiled filter.
type filterEnv struct {
	Properties   map[string]any `expr:"properties"`
	GeometryType string         `expr:"geometryType"`
	FeatureID    any            `expr:"featureID"`
}

var filterFunctions = []expr.Option{
	expr.Function("filterCmp", func(params ...any) (any, error) {
		op, _ := params[1].(string)
		return compareValues(params[0], op, params[2]), nil
	}, new(func(any, string, any) bool)),
	expr.Function("filterIn", func(params ...any) (any, error) {
		set, _ := params[1].([]any)
		for _, v := range set {
			if compareValues(params[0], "==", v) {
				return true, nil
			}
		}
		return false, nil
	}, new(func(any, []any) bool)),
	expr.Function("filterHas", func(params ...any) (any, error) {
		props, _ := params[0].(map[string]any)
		key, _ := params[1].(string)
		_, ok := props[key]
		return ok, nil
	}, new(func(map[string]any, string) bool)),
}

// ConvertFilter compiles a filter array in either the legacy
// (["==", "key", value]) or expression (["==", ["get", "key"], value]) form.
// A nil value yields a nil filter that matches everything.
func ConvertFilter(v any) (*Filter, error) {
	if v == nil {
		return nil, nil
	}
	if b, ok := v.(bool); ok {
		return compileFilter([]any{b}, strconv.FormatBool(b))
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, &ConversionError{Path: "filter", Msg: "filter must be an array"}
	}

	src, err := filterSource(arr)
	if err != nil {
		return nil, &ConversionError{Path: "filter", Msg: err.Error()}
	}
	return compileFilter(arr, src)
}

func compileFilter(raw []any, src string) (*Filter, error) {
	opts := append([]expr.Option{expr.Env(filterEnv{}), expr.AsBool()}, filterFunctions...)
	program, err := expr.Compile(src, opts...)
	if err != nil {
		return nil, &ConversionError{Path: "filter", Msg: "compile", Err: err}
	}
	return &Filter{raw: raw, source: src, program: program}, nil
}

// Match evaluates the filter against one feature. A nil filter matches everything.
func (f *Filter) Match(props map[string]any, geometryType string, id any) bool {
	if f == nil {
		return true
	}
	out, err := expr.Run(f.program, filterEnv{Properties: props, GeometryType: geometryType, FeatureID: id})
	if err != nil {
		return false
	}
	ok, _ := out.(bool)
	return ok
}

// Raw returns the filter array as written in the style.
func (f *Filter) Raw() []any {
	if f == nil {
		return nil
	}
	return f.raw
}

// Source returns the compiled expression text.
func (f *Filter) Source() string {
	if f == nil {
		return "true"
	}
	return f.source
}

func filterSource(arr []any) (string, error) {
	if len(arr) == 0 {
		return "", fmt.Errorf("empty filter")
	}
	op, ok := arr[0].(string)
	if !ok {
		if b, isBool := arr[0].(bool); isBool && len(arr) == 1 {
			return strconv.FormatBool(b), nil
		}
		return "", fmt.Errorf("filter operator must be a string")
	}

	switch op {
	case "all", "any", "none":
		if len(arr) == 1 {
			return strconv.FormatBool(op != "any"), nil
		}
		parts := make([]string, 0, len(arr)-1)
		for _, sub := range arr[1:] {
			subArr, ok := sub.([]any)
			if !ok {
				if b, isBool := sub.(bool); isBool {
					parts = append(parts, strconv.FormatBool(b))
					continue
				}
				return "", fmt.Errorf("%s: operand must be a filter", op)
			}
			s, err := filterSource(subArr)
			if err != nil {
				return "", err
			}
			parts = append(parts, "("+s+")")
		}
		switch op {
		case "all":
			return strings.Join(parts, " && "), nil
		case "any":
			return strings.Join(parts, " || "), nil
		default:
			return "!(" + strings.Join(parts, " || ") + ")", nil
		}

	case "!":
		if len(arr) != 2 {
			return "", fmt.Errorf("!: expected one operand")
		}
		sub, ok := arr[1].([]any)
		if !ok {
			return "", fmt.Errorf("!: operand must be a filter")
		}
		s, err := filterSource(sub)
		if err != nil {
			return "", err
		}
		return "!(" + s + ")", nil

	case "==", "!=", "<", "<=", ">", ">=":
		if len(arr) != 3 {
			return "", fmt.Errorf("%s: expected two operands", op)
		}
		lhs, err := operand(arr[1], true)
		if err != nil {
			return "", err
		}
		rhs, err := operand(arr[2], false)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("filterCmp(%s, %q, %s)", lhs, op, rhs), nil

	case "in", "!in":
		if len(arr) < 2 {
			return "", fmt.Errorf("%s: expected a key", op)
		}
		lhs, err := operand(arr[1], true)
		if err != nil {
			return "", err
		}
		values := make([]string, 0, len(arr)-2)
		for _, v := range arr[2:] {
			lit, err := literal(v)
			if err != nil {
				return "", err
			}
			values = append(values, lit)
		}
		s := fmt.Sprintf("filterIn(%s, [%s])", lhs, strings.Join(values, ", "))
		if op == "!in" {
			s = "!" + s
		}
		return s, nil

	case "has", "!has":
		if len(arr) != 2 {
			return "", fmt.Errorf("%s: expected one key", op)
		}
		key, ok := arr[1].(string)
		if !ok {
			return "", fmt.Errorf("%s: key must be a string", op)
		}
		var s string
		switch key {
		case "$type":
			s = "true"
		case "$id":
			s = "featureID != nil"
		default:
			s = fmt.Sprintf("filterHas(properties, %s)", strconv.Quote(key))
		}
		if op == "!has" {
			s = "!(" + s + ")"
		}
		return s, nil
	}
	return "", fmt.Errorf("unsupported filter operator %q", op)
}

// operand converts a comparison operand. In legacy filters the first operand is
// a property key; in expression filters it is a nested expression.
func operand(v any, key bool) (string, error) {
	if arr, ok := v.([]any); ok {
		if len(arr) == 0 {
			return "", fmt.Errorf("empty expression")
		}
		name, _ := arr[0].(string)
		switch name {
		case "get":
			if len(arr) != 2 {
				return "", fmt.Errorf("get: expected one key")
			}
			k, ok := arr[1].(string)
			if !ok {
				return "", fmt.Errorf("get: key must be a string")
			}
			return fmt.Sprintf("properties[%s]", strconv.Quote(k)), nil
		case "geometry-type":
			return "geometryType", nil
		case "id":
			return "featureID", nil
		case "literal":
			if len(arr) != 2 {
				return "", fmt.Errorf("literal: expected one value")
			}
			return literal(arr[1])
		}
		return "", fmt.Errorf("unsupported expression %q", name)
	}

	if s, ok := v.(string); ok && key {
		switch s {
		case "$type":
			return "geometryType", nil
		case "$id":
			return "featureID", nil
		}
		return fmt.Sprintf("properties[%s]", strconv.Quote(s)), nil
	}
	return literal(v)
}

func literal(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "nil", nil
	case bool:
		return strconv.FormatBool(t), nil
	case string:
		return strconv.Quote(t), nil
	case float64:
		s := strconv.FormatFloat(t, 'f', -1, 64)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s, nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return "", err
		}
		return literal(f)
	case int:
		return literal(float64(t))
	}
	return "", fmt.Errorf("unsupported literal %v", v)
}

func compareValues(a any, op string, b any) bool {
	a, b = normalizeNumber(a), normalizeNumber(b)

	switch op {
	case "==":
		return a == b
	case "!=":
		return a != b
	}

	switch x := a.(type) {
	case float64:
		y, ok := b.(float64)
		if !ok {
			return false
		}
		switch op {
		case "<":
			return x < y
		case "<=":
			return x <= y
		case ">":
			return x > y
		case ">=":
			return x >= y
		}
	case string:
		y, ok := b.(string)
		if !ok {
			return false
		}
		switch op {
		case "<":
			return x < y
		case "<=":
			return x <= y
		case ">":
			return x > y
		case ">=":
			return x >= y
		}
	}
	return false
}

func normalizeNumber(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
	}
	return v
}
