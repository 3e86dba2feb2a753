// Package control implements the control-flow nodes whose behavior is part
// of the engine itself: conditional branching, variable assignment, data
// transforms, collection operations, failure policies (try/catch, timeout,
// retry, circuit breaker), webhook wait points, and sub-workflow invocation.
//
// Policy nodes (try_catch, timeout, retry, circuit_breaker) describe how the
// engine should run the steps downstream of them; the engine parses their
// parameters through the exported *Policy helpers and installs the matching
// run scope. Executing a policy node on its own just echoes the normalized
// policy.
package control

import (
	"fmt"
	"strconv"
	"strings"
)

// lookupPath resolves a dotted path within a structured value. Map segments
// index map[string]any keys; numeric segments index []any elements. The
// second return is false when any segment is missing.
func lookupPath(v any, path string) (any, bool) {
	if path == "" {
		return v, true
	}
	cur := v
	for _, seg := range strings.Split(path, ".") {
		switch c := cur.(type) {
		case map[string]any:
			next, ok := c[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(c) {
				return nil, false
			}
			cur = c[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// renderTemplate walks a structured template and substitutes string values of
// the form "{{path}}". A path starting with $ names a workflow variable;
// anything else is a dotted path into input. Substitution applies only to
// whole-string templates so non-string values keep their type. Unresolvable
// templates render as nil.
func renderTemplate(tmpl any, input any, vars map[string]any) any {
	switch t := tmpl.(type) {
	case string:
		path, ok := templatePath(t)
		if !ok {
			return t
		}
		v, _ := resolvePath(path, input, vars)
		return v
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			out[k] = renderTemplate(v, input, vars)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = renderTemplate(v, input, vars)
		}
		return out
	default:
		return tmpl
	}
}

// templatePath reports whether s is a whole-string template and returns the
// inner path.
func templatePath(s string) (string, bool) {
	if !strings.HasPrefix(s, "{{") || !strings.HasSuffix(s, "}}") {
		return "", false
	}
	return strings.TrimSpace(s[2 : len(s)-2]), true
}

// resolvePath resolves a template path against the input value or, when the
// path starts with $, the workflow variable map.
func resolvePath(path string, input any, vars map[string]any) (any, bool) {
	if name, ok := strings.CutPrefix(path, "$"); ok {
		v, found := lookupPath(map[string]any(vars), name)
		return v, found
	}
	return lookupPath(input, path)
}

// stringParam reads a string parameter. Missing or empty values report false.
func stringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// boolParam reads a boolean parameter, falling back to def when absent or
// not a boolean.
func boolParam(params map[string]any, key string, def bool) bool {
	v, ok := params[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// numberValue coerces the numeric types that survive YAML and JSON decoding
// to float64.
func numberValue(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// intParam reads an integer parameter, falling back to def when absent.
// Non-integral values are rejected.
func intParam(params map[string]any, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok {
		return def, nil
	}
	f, ok := numberValue(v)
	if !ok || f != float64(int(f)) {
		return 0, fmt.Errorf("parameter %q must be an integer", key)
	}
	return int(f), nil
}

// rangeParam reads an integer parameter and enforces an inclusive range.
func rangeParam(params map[string]any, key string, def, min, max int) (int, error) {
	n, err := intParam(params, key, def)
	if err != nil {
		return 0, err
	}
	if n < min || n > max {
		return 0, fmt.Errorf("parameter %q must be between %d and %d", key, min, max)
	}
	return n, nil
}

// itemsFromParams resolves the items parameter shared by the collection
// nodes: a literal array, a "$var" workflow-variable reference, or (when the
// parameter is absent) the node's main input.
func itemsFromParams(params map[string]any, mainInput any, vars map[string]any) ([]any, error) {
	raw, ok := params["items"]
	if !ok {
		raw = mainInput
	}
	if ref, isString := raw.(string); isString {
		name, isVar := strings.CutPrefix(ref, "$")
		if !isVar {
			return nil, fmt.Errorf("parameter %q must be an array or a $variable reference", "items")
		}
		v, found := lookupPath(map[string]any(vars), name)
		if !found {
			return nil, fmt.Errorf("variable %q is not set", name)
		}
		raw = v
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("items must be an array, got %T", raw)
	}
	return items, nil
}
