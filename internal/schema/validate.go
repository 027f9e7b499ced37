// Package schema holds the JSON-schema contracts sent to the generation
// provider and the strict validator applied to every response.
package schema

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Contract is a named JSON schema for one structured generation.
type Contract struct {
	Name       string
	Definition map[string]any
}

// ViolationError reports where a document breaks its contract.
type ViolationError struct {
	Path    string
	Problem string
}

func (e *ViolationError) Error() string {
	if e.Path == "" {
		return "schema violation: " + e.Problem
	}
	return fmt.Sprintf("schema violation at %s: %s", e.Path, e.Problem)
}

// Validate checks a decoded JSON document (maps, slices, float64, string,
// bool, nil) against def. It supports the subset of JSON Schema the
// contracts use: type (string or list), properties, required,
// additionalProperties false, items, enum, minItems, maxItems, maxLength,
// minimum and maximum.
func Validate(def map[string]any, doc any) error {
	return validateNode(def, doc, "$")
}

func validateNode(def map[string]any, v any, path string) error {
	if types := stringList(def["type"]); len(types) > 0 {
		if !matchesAnyType(types, v) {
			return violation(path, "expected %s, got %s", strings.Join(types, " or "), jsonType(v))
		}
	}

	if enum, ok := def["enum"]; ok && v != nil {
		if !inEnum(enum, v) {
			return violation(path, "value %v not in enum", v)
		}
	}

	switch x := v.(type) {
	case map[string]any:
		return validateObject(def, x, path)
	case []any:
		return validateArray(def, x, path)
	case string:
		if max, ok := number(def["maxLength"]); ok && float64(len([]rune(x))) > max {
			return violation(path, "length %d exceeds maxLength %d", len([]rune(x)), int(max))
		}
	case float64:
		if min, ok := number(def["minimum"]); ok && x < min {
			return violation(path, "%v below minimum %v", x, min)
		}
		if max, ok := number(def["maximum"]); ok && x > max {
			return violation(path, "%v above maximum %v", x, max)
		}
	}
	return nil
}

func validateObject(def map[string]any, obj map[string]any, path string) error {
	props, _ := def["properties"].(map[string]any)

	for _, name := range stringList(def["required"]) {
		if _, ok := obj[name]; !ok {
			return violation(path, "missing required property %q", name)
		}
	}

	if extra, ok := def["additionalProperties"].(bool); ok && !extra {
		var unknown []string
		for name := range obj {
			if _, known := props[name]; !known {
				unknown = append(unknown, name)
			}
		}
		if len(unknown) > 0 {
			sort.Strings(unknown)
			return violation(path, "unexpected properties %s", strings.Join(unknown, ", "))
		}
	}

	names := make([]string, 0, len(obj))
	for name := range obj {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sub, ok := props[name].(map[string]any)
		if !ok {
			continue
		}
		if err := validateNode(sub, obj[name], path+"."+name); err != nil {
			return err
		}
	}
	return nil
}

func validateArray(def map[string]any, arr []any, path string) error {
	if min, ok := number(def["minItems"]); ok && float64(len(arr)) < min {
		return violation(path, "%d items, want at least %d", len(arr), int(min))
	}
	if max, ok := number(def["maxItems"]); ok && float64(len(arr)) > max {
		return violation(path, "%d items, want at most %d", len(arr), int(max))
	}
	items, ok := def["items"].(map[string]any)
	if !ok {
		return nil
	}
	for i, elem := range arr {
		if err := validateNode(items, elem, fmt.Sprintf("%s[%d]", path, i)); err != nil {
			return err
		}
	}
	return nil
}

func matchesAnyType(types []string, v any) bool {
	for _, t := range types {
		switch t {
		case "object":
			if _, ok := v.(map[string]any); ok {
				return true
			}
		case "array":
			if _, ok := v.([]any); ok {
				return true
			}
		case "string":
			if _, ok := v.(string); ok {
				return true
			}
		case "number":
			if _, ok := v.(float64); ok {
				return true
			}
		case "integer":
			if f, ok := v.(float64); ok && f == math.Trunc(f) {
				return true
			}
		case "boolean":
			if _, ok := v.(bool); ok {
				return true
			}
		case "null":
			if v == nil {
				return true
			}
		}
	}
	return false
}

func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	}
	return fmt.Sprintf("%T", v)
}

func inEnum(enum any, v any) bool {
	switch values := enum.(type) {
	case []string:
		s, ok := v.(string)
		if !ok {
			return false
		}
		for _, allowed := range values {
			if s == allowed {
				return true
			}
		}
	case []any:
		for _, allowed := range values {
			if allowed == v {
				return true
			}
		}
	}
	return false
}

// stringList accepts either a single string or a list of strings.
func stringList(v any) []string {
	switch x := v.(type) {
	case string:
		return []string{x}
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func violation(path, format string, args ...any) *ViolationError {
	return &ViolationError{Path: path, Problem: fmt.Sprintf(format, args...)}
}
