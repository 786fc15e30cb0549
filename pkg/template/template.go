// Package template substitutes {{dotted.path}} placeholders against an
// execution context. It is deliberately not an expression language: a
// placeholder either resolves to a context value or stays verbatim.
package template

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Resolve replaces each {{path.to.value}} placeholder in input with the
// value reached by walking the dot-separated path through context. A path
// whose segments cannot all be walked leaves the placeholder untouched.
// Objects and arrays serialize as JSON text; scalars stringify.
func Resolve(input string, context map[string]any) string {
	return placeholderPattern.ReplaceAllStringFunc(input, func(match string) string {
		path := strings.TrimSpace(match[2 : len(match)-2])

		value, ok := lookup(context, path)
		if !ok {
			return match
		}

		return stringify(value)
	})
}

// ResolveConfig applies Resolve recursively: strings are resolved, slice
// elements are resolved, map values are resolved (keys untouched), and all
// other values pass through unchanged.
func ResolveConfig(config any, context map[string]any) any {
	switch v := config.(type) {
	case string:
		return Resolve(v, context)
	case []any:
		resolved := make([]any, len(v))
		for i, item := range v {
			resolved[i] = ResolveConfig(item, context)
		}

		return resolved
	case map[string]any:
		resolved := make(map[string]any, len(v))
		for key, value := range v {
			resolved[key] = ResolveConfig(value, context)
		}

		return resolved
	default:
		return config
	}
}

// lookup walks a dot-separated path through nested maps and slices. A
// numeric segment indexes into []any values, so "items.0.name" reaches the
// first element of a JSON array. The second return is false when any segment
// is missing, out of range, or the node cannot be traversed.
func lookup(context map[string]any, path string) (any, bool) {
	keys := strings.Split(path, ".")

	var current any = context

	for _, key := range keys {
		switch node := current.(type) {
		case map[string]any:
			value, ok := node[key]
			if !ok {
				return nil, false
			}

			current = value
		case []any:
			index, err := strconv.Atoi(key)
			if err != nil || index < 0 || index >= len(node) {
				return nil, false
			}

			current = node[index]
		default:
			return nil, false
		}
	}

	return current, true
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		// JSON numbers decode as float64; render without an exponent so
		// "{{s1.response.status}}" becomes "200", not "2e+02".
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	default:
		serialized, err := json.Marshal(v)
		if err != nil {
			return ""
		}

		return string(serialized)
	}
}
