// Package normalize canonicalizes multi-value listing fields that were stored in
// whatever shape the importer of the day produced.
package normalize

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// ToList converts value into a list of strings. Accepted shapes:
//
//	nil, ""            -> []
//	[]string, []any    -> passed through
//	{a,"b"}            -> split on top-level commas, one layer of quotes removed
//	["a","b"]          -> decoded; on decode failure the raw string is the single element
//	anything else      -> single trimmed element
//
// It never panics and never returns nil.
func ToList(value any) []string {
	switch v := value.(type) {
	case nil:
		return []string{}
	case []string:
		if v == nil {
			return []string{}
		}
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, stringify(item))
		}
		return out
	case string:
		return fromString(v)
	case *string:
		if v == nil {
			return []string{}
		}
		return fromString(*v)
	case []byte:
		return fromString(string(v))
	case sql.NullString:
		if !v.Valid {
			return []string{}
		}
		return fromString(v.String)
	case fmt.Stringer:
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
			return []string{}
		}
		return fromString(v.String())
	default:
		return fromString(fmt.Sprint(v))
	}
}

// Canonical reports whether raw is already stored as a JSON array of strings.
// JSON null, as a whole or as an element, is not canonical.
func Canonical(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return true
	}
	if !strings.HasPrefix(trimmed, "[") {
		return false
	}
	var items []*string
	if err := json.Unmarshal([]byte(trimmed), &items); err != nil || items == nil {
		return false
	}
	for _, item := range items {
		if item == nil {
			return false
		}
	}
	return true
}

// Encode renders items as the canonical JSON array form.
func Encode(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	encoded, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}

func fromString(raw string) []string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return []string{}
	}

	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		return fromBraces(trimmed[1 : len(trimmed)-1])
	}

	if strings.HasPrefix(trimmed, "[") {
		var decoded any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
			return []string{trimmed}
		}
		items, ok := decoded.([]any)
		if !ok {
			return []string{trimmed}
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			out = append(out, stringify(item))
		}
		return out
	}

	return []string{trimmed}
}

func fromBraces(inner string) []string {
	if strings.TrimSpace(inner) == "" {
		return []string{}
	}
	parts := splitTopLevel(inner)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		item := unquote(strings.TrimSpace(part))
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}

// splitTopLevel splits on commas that are not inside double quotes.
func splitTopLevel(inner string) []string {
	var (
		parts   []string
		current strings.Builder
		quoted  bool
		escaped bool
	)
	for _, r := range inner {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case r == '\\' && quoted:
			current.WriteRune(r)
			escaped = true
		case r == '"':
			quoted = !quoted
			current.WriteRune(r)
		case r == ',' && !quoted:
			parts = append(parts, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	parts = append(parts, current.String())
	return parts
}

func unquote(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		s = s[1 : len(s)-1]
		s = strings.ReplaceAll(s, `\"`, `"`)
		s = strings.ReplaceAll(s, `\\`, `\`)
	}
	return s
}

func stringify(item any) string {
	switch v := item.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return fmt.Sprintf("%v", v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(encoded)
	}
}
