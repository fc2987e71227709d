package provider

import (
	"fmt"
	"time"
)

// MatchProperties reports whether an item's attributes satisfy all
// equality filters. Values are compared through their canonical string
// form so numeric attributes match their textual filter value.
func MatchProperties(props map[string]any, filters map[string]string) bool {
	for k, want := range filters {
		got, ok := props[k]
		if !ok {
			return false
		}
		if formatValue(got) != want {
			return false
		}
	}
	return true
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// Avoid the %v exponent form for round numbers.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprint(v)
	}
}

// timeLayouts are the accepted textual time encodings for declared time
// fields, tried in order.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02",
}

// ParseTime parses a declared time field value.
func ParseTime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("provider: parse time %q: %w", s, lastErr)
}

// FieldType names the schema type of an attribute value.
func FieldType(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case float64, float32, int, int64:
		return "number"
	case bool:
		return "boolean"
	default:
		return "object"
	}
}
