package utils

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// AnyToString renders scalar JSON values as text. Objects, arrays and nulls are rejected.
func AnyToString(input any) (string, bool) {
	switch v := input.(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int, int32, int64:
		return fmt.Sprintf("%d", v), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return "", false
	}
}

// FirstString returns the first key of data holding a non-empty scalar.
func FirstString(data map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		if s, ok := AnyToString(data[key]); ok && s != "" {
			return s, true
		}
	}
	return "", false
}
