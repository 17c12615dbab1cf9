package utils

import (
	"math"
	"strconv"
	"strings"
)

// Helpers for navigating decoded JSON payloads (map[string]any trees).

// AsMap returns v as a JSON object, or nil.
func AsMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// AsList returns v as a JSON array, or nil.
func AsList(v any) []any {
	l, _ := v.([]any)
	return l
}

// AsString renders scalars as strings; objects and arrays yield "".
func AsString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		if s == math.Trunc(s) && math.Abs(s) < 1e15 {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case bool:
		return strconv.FormatBool(s)
	}
	return ""
}

// AsFloat parses v as a finite float. The second return reports success.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// AsInt parses v as an integer, rounding floats.
func AsInt(v any) (int, bool) {
	f, ok := AsFloat(v)
	if !ok {
		return 0, false
	}
	return int(math.Round(f)), true
}

// CleanID renders an identifier value, trimming whitespace. Empty ids
// collapse to "".
func CleanID(v any) string {
	return strings.TrimSpace(AsString(v))
}
