package coerce

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Number coerces a decoded JSON value to a finite float64. Numeric strings
// are accepted: the wire format is not guaranteed to be strictly typed.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}

		return finite(f)
	case float64:
		return finite(n)
	case float32:
		return finite(float64(n))
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}

		return finite(f)
	default:
		return 0, false
	}
}

// String coerces a decoded JSON value to a trimmed non-empty string.
func String(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}

	s = strings.TrimSpace(s)

	return s, s != ""
}

func finite(f float64) (float64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}

	return f, true
}
