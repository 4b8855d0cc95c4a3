package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// coerce turns a JSON number or a string holding a decimal number into a
// finite float64. Anything else is absent.
func coerce(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		return parseDecimal(string(t))
	case string:
		return parseDecimal(strings.TrimSpace(t))
	default:
		return 0, false
	}
}

// parseDecimal accepts plain decimal notation only: no hex, no underscores,
// no Inf or NaN spellings, and rejects values that overflow float64.
func parseDecimal(s string) (float64, bool) {
	if s == "" || !isDecimalText(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func isDecimalText(s string) bool {
	digits := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			digits = true
		case c == '.', c == 'e', c == 'E', c == '+', c == '-':
		default:
			return false
		}
	}
	return digits
}
