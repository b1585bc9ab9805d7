package match

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Normalize clamps a raw similarity into [0,1]. NaN maps to 0.
func Normalize(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// NormalizeString parses a score such as "0.42", "42%" or "42" and clamps it.
// A bare number above 1 is read as a percentage. Unparsable input maps to 0.
func NormalizeString(s string) float64 {
	s = strings.TrimSpace(s)
	percent := strings.HasSuffix(s, "%")
	if percent {
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	if percent || v > 1 {
		v /= 100
	}
	return Normalize(v)
}

// NormalizeValue normalizes a score of any supported type. Unsupported
// types and values whose String method panics map to 0.
func NormalizeValue(raw interface{}) (score float64) {
	defer func() {
		if recover() != nil {
			score = 0
		}
	}()

	switch v := raw.(type) {
	case float64:
		return Normalize(v)
	case float32:
		return Normalize(float64(v))
	case int:
		return Normalize(float64(v))
	case int32:
		return Normalize(float64(v))
	case int64:
		return Normalize(float64(v))
	case uint:
		return Normalize(float64(v))
	case uint32:
		return Normalize(float64(v))
	case uint64:
		return Normalize(float64(v))
	case string:
		return NormalizeString(v)
	case []byte:
		return NormalizeString(string(v))
	case fmt.Stringer:
		return NormalizeString(v.String())
	default:
		return 0
	}
}
