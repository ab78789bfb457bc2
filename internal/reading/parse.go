package reading

import (
	"strconv"
	"strings"
)

// ParseDistance parses an ASCII decimal token into a sample point. After
// surrounding whitespace is trimmed the token may contain only digits, '.',
// '+', '-', 'e' and 'E': an optional sign, digits with an optional decimal
// point, and an optional exponent. Thousands separators, hex floats, "inf"
// and "nan" are malformed. ok is false when the token is empty or malformed;
// the returned point is then LostSignal. A token that parses to the sentinel
// also yields LostSignal, but with ok true.
func ParseDistance(token string) (p SamplePoint, ok bool) {
	token = strings.TrimSpace(token)
	if token == "" || strings.IndexFunc(token, notDecimal) >= 0 {
		return Lost(), false
	}
	d, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return Lost(), false
	}
	return NewSamplePoint(d), true
}

func notDecimal(r rune) bool {
	switch {
	case r >= '0' && r <= '9':
		return false
	case r == '.', r == '+', r == '-', r == 'e', r == 'E':
		return false
	default:
		return true
	}
}
