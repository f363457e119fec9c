package model

import (
	"fmt"
	"math"
	"strconv"
)

// Unbounded is the max cardinality meaning "no upper limit".
const Unbounded = "*"

// ParseMax converts a max cardinality string into an integer bound.
// "*" and "" map to math.MaxInt. Other values must be plain decimal
// digits without sign or leading zero.
func ParseMax(max string) (int, error) {
	if max == "" || max == Unbounded {
		return math.MaxInt, nil
	}
	if !isDecimal(max) {
		return 0, fmt.Errorf("invalid max cardinality %q", max)
	}
	n, err := strconv.Atoi(max)
	if err != nil {
		return 0, fmt.Errorf("invalid max cardinality %q", max)
	}
	return n, nil
}

func isDecimal(s string) bool {
	if s == "" || (len(s) > 1 && s[0] == '0') {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// CompareMax orders two max cardinalities under "0" < 1 < 2 < ... < "*".
// It returns -1, 0 or +1.
func CompareMax(a, b string) (int, error) {
	av, err := ParseMax(a)
	if err != nil {
		return 0, err
	}
	bv, err := ParseMax(b)
	if err != nil {
		return 0, err
	}
	switch {
	case av < bv:
		return -1, nil
	case av > bv:
		return 1, nil
	default:
		return 0, nil
	}
}

// FormatCardinality renders a (min, max) pair as "min..max".
func FormatCardinality(min uint32, max string) string {
	if max == "" {
		max = Unbounded
	}
	return fmt.Sprintf("%d..%s", min, max)
}

// Prohibited reports whether the element is constrained out (max "0").
func (e *ElementDefinition) Prohibited() bool {
	return e.Max == "0"
}
