// Package fixedpattern compares the fixed[x] and pattern[x] values of
// ElementDefinitions.
//
// A fixed value admits exactly one instance value. A pattern admits every
// value that contains it: objects must carry each pattern property, arrays
// must hold a match for each pattern item, primitives must be equal.
package fixedpattern

import (
	"encoding/json"
	"reflect"

	"github.com/gofhir/snapshot/pkg/model"
)

// Value is the fixed or pattern value an element imposes.
type Value struct {
	*model.TypedValue

	// Pattern is set for pattern[x]; fixed[x] otherwise.
	Pattern bool
}

// Of returns the fixed or pattern value of e. ok is false when e has
// neither. A fixed value wins when both are present.
func Of(e *model.ElementDefinition) (v Value, ok bool) {
	switch {
	case e.Fixed != nil:
		return Value{TypedValue: e.Fixed}, true
	case e.Pattern != nil:
		return Value{TypedValue: e.Pattern, Pattern: true}, true
	}
	return Value{}, false
}

// Equal reports whether a and b hold the same JSON value. Values that do
// not decode are never equal.
func Equal(a, b json.RawMessage) bool {
	x, ok := decode(a)
	if !ok {
		return false
	}
	y, ok := decode(b)
	if !ok {
		return false
	}
	return reflect.DeepEqual(x, y)
}

// Matches reports whether value satisfies pattern.
func Matches(value, pattern json.RawMessage) bool {
	if pattern == nil {
		return true
	}
	v, ok := decode(value)
	if !ok {
		return false
	}
	p, ok := decode(pattern)
	if !ok {
		return false
	}
	return contains(v, p)
}

// Overlap reports whether some instance value satisfies both a and b.
// Values of different types never overlap.
//
// Two patterns overlap unless they disagree on a shared property: {"a":1}
// and {"b":2} overlap, since {"a":1,"b":2} satisfies both.
func Overlap(a, b Value) bool {
	if a.TypedValue == nil || b.TypedValue == nil || a.Type != b.Type {
		return false
	}
	switch {
	case !a.Pattern && !b.Pattern:
		return Equal(a.Value, b.Value)
	case !a.Pattern:
		return Matches(a.Value, b.Value)
	case !b.Pattern:
		return Matches(b.Value, a.Value)
	}

	x, ok := decode(a.Value)
	if !ok {
		return false
	}
	y, ok := decode(b.Value)
	if !ok {
		return false
	}
	return compatible(x, y)
}

func decode(raw json.RawMessage) (any, bool) {
	if raw == nil {
		return nil, false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return v, true
}

// contains is pattern matching on decoded JSON.
func contains(value, pattern any) bool {
	switch p := pattern.(type) {
	case map[string]any:
		v, ok := value.(map[string]any)
		if !ok {
			return false
		}
		for key, pv := range p {
			vv, ok := v[key]
			if !ok || !contains(vv, pv) {
				return false
			}
		}
		return true

	case []any:
		v, ok := value.([]any)
		if !ok {
			return false
		}
		for _, pi := range p {
			found := false
			for _, vi := range v {
				if contains(vi, pi) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true

	default:
		return reflect.DeepEqual(value, pattern)
	}
}

// compatible reports whether two patterns admit a common value: shared
// object keys must be compatible and primitives equal. Arrays are
// compatible when one contains the other, or when they can be merged
// (any array holding the items of both satisfies both).
func compatible(a, b any) bool {
	switch x := a.(type) {
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok {
			return false
		}
		for key, xv := range x {
			if yv, ok := y[key]; ok && !compatible(xv, yv) {
				return false
			}
		}
		return true

	case []any:
		_, ok := b.([]any)
		return ok

	default:
		return reflect.DeepEqual(a, b)
	}
}
