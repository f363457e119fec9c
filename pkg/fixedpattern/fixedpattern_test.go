package fixedpattern

import (
	"encoding/json"
	"testing"

	"github.com/gofhir/snapshot/pkg/model"
)

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"equal strings", `"hello"`, `"hello"`, true},
		{"different strings", `"hello"`, `"world"`, false},
		{"equal numbers", `42`, `42.0`, true},
		{"different numbers", `42`, `43`, false},
		{"key order", `{"system": "http://loinc.org", "code": "1"}`, `{"code": "1", "system": "http://loinc.org"}`, true},
		{"extra property", `{"code": "1"}`, `{"code": "1", "display": "x"}`, false},
		{"array order", `[1, 2]`, `[2, 1]`, false},
		{"invalid", `{`, `{`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Equal(json.RawMessage(tt.a), json.RawMessage(tt.b)); got != tt.want {
				t.Errorf("Equal(%s, %s) = %v; want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		name           string
		value, pattern string
		want           bool
	}{
		{"equal primitive", `"final"`, `"final"`, true},
		{"different primitive", `"final"`, `"draft"`, false},
		{"subset object", `{"system": "http://loinc.org", "code": "8867-4", "display": "Heart rate"}`, `{"system": "http://loinc.org", "code": "8867-4"}`, true},
		{"missing property", `{"system": "http://loinc.org"}`, `{"system": "http://loinc.org", "code": "8867-4"}`, false},
		{
			"coding in array",
			`{"coding": [{"system": "a", "code": "1"}, {"system": "http://loinc.org", "code": "8867-4"}]}`,
			`{"coding": [{"system": "http://loinc.org", "code": "8867-4"}]}`,
			true,
		},
		{"array item missing", `{"coding": [{"code": "1"}]}`, `{"coding": [{"code": "2"}]}`, false},
		{"type mismatch", `"x"`, `{"code": "x"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(json.RawMessage(tt.value), json.RawMessage(tt.pattern)); got != tt.want {
				t.Errorf("Matches(%s, %s) = %v; want %v", tt.value, tt.pattern, got, tt.want)
			}
		})
	}

	if !Matches(json.RawMessage(`"x"`), nil) {
		t.Error("a nil pattern should match anything")
	}
}

func fixed(typ, raw string) Value {
	return Value{TypedValue: &model.TypedValue{Type: typ, Value: json.RawMessage(raw)}}
}

func pattern(typ, raw string) Value {
	return Value{TypedValue: &model.TypedValue{Type: typ, Value: json.RawMessage(raw)}, Pattern: true}
}

func TestOverlap(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"same fixed", fixed("Uri", `"http://a"`), fixed("Uri", `"http://a"`), true},
		{"different fixed", fixed("Uri", `"http://a"`), fixed("Uri", `"http://b"`), false},
		{"different types", fixed("Uri", `"x"`), fixed("String", `"x"`), false},
		{"fixed inside pattern", fixed("Coding", `{"system": "s", "code": "1"}`), pattern("Coding", `{"system": "s"}`), true},
		{"pattern then fixed", pattern("Coding", `{"system": "s"}`), fixed("Coding", `{"system": "t", "code": "1"}`), false},
		{"disjoint properties", pattern("Coding", `{"system": "s"}`), pattern("Coding", `{"code": "1"}`), true},
		{"conflicting property", pattern("Coding", `{"system": "s", "code": "1"}`), pattern("Coding", `{"system": "s", "code": "2"}`), false},
		{
			"nested conflict",
			pattern("CodeableConcept", `{"text": "a", "coding": [{"code": "1"}]}`),
			pattern("CodeableConcept", `{"text": "b"}`),
			false,
		},
		{"missing value", Value{}, fixed("Uri", `"x"`), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Overlap(tt.a, tt.b); got != tt.want {
				t.Errorf("Overlap = %v; want %v", got, tt.want)
			}
			if got := Overlap(tt.b, tt.a); got != tt.want {
				t.Errorf("Overlap (swapped) = %v; want %v", got, tt.want)
			}
		})
	}
}

func TestOf(t *testing.T) {
	v := &model.TypedValue{Type: "Code", Value: json.RawMessage(`"x"`)}

	if _, ok := Of(&model.ElementDefinition{}); ok {
		t.Error("Of(empty) reported a value")
	}
	if got, ok := Of(&model.ElementDefinition{Pattern: v}); !ok || !got.Pattern {
		t.Errorf("Of(pattern) = %+v, %v; want a pattern", got, ok)
	}
	if got, ok := Of(&model.ElementDefinition{Fixed: v, Pattern: v}); !ok || got.Pattern {
		t.Errorf("Of(fixed and pattern) = %+v, %v; want the fixed value", got, ok)
	}
}
