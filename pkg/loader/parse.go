package loader

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/gofhir/fhir/r4"
	"gopkg.in/yaml.v3"

	"github.com/gofhir/snapshot/pkg/model"
)

// ErrUnsupportedResource is returned when a document is neither a
// StructureDefinition nor a Bundle.
var ErrUnsupportedResource = errors.New("unsupported resource type")

var defaultConverter = NewR4Converter()

// rawDefinition holds the parts of a StructureDefinition read from the raw
// JSON rather than from the r4 model.
type rawDefinition struct {
	ResourceType string       `json:"resourceType"`
	Derivation   string       `json:"derivation"`
	Snapshot     *rawElements `json:"snapshot"`
	Differential *rawElements `json:"differential"`
}

type rawElements struct {
	Element []json.RawMessage `json:"element"`
}

// elementExtras are the ElementDefinition properties filled from the raw
// element JSON.
type elementExtras struct {
	Label            *string            `json:"label"`
	Short            *string            `json:"short"`
	Definition       *string            `json:"definition"`
	Comment          *string            `json:"comment"`
	Requirements     *string            `json:"requirements"`
	Alias            []string           `json:"alias"`
	Condition        []string           `json:"condition"`
	MaxLength        *int               `json:"maxLength"`
	ContentReference string             `json:"contentReference"`
	IsModifierReason *string            `json:"isModifierReason"`
	Base             *model.ElementBase `json:"base"`
}

// ParseJSON parses a StructureDefinition or a Bundle of them. Bundle
// entries holding other resources are skipped.
func ParseJSON(data []byte) ([]*model.StructureDefinition, error) {
	var probe struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	switch probe.ResourceType {
	case "StructureDefinition":
		sd, err := parseStructureDefinition(data)
		if err != nil {
			return nil, err
		}
		return []*model.StructureDefinition{sd}, nil
	case "Bundle":
		return parseBundle(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedResource, probe.ResourceType)
	}
}

func parseBundle(data []byte) ([]*model.StructureDefinition, error) {
	var bundle struct {
		Entry []struct {
			Resource json.RawMessage `json:"resource"`
		} `json:"entry"`
	}
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("failed to parse Bundle: %w", err)
	}

	var out []*model.StructureDefinition
	for i, entry := range bundle.Entry {
		if entry.Resource == nil {
			continue
		}
		var probe struct {
			ResourceType string `json:"resourceType"`
		}
		if err := json.Unmarshal(entry.Resource, &probe); err != nil || probe.ResourceType != "StructureDefinition" {
			continue
		}
		sd, err := parseStructureDefinition(entry.Resource)
		if err != nil {
			return nil, fmt.Errorf("bundle entry %d: %w", i, err)
		}
		out = append(out, sd)
	}
	return out, nil
}

func parseStructureDefinition(data []byte) (*model.StructureDefinition, error) {
	var sd r4.StructureDefinition
	if err := json.Unmarshal(data, &sd); err != nil {
		return nil, fmt.Errorf("failed to parse StructureDefinition: %w", err)
	}
	var raw rawDefinition
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse StructureDefinition: %w", err)
	}

	out := defaultConverter.ConvertStructureDefinition(&sd)
	out.Derivation = raw.Derivation
	if raw.Snapshot != nil {
		if err := applyExtras(out.Snapshot, raw.Snapshot.Element); err != nil {
			return nil, fmt.Errorf("%s: snapshot: %w", out.URL, err)
		}
	}
	if raw.Differential != nil {
		if err := applyExtras(out.Differential, raw.Differential.Element); err != nil {
			return nil, fmt.Errorf("%s: differential: %w", out.URL, err)
		}
	}
	return out, nil
}

// applyExtras fills the properties of elems that are read from the raw
// element JSON, including fixed[x] and pattern[x].
func applyExtras(elems []model.ElementDefinition, raw []json.RawMessage) error {
	n := min(len(elems), len(raw))
	for i := 0; i < n; i++ {
		var x elementExtras
		if err := json.Unmarshal(raw[i], &x); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
		e := &elems[i]
		e.Label = x.Label
		e.Short = x.Short
		e.Definition = x.Definition
		e.Comment = x.Comment
		e.Requirements = x.Requirements
		e.Alias = x.Alias
		e.Condition = x.Condition
		e.MaxLength = x.MaxLength
		e.ContentReference = x.ContentReference
		e.IsModifierReason = x.IsModifierReason
		e.Base = x.Base

		var props map[string]json.RawMessage
		if err := json.Unmarshal(raw[i], &props); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
		e.Fixed = typedValue(props, "fixed")
		e.Pattern = typedValue(props, "pattern")
	}
	return nil
}

// typedValue returns the first prefix[x] property of props, in name order.
func typedValue(props map[string]json.RawMessage, prefix string) *model.TypedValue {
	var names []string
	for name := range props {
		suffix, ok := strings.CutPrefix(name, prefix)
		if ok && suffix != "" && suffix[0] >= 'A' && suffix[0] <= 'Z' {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	value := make(json.RawMessage, len(props[names[0]]))
	copy(value, props[names[0]])
	return &model.TypedValue{Type: names[0][len(prefix):], Value: value}
}

// ParseYAML parses the YAML rendering of a StructureDefinition or Bundle.
// Unquoted numeric max values are accepted.
func ParseYAML(data []byte) ([]*model.StructureDefinition, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	js, err := json.Marshal(normalizeYAML(doc, ""))
	if err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	return ParseJSON(js)
}

// normalizeYAML turns the decoded YAML tree into JSON-compatible values.
func normalizeYAML(v any, key string) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			t[k] = normalizeYAML(child, k)
		}
		return t
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, child := range t {
			ks := fmt.Sprint(k)
			m[ks] = normalizeYAML(child, ks)
		}
		return m
	case []any:
		for i := range t {
			t[i] = normalizeYAML(t[i], key)
		}
		return t
	case int:
		if key == "max" {
			return strconv.Itoa(t)
		}
	}
	return v
}
