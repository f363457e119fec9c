package loader

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/gofhir/snapshot/pkg/model"
	"github.com/gofhir/snapshot/pkg/slicing"
)

// document is the FHIR JSON shape of an exported StructureDefinition.
type document struct {
	ResourceType   string       `json:"resourceType" yaml:"resourceType"`
	URL            string       `json:"url" yaml:"url"`
	Name           string       `json:"name,omitempty" yaml:"name,omitempty"`
	Kind           string       `json:"kind,omitempty" yaml:"kind,omitempty"`
	Abstract       bool         `json:"abstract" yaml:"abstract"`
	Type           string       `json:"type" yaml:"type"`
	BaseDefinition string       `json:"baseDefinition,omitempty" yaml:"baseDefinition,omitempty"`
	Derivation     string       `json:"derivation,omitempty" yaml:"derivation,omitempty"`
	FHIRVersion    string       `json:"fhirVersion,omitempty" yaml:"fhirVersion,omitempty"`
	Snapshot       *elementList `json:"snapshot,omitempty" yaml:"snapshot,omitempty"`
	Differential   *elementList `json:"differential,omitempty" yaml:"differential,omitempty"`
}

type elementList struct {
	Element []map[string]any `json:"element" yaml:"element"`
}

// ExportJSON renders sd as an indented FHIR StructureDefinition.
// Slice names are written on slice roots only, as FHIR expects.
func ExportJSON(sd *model.StructureDefinition) ([]byte, error) {
	doc, err := newDocument(sd)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(doc, "", "  ")
}

// ExportYAML renders sd in the YAML shape ParseYAML reads.
func ExportYAML(sd *model.StructureDefinition) ([]byte, error) {
	doc, err := newDocument(sd)
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(doc)
}

func newDocument(sd *model.StructureDefinition) (*document, error) {
	doc := &document{
		ResourceType:   "StructureDefinition",
		URL:            sd.URL,
		Name:           sd.Name,
		Kind:           sd.Kind,
		Abstract:       sd.Abstract,
		Type:           sd.Type,
		BaseDefinition: sd.BaseDefinition,
		Derivation:     sd.Derivation,
		FHIRVersion:    sd.FHIRVersion,
	}

	var err error
	if len(sd.Snapshot) > 0 {
		if doc.Snapshot, err = exportElements(sd.Snapshot); err != nil {
			return nil, err
		}
	}
	if len(sd.Differential) > 0 {
		if doc.Differential, err = exportElements(sd.Differential); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func exportElements(elems []model.ElementDefinition) (*elementList, error) {
	list := &elementList{Element: make([]map[string]any, 0, len(elems))}
	for i := range elems {
		m, err := exportElement(&elems[i])
		if err != nil {
			return nil, fmt.Errorf("element %s: %w", elems[i].ID, err)
		}
		list.Element = append(list.Element, m)
	}
	return list, nil
}

func exportElement(e *model.ElementDefinition) (map[string]any, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}

	if !exportsSliceName(e) {
		delete(m, "sliceName")
	}
	for prefix, v := range map[string]*model.TypedValue{"fixed": e.Fixed, "pattern": e.Pattern} {
		if v == nil {
			continue
		}
		var value any
		if err := json.Unmarshal(v.Value, &value); err != nil {
			return nil, fmt.Errorf("%s%s: %w", prefix, v.Type, err)
		}
		m[prefix+v.Type] = value
	}
	return m, nil
}

// exportsSliceName reports whether e's slice name belongs in FHIR output.
// Children of a slice carry the slice name in the model but not in FHIR.
// Elements without an id are differential elements and keep theirs.
func exportsSliceName(e *model.ElementDefinition) bool {
	if e.SliceName == "" {
		return false
	}
	return e.ID == "" || slicing.IsSliceRoot(e)
}
