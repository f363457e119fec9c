package loader

import (
	"encoding/json"

	"github.com/gofhir/fhir/r4"

	"github.com/gofhir/snapshot/pkg/model"
)

// R4Converter converts between R4 FHIR models and the generator's model.
type R4Converter struct{}

// NewR4Converter creates a new R4 converter.
func NewR4Converter() *R4Converter {
	return &R4Converter{}
}

// ConvertStructureDefinition converts an r4.StructureDefinition to a
// model.StructureDefinition. Properties the r4 model does not carry as
// typed fields are filled by the JSON parser.
func (c *R4Converter) ConvertStructureDefinition(sd *r4.StructureDefinition) *model.StructureDefinition {
	if sd == nil {
		return nil
	}

	result := &model.StructureDefinition{
		URL:            derefString(sd.Url),
		Name:           derefString(sd.Name),
		Type:           derefString(sd.Type),
		Kind:           c.convertKind(sd.Kind),
		Abstract:       derefBool(sd.Abstract),
		BaseDefinition: derefString(sd.BaseDefinition),
		FHIRVersion:    c.convertFHIRVersion(sd.FhirVersion),
	}

	if sd.Snapshot != nil {
		result.Snapshot = c.convertElementDefinitions(sd.Snapshot.Element)
	}
	if sd.Differential != nil {
		result.Differential = c.convertElementDefinitions(sd.Differential.Element)
	}

	return result
}

func (c *R4Converter) convertElementDefinitions(elements []r4.ElementDefinition) []model.ElementDefinition {
	if len(elements) == 0 {
		return nil
	}

	result := make([]model.ElementDefinition, 0, len(elements))
	for i := range elements {
		result = append(result, c.convertElementDefinition(&elements[i]))
	}
	return result
}

func (c *R4Converter) convertElementDefinition(ed *r4.ElementDefinition) model.ElementDefinition {
	result := model.ElementDefinition{
		ID:          derefString(ed.Id),
		Path:        derefString(ed.Path),
		SliceName:   derefString(ed.SliceName),
		Max:         derefString(ed.Max),
		Types:       c.convertTypes(ed.Type),
		Binding:     c.convertBinding(ed.Binding),
		Constraints: c.convertConstraints(ed.Constraint),
		MustSupport: copyBool(ed.MustSupport),
		IsModifier:  copyBool(ed.IsModifier),
		IsSummary:   copyBool(ed.IsSummary),
		Slicing:     c.convertSlicing(ed.Slicing),
	}
	if ed.Min != nil {
		result.Min = model.Uint32Ptr(*ed.Min)
	}
	return result
}

func (c *R4Converter) convertTypes(types []r4.ElementDefinitionType) []model.TypeRef {
	if len(types) == 0 {
		return nil
	}

	result := make([]model.TypeRef, 0, len(types))
	for i := range types {
		t := &types[i]
		result = append(result, model.TypeRef{
			Code:          derefString(t.Code),
			Profile:       copyStrings(t.Profile),
			TargetProfile: copyStrings(t.TargetProfile),
		})
	}
	return result
}

func (c *R4Converter) convertBinding(binding *r4.ElementDefinitionBinding) *model.Binding {
	if binding == nil {
		return nil
	}

	b := &model.Binding{
		ValueSet:    derefString(binding.ValueSet),
		Description: derefString(binding.Description),
	}
	if binding.Strength != nil {
		b.Strength = model.BindingStrength(*binding.Strength)
	}
	return b
}

func (c *R4Converter) convertConstraints(constraints []r4.ElementDefinitionConstraint) []model.Constraint {
	if len(constraints) == 0 {
		return nil
	}

	result := make([]model.Constraint, 0, len(constraints))
	for i := range constraints {
		con := &constraints[i]
		mc := model.Constraint{
			Key:        derefString(con.Key),
			Human:      derefString(con.Human),
			Expression: derefString(con.Expression),
			XPath:      derefString(con.Xpath),
			Source:     derefString(con.Source),
		}
		if con.Severity != nil {
			mc.Severity = model.ConstraintSeverity(*con.Severity)
		}
		result = append(result, mc)
	}
	return result
}

func (c *R4Converter) convertSlicing(slicing *r4.ElementDefinitionSlicing) *model.Slicing {
	if slicing == nil {
		return nil
	}

	s := &model.Slicing{
		Discriminator: c.convertDiscriminators(slicing.Discriminator),
		Description:   copyString(slicing.Description),
		Ordered:       copyBool(slicing.Ordered),
	}
	if slicing.Rules != nil {
		s.Rules = model.SlicingRules(*slicing.Rules)
	}
	return s
}

func (c *R4Converter) convertDiscriminators(discriminators []r4.ElementDefinitionSlicingDiscriminator) []model.Discriminator {
	if len(discriminators) == 0 {
		return nil
	}

	result := make([]model.Discriminator, 0, len(discriminators))
	for i := range discriminators {
		d := &discriminators[i]
		md := model.Discriminator{Path: derefString(d.Path)}
		if d.Type != nil {
			md.Type = model.DiscriminatorType(*d.Type)
		}
		result = append(result, md)
	}
	return result
}

func (c *R4Converter) convertKind(kind *r4.StructureDefinitionKind) string {
	if kind == nil {
		return ""
	}
	return string(*kind)
}

func (c *R4Converter) convertFHIRVersion(version *r4.FHIRVersion) string {
	if version == nil {
		return ""
	}
	return string(*version)
}

// ToR4 converts sd into the typed R4 model. Only properties with typed r4
// fields are carried: identity, cardinality, types, bindings, constraints,
// flags, slicing and primitive or coded fixed and pattern values. Use
// ExportJSON for a lossless rendering.
func (c *R4Converter) ToR4(sd *model.StructureDefinition) *r4.StructureDefinition {
	if sd == nil {
		return nil
	}

	out := &r4.StructureDefinition{
		Url:            stringPtr(sd.URL),
		Name:           stringPtr(sd.Name),
		Type:           stringPtr(sd.Type),
		BaseDefinition: stringPtr(sd.BaseDefinition),
	}
	if sd.Kind != "" {
		kind := r4.StructureDefinitionKind(sd.Kind)
		out.Kind = &kind
	}
	abstract := sd.Abstract
	out.Abstract = &abstract
	if sd.FHIRVersion != "" {
		version := r4.FHIRVersion(sd.FHIRVersion)
		out.FhirVersion = &version
	}

	if len(sd.Snapshot) > 0 {
		out.Snapshot = &r4.StructureDefinitionSnapshot{Element: c.toR4Elements(sd.Snapshot)}
	}
	return out
}

func (c *R4Converter) toR4Elements(elements []model.ElementDefinition) []r4.ElementDefinition {
	result := make([]r4.ElementDefinition, 0, len(elements))
	for i := range elements {
		result = append(result, c.toR4Element(&elements[i]))
	}
	return result
}

func (c *R4Converter) toR4Element(e *model.ElementDefinition) r4.ElementDefinition {
	out := r4.ElementDefinition{
		Id:          stringPtr(e.ID),
		Path:        stringPtr(e.Path),
		Max:         stringPtr(e.Max),
		MustSupport: copyBool(e.MustSupport),
		IsModifier:  copyBool(e.IsModifier),
		IsSummary:   copyBool(e.IsSummary),
	}
	if exportsSliceName(e) {
		out.SliceName = stringPtr(e.SliceName)
	}
	if e.Min != nil {
		lo := *e.Min
		out.Min = &lo
	}

	for _, t := range e.Types {
		out.Type = append(out.Type, r4.ElementDefinitionType{
			Code:          stringPtr(t.Code),
			Profile:       copyStrings(t.Profile),
			TargetProfile: copyStrings(t.TargetProfile),
		})
	}

	if e.Binding != nil {
		strength := r4.BindingStrength(e.Binding.Strength)
		out.Binding = &r4.ElementDefinitionBinding{
			Strength:    &strength,
			ValueSet:    stringPtr(e.Binding.ValueSet),
			Description: stringPtr(e.Binding.Description),
		}
	}

	for _, con := range e.Constraints {
		rc := r4.ElementDefinitionConstraint{
			Key:        stringPtr(con.Key),
			Human:      stringPtr(con.Human),
			Expression: stringPtr(con.Expression),
			Xpath:      stringPtr(con.XPath),
			Source:     stringPtr(con.Source),
		}
		if con.Severity != "" {
			severity := r4.ConstraintSeverity(con.Severity)
			rc.Severity = &severity
		}
		out.Constraint = append(out.Constraint, rc)
	}

	if e.Slicing != nil {
		s := &r4.ElementDefinitionSlicing{
			Description: copyString(e.Slicing.Description),
			Ordered:     copyBool(e.Slicing.Ordered),
		}
		if e.Slicing.Rules != "" {
			rules := r4.SlicingRules(e.Slicing.Rules)
			s.Rules = &rules
		}
		for _, d := range e.Slicing.Discriminator {
			dtype := r4.DiscriminatorType(d.Type)
			s.Discriminator = append(s.Discriminator, r4.ElementDefinitionSlicingDiscriminator{
				Type: &dtype,
				Path: stringPtr(d.Path),
			})
		}
		out.Slicing = s
	}

	c.setFixed(&out, e.Fixed)
	c.setPattern(&out, e.Pattern)
	return out
}

// setFixed carries the fixed[x] value kinds the r4 model has typed fields
// for. Other kinds are left out.
func (c *R4Converter) setFixed(out *r4.ElementDefinition, v *model.TypedValue) {
	if v == nil {
		return
	}
	switch v.Type {
	case "String":
		out.FixedString = decodeString(v.Value)
	case "Code":
		out.FixedCode = decodeString(v.Value)
	case "Uri":
		out.FixedUri = decodeString(v.Value)
	case "Url":
		out.FixedUrl = decodeString(v.Value)
	case "Canonical":
		out.FixedCanonical = decodeString(v.Value)
	case "Boolean":
		var b bool
		if json.Unmarshal(v.Value, &b) == nil {
			out.FixedBoolean = &b
		}
	case "Coding":
		var coding r4.Coding
		if json.Unmarshal(v.Value, &coding) == nil {
			out.FixedCoding = &coding
		}
	case "CodeableConcept":
		var cc r4.CodeableConcept
		if json.Unmarshal(v.Value, &cc) == nil {
			out.FixedCodeableConcept = &cc
		}
	case "Identifier":
		var id r4.Identifier
		if json.Unmarshal(v.Value, &id) == nil {
			out.FixedIdentifier = &id
		}
	}
}

func (c *R4Converter) setPattern(out *r4.ElementDefinition, v *model.TypedValue) {
	if v == nil {
		return
	}
	switch v.Type {
	case "String":
		out.PatternString = decodeString(v.Value)
	case "Code":
		out.PatternCode = decodeString(v.Value)
	case "Uri":
		out.PatternUri = decodeString(v.Value)
	case "Url":
		out.PatternUrl = decodeString(v.Value)
	case "Canonical":
		out.PatternCanonical = decodeString(v.Value)
	case "Boolean":
		var b bool
		if json.Unmarshal(v.Value, &b) == nil {
			out.PatternBoolean = &b
		}
	case "Coding":
		var coding r4.Coding
		if json.Unmarshal(v.Value, &coding) == nil {
			out.PatternCoding = &coding
		}
	case "CodeableConcept":
		var cc r4.CodeableConcept
		if json.Unmarshal(v.Value, &cc) == nil {
			out.PatternCodeableConcept = &cc
		}
	case "Identifier":
		var id r4.Identifier
		if json.Unmarshal(v.Value, &id) == nil {
			out.PatternIdentifier = &id
		}
	}
}

func decodeString(raw json.RawMessage) *string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	return &s
}

// Generic helpers

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefBool(b *bool) bool {
	if b == nil {
		return false
	}
	return *b
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

func copyStrings(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
