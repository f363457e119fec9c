package model

import "encoding/json"

// Clone returns a deep copy of the element. Snapshots handed out by the
// generator are shared, so every mutation starts from a clone.
func (e *ElementDefinition) Clone() ElementDefinition {
	out := *e
	out.Label = cloneString(e.Label)
	out.Short = cloneString(e.Short)
	out.Definition = cloneString(e.Definition)
	out.Comment = cloneString(e.Comment)
	out.Requirements = cloneString(e.Requirements)
	out.Alias = cloneStrings(e.Alias)
	out.Condition = cloneStrings(e.Condition)
	out.IsModifierReason = cloneString(e.IsModifierReason)
	out.MustSupport = cloneBool(e.MustSupport)
	out.IsModifier = cloneBool(e.IsModifier)
	out.IsSummary = cloneBool(e.IsSummary)

	if e.Min != nil {
		m := *e.Min
		out.Min = &m
	}
	if e.MaxLength != nil {
		m := *e.MaxLength
		out.MaxLength = &m
	}
	if e.Base != nil {
		b := *e.Base
		out.Base = &b
	}
	if e.Types != nil {
		out.Types = make([]TypeRef, len(e.Types))
		for i := range e.Types {
			out.Types[i] = e.Types[i].Clone()
		}
	}
	if e.Constraints != nil {
		out.Constraints = append([]Constraint(nil), e.Constraints...)
	}
	out.Binding = e.Binding.Clone()
	out.Slicing = e.Slicing.Clone()
	out.Fixed = e.Fixed.Clone()
	out.Pattern = e.Pattern.Clone()
	return out
}

// Clone returns a deep copy of the type reference.
func (t TypeRef) Clone() TypeRef {
	return TypeRef{
		Code:          t.Code,
		Profile:       cloneStrings(t.Profile),
		TargetProfile: cloneStrings(t.TargetProfile),
	}
}

// Clone returns a copy of the binding, nil for nil.
func (b *Binding) Clone() *Binding {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}

// Clone returns a deep copy of the slicing, nil for nil.
func (s *Slicing) Clone() *Slicing {
	if s == nil {
		return nil
	}
	c := *s
	if s.Discriminator != nil {
		c.Discriminator = append([]Discriminator(nil), s.Discriminator...)
	}
	c.Description = cloneString(s.Description)
	c.Ordered = cloneBool(s.Ordered)
	return &c
}

// Clone returns a deep copy of the value, nil for nil.
func (v *TypedValue) Clone() *TypedValue {
	if v == nil {
		return nil
	}
	return &TypedValue{Type: v.Type, Value: append(json.RawMessage(nil), v.Value...)}
}

// CloneElements deep-copies an element vector.
func CloneElements(elems []ElementDefinition) []ElementDefinition {
	if elems == nil {
		return nil
	}
	out := make([]ElementDefinition, len(elems))
	for i := range elems {
		out[i] = elems[i].Clone()
	}
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}
