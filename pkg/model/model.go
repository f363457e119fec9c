// Package model defines the in-memory shapes of StructureDefinitions and
// ElementDefinitions consumed and produced by the snapshot generator.
//
// Optional properties are pointers so a differential element can tell
// "not constrained" apart from "constrained to the zero value". Elements
// produced by the generator always carry Min, Max, ID and Base.
package model

import (
	"encoding/json"
	"strings"
)

// StructureDefinition.Kind values.
const (
	KindResource      = "resource"
	KindComplexType   = "complex-type"
	KindPrimitiveType = "primitive-type"
	KindLogical       = "logical"
)

// StructureDefinition.derivation values.
const (
	DerivationSpecialization = "specialization"
	DerivationConstraint     = "constraint"
)

// StructureDefinition is a profile identified by its canonical URL.
// At most one of Snapshot or Differential is used: a definition that ships
// a snapshot is resolved and its differential is ignored.
type StructureDefinition struct {
	URL            string `json:"url"`
	Name           string `json:"name,omitempty"`
	Type           string `json:"type"`
	Kind           string `json:"kind,omitempty"`
	Abstract       bool   `json:"abstract,omitempty"`
	Derivation     string `json:"derivation,omitempty"`
	BaseDefinition string `json:"baseDefinition,omitempty"`
	FHIRVersion    string `json:"fhirVersion,omitempty"`

	Differential []ElementDefinition `json:"differential,omitempty"`
	Snapshot     []ElementDefinition `json:"snapshot,omitempty"`
}

// Resolved reports whether the definition ships a snapshot.
func (sd *StructureDefinition) Resolved() bool {
	return len(sd.Snapshot) > 0
}

// BindingStrength is the strength of a value-set binding.
type BindingStrength string

// Binding strengths, weakest first.
const (
	BindingExample    BindingStrength = "example"
	BindingPreferred  BindingStrength = "preferred"
	BindingExtensible BindingStrength = "extensible"
	BindingRequired   BindingStrength = "required"
)

// Rank orders strengths: example < preferred < extensible < required.
// Unknown or empty strengths rank 0.
func (s BindingStrength) Rank() int {
	switch s {
	case BindingExample:
		return 1
	case BindingPreferred:
		return 2
	case BindingExtensible:
		return 3
	case BindingRequired:
		return 4
	default:
		return 0
	}
}

// Valid reports whether s is one of the four FHIR binding strengths.
func (s BindingStrength) Valid() bool {
	return s.Rank() > 0
}

// SlicingRules controls whether slices may be added downstream.
type SlicingRules string

// Slicing rules, loosest first.
const (
	RulesOpen      SlicingRules = "open"
	RulesOpenAtEnd SlicingRules = "openAtEnd"
	RulesClosed    SlicingRules = "closed"
)

// Rank orders rules by tightness: open < openAtEnd < closed.
// An empty value is treated as open.
func (r SlicingRules) Rank() int {
	switch r {
	case RulesOpenAtEnd:
		return 1
	case RulesClosed:
		return 2
	default:
		return 0
	}
}

// DiscriminatorType describes how a discriminator is evaluated.
type DiscriminatorType string

// Discriminator types.
const (
	DiscriminatorValue   DiscriminatorType = "value"
	DiscriminatorExists  DiscriminatorType = "exists"
	DiscriminatorPattern DiscriminatorType = "pattern"
	DiscriminatorByType  DiscriminatorType = "type"
	DiscriminatorProfile DiscriminatorType = "profile"
)

// ConstraintSeverity is the severity of a constraint.
type ConstraintSeverity string

// Constraint severities.
const (
	SeverityError   ConstraintSeverity = "error"
	SeverityWarning ConstraintSeverity = "warning"
)

// TypeRef is an allowed type for an element.
type TypeRef struct {
	Code          string   `json:"code"`
	Profile       []string `json:"profile,omitempty"`
	TargetProfile []string `json:"targetProfile,omitempty"`
}

// Binding is a value-set binding.
type Binding struct {
	Strength    BindingStrength `json:"strength"`
	ValueSet    string          `json:"valueSet,omitempty"`
	Description string          `json:"description,omitempty"`
}

// Constraint is an invariant attached to an element.
type Constraint struct {
	Key        string             `json:"key"`
	Severity   ConstraintSeverity `json:"severity,omitempty"`
	Human      string             `json:"human,omitempty"`
	Expression string             `json:"expression,omitempty"`
	XPath      string             `json:"xpath,omitempty"`
	Source     string             `json:"source,omitempty"`
}

// Discriminator is a (type, path) pair used to assign instances to slices.
type Discriminator struct {
	Type DiscriminatorType `json:"type"`
	Path string            `json:"path"`
}

// Slicing declares how an element is sliced.
type Slicing struct {
	Discriminator []Discriminator `json:"discriminator,omitempty"`
	Description   *string         `json:"description,omitempty"`
	Ordered       *bool           `json:"ordered,omitempty"`
	Rules         SlicingRules    `json:"rules,omitempty"`
}

// ElementBase records where an element was originally defined.
type ElementBase struct {
	Path string `json:"path"`
	Min  uint32 `json:"min"`
	Max  string `json:"max"`
}

// TypedValue is a polymorphic fixed[x] or pattern[x] value. Type is the
// suffix of the JSON property name ("Uri", "Coding", ...).
type TypedValue struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// ElementDefinition is a node of a profile's element tree.
type ElementDefinition struct {
	ID        string  `json:"id,omitempty"`
	Path      string  `json:"path"`
	SliceName string  `json:"sliceName,omitempty"`
	Label     *string `json:"label,omitempty"`

	Short        *string  `json:"short,omitempty"`
	Definition   *string  `json:"definition,omitempty"`
	Comment      *string  `json:"comment,omitempty"`
	Requirements *string  `json:"requirements,omitempty"`
	Alias        []string `json:"alias,omitempty"`

	Min  *uint32      `json:"min,omitempty"`
	Max  string       `json:"max,omitempty"`
	Base *ElementBase `json:"base,omitempty"`

	ContentReference string    `json:"contentReference,omitempty"`
	Types            []TypeRef `json:"type,omitempty"`

	Fixed   *TypedValue `json:"-"`
	Pattern *TypedValue `json:"-"`

	MaxLength   *int         `json:"maxLength,omitempty"`
	Condition   []string     `json:"condition,omitempty"`
	Constraints []Constraint `json:"constraint,omitempty"`

	MustSupport      *bool   `json:"mustSupport,omitempty"`
	IsModifier       *bool   `json:"isModifier,omitempty"`
	IsModifierReason *string `json:"isModifierReason,omitempty"`
	IsSummary        *bool   `json:"isSummary,omitempty"`

	Binding *Binding `json:"binding,omitempty"`
	Slicing *Slicing `json:"slicing,omitempty"`
}

// MinValue returns the lower bound, 0 when unset.
func (e *ElementDefinition) MinValue() uint32 {
	if e.Min == nil {
		return 0
	}
	return *e.Min
}

// MaxValue returns the upper bound string, "*" when unset.
func (e *ElementDefinition) MaxValue() string {
	if e.Max == "" {
		return Unbounded
	}
	return e.Max
}

// Key returns the identity of the element: its path, slice name and the
// slice scope read from its id.
func (e *ElementDefinition) Key() ElementKey {
	return ElementKey{Path: e.Path, Slice: e.SliceName, Scope: SliceScope(e.ID)}
}

// HasType reports whether code is among the element's types.
func (e *ElementDefinition) HasType(code string) bool {
	for _, t := range e.Types {
		if t.Code == code {
			return true
		}
	}
	return false
}

// ElementKey identifies an element inside a snapshot.
type ElementKey struct {
	Path  string
	Slice string
	Scope string
}

func (k ElementKey) String() string {
	if k.Scope != "" {
		return IDWithin(k.Scope, k.Path)
	}
	if k.Slice == "" {
		return k.Path
	}
	return k.Path + ":" + k.Slice
}

// ParentPath returns the path of the parent element, or "" for a root path.
func ParentPath(path string) string {
	i := strings.LastIndexByte(path, '.')
	if i < 0 {
		return ""
	}
	return path[:i]
}

// LastSegment returns the final dot-separated segment of path.
func LastSegment(path string) string {
	return path[strings.LastIndexByte(path, '.')+1:]
}

// IsExtensionPath reports whether path names an extension or
// modifierExtension element.
func IsExtensionPath(path string) bool {
	last := LastSegment(path)
	return last == "extension" || last == "modifierExtension"
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool { return &b }

// Uint32Ptr returns a pointer to n.
func Uint32Ptr(n uint32) *uint32 { return &n }
