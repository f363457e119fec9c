// Package projection gathers the static validation tables of a generated
// snapshot: invariants, required bindings, cardinalities and slice groups.
package projection

import (
	"strings"

	"github.com/gofhir/snapshot/pkg/constraint"
	"github.com/gofhir/snapshot/pkg/fixedpattern"
	"github.com/gofhir/snapshot/pkg/issue"
	"github.com/gofhir/snapshot/pkg/model"
	"github.com/gofhir/snapshot/pkg/slicing"
	"github.com/gofhir/snapshot/pkg/snapshot"
)

// Invariant is a constraint attached to an element.
type Invariant struct {
	Path       string                   `json:"path" yaml:"path"`
	SliceName  string                   `json:"sliceName,omitempty" yaml:"sliceName,omitempty"`
	Key        string                   `json:"key" yaml:"key"`
	Severity   model.ConstraintSeverity `json:"severity,omitempty" yaml:"severity,omitempty"`
	Human      string                   `json:"human,omitempty" yaml:"human,omitempty"`
	Expression string                   `json:"expression,omitempty" yaml:"expression,omitempty"`
	XPath      string                   `json:"xpath,omitempty" yaml:"xpath,omitempty"`
	Source     string                   `json:"source,omitempty" yaml:"source,omitempty"`
}

// RequiredBinding is an element bound to a value set with required strength.
type RequiredBinding struct {
	Path        string `json:"path" yaml:"path"`
	SliceName   string `json:"sliceName,omitempty" yaml:"sliceName,omitempty"`
	ValueSet    string `json:"valueSet" yaml:"valueSet"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Cardinality is the final (min, max) of an element.
type Cardinality struct {
	Path      string `json:"path" yaml:"path"`
	SliceName string `json:"sliceName,omitempty" yaml:"sliceName,omitempty"`
	Min       uint32 `json:"min" yaml:"min"`
	Max       string `json:"max" yaml:"max"`
}

// SliceGroup describes a sliced element and its slices in order.
type SliceGroup struct {
	Path           string                `json:"path" yaml:"path"`
	SliceName      string                `json:"sliceName,omitempty" yaml:"sliceName,omitempty"`
	Discriminators []model.Discriminator `json:"discriminator,omitempty" yaml:"discriminator,omitempty"`
	Rules          model.SlicingRules    `json:"rules" yaml:"rules"`
	Ordered        bool                  `json:"ordered" yaml:"ordered"`
	Slices         []string              `json:"slices,omitempty" yaml:"slices,omitempty"`
}

// Tables are the per-profile projections consumed by code generation.
type Tables struct {
	URL  string `json:"url" yaml:"url"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	Type string `json:"type" yaml:"type"`

	Invariants       []Invariant       `json:"invariants,omitempty" yaml:"invariants,omitempty"`
	RequiredBindings []RequiredBinding `json:"requiredBindings,omitempty" yaml:"requiredBindings,omitempty"`
	Cardinalities    []Cardinality     `json:"cardinalities" yaml:"cardinalities"`
	Slicings         []SliceGroup      `json:"slicings,omitempty" yaml:"slicings,omitempty"`

	// Diagnostics collects non-fatal findings such as expressions that do
	// not compile.
	Diagnostics *issue.Result `json:"-" yaml:"-"`
}

// Projector builds Tables. The zero value projects without checking
// expressions.
type Projector struct {
	checker *constraint.Checker
}

// NewProjector creates a Projector. A non-nil checker compiles every
// invariant expression and reports failures in Tables.Diagnostics.
func NewProjector(checker *constraint.Checker) *Projector {
	return &Projector{checker: checker}
}

// Project builds the tables of s without checking expressions.
func Project(s *snapshot.Snapshot) *Tables {
	return (&Projector{}).Project(s)
}

// Project builds the tables of s in snapshot order.
func (p *Projector) Project(s *snapshot.Snapshot) *Tables {
	t := &Tables{
		URL:           s.URL,
		Name:          s.Name,
		Type:          s.Type,
		Cardinalities: make([]Cardinality, 0, len(s.Elements)),
		Diagnostics:   issue.NewResult(),
	}

	for i := range s.Elements {
		e := &s.Elements[i]

		t.Cardinalities = append(t.Cardinalities, Cardinality{
			Path:      e.Path,
			SliceName: e.SliceName,
			Min:       e.MinValue(),
			Max:       e.MaxValue(),
		})

		for _, c := range e.Constraints {
			t.Invariants = append(t.Invariants, Invariant{
				Path:       e.Path,
				SliceName:  e.SliceName,
				Key:        c.Key,
				Severity:   c.Severity,
				Human:      c.Human,
				Expression: c.Expression,
				XPath:      c.XPath,
				Source:     c.Source,
			})
		}
		if p.checker != nil && len(e.Constraints) > 0 {
			p.checker.Check(e.ID, e.Constraints, t.Diagnostics)
		}

		if e.Binding != nil && e.Binding.Strength == model.BindingRequired {
			if e.Binding.ValueSet == "" {
				t.Diagnostics.AddWithID(issue.DiagBindingNoValueSet, nil, e.ID)
			}
			t.RequiredBindings = append(t.RequiredBindings, RequiredBinding{
				Path:        e.Path,
				SliceName:   e.SliceName,
				ValueSet:    e.Binding.ValueSet,
				Description: bindingDescription(e),
			})
		}
	}

	for _, ctx := range slicing.Contexts(s.Elements) {
		g := SliceGroup{
			Path:           ctx.Path,
			SliceName:      s.Elements[ctx.Index].SliceName,
			Discriminators: ctx.Discriminators,
			Rules:          ctx.Rules,
			Ordered:        ctx.Ordered,
		}
		for _, sl := range ctx.Slices {
			g.Slices = append(g.Slices, sl.Name)
		}
		t.Slicings = append(t.Slicings, g)
		checkOverlap(s.Elements, ctx, t.Diagnostics)
	}
	return t
}

// checkOverlap reports pairs of slices whose value or pattern
// discriminators admit a common instance. Slices without a fixed or
// pattern value at every discriminator path are not compared.
func checkOverlap(elems []model.ElementDefinition, ctx slicing.Context, diags *issue.Result) {
	if len(ctx.Discriminators) == 0 || len(ctx.Slices) < 2 {
		return
	}
	for _, d := range ctx.Discriminators {
		if d.Type != model.DiscriminatorValue && d.Type != model.DiscriminatorPattern {
			return
		}
		if strings.ContainsAny(d.Path, "()") {
			return
		}
	}

	type keyed struct {
		slice  slicing.SliceInfo
		values []fixedpattern.Value
	}
	var slices []keyed
	for _, sl := range ctx.Slices {
		if values, ok := discriminatorValues(elems, ctx, sl); ok {
			slices = append(slices, keyed{slice: sl, values: values})
		}
	}

	for i := range slices {
		for j := i + 1; j < len(slices); j++ {
			if overlaps(slices[i].values, slices[j].values) {
				diags.AddWithID(issue.DiagSliceOverlap, map[string]any{
					"first":  slices[i].slice.Name,
					"second": slices[j].slice.Name,
				}, ctx.ID)
			}
		}
	}
}

// discriminatorValues returns the fixed or pattern value of slice sl at
// each discriminator path of ctx.
func discriminatorValues(elems []model.ElementDefinition, ctx slicing.Context, sl slicing.SliceInfo) ([]fixedpattern.Value, bool) {
	end := slicing.SubtreeEnd(elems, sl.Index)
	values := make([]fixedpattern.Value, 0, len(ctx.Discriminators))
	for _, d := range ctx.Discriminators {
		path := ctx.Path
		if d.Path != "$this" {
			path += "." + d.Path
		}

		found := false
		for k := sl.Index; k < end; k++ {
			e := &elems[k]
			if e.Path != path || model.SliceScope(e.ID) != sl.ID {
				continue
			}
			v, ok := fixedpattern.Of(e)
			if !ok {
				return nil, false
			}
			values = append(values, v)
			found = true
			break
		}
		if !found {
			return nil, false
		}
	}
	return values, true
}

func overlaps(a, b []fixedpattern.Value) bool {
	for i := range a {
		if !fixedpattern.Overlap(a[i], b[i]) {
			return false
		}
	}
	return true
}

// bindingDescription falls back to the element's short label.
func bindingDescription(e *model.ElementDefinition) string {
	if e.Binding.Description != "" {
		return e.Binding.Description
	}
	if e.Short != nil {
		return *e.Short
	}
	return ""
}

// Invariant returns the invariant with the given key on (path, slice).
func (t *Tables) Invariant(path, slice, key string) (Invariant, bool) {
	for _, inv := range t.Invariants {
		if inv.Path == path && inv.SliceName == slice && inv.Key == key {
			return inv, true
		}
	}
	return Invariant{}, false
}

// Cardinality returns the cardinality of (path, slice).
func (t *Tables) Cardinality(path, slice string) (Cardinality, bool) {
	for _, c := range t.Cardinalities {
		if c.Path == path && c.SliceName == slice {
			return c, true
		}
	}
	return Cardinality{}, false
}
