// Package merge applies a differential element onto a base element.
//
// Each property has its own rule: prose and flags are overridden,
// cardinality and bindings may only narrow, types may only be subset,
// constraints accumulate by key and slicing may only tighten.
package merge

import (
	"fmt"
	"strings"

	"github.com/gofhir/snapshot/pkg/issue"
	"github.com/gofhir/snapshot/pkg/logger"
	"github.com/gofhir/snapshot/pkg/model"
)

// Lineage answers profile derivation questions for type profile narrowing.
type Lineage interface {
	Has(url string) bool
	DerivesFrom(url, ancestor string) bool
}

// Merger merges element pairs.
type Merger struct {
	lineage Lineage
	log     *logger.Logger
}

// Option configures a Merger.
type Option func(*Merger)

// WithLogger sets the logger that reports type profiles accepted without
// a narrowing check.
func WithLogger(l *logger.Logger) Option {
	return func(m *Merger) {
		m.log = l
	}
}

// New creates a Merger. lineage may be nil, in which case a differential
// type profile must be listed verbatim in the base element.
func New(lineage Lineage, opts ...Option) *Merger {
	m := &Merger{lineage: lineage, log: logger.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Merge returns base with diff layered on top. profile names the definition
// whose differential is being applied and is carried by every error.
// The result never shares memory with base or diff.
func (m *Merger) Merge(profile string, base, diff *model.ElementDefinition) (model.ElementDefinition, error) {
	out := base.Clone()
	path := base.Path

	overrideString(&out.Label, diff.Label)
	overrideString(&out.Short, diff.Short)
	overrideString(&out.Definition, diff.Definition)
	overrideString(&out.Comment, diff.Comment)
	overrideString(&out.Requirements, diff.Requirements)
	overrideString(&out.IsModifierReason, diff.IsModifierReason)
	overrideBool(&out.MustSupport, diff.MustSupport)
	overrideBool(&out.IsSummary, diff.IsSummary)
	overrideBool(&out.IsModifier, diff.IsModifier)

	if diff.MaxLength != nil {
		n := *diff.MaxLength
		out.MaxLength = &n
	}
	if diff.ContentReference != "" {
		out.ContentReference = diff.ContentReference
	}
	if diff.Fixed != nil {
		out.Fixed = diff.Fixed.Clone()
	}
	if diff.Pattern != nil {
		out.Pattern = diff.Pattern.Clone()
	}
	out.Alias = union(out.Alias, diff.Alias)
	out.Condition = union(out.Condition, diff.Condition)

	if err := mergeCardinality(profile, path, &out, diff); err != nil {
		return model.ElementDefinition{}, err
	}

	types, err := m.mergeTypes(profile, path, out.Types, diff.Types)
	if err != nil {
		return model.ElementDefinition{}, err
	}
	out.Types = types

	binding, err := mergeBinding(profile, path, out.Binding, diff.Binding)
	if err != nil {
		return model.ElementDefinition{}, err
	}
	out.Binding = binding

	constraints, err := mergeConstraints(profile, path, out.Constraints, diff.Constraints)
	if err != nil {
		return model.ElementDefinition{}, err
	}
	out.Constraints = constraints

	slicing, err := mergeSlicing(profile, path, out.Slicing, diff.Slicing)
	if err != nil {
		return model.ElementDefinition{}, err
	}
	out.Slicing = slicing

	return out, nil
}

func overrideString(dst **string, src *string) {
	if src != nil {
		s := *src
		*dst = &s
	}
}

func overrideBool(dst **bool, src *bool) {
	if src != nil {
		b := *src
		*dst = &b
	}
}

// union appends the entries of extra missing from base, keeping order.
func union(base, extra []string) []string {
	if len(extra) == 0 {
		return base
	}
	seen := make(map[string]bool, len(base)+len(extra))
	for _, s := range base {
		seen[s] = true
	}
	for _, s := range extra {
		if !seen[s] {
			seen[s] = true
			base = append(base, s)
		}
	}
	return base
}

func mergeCardinality(profile, path string, out, diff *model.ElementDefinition) error {
	if diff.Min == nil && diff.Max == "" {
		return nil
	}

	baseMin, baseMax := out.MinValue(), out.MaxValue()
	lo, hi := baseMin, baseMax
	if diff.Min != nil {
		lo = *diff.Min
	}
	if diff.Max != "" {
		hi = diff.Max
	}

	base := issue.Cardinality{Min: baseMin, Max: baseMax}
	merged := issue.Cardinality{Min: lo, Max: hi}

	order, err := model.CompareMax(hi, baseMax)
	if err != nil {
		return issue.InvalidCardinality(profile, path, merged)
	}
	if lo < baseMin || order > 0 {
		return issue.CardinalityWidening(profile, path, base, merged)
	}
	if upper, _ := model.ParseMax(hi); uint64(lo) > uint64(upper) {
		return issue.InvalidCardinality(profile, path, merged)
	}

	out.Min = &lo
	out.Max = hi
	return nil
}

// mergeTypes keeps the base types named by diff, in diff order. Profiles
// and target profiles listed by diff replace the base lists when each
// entry is permitted by the base list.
func (m *Merger) mergeTypes(profile, path string, base, diff []model.TypeRef) ([]model.TypeRef, error) {
	if len(diff) == 0 {
		return base, nil
	}

	out := make([]model.TypeRef, 0, len(diff))
	for _, dt := range diff {
		bt, ok := findType(base, dt.Code)
		if !ok {
			return nil, issue.TypeNotPermitted(profile, path, dt.Code)
		}
		merged := bt.Clone()
		if len(dt.Profile) > 0 {
			for _, p := range dt.Profile {
				if !m.narrows(profile, path, p, bt.Profile) {
					return nil, issue.TypeNotPermitted(profile, path, fmt.Sprintf("%s(%s)", dt.Code, p))
				}
			}
			merged.Profile = append([]string(nil), dt.Profile...)
		}
		if len(dt.TargetProfile) > 0 {
			for _, p := range dt.TargetProfile {
				if !m.narrows(profile, path, p, bt.TargetProfile) {
					return nil, issue.TypeNotPermitted(profile, path, fmt.Sprintf("%s(%s)", dt.Code, p))
				}
			}
			merged.TargetProfile = append([]string(nil), dt.TargetProfile...)
		}
		out = append(out, merged)
	}
	return out, nil
}

func findType(types []model.TypeRef, code string) (model.TypeRef, bool) {
	for _, t := range types {
		if t.Code == code {
			return t, true
		}
	}
	return model.TypeRef{}, false
}

// narrows reports whether url is allowed under the base list: the list is
// empty, url appears in it, or url derives from one of its entries.
// Profiles that are not loaded cannot be checked and are accepted.
func (m *Merger) narrows(profile, path, url string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if sameCanonical(url, a) {
			return true
		}
	}
	if m.lineage == nil {
		return false
	}
	if !m.lineage.Has(url) {
		m.log.Debug("%s: %s: type profile %s is not loaded; accepted without checking it narrows %v",
			profile, path, url, allowed)
		return true
	}
	for _, a := range allowed {
		if m.lineage.DerivesFrom(url, a) {
			return true
		}
	}
	return false
}

// sameCanonical compares canonical URLs ignoring a "|version" suffix.
func sameCanonical(a, b string) bool {
	return stripVersion(a) == stripVersion(b)
}

func stripVersion(url string) string {
	if i := strings.IndexByte(url, '|'); i >= 0 {
		return url[:i]
	}
	return url
}

func mergeBinding(profile, path string, base, diff *model.Binding) (*model.Binding, error) {
	if diff == nil {
		return base, nil
	}
	if base == nil {
		return diff.Clone(), nil
	}

	out := base.Clone()
	if diff.Strength != "" {
		if diff.Strength.Rank() < base.Strength.Rank() {
			return nil, issue.InvalidBinding(profile, path,
				fmt.Sprintf("strength weakened from %s to %s", base.Strength, diff.Strength))
		}
		out.Strength = diff.Strength
	}

	if diff.ValueSet != "" && diff.ValueSet != base.ValueSet {
		if base.Strength == model.BindingRequired && !sameCanonical(base.ValueSet, diff.ValueSet) {
			return nil, issue.RequiredBindingReplaced(profile, path, base.ValueSet, diff.ValueSet)
		}
		if out.Strength != model.BindingExtensible && out.Strength != model.BindingRequired {
			return nil, issue.InvalidBinding(profile, path,
				fmt.Sprintf("value set may only change for extensible or required bindings, not %s", out.Strength))
		}
		out.ValueSet = diff.ValueSet
	}

	if diff.Description != "" {
		out.Description = diff.Description
	}
	return out, nil
}

// mergeConstraints accumulates diff constraints onto base, keyed by key and
// keeping first-insertion order.
func mergeConstraints(profile, path string, base, diff []model.Constraint) ([]model.Constraint, error) {
	if len(diff) == 0 {
		return base, nil
	}

	index := make(map[string]int, len(base)+len(diff))
	for i, c := range base {
		if _, ok := index[c.Key]; !ok {
			index[c.Key] = i
		}
	}

	out := base
	for _, dc := range diff {
		if i, ok := index[dc.Key]; ok {
			if !sameConstraint(out[i], dc) {
				return nil, issue.DuplicateConstraintKey(profile, path, dc.Key, out[i].Expression, dc.Expression)
			}
			continue
		}
		if dc.Source == "" {
			dc.Source = profile
		}
		index[dc.Key] = len(out)
		out = append(out, dc)
	}
	return out, nil
}

// sameConstraint compares by expression when both sides carry one and by
// (key, severity, human) otherwise.
func sameConstraint(a, b model.Constraint) bool {
	if a.Expression != "" && b.Expression != "" {
		return a.Expression == b.Expression
	}
	return a.Key == b.Key && a.Severity == b.Severity && a.Human == b.Human
}

// mergeSlicing lets diff introduce slicing freely. When both sides declare
// it the discriminators must match and rules may only tighten. ordered is
// taken from whichever side set it last.
func mergeSlicing(profile, path string, base, diff *model.Slicing) (*model.Slicing, error) {
	if diff == nil {
		return base, nil
	}
	if base == nil {
		out := diff.Clone()
		if out.Rules == "" {
			out.Rules = model.RulesOpen
		}
		return out, nil
	}

	out := base.Clone()
	if len(diff.Discriminator) > 0 && !sameDiscriminators(base.Discriminator, diff.Discriminator) {
		return nil, issue.IncompatibleSlicing(profile, path,
			fmt.Sprintf("discriminator %s does not match base %s",
				formatDiscriminators(diff.Discriminator), formatDiscriminators(base.Discriminator)))
	}
	if diff.Rules != "" {
		if diff.Rules.Rank() < base.Rules.Rank() {
			return nil, issue.IncompatibleSlicing(profile, path,
				fmt.Sprintf("rules loosened from %s to %s", base.Rules, diff.Rules))
		}
		out.Rules = diff.Rules
	}
	if diff.Ordered != nil {
		o := *diff.Ordered
		out.Ordered = &o
	}
	if diff.Description != nil {
		d := *diff.Description
		out.Description = &d
	}
	return out, nil
}

// sameDiscriminators compares discriminators as sets.
func sameDiscriminators(a, b []model.Discriminator) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[model.Discriminator]int, len(a))
	for _, d := range a {
		set[d]++
	}
	for _, d := range b {
		if set[d] == 0 {
			return false
		}
		set[d]--
	}
	return true
}

func formatDiscriminators(ds []model.Discriminator) string {
	parts := make([]string, len(ds))
	for i, d := range ds {
		parts[i] = string(d.Type) + ":" + d.Path
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
