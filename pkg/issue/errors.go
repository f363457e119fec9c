package issue

import (
	"errors"
	"strings"
)

// Kind discriminates snapshot generation errors.
// A Kind is itself an error so callers can write errors.Is(err, issue.KindCircularBase).
type Kind string

// Error kinds raised while generating a snapshot.
const (
	KindUnknownProfile          Kind = "UnknownProfile"
	KindCircularBase            Kind = "CircularBase"
	KindRootMissingSnapshot     Kind = "RootMissingSnapshot"
	KindAmbiguousPath           Kind = "AmbiguousPath"
	KindCardinalityWidening     Kind = "CardinalityWidening"
	KindInvalidCardinality      Kind = "InvalidCardinality"
	KindTypeNotPermitted        Kind = "TypeNotPermitted"
	KindInvalidBinding          Kind = "InvalidBinding"
	KindRequiredBindingReplaced Kind = "RequiredBindingReplaced"
	KindDuplicateConstraintKey  Kind = "DuplicateConstraintKey"
	KindIncompatibleSlicing     Kind = "IncompatibleSlicing"
	KindClosedSlicingExtended   Kind = "ClosedSlicingExtended"
	KindFrozenRegistry          Kind = "FrozenRegistry"
	KindInvalidProfile          Kind = "InvalidProfile"
)

func (k Kind) Error() string { return string(k) }

// errorTemplates renders each kind. Templates use the same {placeholder}
// syntax as the diagnostic templates.
var errorTemplates = map[Kind]string{
	KindUnknownProfile:          "unknown profile '{url}'",
	KindCircularBase:            "circular base chain: {cycle}",
	KindRootMissingSnapshot:     "root profile '{url}' has no snapshot",
	KindAmbiguousPath:           "{profile}: cannot resolve differential element '{path}' ({matches} candidates)",
	KindCardinalityWidening:     "{profile}: '{path}' widens cardinality {base} to {diff}",
	KindInvalidCardinality:      "{profile}: '{path}' has invalid cardinality {diff}",
	KindTypeNotPermitted:        "{profile}: type '{type}' is not permitted at '{path}'",
	KindInvalidBinding:          "{profile}: invalid binding at '{path}': {reason}",
	KindRequiredBindingReplaced: "{profile}: required binding at '{path}' replaced: '{from}' -> '{to}'",
	KindDuplicateConstraintKey:  "{profile}: duplicate constraint key '{key}' at '{path}': base '{baseExpr}' vs profile '{diffExpr}'",
	KindIncompatibleSlicing:     "{profile}: incompatible slicing at '{path}': {reason}",
	KindClosedSlicingExtended:   "{profile}: slicing at '{path}' is closed, cannot add slice '{slice}'",
	KindFrozenRegistry:          "registry is frozen, cannot load '{url}'",
	KindInvalidProfile:          "invalid profile '{url}': {reason}",
}

// Cardinality is a (min, max) pair carried by cardinality errors.
type Cardinality struct {
	Min uint32
	Max string
}

func (c Cardinality) String() string {
	max := c.Max
	if max == "" {
		max = "*"
	}
	return formatTemplate("{min}..{max}", map[string]any{"min": c.Min, "max": max})
}

// Error is a structured snapshot generation error. Only the fields relevant
// to Kind are set. Profile is always the URL of the profile being applied
// when the error was raised, not the one originally requested.
type Error struct {
	Kind    Kind
	Profile string
	Path    string

	// UnknownProfile, RootMissingSnapshot, FrozenRegistry, InvalidProfile
	URL string
	// CircularBase
	Cycle []string
	// AmbiguousPath
	Matches int
	// CardinalityWidening, InvalidCardinality
	BaseCardinality Cardinality
	DiffCardinality Cardinality
	// TypeNotPermitted
	Type string
	// RequiredBindingReplaced
	FromValueSet string
	ToValueSet   string
	// DuplicateConstraintKey
	Key            string
	BaseExpression string
	DiffExpression string
	// ClosedSlicingExtended
	SliceName string
	// InvalidBinding, IncompatibleSlicing, InvalidProfile
	Reason string
}

func (e *Error) Error() string {
	tmpl, ok := errorTemplates[e.Kind]
	if !ok {
		return string(e.Kind)
	}
	return formatTemplate(tmpl, e.params())
}

// Is makes errors.Is match on kind, both against a bare Kind and against
// another *Error.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Kind:
		return e.Kind == t
	case *Error:
		return e.Kind == t.Kind
	}
	return false
}

func (e *Error) params() map[string]any {
	return map[string]any{
		"url":      e.URL,
		"cycle":    strings.Join(e.Cycle, " -> "),
		"profile":  e.Profile,
		"path":     e.Path,
		"matches":  e.Matches,
		"base":     e.BaseCardinality.String(),
		"diff":     e.DiffCardinality.String(),
		"type":     e.Type,
		"from":     e.FromValueSet,
		"to":       e.ToValueSet,
		"key":      e.Key,
		"baseExpr": e.BaseExpression,
		"diffExpr": e.DiffExpression,
		"slice":    e.SliceName,
		"reason":   e.Reason,
	}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// UnknownProfile reports a profile URL that is not loaded.
func UnknownProfile(url string) *Error {
	return &Error{Kind: KindUnknownProfile, URL: url}
}

// CircularBase reports a base chain that revisits a URL.
func CircularBase(cycle []string) *Error {
	return &Error{Kind: KindCircularBase, Cycle: cycle}
}

// RootMissingSnapshot reports a chain whose root ships no snapshot.
func RootMissingSnapshot(url string) *Error {
	return &Error{Kind: KindRootMissingSnapshot, URL: url}
}

// AmbiguousPath reports a differential element matching zero or several
// snapshot elements.
func AmbiguousPath(profile, path string, matches int) *Error {
	return &Error{Kind: KindAmbiguousPath, Profile: profile, Path: path, Matches: matches}
}

// CardinalityWidening reports a differential that loosens min or max.
func CardinalityWidening(profile, path string, base, diff Cardinality) *Error {
	return &Error{Kind: KindCardinalityWidening, Profile: profile, Path: path, BaseCardinality: base, DiffCardinality: diff}
}

// InvalidCardinality reports a malformed max or a min above max.
func InvalidCardinality(profile, path string, diff Cardinality) *Error {
	return &Error{Kind: KindInvalidCardinality, Profile: profile, Path: path, DiffCardinality: diff}
}

// TypeNotPermitted reports a type (or type profile) outside the base list.
func TypeNotPermitted(profile, path, typ string) *Error {
	return &Error{Kind: KindTypeNotPermitted, Profile: profile, Path: path, Type: typ}
}

// InvalidBinding reports a weakened binding or an illegal value-set change.
func InvalidBinding(profile, path, reason string) *Error {
	return &Error{Kind: KindInvalidBinding, Profile: profile, Path: path, Reason: reason}
}

// RequiredBindingReplaced reports a required binding pointed at another value set.
func RequiredBindingReplaced(profile, path, from, to string) *Error {
	return &Error{Kind: KindRequiredBindingReplaced, Profile: profile, Path: path, FromValueSet: from, ToValueSet: to}
}

// DuplicateConstraintKey reports two different constraints sharing a key.
func DuplicateConstraintKey(profile, path, key, baseExpr, diffExpr string) *Error {
	return &Error{
		Kind:           KindDuplicateConstraintKey,
		Profile:        profile,
		Path:           path,
		Key:            key,
		BaseExpression: baseExpr,
		DiffExpression: diffExpr,
	}
}

// IncompatibleSlicing reports conflicting slicing declarations.
func IncompatibleSlicing(profile, path, reason string) *Error {
	return &Error{Kind: KindIncompatibleSlicing, Profile: profile, Path: path, Reason: reason}
}

// ClosedSlicingExtended reports a new slice added under closed slicing.
func ClosedSlicingExtended(profile, path, sliceName string) *Error {
	return &Error{Kind: KindClosedSlicingExtended, Profile: profile, Path: path, SliceName: sliceName}
}

// FrozenRegistry reports a load attempted on a frozen registry.
func FrozenRegistry(url string) *Error {
	return &Error{Kind: KindFrozenRegistry, URL: url}
}

// InvalidProfile reports a structurally unusable definition.
func InvalidProfile(url, reason string) *Error {
	return &Error{Kind: KindInvalidProfile, URL: url, Reason: reason}
}
