// Package slicing expands slice definitions inside snapshot element vectors.
// It creates slice members with complete sub-trees, synthesizes the
// conventional discriminators for extension and choice paths, and enforces
// closed slicing across profile levels.
package slicing

import (
	"fmt"
	"strings"

	"github.com/gofhir/snapshot/pkg/issue"
	"github.com/gofhir/snapshot/pkg/model"
)

// pathThis is the FHIRPath expression naming the sliced element itself.
const pathThis = "$this"

// ExtensionSlicing returns the slicing synthesized for extension and
// modifierExtension paths: instances are told apart by url.
func ExtensionSlicing() *model.Slicing {
	return &model.Slicing{
		Discriminator: []model.Discriminator{{Type: model.DiscriminatorValue, Path: "url"}},
		Ordered:       model.BoolPtr(false),
		Rules:         model.RulesOpen,
	}
}

// ChoiceSlicing returns the slicing synthesized for choice ([x]) paths:
// instances are told apart by type.
func ChoiceSlicing() *model.Slicing {
	return &model.Slicing{
		Discriminator: []model.Discriminator{{Type: model.DiscriminatorByType, Path: pathThis}},
		Ordered:       model.BoolPtr(false),
		Rules:         model.RulesOpen,
	}
}

// implicitSlicing returns the slicing a path gets when a slice is added
// without a declarator, or nil when the path must declare one.
func implicitSlicing(path string) *model.Slicing {
	switch {
	case model.IsExtensionPath(path):
		return ExtensionSlicing()
	case strings.HasSuffix(path, "[x]"):
		return ChoiceSlicing()
	}
	return nil
}

// Slicer adds slice members to the snapshot of a single profile.
type Slicer struct {
	profile string

	// inherited holds the rules each declarator had in the incoming base,
	// keyed by element id. A profile may close slicing and list its slices
	// in the same differential.
	inherited map[string]model.SlicingRules
}

// New creates a Slicer for profile. base is the snapshot the profile's
// differential is applied onto.
func New(profile string, base []model.ElementDefinition) *Slicer {
	s := &Slicer{
		profile:   profile,
		inherited: make(map[string]model.SlicingRules),
	}
	for i := range base {
		if IsDeclarator(&base[i]) {
			s.inherited[base[i].ID] = base[i].Slicing.Rules
		}
	}
	return s
}

// AddSlice inserts a new slice member named name for the declarator at
// elems[decl]. The member and copies of the declarator's children are
// placed after the last existing member. It returns the new vector and the
// index of the slice root.
//
// A declarator at an extension path without slicing is given the
// conventional url discriminator, one at a choice path a type discriminator.
func (s *Slicer) AddSlice(elems []model.ElementDefinition, decl int, name string) ([]model.ElementDefinition, int, error) {
	d := &elems[decl]
	if d.Slicing == nil {
		d.Slicing = implicitSlicing(d.Path)
		if d.Slicing == nil {
			return elems, -1, issue.IncompatibleSlicing(s.profile, d.Path,
				fmt.Sprintf("slice '%s' added where no slicing is declared", name))
		}
	}
	if s.inherited[d.ID] == model.RulesClosed {
		return elems, -1, issue.ClosedSlicingExtended(s.profile, d.Path, name)
	}
	if FindSlice(elems, decl, name) >= 0 {
		return elems, -1, issue.IncompatibleSlicing(s.profile, d.Path,
			fmt.Sprintf("slice '%s' already exists", name))
	}

	members := sliceTree(elems, decl, name)
	at := GroupEnd(elems, decl)

	out := make([]model.ElementDefinition, 0, len(elems)+len(members))
	out = append(out, elems[:at]...)
	out = append(out, members...)
	out = append(out, elems[at:]...)
	return out, at, nil
}

// sliceTree builds the slice root and the copies of the declarator's
// children. Nested slices under the declarator are not copied.
func sliceTree(elems []model.ElementDefinition, decl int, name string) []model.ElementDefinition {
	d := &elems[decl]
	scope := model.SliceScope(d.ID)
	rootID := model.SliceID(d.ID, name)

	root := d.Clone()
	root.ID = rootID
	root.SliceName = name
	root.Slicing = nil
	root.Min = model.Uint32Ptr(0)
	root.Max = d.MaxValue()

	end := SubtreeEnd(elems, decl)
	members := make([]model.ElementDefinition, 0, end-decl)
	members = append(members, root)
	for j := decl + 1; j < end; j++ {
		if model.SliceScope(elems[j].ID) != scope {
			continue
		}
		child := elems[j].Clone()
		child.SliceName = name
		child.ID = model.RebaseID(child.ID, d.ID, rootID)
		members = append(members, child)
	}
	return members
}

// IsSliceRoot reports whether e introduces a slice, as opposed to being a
// descendant of one.
func IsSliceRoot(e *model.ElementDefinition) bool {
	if e.SliceName == "" {
		return false
	}
	if e.ID == "" {
		return true
	}
	last := e.ID[strings.LastIndexByte(e.ID, '.')+1:]
	return strings.IndexByte(last, ':') >= 0
}

// IsDeclarator reports whether e declares slicing for its path.
func IsDeclarator(e *model.ElementDefinition) bool {
	return e.Slicing != nil && !IsSliceRoot(e)
}

// Parent returns the index of the element enclosing elems[i], or -1.
func Parent(elems []model.ElementDefinition, i int) int {
	pp := model.ParentPath(elems[i].Path)
	if pp == "" {
		return -1
	}
	for j := i - 1; j >= 0; j-- {
		if elems[j].Path == pp {
			return j
		}
	}
	return -1
}

// SubtreeEnd returns the index just past the descendants of elems[i].
// Slice members of elems[i] are siblings, not descendants.
func SubtreeEnd(elems []model.ElementDefinition, i int) int {
	prefix := elems[i].Path + "."
	j := i + 1
	for j < len(elems) && strings.HasPrefix(elems[j].Path, prefix) {
		j++
	}
	return j
}

// GroupEnd returns the index just past the declarator at elems[decl], its
// children and all of its slice members.
func GroupEnd(elems []model.ElementDefinition, decl int) int {
	path := elems[decl].Path
	end := SubtreeEnd(elems, decl)
	for end < len(elems) && elems[end].Path == path && IsSliceRoot(&elems[end]) {
		end = SubtreeEnd(elems, end)
	}
	return end
}

// FindSlice returns the index of the slice named name under the declarator
// at elems[decl], or -1.
func FindSlice(elems []model.ElementDefinition, decl int, name string) int {
	path := elems[decl].Path
	end := SubtreeEnd(elems, decl)
	for end < len(elems) && elems[end].Path == path && IsSliceRoot(&elems[end]) {
		if elems[end].SliceName == name {
			return end
		}
		end = SubtreeEnd(elems, end)
	}
	return -1
}

// FindDeclarator returns the index of the non-slice element at path inside
// the slice scope (see model.SliceScope), or -1. The element need not carry
// slicing yet.
func FindDeclarator(elems []model.ElementDefinition, path, scope string) int {
	for i := range elems {
		e := &elems[i]
		if e.Path == path && !IsSliceRoot(e) && model.SliceScope(e.ID) == scope {
			return i
		}
	}
	return -1
}

// SliceInfo describes one slice member of a Context.
type SliceInfo struct {
	Name  string // sliceName
	ID    string // element id of the slice root
	Index int    // position of the slice root in the snapshot
	Min   uint32
	Max   string
}

// Context describes a slicing declarator and its members.
type Context struct {
	Path           string
	ID             string
	Index          int
	Discriminators []model.Discriminator
	Rules          model.SlicingRules
	Ordered        bool
	Slices         []SliceInfo
}

// Contexts extracts every slicing declarator of a snapshot, in snapshot
// order.
func Contexts(elems []model.ElementDefinition) []Context {
	var contexts []Context
	for i := range elems {
		e := &elems[i]
		if !IsDeclarator(e) {
			continue
		}
		ctx := Context{
			Path:           e.Path,
			ID:             e.ID,
			Index:          i,
			Discriminators: e.Slicing.Discriminator,
			Rules:          e.Slicing.Rules,
			Ordered:        e.Slicing.Ordered != nil && *e.Slicing.Ordered,
		}
		if ctx.Rules == "" {
			ctx.Rules = model.RulesOpen
		}

		j := SubtreeEnd(elems, i)
		for j < len(elems) && elems[j].Path == e.Path && IsSliceRoot(&elems[j]) {
			ctx.Slices = append(ctx.Slices, SliceInfo{
				Name:  elems[j].SliceName,
				ID:    elems[j].ID,
				Index: j,
				Min:   elems[j].MinValue(),
				Max:   elems[j].MaxValue(),
			})
			j = SubtreeEnd(elems, j)
		}
		contexts = append(contexts, ctx)
	}
	return contexts
}
