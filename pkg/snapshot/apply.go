package snapshot

import (
	"errors"
	"slices"
	"strings"

	"github.com/gofhir/snapshot/pkg/issue"
	"github.com/gofhir/snapshot/pkg/model"
	"github.com/gofhir/snapshot/pkg/slicing"
)

// applier applies one profile's differential onto a working copy of its
// base snapshot.
type applier struct {
	g       *Generator
	profile string
	elems   []model.ElementDefinition
	slicer  *slicing.Slicer
	special bool

	// renames maps a concrete choice path (valueQuantity) to the choice
	// element it resolved to (value[x]) so descendants follow it.
	renames []rename

	// seen records the resolved path and slice scope of every applied
	// differential element, for differentials that carry no ids.
	seen []seenElement
}

type rename struct {
	from, to string
}

type seenElement struct {
	path, scope string
}

// resolution is where a differential element lands.
type resolution struct {
	index int

	// restrict is the type code a concrete choice path selects.
	restrict string

	// inserted is set when the differential element was added as a new
	// element of a specialization and needs no merge.
	inserted bool
}

func (a *applier) apply(d *model.ElementDefinition) error {
	if d.Path == "" {
		return issue.InvalidProfile(a.profile, "differential element without path")
	}

	path := a.mapPath(d.Path)
	parentCtx, own := a.contexts(d, path)

	res, err := a.target(d, path, parentCtx, own)
	if err != nil {
		return err
	}
	a.seen = append(a.seen, seenElement{path: a.elems[res.index].Path, scope: own})
	if res.inserted {
		return nil
	}

	diff := d
	if res.restrict != "" && len(d.Types) == 0 {
		c := *d
		c.Types = []model.TypeRef{{Code: res.restrict}}
		diff = &c
	}
	merged, err := a.g.merger.Merge(a.profile, &a.elems[res.index], diff)
	if err != nil {
		return err
	}
	a.elems[res.index] = merged
	return nil
}

// mapPath rewrites a path below a concrete choice name onto the choice
// element it was resolved to.
func (a *applier) mapPath(path string) string {
	for k := len(a.renames) - 1; k >= 0; k-- {
		r := a.renames[k]
		if path == r.from {
			return r.to
		}
		if strings.HasPrefix(path, r.from+".") {
			return r.to + path[len(r.from):]
		}
	}
	return path
}

// contexts returns the slice scope (see model.SliceScope) of d's parent and
// of d itself. Ids carry both; without an id the parent scope is taken from
// the nearest preceding differential element that is an ancestor of d.
func (a *applier) contexts(d *model.ElementDefinition, path string) (parent, own string) {
	if d.ID != "" {
		parent, own = model.SliceScopes(d.ID)
	} else {
		for k := len(a.seen) - 1; k >= 0; k-- {
			if strings.HasPrefix(path, a.seen[k].path+".") {
				parent = a.seen[k].scope
				break
			}
		}
		own = parent
	}
	if d.SliceName != "" && model.ScopeName(own) != d.SliceName {
		own = model.SliceID(model.IDWithin(parent, path), d.SliceName)
	}
	return parent, own
}

// scopeOf returns the slice scope of the element at index i.
func (a *applier) scopeOf(i int) string {
	return model.SliceScope(a.elems[i].ID)
}

// target resolves the snapshot element d applies to: by id, then by
// (path, slice), then as a new slice, a concrete choice name, a new
// element of a specialization, or a child of a type that is expanded on
// demand.
func (a *applier) target(d *model.ElementDefinition, path, parentCtx, own string) (resolution, error) {
	if d.ID != "" {
		if i := a.findID(d.ID, path); i >= 0 {
			return resolution{index: i}, nil
		}
	}

	for attempt := 0; attempt < 2; attempt++ {
		i, n := a.find(path, own)
		switch {
		case n == 1:
			return resolution{index: i}, nil
		case n > 1:
			return resolution{}, issue.AmbiguousPath(a.profile, path, n)
		}

		if own != "" && own != parentCtx {
			i, err := a.newSlice(path, parentCtx, own)
			return resolution{index: i}, err
		}
		if i, code := a.choice(path, own); i >= 0 {
			a.renames = append(a.renames, rename{from: path, to: a.elems[i].Path})
			return resolution{index: i, restrict: code}, nil
		}
		if a.special {
			return a.insert(d, path, parentCtx, own)
		}

		if attempt == 0 {
			expanded, err := a.expandParent(path, own)
			if err != nil {
				return resolution{}, err
			}
			if !expanded {
				break
			}
		}
	}
	return resolution{}, issue.AmbiguousPath(a.profile, path, 0)
}

func (a *applier) findID(id, path string) int {
	for i := range a.elems {
		if a.elems[i].ID == id && a.elems[i].Path == path {
			return i
		}
	}
	return -1
}

// find returns the index of the element at path inside scope and the
// number of such elements.
func (a *applier) find(path, scope string) (int, int) {
	idx, n := -1, 0
	for i := range a.elems {
		if a.elems[i].Path == path && a.scopeOf(i) == scope {
			if n == 0 {
				idx = i
			}
			n++
		}
	}
	return idx, n
}

func (a *applier) newSlice(path, parentCtx, own string) (int, error) {
	decl, err := a.ensure(path, parentCtx)
	if err != nil {
		return -1, err
	}
	if decl < 0 || slicing.IsSliceRoot(&a.elems[decl]) {
		return -1, issue.AmbiguousPath(a.profile, path, 0)
	}

	elems, at, err := a.slicer.AddSlice(a.elems, decl, model.ScopeName(own))
	if err != nil {
		return -1, err
	}
	a.elems = elems
	a.g.log.Debug("%s: added slice %s", a.profile, own)
	return at, nil
}

// choice finds the choice element a concrete name such as valueQuantity
// refers to and the type code it selects.
func (a *applier) choice(path, scope string) (int, string) {
	parent := model.ParentPath(path)
	name := model.LastSegment(path)
	for i := range a.elems {
		e := &a.elems[i]
		if model.ParentPath(e.Path) != parent || a.scopeOf(i) != scope {
			continue
		}
		stem, ok := strings.CutSuffix(model.LastSegment(e.Path), "[x]")
		if !ok || len(name) <= len(stem) || !strings.HasPrefix(name, stem) {
			continue
		}
		suffix := name[len(stem):]
		for _, t := range e.Types {
			if t.Code != "" && strings.ToUpper(t.Code[:1])+t.Code[1:] == suffix {
				return i, t.Code
			}
		}
	}
	return -1, ""
}

// insert adds d as a new element of a specialization, after the existing
// children of its parent.
func (a *applier) insert(d *model.ElementDefinition, path, parentCtx, own string) (resolution, error) {
	p, n := a.find(model.ParentPath(path), parentCtx)
	if n != 1 {
		return resolution{}, issue.AmbiguousPath(a.profile, path, n)
	}

	e := d.Clone()
	e.Path = path
	e.SliceName = model.ScopeName(own)
	if e.ID == "" {
		e.ID = model.ChildID(a.elems[p].ID, path)
		if own != parentCtx {
			e.ID = model.SliceID(e.ID, e.SliceName)
		}
	}
	if e.Min == nil {
		e.Min = model.Uint32Ptr(0)
	}
	if e.Max == "" {
		e.Max = model.Unbounded
	}
	e.Base = &model.ElementBase{Path: path, Min: *e.Min, Max: e.Max}
	for k := range e.Constraints {
		if e.Constraints[k].Source == "" {
			e.Constraints[k].Source = a.profile
		}
	}

	at := slicing.SubtreeEnd(a.elems, p)
	a.elems = slices.Insert(a.elems, at, e)
	return resolution{index: at, inserted: true}, nil
}

// ensure returns the index of the element at path inside scope, expanding
// the types of its ancestors when they have no children yet. It returns -1
// when the element cannot be found.
func (a *applier) ensure(path, scope string) (int, error) {
	i, n := a.find(path, scope)
	switch {
	case n == 1:
		return i, nil
	case n > 1:
		return -1, issue.AmbiguousPath(a.profile, path, n)
	}

	ok, err := a.expandParent(path, scope)
	if err != nil || !ok {
		return -1, err
	}
	if i, n := a.find(path, scope); n == 1 {
		return i, nil
	}
	return -1, nil
}

func (a *applier) expandParent(path, scope string) (bool, error) {
	parent := model.ParentPath(path)
	if parent == "" || !a.g.expandTypes {
		return false, nil
	}
	if model.PathFromID(scope) == path {
		// path is the slice root; its parent lies in the enclosing scope.
		scope, _ = model.SliceScopes(scope)
	}
	p, err := a.ensure(parent, scope)
	if err != nil || p < 0 {
		return false, err
	}
	return a.expand(p)
}

// expand materializes the children of the leaf element at p from its
// content reference or from the snapshot of its single type.
func (a *applier) expand(p int) (bool, error) {
	if slicing.SubtreeEnd(a.elems, p) != p+1 {
		return false, nil
	}

	var children []model.ElementDefinition
	e := &a.elems[p]
	switch {
	case e.ContentReference != "":
		children = a.referenced(e)
	case len(e.Types) == 1:
		c, err := a.typeChildren(e)
		if err != nil {
			return false, err
		}
		children = c
	}
	if len(children) == 0 {
		return false, nil
	}

	a.g.log.Debug("%s: expanded %s with %d children", a.profile, e.ID, len(children))
	a.elems = slices.Insert(a.elems, p+1, children...)
	return true, nil
}

// referenced copies the children of the element a content reference such
// as "#Questionnaire.item" points to.
func (a *applier) referenced(e *model.ElementDefinition) []model.ElementDefinition {
	ref := e.ContentReference
	if i := strings.IndexByte(ref, '#'); i >= 0 {
		ref = ref[i+1:]
	}

	src := -1
	for i := range a.elems {
		if a.elems[i].Path == ref && a.elems[i].SliceName == "" {
			src = i
			break
		}
	}
	if src < 0 {
		return nil
	}

	srcID := a.elems[src].ID
	end := slicing.SubtreeEnd(a.elems, src)
	var out []model.ElementDefinition
	for j := src + 1; j < end; j++ {
		if a.elems[j].SliceName != "" {
			continue
		}
		child := a.elems[j].Clone()
		child.Path = model.RebasePath(child.Path, ref, e.Path)
		child.ID = model.RebaseID(child.ID, srcID, e.ID)
		child.SliceName = e.SliceName
		out = append(out, child)
	}
	return out
}

// typeChildren copies the non-root elements of the snapshot of e's type,
// preferring a single declared type profile over the base type.
func (a *applier) typeChildren(e *model.ElementDefinition) ([]model.ElementDefinition, error) {
	t := e.Types[0]

	var url string
	switch {
	case len(t.Profile) == 1 && a.g.reg.Has(t.Profile[0]):
		url = t.Profile[0]
	default:
		sd, ok := a.g.reg.ByType(t.Code)
		if !ok {
			return nil, nil
		}
		url = sd.URL
	}

	snap, err := a.g.resolve(url)
	if errors.Is(err, errRecursive) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	root := snap.Elements[0]
	out := make([]model.ElementDefinition, 0, len(snap.Elements)-1)
	for _, c := range snap.Elements[1:] {
		child := c.Clone()
		child.Path = model.RebasePath(c.Path, root.Path, e.Path)
		child.ID = model.RebaseID(c.ID, root.ID, e.ID)
		if child.SliceName == "" {
			child.SliceName = e.SliceName
		}
		out = append(out, child)
	}
	return out, nil
}
