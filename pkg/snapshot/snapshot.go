package snapshot

import (
	"github.com/gofhir/snapshot/pkg/model"
)

// Snapshot is the fully expanded element list of a profile.
//
// Snapshots returned by a Generator are shared through its cache and must
// be treated as read-only. Clone the elements before modifying them.
type Snapshot struct {
	URL            string
	Name           string
	Type           string
	BaseDefinition string
	Elements       []model.ElementDefinition

	index map[model.ElementKey]int
	ids   map[string]int
}

func newSnapshot(sd *model.StructureDefinition, elems []model.ElementDefinition) *Snapshot {
	s := &Snapshot{
		URL:            sd.URL,
		Name:           sd.Name,
		Type:           sd.Type,
		BaseDefinition: sd.BaseDefinition,
		Elements:       elems,
		index:          make(map[model.ElementKey]int, len(elems)),
		ids:            make(map[string]int, len(elems)),
	}
	if s.Type == "" && len(elems) > 0 {
		s.Type = elems[0].Path
	}
	for i := range elems {
		k := model.ElementKey{Path: elems[i].Path, Slice: elems[i].SliceName}
		if _, ok := s.index[k]; !ok {
			s.index[k] = i
		}
		if id := elems[i].ID; id != "" {
			if _, ok := s.ids[id]; !ok {
				s.ids[id] = i
			}
		}
	}
	return s
}

// Lookup returns the element with the given path and slice name. Children
// of a slice carry the slice's name. When slices of the same name are
// nested under different parent slices, Lookup returns the first; use
// Element to address one by id.
func (s *Snapshot) Lookup(path, slice string) (*model.ElementDefinition, bool) {
	i, ok := s.index[model.ElementKey{Path: path, Slice: slice}]
	if !ok {
		return nil, false
	}
	return &s.Elements[i], true
}

// Element returns the element with the given id.
func (s *Snapshot) Element(id string) (*model.ElementDefinition, bool) {
	i, ok := s.ids[id]
	if !ok {
		return nil, false
	}
	return &s.Elements[i], true
}

// Root returns the first element, whose path is the profile's type.
func (s *Snapshot) Root() *model.ElementDefinition {
	if len(s.Elements) == 0 {
		return nil
	}
	return &s.Elements[0]
}

// Len returns the number of elements.
func (s *Snapshot) Len() int {
	return len(s.Elements)
}

// StructureDefinition returns a copy of sd carrying the snapshot elements.
func (s *Snapshot) StructureDefinition(sd *model.StructureDefinition) *model.StructureDefinition {
	out := *sd
	out.Snapshot = model.CloneElements(s.Elements)
	return &out
}
