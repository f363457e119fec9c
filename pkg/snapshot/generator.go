// Package snapshot generates StructureDefinition snapshots by walking a
// profile's base chain and applying each differential onto the snapshot of
// its base.
package snapshot

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofhir/snapshot/cache"
	"github.com/gofhir/snapshot/pkg/issue"
	"github.com/gofhir/snapshot/pkg/logger"
	"github.com/gofhir/snapshot/pkg/merge"
	"github.com/gofhir/snapshot/pkg/model"
	"github.com/gofhir/snapshot/pkg/slicing"
)

// Registry is the read side of a profile registry.
// *registry.Registry satisfies it.
type Registry interface {
	BaseChain(url string) ([]*model.StructureDefinition, error)
	ByType(typeName string) (*model.StructureDefinition, bool)
	Has(url string) bool
	DerivesFrom(url, ancestor string) bool
	Generation() uint64
}

// Cache stores completed snapshots by canonical URL, stamped with the
// registry generation they were computed at.
// *cache.Cache[string, *Snapshot] satisfies it.
type Cache interface {
	Get(url string) (*Snapshot, bool)
	Do(url string, fn func() (*Snapshot, error)) (*Snapshot, error)
	Expire(generation uint64) bool
	Clear()
}

// Recorder receives generation events. fhirsnapshot.Metrics implements it.
type Recorder interface {
	RecordGeneration(d time.Duration, err error)
	RecordCacheHit()
	RecordCacheMiss()
}

type nopRecorder struct{}

func (nopRecorder) RecordGeneration(time.Duration, error) {}
func (nopRecorder) RecordCacheHit()                       {}
func (nopRecorder) RecordCacheMiss()                      {}

// errRecursive marks a type expansion that would build a profile already
// being built.
var errRecursive = errors.New("recursive type expansion")

// Generator builds snapshots. It runs one build at a time; use one
// Generator per goroutine over a frozen registry for parallel builds.
type Generator struct {
	mu sync.Mutex

	reg      Registry
	merger   *merge.Merger
	cache    Cache
	recorder Recorder
	log      *logger.Logger

	expandTypes bool
	building    map[string]bool
}

// Option configures a Generator.
type Option func(*Generator)

// WithCache shares a snapshot cache. Generators sharing a cache must read
// the same registry or frozen clones of it. The first generator to see a
// new registry generation purges the cache for all of them.
func WithCache(c Cache) Option {
	return func(g *Generator) {
		g.cache = c
	}
}

// WithLogger sets the logger used for per-step debug output.
func WithLogger(l *logger.Logger) Option {
	return func(g *Generator) {
		g.log = l
	}
}

// WithRecorder sets the receiver of generation and cache events.
func WithRecorder(r Recorder) Option {
	return func(g *Generator) {
		g.recorder = r
	}
}

// WithoutTypeExpansion disables materializing the children of a type when
// a differential constrains below an element the base does not expand.
func WithoutTypeExpansion() Option {
	return func(g *Generator) {
		g.expandTypes = false
	}
}

// New creates a Generator reading profiles from reg.
func New(reg Registry, opts ...Option) *Generator {
	g := &Generator{
		reg:         reg,
		recorder:    nopRecorder{},
		log:         logger.Default(),
		expandTypes: true,
		building:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.cache == nil {
		g.cache = cache.New[string, *Snapshot](cache.DefaultCapacity)
	}
	g.merger = merge.New(reg, merge.WithLogger(g.log))
	return g
}

// Generate returns the snapshot of the profile with the given canonical URL.
// Intermediate snapshots along the base chain are cached. On error nothing
// is cached for the failing profile or its descendants.
func (g *Generator) Generate(url string) (*Snapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	start := time.Now()
	if gen := g.reg.Generation(); g.cache.Expire(gen) {
		g.log.Debug("registry at generation %d, purged snapshot cache", gen)
	}

	s, err := g.resolve(url)
	g.recorder.RecordGeneration(time.Since(start), err)
	return s, err
}

// resolve walks the base chain of url, building every step missing from
// the cache.
func (g *Generator) resolve(url string) (*Snapshot, error) {
	chain, err := g.reg.BaseChain(url)
	if err != nil {
		return nil, err
	}
	if root := chain[0]; !root.Resolved() {
		return nil, issue.RootMissingSnapshot(root.URL)
	}

	var prev *Snapshot
	for _, sd := range chain {
		if g.building[sd.URL] {
			return nil, errRecursive
		}
		base := prev
		built := false
		snap, err := g.cache.Do(sd.URL, func() (*Snapshot, error) {
			built = true
			return g.build(sd, base)
		})
		if err != nil {
			return nil, err
		}
		if built {
			g.recorder.RecordCacheMiss()
		} else {
			g.recorder.RecordCacheHit()
		}
		prev = snap
	}
	return prev, nil
}

// build produces the snapshot of sd given the snapshot of its base.
func (g *Generator) build(sd *model.StructureDefinition, base *Snapshot) (*Snapshot, error) {
	g.building[sd.URL] = true
	defer delete(g.building, sd.URL)

	if sd.Resolved() {
		elems := model.CloneElements(sd.Snapshot)
		if sd.Type != "" && elems[0].Path != sd.Type {
			return nil, issue.InvalidProfile(sd.URL,
				fmt.Sprintf("snapshot root '%s' does not match type '%s'", elems[0].Path, sd.Type))
		}
		Normalize(elems)
		g.log.Debug("%s: using shipped snapshot (%d elements)", sd.URL, len(elems))
		return newSnapshot(sd, elems), nil
	}

	elems := model.CloneElements(base.Elements)
	special := isSpecialization(sd, base)
	if special && sd.Type != "" && sd.Type != base.Type {
		rebase(elems, base.Type, sd.Type)
	}

	a := &applier{
		g:       g,
		profile: sd.URL,
		elems:   elems,
		slicer:  slicing.New(sd.URL, elems),
		special: special,
	}
	for i := range sd.Differential {
		if err := a.apply(&sd.Differential[i]); err != nil {
			return nil, err
		}
	}

	g.log.Debug("%s: applied %d differential elements onto %s (%d elements)",
		sd.URL, len(sd.Differential), base.URL, len(a.elems))
	return newSnapshot(sd, a.elems), nil
}

// isSpecialization reports whether sd defines a new type rather than
// constraining its base.
func isSpecialization(sd *model.StructureDefinition, base *Snapshot) bool {
	switch sd.Derivation {
	case model.DerivationSpecialization:
		return true
	case model.DerivationConstraint:
		return false
	}
	return sd.Type != "" && sd.Type != base.Type
}

// rebase moves every element from the from type onto the to type. Base
// paths keep pointing at the original definitions.
func rebase(elems []model.ElementDefinition, from, to string) {
	for i := range elems {
		elems[i].Path = model.RebasePath(elems[i].Path, from, to)
		elems[i].ID = model.RebaseID(elems[i].ID, from, to)
	}
}

// Normalize completes a shipped snapshot in place: children inherit the
// slice name of the slice they belong to, missing ids are derived, min and
// max default to 0..* and base defaults to the element itself.
func Normalize(elems []model.ElementDefinition) {
	for i := range elems {
		e := &elems[i]
		parent := slicing.Parent(elems, i)

		if e.ID == "" {
			switch {
			case parent < 0:
				e.ID = e.Path
			case e.SliceName != "":
				e.ID = model.SliceID(model.ChildID(elems[parent].ID, e.Path), e.SliceName)
			default:
				e.ID = model.ChildID(elems[parent].ID, e.Path)
			}
		}
		if e.SliceName == "" && parent >= 0 {
			e.SliceName = elems[parent].SliceName
		}
		if e.Min == nil {
			e.Min = model.Uint32Ptr(0)
		}
		if e.Max == "" {
			e.Max = model.Unbounded
		}
		if e.Base == nil {
			e.Base = &model.ElementBase{Path: e.Path, Min: *e.Min, Max: e.Max}
		}
	}
}
