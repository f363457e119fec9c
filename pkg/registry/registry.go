// Package registry holds loaded StructureDefinitions keyed by canonical URL
// and resolves their base chains.
package registry

import (
	"sort"
	"strings"
	"sync"

	"github.com/gofhir/snapshot/pkg/issue"
	"github.com/gofhir/snapshot/pkg/model"
)

// Registry maps canonical URLs to StructureDefinitions.
//
// Definitions are handed out by reference and must be treated as read-only.
// Loading the same URL again replaces the prior definition. A frozen
// registry rejects loads and may be read from many goroutines.
type Registry struct {
	mu         sync.RWMutex
	byURL      map[string]*model.StructureDefinition
	byType     map[string]*model.StructureDefinition // base definitions only, e.g. "Patient", "HumanName"
	generation uint64
	frozen     bool
}

// New creates a new empty Registry.
func New() *Registry {
	return &Registry{
		byURL:  make(map[string]*model.StructureDefinition),
		byType: make(map[string]*model.StructureDefinition),
	}
}

// Load inserts sd, replacing any definition with the same URL.
func (r *Registry) Load(sd *model.StructureDefinition) error {
	if sd == nil {
		return issue.InvalidProfile("", "nil structure definition")
	}
	if sd.URL == "" {
		return issue.InvalidProfile(sd.Name, "missing url")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return issue.FrozenRegistry(sd.URL)
	}

	if old, ok := r.byURL[sd.URL]; ok && old.Type != "" && r.byType[old.Type] == old {
		delete(r.byType, old.Type)
	}
	r.byURL[sd.URL] = sd
	if isTypeDefinition(sd) {
		r.byType[sd.Type] = sd
	}
	r.generation++
	return nil
}

// LoadAll loads every definition, stopping at the first error.
func (r *Registry) LoadAll(sds []*model.StructureDefinition) error {
	for _, sd := range sds {
		if err := r.Load(sd); err != nil {
			return err
		}
	}
	return nil
}

// isTypeDefinition reports whether sd is THE definition of its type rather
// than a profile constraining it.
func isTypeDefinition(sd *model.StructureDefinition) bool {
	if sd.Type == "" || sd.Derivation == model.DerivationConstraint {
		return false
	}
	if sd.Derivation == model.DerivationSpecialization || sd.BaseDefinition == "" {
		return true
	}
	return sd.URL == "http://hl7.org/fhir/StructureDefinition/"+sd.Type
}

// Get returns the definition for url or fails with UnknownProfile.
// A "|version" suffix is ignored when the versioned URL is not loaded.
func (r *Registry) Get(url string) (*model.StructureDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if sd, ok := r.getUnlocked(url); ok {
		return sd, nil
	}
	return nil, issue.UnknownProfile(url)
}

func (r *Registry) getUnlocked(url string) (*model.StructureDefinition, bool) {
	if sd, ok := r.byURL[url]; ok {
		return sd, true
	}
	if i := strings.IndexByte(url, '|'); i >= 0 {
		sd, ok := r.byURL[url[:i]]
		return sd, ok
	}
	return nil, false
}

// Has reports whether url is loaded.
func (r *Registry) Has(url string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.getUnlocked(url)
	return ok
}

// ByType returns the base definition of a type name.
func (r *Registry) ByType(typeName string) (*model.StructureDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sd, ok := r.byType[typeName]
	return sd, ok
}

// BaseChain returns the definitions from the root ancestor down to url,
// inclusive. It fails with CircularBase when a URL is revisited and with
// UnknownProfile when any ancestor is missing.
func (r *Registry) BaseChain(url string) ([]*model.StructureDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var chain []*model.StructureDefinition
	seen := make(map[string]int)
	current := url
	for {
		sd, ok := r.getUnlocked(current)
		if !ok {
			return nil, issue.UnknownProfile(current)
		}
		if i, ok := seen[sd.URL]; ok {
			cycle := make([]string, 0, len(chain)-i+1)
			for _, c := range chain[i:] {
				cycle = append(cycle, c.URL)
			}
			cycle = append(cycle, sd.URL)
			return nil, issue.CircularBase(cycle)
		}
		seen[sd.URL] = len(chain)
		chain = append(chain, sd)

		if sd.BaseDefinition == "" {
			break
		}
		current = sd.BaseDefinition
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// DerivesFrom reports whether url equals ancestor or has it in its base
// chain. Version suffixes are ignored on both sides.
func (r *Registry) DerivesFrom(url, ancestor string) bool {
	ancestor = stripVersion(ancestor)

	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	current := url
	for current != "" && !seen[current] {
		if stripVersion(current) == ancestor {
			return true
		}
		seen[current] = true
		sd, ok := r.getUnlocked(current)
		if !ok {
			return false
		}
		current = sd.BaseDefinition
	}
	return false
}

func stripVersion(url string) string {
	if i := strings.IndexByte(url, '|'); i >= 0 {
		return url[:i]
	}
	return url
}

// Generation increases on every successful Load. Generators use it to
// discard cached snapshots computed against older contents.
func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Clone returns an unfrozen registry holding the same definitions.
// Definitions are shared, not copied.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c := &Registry{
		byURL:      make(map[string]*model.StructureDefinition, len(r.byURL)),
		byType:     make(map[string]*model.StructureDefinition, len(r.byType)),
		generation: r.generation,
	}
	for k, v := range r.byURL {
		c.byURL[k] = v
	}
	for k, v := range r.byType {
		c.byType[k] = v
	}
	return c
}

// Count returns the number of loaded definitions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byURL)
}

// URLs returns all loaded URLs in sorted order.
func (r *Registry) URLs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	urls := make([]string, 0, len(r.byURL))
	for url := range r.byURL {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	return urls
}

// Unresolved returns the URLs of definitions that ship no snapshot, sorted.
func (r *Registry) Unresolved() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var urls []string
	for url, sd := range r.byURL {
		if !sd.Resolved() {
			urls = append(urls, url)
		}
	}
	sort.Strings(urls)
	return urls
}
