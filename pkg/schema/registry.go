package schema

import (
	"fmt"
	"sort"
	"sync"

	"github.com/orneryd/grom/pkg/graph"
)

// Source yields descriptors for registration. A *Descriptor is its own
// source, so MustStruct[T]() values register directly.
type Source interface {
	Descriptors() ([]*Descriptor, error)
}

// Descriptors implements Source.
func (d *Descriptor) Descriptors() ([]*Descriptor, error) {
	return []*Descriptor{d}, nil
}

// Registry collects descriptor sources and builds the schema collection
// exactly once. Initialize and Clear are serialized behind the registry
// mutex; lookups are read-only and never trigger initialization.
type Registry struct {
	mu      sync.RWMutex
	sources []Source
	built   bool
	nodes   map[string]*Descriptor
	rels    map[string]*Descriptor
}

// NewRegistry creates a registry over the given sources. More can be added
// with Register until Initialize is called.
func NewRegistry(sources ...Source) *Registry {
	return &Registry{sources: sources}
}

// Register adds sources to an uninitialized registry. Registering after
// initialization is rejected; Clear first.
func (r *Registry) Register(sources ...Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.built {
		return &graph.Error{Code: graph.EInvalid, Op: "schema.Register",
			Msg: "registry already initialized; Clear before registering new sources"}
	}
	r.sources = append(r.sources, sources...)
	return nil
}

// Initialize builds descriptors from every registered source. It is
// idempotent: once built, subsequent calls return nil without rebuilding.
// On error nothing is published, so concurrent readers observe either the
// complete collection or none of it.
func (r *Registry) Initialize() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.built {
		return nil
	}

	nodes := make(map[string]*Descriptor)
	rels := make(map[string]*Descriptor)
	for _, src := range r.sources {
		descs, err := src.Descriptors()
		if err != nil {
			return &graph.Error{Op: "schema.Initialize", Err: err}
		}
		for _, d := range descs {
			target := nodes
			kind := "label"
			if d.Rel {
				target = rels
				kind = "relationship type"
			}
			if _, dup := target[d.Label]; dup {
				return &graph.Error{Code: graph.EInvalid, Op: "schema.Initialize",
					Msg: fmt.Sprintf("duplicate schema for %s %q", kind, d.Label)}
			}
			target[d.Label] = d
		}
	}

	r.nodes = nodes
	r.rels = rels
	r.built = true
	return nil
}

// Initialized reports whether the collection has been built.
func (r *Registry) Initialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.built
}

// Clear discards the built collection and all registered sources, returning
// the registry to its pristine state.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.built = false
	r.sources = nil
	r.nodes = nil
	r.rels = nil
}

// Node returns the descriptor registered for a node label, if any.
func (r *Registry) Node(label string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.nodes[label]
	return d, ok
}

// Relationship returns the descriptor registered for a relationship type,
// if any.
func (r *Registry) Relationship(relType string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.rels[relType]
	return d, ok
}

// MostDerived picks, among a stored label set, the registered descriptor
// with the longest label chain. This is how a node written as
// [Employee, Person] decodes as Employee even when queried by Person.
func (r *Registry) MostDerived(labels []string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *Descriptor
	for _, label := range labels {
		d, ok := r.nodes[label]
		if !ok {
			continue
		}
		if best == nil || len(d.AllLabels()) > len(best.AllLabels()) {
			best = d
		}
	}
	return best, best != nil
}

// Nodes returns all node descriptors sorted by label.
func (r *Registry) Nodes() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.nodes))
	for _, d := range r.nodes {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// Relationships returns all relationship descriptors sorted by type.
func (r *Registry) Relationships() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.rels))
	for _, d := range r.rels {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}
