package multiplexer

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/prismmesh/core"
	"github.com/hupe1980/prismmesh/spectrum"
	"github.com/hupe1980/prismmesh/unit"
)

// Entry is one registered unit: where its spectrum comes from and how to
// build a handler for a new instance.
type Entry struct {
	ID      spectrum.UnitID
	Source  spectrum.Source
	Factory unit.Factory
}

// Registry maps unit identifiers to entries. It is built once at startup and
// handed to New; it is safe for concurrent use, so units may also be
// registered while a multiplexer is running.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds the unit id ("namespace:name"). Registering the same id twice
// is an error.
func (r *Registry) Register(id string, source spectrum.Source, factory unit.Factory) error {
	uid, err := spectrum.ParseUnitID(id)
	if err != nil {
		return core.WithOp("register", err)
	}
	if source == nil {
		return core.Errorf(core.KindOther, "register %s: nil spectrum source", id)
	}
	if factory == nil {
		return core.Errorf(core.KindOther, "register %s: nil handler factory", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.entries[uid.String()]; dup {
		return core.Errorf(core.KindOther, "register %s: already registered", id)
	}
	r.entries[uid.String()] = Entry{ID: uid, Source: source, Factory: factory}
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(id string, source spectrum.Source, factory unit.Factory) {
	if err := r.Register(id, source, factory); err != nil {
		panic(fmt.Sprintf("multiplexer: %v", err))
	}
}

// RegisterCatalog registers every spectrum of c that has a factory in
// factories. Catalog entries without a factory are skipped; factories
// without a spectrum are an error.
func (r *Registry) RegisterCatalog(c *spectrum.Catalog, factories map[string]unit.Factory) error {
	ids := make([]string, 0, len(factories))
	for id := range factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if _, ok := c.Get(id); !ok {
			return core.Errorf(core.KindSpectrumLoad, "no spectrum for %s in catalog", id)
		}
		if err := r.Register(id, c.Source(id), factories[id]); err != nil {
			return err
		}
	}
	return nil
}

// Resolve returns the entry registered for id.
func (r *Registry) Resolve(id string) (Entry, error) {
	uid, err := spectrum.ParseUnitID(id)
	if err != nil {
		return Entry{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[uid.String()]
	if !ok {
		return Entry{}, core.Errorf(core.KindUnitNotFound, "unit %s is not registered", id)
	}
	return e, nil
}

// Units returns the registered unit identifiers, sorted.
func (r *Registry) Units() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.entries))
	for id := range r.entries {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
