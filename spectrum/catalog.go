package spectrum

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/prismmesh/core"
)

// Catalog is a set of spectra keyed by unit identifier, typically loaded
// from a directory of documents.
type Catalog struct {
	mu      sync.RWMutex
	spectra map[string]*Spectrum
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{spectra: make(map[string]*Spectrum)}
}

// LoadDir loads every .json, .yaml and .yml file directly inside dir.
// A document that fails to load fails the whole call.
func LoadDir(dir string) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, core.Wrap(core.KindSpectrumLoad, err, "read spectrum dir "+dir)
	}

	c := NewCatalog()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".json", ".yaml", ".yml":
		default:
			continue
		}
		s, err := Load(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if err := c.Add(s); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Add inserts s. Two spectra with the same identifier are rejected.
func (c *Catalog) Add(s *Spectrum) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := s.ID().String()
	if _, dup := c.spectra[id]; dup {
		return core.Errorf(core.KindSpectrumParse, "duplicate spectrum %s", id)
	}
	c.spectra[id] = s
	return nil
}

// Get returns the spectrum registered for id.
func (c *Catalog) Get(id string) (*Spectrum, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.spectra[id]
	return s, ok
}

// Source returns a Source for id that fails with a load error when the
// catalog has no such spectrum.
func (c *Catalog) Source(id string) Source {
	return func() (*Spectrum, error) {
		s, ok := c.Get(id)
		if !ok {
			return nil, core.Errorf(core.KindSpectrumLoad, "no spectrum for %s in catalog", id)
		}
		return s, nil
	}
}

// IDs returns the identifiers in the catalog, sorted.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.spectra))
	for id := range c.spectra {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
