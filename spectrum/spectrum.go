package spectrum

import (
	"github.com/google/jsonschema-go/jsonschema"

	"github.com/hupe1980/prismmesh/core"
	"github.com/hupe1980/prismmesh/mapper"
)

// Spectrum is the self-describing metadata document of a unit: its identity,
// the operations (wavelengths) it exposes and the dependencies (refractions)
// it may call. A loaded Spectrum is never modified and may be shared freely
// between goroutines.
type Spectrum struct {
	Name        string       `json:"name"`
	Namespace   string       `json:"namespace"`
	Version     string       `json:"version,omitempty"`
	Description string       `json:"description,omitempty"`
	Wavelengths []Wavelength `json:"wavelengths"`
	Refractions []Refraction `json:"refractions,omitempty"`
}

// Wavelength describes one operation of a unit.
type Wavelength struct {
	Frequency   string             `json:"frequency"`
	Description string             `json:"description,omitempty"`
	Input       *jsonschema.Schema `json:"input,omitempty"`
	Output      *jsonschema.Schema `json:"output,omitempty"`
	// Stream marks an operation whose result is a sequence delivered as one
	// photon per element. Non-streaming operations deliver exactly one photon.
	Stream bool `json:"stream,omitempty"`
}

// Refraction declares a dependency on an operation of another unit, with
// the field mappings applied on the way in (Transpose) and out (Reflection).
type Refraction struct {
	Name       string         `json:"name"`
	Target     string         `json:"target"`
	Frequency  string         `json:"frequency"`
	Transpose  mapper.Mapping `json:"transpose,omitempty"`
	Reflection mapper.Mapping `json:"reflection,omitempty"`
}

// ID returns the unit identifier of the spectrum.
func (s *Spectrum) ID() UnitID {
	return UnitID{Namespace: s.Namespace, Name: s.Name}
}

// Wavelength returns the operation with the given frequency.
func (s *Spectrum) Wavelength(frequency string) (Wavelength, bool) {
	for _, w := range s.Wavelengths {
		if w.Frequency == frequency {
			return w, true
		}
	}
	return Wavelength{}, false
}

// Refraction returns the refraction with the given local name.
func (s *Spectrum) Refraction(name string) (Refraction, bool) {
	for _, r := range s.Refractions {
		if r.Name == name {
			return r, true
		}
	}
	return Refraction{}, false
}

// Frequencies returns the operation names in declaration order.
func (s *Spectrum) Frequencies() []string {
	out := make([]string, 0, len(s.Wavelengths))
	for _, w := range s.Wavelengths {
		out = append(out, w.Frequency)
	}
	return out
}

// Validate checks the structural rules of a spectrum document.
func (s *Spectrum) Validate() error {
	if s.Name == "" {
		return core.Errorf(core.KindSpectrumParse, "spectrum has no name")
	}
	if s.Namespace == "" {
		return core.Errorf(core.KindSpectrumParse, "spectrum %s has no namespace", s.Name)
	}

	seen := make(map[string]struct{}, len(s.Wavelengths))
	for i, w := range s.Wavelengths {
		if w.Frequency == "" {
			return core.Errorf(core.KindSpectrumParse, "%s: wavelength %d has no frequency", s.ID(), i)
		}
		if _, dup := seen[w.Frequency]; dup {
			return core.Errorf(core.KindSpectrumParse, "%s: duplicate frequency %q", s.ID(), w.Frequency)
		}
		seen[w.Frequency] = struct{}{}
	}

	names := make(map[string]struct{}, len(s.Refractions))
	for i, r := range s.Refractions {
		if r.Name == "" {
			return core.Errorf(core.KindSpectrumParse, "%s: refraction %d has no name", s.ID(), i)
		}
		if _, dup := names[r.Name]; dup {
			return core.Errorf(core.KindSpectrumParse, "%s: duplicate refraction %q", s.ID(), r.Name)
		}
		names[r.Name] = struct{}{}
		if _, err := ParseUnitID(r.Target); err != nil {
			return core.Errorf(core.KindSpectrumParse, "%s: refraction %q has invalid target %q", s.ID(), r.Name, r.Target)
		}
		if r.Frequency == "" {
			return core.Errorf(core.KindSpectrumParse, "%s: refraction %q has no frequency", s.ID(), r.Name)
		}
	}
	return nil
}
