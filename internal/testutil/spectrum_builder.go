package testutil

import (
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/hupe1980/prismmesh/mapper"
	"github.com/hupe1980/prismmesh/spectrum"
	"github.com/hupe1980/prismmesh/unit"
)

// SpectrumBuilder provides a fluent helper for constructing spectra in tests.
// Example:
//
//	s := NewSpectrumBuilder("test:gate").Wavelength("wait").Build()
//
// Chain only the parts you need; the result is validated by Build.
type SpectrumBuilder struct {
	s spectrum.Spectrum
}

// NewSpectrumBuilder creates a builder for the unit id "namespace:name".
func NewSpectrumBuilder(id string) *SpectrumBuilder {
	uid, err := spectrum.ParseUnitID(id)
	if err != nil {
		panic(fmt.Sprintf("testutil: %v", err))
	}
	return &SpectrumBuilder{s: spectrum.Spectrum{
		Name:      uid.Name,
		Namespace: uid.Namespace,
		Version:   "0.0.0",
	}}
}

// Version overrides the default version "0.0.0" (chainable).
func (b *SpectrumBuilder) Version(v string) *SpectrumBuilder { b.s.Version = v; return b }

// Wavelength appends a frequency without an input schema (chainable).
func (b *SpectrumBuilder) Wavelength(frequency string) *SpectrumBuilder {
	b.s.Wavelengths = append(b.s.Wavelengths, spectrum.Wavelength{Frequency: frequency})
	return b
}

// Stream appends a streaming frequency (chainable).
func (b *SpectrumBuilder) Stream(frequency string) *SpectrumBuilder {
	b.s.Wavelengths = append(b.s.Wavelengths, spectrum.Wavelength{Frequency: frequency, Stream: true})
	return b
}

// Requires appends a frequency whose input is an object with the given
// required string fields (chainable).
func (b *SpectrumBuilder) Requires(frequency string, fields ...string) *SpectrumBuilder {
	props := make(map[string]*jsonschema.Schema, len(fields))
	for _, f := range fields {
		props[f] = &jsonschema.Schema{Type: "string"}
	}
	b.s.Wavelengths = append(b.s.Wavelengths, spectrum.Wavelength{
		Frequency: frequency,
		Input:     &jsonschema.Schema{Type: "object", Properties: props, Required: fields},
	})
	return b
}

// Refraction appends a refraction without field mappings (chainable).
func (b *SpectrumBuilder) Refraction(name, target, frequency string) *SpectrumBuilder {
	return b.MappedRefraction(name, target, frequency, nil, nil)
}

// MappedRefraction appends a refraction with transpose and reflection
// mappings (chainable).
func (b *SpectrumBuilder) MappedRefraction(name, target, frequency string, transpose, reflection mapper.Mapping) *SpectrumBuilder {
	b.s.Refractions = append(b.s.Refractions, spectrum.Refraction{
		Name:       name,
		Target:     target,
		Frequency:  frequency,
		Transpose:  transpose,
		Reflection: reflection,
	})
	return b
}

// Build validates and returns the spectrum. It panics on an invalid spectrum
// since builders are only used with literal test input.
func (b *SpectrumBuilder) Build() *spectrum.Spectrum {
	s := b.s
	s.Wavelengths = append([]spectrum.Wavelength(nil), b.s.Wavelengths...)
	s.Refractions = append([]spectrum.Refraction(nil), b.s.Refractions...)
	if err := s.Validate(); err != nil {
		panic(fmt.Sprintf("testutil: %v", err))
	}
	return &s
}

// Source returns the built spectrum as a spectrum.Source.
func (b *SpectrumBuilder) Source() spectrum.Source { return spectrum.Static(b.Build()) }

// Handler returns a unit.Factory serving fns through a unit.Router.
func Handler(fns map[string]unit.FrequencyFunc) unit.Factory {
	return func() (unit.Handler, error) {
		r := unit.NewRouter()
		for frequency, fn := range fns {
			r.On(frequency, fn)
		}
		return r, nil
	}
}
