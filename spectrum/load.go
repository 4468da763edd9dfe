package spectrum

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/hupe1980/prismmesh/core"
)

// Source produces a spectrum on demand. The multiplexer calls it each time it
// spawns an instance of the unit, so sources that read files pick up edits.
type Source func() (*Spectrum, error)

// Static returns a source that always yields s.
func Static(s *Spectrum) Source {
	return func() (*Spectrum, error) {
		if s == nil {
			return nil, core.Errorf(core.KindSpectrumLoad, "nil spectrum")
		}
		return s, nil
	}
}

// FromFile returns a source that loads path on every call.
func FromFile(path string) Source {
	return func() (*Spectrum, error) { return Load(path) }
}

// FromBytes returns a source that parses data (JSON or YAML) once and then
// yields the same spectrum.
func FromBytes(data []byte) Source {
	s, err := ParseAny(data)
	return func() (*Spectrum, error) { return s, err }
}

// Parse decodes and validates a JSON spectrum document.
func Parse(data []byte) (*Spectrum, error) {
	var s Spectrum
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, core.Wrap(core.KindSpectrumParse, err, "decode spectrum")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// ParseYAML decodes and validates a YAML spectrum document. The document is
// converted to JSON first so schemas decode exactly as they do from JSON.
func ParseYAML(data []byte) (*Spectrum, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, core.Wrap(core.KindSpectrumParse, err, "decode spectrum yaml")
	}
	js, err := json.Marshal(doc)
	if err != nil {
		return nil, core.Wrap(core.KindSpectrumParse, err, "convert spectrum yaml")
	}
	return Parse(js)
}

// ParseAny accepts either JSON or YAML.
func ParseAny(data []byte) (*Spectrum, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return Parse(data)
	}
	return ParseYAML(data)
}

// Load reads a spectrum file. The format follows the extension: .json, or
// .yaml/.yml; anything else is sniffed.
func Load(path string) (*Spectrum, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.Wrap(core.KindSpectrumLoad, err, "read "+path)
	}

	var s *Spectrum
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		s, err = Parse(data)
	case ".yaml", ".yml":
		s, err = ParseYAML(data)
	default:
		s, err = ParseAny(data)
	}
	if err != nil {
		return nil, core.WithOp("spectrum.load "+path, err)
	}
	return s, nil
}
