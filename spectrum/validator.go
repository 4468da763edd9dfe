package spectrum

import (
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/hupe1980/prismmesh/core"
)

// Validator checks payloads against the input and output schemas of a
// spectrum's wavelengths. Schemas are resolved once, when the validator is
// built. Operations without a schema accept anything.
type Validator struct {
	inputs  map[string]*jsonschema.Resolved
	outputs map[string]*jsonschema.Resolved
}

// NewValidator resolves every schema of s.
func NewValidator(s *Spectrum) (*Validator, error) {
	v := &Validator{
		inputs:  make(map[string]*jsonschema.Resolved),
		outputs: make(map[string]*jsonschema.Resolved),
	}
	for _, w := range s.Wavelengths {
		if w.Input != nil {
			r, err := w.Input.Resolve(&jsonschema.ResolveOptions{})
			if err != nil {
				return nil, core.Wrap(core.KindSpectrumParse, err, s.ID().String()+": input schema of "+w.Frequency)
			}
			v.inputs[w.Frequency] = r
		}
		if w.Output != nil {
			r, err := w.Output.Resolve(&jsonschema.ResolveOptions{})
			if err != nil {
				return nil, core.Wrap(core.KindSpectrumParse, err, s.ID().String()+": output schema of "+w.Frequency)
			}
			v.outputs[w.Frequency] = r
		}
	}
	return v, nil
}

// ValidateInput checks a wavefront payload for frequency.
func (v *Validator) ValidateInput(frequency string, payload json.RawMessage) error {
	return validate(v.inputs[frequency], "input of "+frequency, payload)
}

// ValidateOutput checks one result value for frequency.
func (v *Validator) ValidateOutput(frequency string, payload json.RawMessage) error {
	return validate(v.outputs[frequency], "output of "+frequency, payload)
}

func validate(r *jsonschema.Resolved, what string, payload json.RawMessage) error {
	if r == nil {
		return nil
	}
	var instance any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &instance); err != nil {
			return core.Wrap(core.KindValidation, err, what+" is not valid JSON")
		}
	}
	if err := r.Validate(instance); err != nil {
		return core.Wrap(core.KindValidation, err, what)
	}
	return nil
}
