package unit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hupe1980/prismmesh/core"
	"github.com/hupe1980/prismmesh/link"
	"github.com/hupe1980/prismmesh/logging"
	"github.com/hupe1980/prismmesh/mapper"
	"github.com/hupe1980/prismmesh/pulse"
	"github.com/hupe1980/prismmesh/spectrum"
)

// PulseContext carries one pulse and the helpers a handler needs to answer it
// and to call dependencies. It is only valid during HandlePulse.
type PulseContext struct {
	Context context.Context
	// ID is the request id of the pulse ("" for Extinguish).
	ID    string
	Pulse pulse.Pulse
	// Link is the link the pulse arrived on; answers go back over it.
	Link *link.Link
	// Wavelength describes the requested operation. It is the zero value for
	// pulses other than Wavefront.
	Wavelength spectrum.Wavelength
	Logger     logging.Logger

	core *Core
}

// Done mirrors context.Context's Done.
func (pc *PulseContext) Done() <-chan struct{} { return pc.Context.Done() }

// Err returns the cancellation error (if any) from the underlying context.
func (pc *PulseContext) Err() error { return pc.Context.Err() }

// IsWavefront reports whether the pulse is a request.
func (pc *PulseContext) IsWavefront() bool {
	_, ok := pc.Pulse.(pulse.Wavefront)
	return ok
}

// Frequency returns the requested operation, or "" for non-wavefront pulses.
func (pc *PulseContext) Frequency() string {
	if w, ok := pc.Pulse.(pulse.Wavefront); ok {
		return w.Frequency
	}
	return ""
}

// Input returns the raw wavefront input, or nil for other pulses.
func (pc *PulseContext) Input() json.RawMessage {
	if w, ok := pc.Pulse.(pulse.Wavefront); ok {
		return w.Input
	}
	return nil
}

// Bind decodes the wavefront input into v. Decoding failures are validation errors.
func (pc *PulseContext) Bind(v any) error {
	in := pc.Input()
	if len(in) == 0 {
		in = json.RawMessage("null")
	}
	if err := json.Unmarshal(in, v); err != nil {
		return core.Wrap(core.KindValidation, err, "decode input of "+pc.Frequency())
	}
	return nil
}

// Spectrum returns the spectrum of the unit handling the pulse.
func (pc *PulseContext) Spectrum() *spectrum.Spectrum { return pc.core.spectrum }

// Respond answers the request with v and a success trap. Streaming
// wavelengths send one photon per element of v, others a single photon.
// With output validation configured, a value that does not match the
// wavelength's output schema is refused before anything is sent.
func (pc *PulseContext) Respond(v any) error {
	if ov, ok := pc.core.validator.(OutputValidator); ok {
		raw, err := toJSON(v)
		if err != nil {
			return err
		}
		if err := pc.checkOutput(ov, raw); err != nil {
			return err
		}
		v = raw
	}
	if pc.Wavelength.Stream {
		return link.Reflect(pc.Link, pc.ID, v)
	}
	return link.Emit(pc.Link, pc.ID, v)
}

// checkOutput validates raw as one value, or element by element when a
// streaming wavelength answers with an array.
func (pc *PulseContext) checkOutput(ov OutputValidator, raw json.RawMessage) error {
	freq := pc.Frequency()
	if pc.Wavelength.Stream {
		var elems []json.RawMessage
		if json.Unmarshal(raw, &elems) == nil {
			for _, el := range elems {
				if err := ov.ValidateOutput(freq, el); err != nil {
					return err
				}
			}
			return nil
		}
	}
	return ov.ValidateOutput(freq, raw)
}

// Photon sends one chunk of a streamed response without terminating it.
func (pc *PulseContext) Photon(v any) error {
	return pc.Link.EmitPhoton(pc.ID, v)
}

// Fail terminates the request with err.
func (pc *PulseContext) Fail(err error) error {
	return pc.Link.EmitTrap(pc.ID, err)
}

// Refract starts a call through the named refraction and returns the link to
// drain together with the request id of the call.
func (pc *PulseContext) Refract(name string, payload any) (*link.Link, string, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, "", err
	}
	return pc.core.Refract(pc.Context, name, raw)
}

// Invoke calls the named refraction and waits for its result. The photons
// are merged the way Absorb merges them (collected as an array when the
// target wavelength streams) and the refraction's reflection mapping is
// applied to produce the caller-visible value.
func (pc *PulseContext) Invoke(name string, payload any) (json.RawMessage, error) {
	r, ok := pc.core.spectrum.Refraction(name)
	if !ok {
		return nil, pc.core.refractionNotFound(name)
	}

	start := time.Now()
	l, id, err := pc.Refract(name, payload)
	if err != nil {
		pc.core.logRefraction(name, r.Target, time.Since(start), err)
		return nil, err
	}

	var result json.RawMessage
	if pc.core.targetStreams(r) {
		var items []json.RawMessage
		items, err = link.Collect[json.RawMessage](pc.Context, l, id)
		if err == nil {
			result, err = json.Marshal(items)
		}
	} else {
		result, err = link.Absorb[json.RawMessage](pc.Context, l, id)
	}
	if err == nil {
		result, err = mapper.ApplyReflection(r.Reflection, result, nil)
	}
	pc.core.logRefraction(name, r.Target, time.Since(start), err)
	return result, err
}

func marshalPayload(v any) (json.RawMessage, error) {
	switch x := v.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		return x, nil
	case []byte:
		return json.RawMessage(x), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, core.Wrap(core.KindMapping, err, "encode refraction payload")
		}
		return data, nil
	}
}

func toJSON(v any) (json.RawMessage, error) {
	switch x := v.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		return x, nil
	case []byte:
		return json.RawMessage(x), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, core.Wrap(core.KindOther, err, "encode response")
		}
		return data, nil
	}
}
