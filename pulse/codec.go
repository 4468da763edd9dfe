package pulse

import (
	"bytes"
	"encoding/json"

	"github.com/hupe1980/prismmesh/core"
)

// Encode serializes p as a single-key tagged object, e.g.
//
//	{"Photon":{"id":"...","data":{"msg":"hi"}}}
//	{"Extinguish":null}
func Encode(p Pulse) ([]byte, error) {
	var body any
	switch v := p.(type) {
	case Wavefront:
		if v.Input == nil {
			v.Input = json.RawMessage("null")
		}
		body = v
	case *Wavefront:
		return Encode(*v)
	case Photon:
		if v.Data == nil {
			v.Data = json.RawMessage("null")
		}
		body = v
	case *Photon:
		return Encode(*v)
	case Trap:
		body = v
	case *Trap:
		return Encode(*v)
	case Extinguish, *Extinguish:
		body = nil
	default:
		return nil, core.Errorf(core.KindProtocol, "cannot encode pulse of type %T", p)
	}
	data, err := json.Marshal(map[string]any{p.Kind().String(): body})
	if err != nil {
		return nil, core.Wrap(core.KindProtocol, err, "encode "+p.Kind().String())
	}
	return data, nil
}

// Decode parses a single-key tagged object produced by Encode or by any
// compatible remote peer.
func Decode(data []byte) (Pulse, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, core.Wrap(core.KindProtocol, err, "decode pulse")
	}
	if len(envelope) != 1 {
		return nil, core.Errorf(core.KindProtocol, "pulse must have exactly one tag, got %d", len(envelope))
	}
	for tag, body := range envelope {
		switch tag {
		case "Wavefront":
			var w Wavefront
			if err := decodeBody(body, &w); err != nil {
				return nil, err
			}
			if w.ID == "" {
				return nil, core.Errorf(core.KindProtocol, "wavefront without id")
			}
			return w, nil
		case "Photon":
			var p Photon
			if err := decodeBody(body, &p); err != nil {
				return nil, err
			}
			if p.ID == "" {
				return nil, core.Errorf(core.KindProtocol, "photon without id")
			}
			return p, nil
		case "Trap":
			var t Trap
			if err := decodeBody(body, &t); err != nil {
				return nil, err
			}
			if t.ID == "" {
				return nil, core.Errorf(core.KindProtocol, "trap without id")
			}
			return t, nil
		case "Extinguish":
			return Extinguish{}, nil
		default:
			return nil, core.Errorf(core.KindProtocol, "unknown pulse tag %q", tag)
		}
	}
	return nil, core.Errorf(core.KindProtocol, "empty pulse")
}

func decodeBody(body json.RawMessage, v any) error {
	if len(bytes.TrimSpace(body)) == 0 || bytes.Equal(bytes.TrimSpace(body), []byte("null")) {
		return core.Errorf(core.KindProtocol, "missing pulse body")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return core.Wrap(core.KindProtocol, err, "decode pulse body")
	}
	return nil
}
