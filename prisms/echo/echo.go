// Package echo provides the core:echo prism, a dependency-free unit used for
// smoke tests and examples.
//
// Frequencies:
//   - echo: returns the input unchanged
//   - chant: streams every element of the input array as its own photon
//   - repeat: streams {"text", "times"} as times photons of text
package echo

import (
	_ "embed"
	"encoding/json"

	"github.com/hupe1980/prismmesh/core"
	"github.com/hupe1980/prismmesh/multiplexer"
	"github.com/hupe1980/prismmesh/spectrum"
	"github.com/hupe1980/prismmesh/unit"
)

// ID is the unit identifier of the echo prism.
const ID = "core:echo"

// maxRepeat bounds the repeat frequency.
const maxRepeat = 1000

//go:embed spectrum.yaml
var document []byte

// Spectrum returns the embedded spectrum of the echo prism.
func Spectrum() spectrum.Source { return spectrum.FromBytes(document) }

// New creates an echo handler. It is a unit.Factory.
func New() (unit.Handler, error) {
	return unit.NewRouter().
		On("echo", echo).
		On("chant", chant).
		On("repeat", repeat), nil
}

// Register adds the echo prism to reg.
func Register(reg *multiplexer.Registry) error {
	return reg.Register(ID, Spectrum(), New)
}

func echo(pc *unit.PulseContext) error {
	in := pc.Input()
	if len(in) == 0 {
		in = json.RawMessage("null")
	}
	return pc.Respond(in)
}

func chant(pc *unit.PulseContext) error {
	var items []json.RawMessage
	if err := pc.Bind(&items); err != nil {
		return err
	}
	return pc.Respond(items)
}

func repeat(pc *unit.PulseContext) error {
	var in struct {
		Text  string `json:"text"`
		Times *int   `json:"times"`
	}
	if err := pc.Bind(&in); err != nil {
		return err
	}

	times := 1
	if in.Times != nil {
		times = *in.Times
	}
	if times < 0 || times > maxRepeat {
		return core.Errorf(core.KindValidation, "times must be between 0 and %d, got %d", maxRepeat, times)
	}

	for range times {
		if err := pc.Err(); err != nil {
			return err
		}
		if err := pc.Photon(in.Text); err != nil {
			return err
		}
	}
	return nil
}
