// Package relay provides a generic forwarding handler: every wavefront is sent
// through the refraction that carries the same name as its frequency, and the
// reflected result is returned to the caller.
//
// The bundled spectrum (core:relay) forwards "fetch" to net:fetch and "echo"
// to core:echo. Any other spectrum whose wavelengths are named after its
// refractions can reuse the handler through New.
package relay

import (
	_ "embed"

	"github.com/hupe1980/prismmesh/multiplexer"
	"github.com/hupe1980/prismmesh/spectrum"
	"github.com/hupe1980/prismmesh/unit"
)

// ID is the unit identifier of the bundled relay.
const ID = "core:relay"

//go:embed spectrum.json
var document []byte

// Spectrum returns the embedded spectrum of the bundled relay.
func Spectrum() spectrum.Source { return spectrum.FromBytes(document) }

// Handler forwards wavefronts to refractions.
type Handler struct {
	unit.BaseHandler
}

// New creates a relay handler. It is a unit.Factory.
func New() (unit.Handler, error) {
	return &Handler{}, nil
}

// Register adds the bundled relay to reg. Its dependencies (net:fetch and
// core:echo) must be registered separately.
func Register(reg *multiplexer.Registry) error {
	return reg.Register(ID, Spectrum(), New)
}

// HandlePulse implements unit.Handler. Frequencies without a refraction of
// the same name are ignored.
func (h *Handler) HandlePulse(pc *unit.PulseContext) (unit.Outcome, error) {
	if !pc.IsWavefront() {
		return unit.Ignored, nil
	}
	if _, ok := pc.Spectrum().Refraction(pc.Frequency()); !ok {
		return unit.Ignored, nil
	}

	out, err := pc.Invoke(pc.Frequency(), pc.Input())
	if err != nil {
		return unit.Handled, err
	}
	return unit.Handled, pc.Respond(out)
}
