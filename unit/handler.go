package unit

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/prismmesh/link"
	"github.com/hupe1980/prismmesh/spectrum"
)

// Outcome reports what a handler did with a pulse.
type Outcome uint8

const (
	// Handled means the handler processed the pulse.
	Handled Outcome = iota
	// Ignored means the handler does not deal with this pulse.
	Ignored
)

// String returns the outcome name.
func (o Outcome) String() string {
	if o == Ignored {
		return "ignored"
	}
	return "handled"
}

// Handler is the business logic of a unit. The Core owns one Handler per
// unit instance and calls it from a single goroutine.
//
// Implementations must:
//   - Answer a wavefront before HandlePulse returns. Any photons and the trap
//     sent through the PulseContext count; when HandlePulse returns Handled
//     without a trap the Core sends a success trap, and when it returns an
//     error the Core sends a trap carrying that error.
//   - Only receive from links returned by Refract inside HandlePulse.
type Handler interface {
	// Init is called once with the unit's spectrum before the first pulse.
	Init(s *spectrum.Spectrum) error
	// HandlePulse processes one pulse.
	HandlePulse(pc *PulseContext) (Outcome, error)
}

// LinkObserver is implemented by handlers that want to see the link they
// serve before the first pulse arrives.
type LinkObserver interface {
	OnLinkEstablished(l *link.Link)
}

// ShutdownHook is implemented by handlers that release resources when the
// unit is extinguished. Errors are logged, never propagated.
type ShutdownHook interface {
	OnShutdown(ctx context.Context) error
}

// Factory creates a fresh handler for one unit instance.
type Factory func() (Handler, error)

// BaseHandler bundles the spectrum bookkeeping and no-op hooks shared by
// most handlers. Embed it in a concrete handler and supply HandlePulse.
// All exported methods are goroutine-safe.
type BaseHandler struct {
	mu       sync.RWMutex
	spectrum *spectrum.Spectrum
	link     *link.Link
}

// Init stores the spectrum.
func (b *BaseHandler) Init(s *spectrum.Spectrum) error {
	if s == nil {
		return fmt.Errorf("nil spectrum")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.spectrum = s
	return nil
}

// Spectrum returns the spectrum passed to Init.
func (b *BaseHandler) Spectrum() *spectrum.Spectrum {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.spectrum
}

// OnLinkEstablished remembers the served link.
func (b *BaseHandler) OnLinkEstablished(l *link.Link) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.link = l
}

// Link returns the served link, or nil before OnLinkEstablished.
func (b *BaseHandler) Link() *link.Link {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.link
}

// OnShutdown does nothing.
func (b *BaseHandler) OnShutdown(context.Context) error { return nil }

// FrequencyFunc handles the wavefronts of one frequency.
type FrequencyFunc func(pc *PulseContext) error

// Router is a Handler that dispatches wavefronts by frequency to plain
// functions. Non-wavefront pulses and unknown frequencies are ignored.
type Router struct {
	BaseHandler
	routes map[string]FrequencyFunc
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{routes: make(map[string]FrequencyFunc)}
}

// On registers fn for frequency and returns the router for chaining.
func (r *Router) On(frequency string, fn FrequencyFunc) *Router {
	r.routes[frequency] = fn
	return r
}

// HandlePulse implements Handler.
func (r *Router) HandlePulse(pc *PulseContext) (Outcome, error) {
	if !pc.IsWavefront() {
		return Ignored, nil
	}
	fn, ok := r.routes[pc.Frequency()]
	if !ok {
		return Ignored, nil
	}
	return Handled, fn(pc)
}
