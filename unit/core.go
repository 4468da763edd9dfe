package unit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/prismmesh/core"
	"github.com/hupe1980/prismmesh/link"
	"github.com/hupe1980/prismmesh/logging"
	"github.com/hupe1980/prismmesh/mapper"
	"github.com/hupe1980/prismmesh/pulse"
	"github.com/hupe1980/prismmesh/spectrum"
)

// DefaultShutdownGrace bounds how long a Core waits for each dependency to
// close after forwarding Extinguish to it.
const DefaultShutdownGrace = time.Second

// Refractor connects a refraction to a fresh instance of its target unit.
// The multiplexer implements it.
type Refractor interface {
	// RefractFrom transposes payload, establishes a link to the target of r
	// on behalf of the units on chain, and sends the wavefront. It returns
	// the link and the request id of the call.
	RefractFrom(ctx context.Context, chain core.CallChain, r spectrum.Refraction, payload json.RawMessage) (*link.Link, string, error)
}

// SpectrumResolver looks up the spectrum of another unit. Refractors that
// implement it let the Core know whether a refraction target streams.
type SpectrumResolver interface {
	ResolveSpectrum(unitID string) (*spectrum.Spectrum, error)
}

// InputValidator is the pass/fail schema check applied to wavefront inputs.
// *spectrum.Validator implements it.
type InputValidator interface {
	ValidateInput(frequency string, payload json.RawMessage) error
}

// OutputValidator checks the values a handler answers with. When the
// configured Validator also implements it, PulseContext.Respond checks every
// value before anything is sent. *spectrum.Validator implements it.
type OutputValidator interface {
	ValidateOutput(frequency string, payload json.RawMessage) error
}

// Options configures a Core.
type Options struct {
	// Refractor resolves refractions. Without one, Refract fails.
	Refractor Refractor
	// Chain lists the units that led to this instance, this unit last.
	Chain core.CallChain
	// Validator checks wavefront inputs before dispatch, and response values
	// if it is an OutputValidator too. Optional.
	Validator InputValidator
	// Callbacks run around dispatch. Optional.
	Callbacks *CallbackManager
	// Logger receives dispatch and shutdown records.
	Logger logging.Logger
	// ShutdownGrace bounds the wait for each dependency during shutdown.
	ShutdownGrace time.Duration
}

// Core is the per-instance runtime of a unit. It owns the unit's spectrum,
// its handler, the link it serves and the cache of refraction links, and runs
// the dispatch loop that turns pulses into handler calls.
type Core struct {
	spectrum  *spectrum.Spectrum
	handler   Handler
	link      *link.Link
	refractor Refractor
	chain     core.CallChain
	validator InputValidator
	callbacks *CallbackManager
	logger    logging.Logger
	grace     time.Duration

	mu          sync.Mutex
	refractions map[string]*link.Link
	// connectMu serializes first connections so that one refraction never
	// spawns two instances.
	connectMu sync.Mutex

	state atomic.Uint32
}

// NewCore creates a Core serving l with handler h. The handler must already
// be initialized with s.
func NewCore(s *spectrum.Spectrum, h Handler, l *link.Link, optFns ...func(o *Options)) *Core {
	opts := Options{ShutdownGrace: DefaultShutdownGrace}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = DefaultShutdownGrace
	}
	chain := opts.Chain
	if len(chain) == 0 || chain[len(chain)-1] != s.ID().String() {
		chain = chain.Extend(s.ID().String())
	}
	return &Core{
		spectrum:    s,
		handler:     h,
		link:        l,
		refractor:   opts.Refractor,
		chain:       chain,
		validator:   opts.Validator,
		callbacks:   opts.Callbacks,
		logger:      logging.OrNoOp(opts.Logger),
		grace:       opts.ShutdownGrace,
		refractions: make(map[string]*link.Link),
	}
}

// Spectrum returns the unit's spectrum.
func (c *Core) Spectrum() *spectrum.Spectrum { return c.spectrum }

// Chain returns the call chain of this instance, this unit last.
func (c *Core) Chain() core.CallChain { return c.chain }

// State returns the execution state of the instance.
func (c *Core) State() pulse.State { return pulse.State(c.state.Load()) }

func (c *Core) setState(s pulse.State) { c.state.Store(uint32(s)) }

// Cached returns the names of the refractions with a live cached link, sorted.
func (c *Core) Cached() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.refractions))
	for name := range c.refractions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run dispatches pulses until Extinguish arrives, the caller closes the link
// or ctx ends. Every exit path runs the shutdown sequence: handler hook,
// Extinguish cascade to cached refractions, link close.
//
// Run returns nil after Extinguish or a closed link, and ctx.Err() on
// cancellation.
func (c *Core) Run(ctx context.Context) error {
	c.setState(pulse.Running)
	unitID := c.spectrum.ID().String()
	c.logger.Debug("Unit core running", "unit", unitID)

	if obs, ok := c.handler.(LinkObserver); ok {
		obs.OnLinkEstablished(c.link)
	}

	for {
		if err := ctx.Err(); err != nil {
			c.shutdown("context done")
			return err
		}

		p, ok, err := c.link.Receive()
		if err != nil {
			if errors.Is(err, core.ErrProtocol) {
				c.logger.Warn("Dropping malformed pulse", "unit", unitID, "error", err)
				continue
			}
			if !errors.Is(err, core.ErrConnectionClosed) {
				c.shutdown("link failed")
				return err
			}
			c.shutdown("link closed")
			return nil
		}
		if !ok {
			continue
		}

		switch v := p.(type) {
		case pulse.Extinguish:
			c.shutdown("extinguish")
			return nil
		case pulse.Wavefront:
			c.dispatchWavefront(ctx, v)
		default:
			c.dispatchOther(ctx, p)
		}
	}
}

func (c *Core) dispatchWavefront(ctx context.Context, w pulse.Wavefront) {
	unitID := c.spectrum.ID().String()
	c.link.Accept(w.ID)
	defer c.link.Release(w.ID)

	cbCtx := &CallbackContext{UnitID: unitID, RequestID: w.ID, Pulse: w}
	if err := c.callbacks.ExecuteCallbacks(ctx, CallbackBeforePulse, cbCtx); err != nil {
		c.trap(ctx, w.ID, err)
		return
	}

	wl, ok := c.spectrum.Wavelength(w.Frequency)
	if !ok {
		c.trap(ctx, w.ID, core.Errorf(core.KindOperationNotFound, "%s does not expose frequency %q", unitID, w.Frequency))
		return
	}

	if c.validator != nil {
		if err := c.validator.ValidateInput(w.Frequency, w.Input); err != nil {
			c.trap(ctx, w.ID, err)
			return
		}
	}

	pc := c.newPulseContext(ctx, w, wl)
	outcome, err := c.invoke(pc)

	switch {
	case err != nil:
		c.logger.Warn("Handler failed", "unit", unitID, "request_id", w.ID, "frequency", w.Frequency, "error", err)
		if !c.link.Settled(w.ID) {
			c.trap(ctx, w.ID, err)
		}
	case outcome == Ignored:
		if !c.link.Settled(w.ID) {
			c.trap(ctx, w.ID, core.Errorf(core.KindOperationNotFound, "%s has no handler for frequency %q", unitID, w.Frequency))
		}
	default:
		if !c.link.Settled(w.ID) {
			if terr := c.link.EmitTrap(w.ID, nil); terr != nil {
				c.logger.Warn("Could not send trap", "unit", unitID, "request_id", w.ID, "error", terr)
			}
		}
	}

	cbCtx.Err = err
	if cerr := c.callbacks.ExecuteCallbacks(ctx, CallbackAfterPulse, cbCtx); cerr != nil {
		c.logger.Warn("After-pulse callback failed", "unit", unitID, "error", cerr)
	}
}

func (c *Core) dispatchOther(ctx context.Context, p pulse.Pulse) {
	unitID := c.spectrum.ID().String()
	cbCtx := &CallbackContext{UnitID: unitID, RequestID: p.RequestID(), Pulse: p}
	if err := c.callbacks.ExecuteCallbacks(ctx, CallbackBeforePulse, cbCtx); err != nil {
		c.logger.Warn("Before-pulse callback rejected pulse", "unit", unitID, "kind", p.Kind().String(), "error", err)
		return
	}

	outcome, err := c.invoke(c.newPulseContext(ctx, p, spectrum.Wavelength{}))
	if err != nil {
		c.logger.Warn("Handler failed on non-request pulse", "unit", unitID, "kind", p.Kind().String(), "pulse_id", p.RequestID(), "error", err)
	} else if outcome == Ignored {
		c.logger.Debug("Pulse ignored", "unit", unitID, "kind", p.Kind().String(), "pulse_id", p.RequestID())
	}

	cbCtx.Err = err
	if cerr := c.callbacks.ExecuteCallbacks(ctx, CallbackAfterPulse, cbCtx); cerr != nil {
		c.logger.Warn("After-pulse callback failed", "unit", unitID, "error", cerr)
	}
}

func (c *Core) newPulseContext(ctx context.Context, p pulse.Pulse, wl spectrum.Wavelength) *PulseContext {
	return &PulseContext{
		Context:    ctx,
		ID:         p.RequestID(),
		Pulse:      p,
		Link:       c.link,
		Wavelength: wl,
		Logger:     c.requestLogger(p.RequestID()),
		core:       c,
	}
}

func (c *Core) requestLogger(id string) logging.Logger {
	if ml, ok := c.logger.(*logging.MeshLogger); ok && id != "" {
		return ml.WithRequest(id)
	}
	return c.logger
}

// invoke calls the handler, turning a panic into an error.
func (c *Core) invoke(pc *PulseContext) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Handler panicked", "unit", c.spectrum.ID().String(), "panic", r, "stack", string(debug.Stack()))
			outcome, err = Handled, fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler.HandlePulse(pc)
}

func (c *Core) trap(ctx context.Context, id string, err error) {
	if terr := c.link.EmitTrap(id, err); terr != nil {
		c.logger.Warn("Could not send trap", "unit", c.spectrum.ID().String(), "request_id", id, "error", terr)
	}
	cbCtx := &CallbackContext{UnitID: c.spectrum.ID().String(), RequestID: id, Err: err}
	if cerr := c.callbacks.ExecuteCallbacks(ctx, CallbackOnTrap, cbCtx); cerr != nil {
		c.logger.Warn("Trap callback failed", "error", cerr)
	}
}

// shutdown runs the handler hook, forwards Extinguish to every cached
// refraction and waits for them to close, then closes the served link.
// Nothing here can fail the shutdown: errors are logged.
func (c *Core) shutdown(reason string) {
	if c.State() == pulse.Terminated {
		return
	}
	c.setState(pulse.ShuttingDown)
	unitID := c.spectrum.ID().String()
	c.logger.Debug("Unit core shutting down", "unit", unitID, "reason", reason)

	ctx, cancel := context.WithTimeout(context.Background(), c.grace)
	defer cancel()

	if err := c.callbacks.ExecuteCallbacks(ctx, CallbackOnExtinguish, &CallbackContext{UnitID: unitID}); err != nil {
		c.logger.Warn("Extinguish callback failed", "unit", unitID, "error", err)
	}

	if hook, ok := c.handler.(ShutdownHook); ok {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("Shutdown hook panicked", "unit", unitID, "panic", r)
				}
			}()
			if err := hook.OnShutdown(ctx); err != nil {
				c.logger.Warn("Shutdown hook failed", "unit", unitID, "error", err)
			}
		}()
	}

	c.mu.Lock()
	cached := c.refractions
	c.refractions = make(map[string]*link.Link)
	c.mu.Unlock()

	names := make([]string, 0, len(cached))
	for name := range cached {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := cached[name].SendExtinguish(); err != nil {
			c.logger.Debug("Refraction already gone", "unit", unitID, "refraction", name, "error", err)
		}
	}
	for _, name := range names {
		l := cached[name]
		if !l.AwaitClosed(c.grace) {
			c.logger.Warn("Refraction did not shut down in time", "unit", unitID, "refraction", name)
		}
		_ = l.Close()
	}

	_ = c.link.Close()
	c.setState(pulse.Terminated)
	c.logger.Debug("Unit core terminated", "unit", unitID)
}

// Refract starts a call through the named refraction. The first call
// connects through the Refractor and caches the link under the refraction's
// local name; later calls reuse that link with a fresh request id and a
// freshly transposed payload. A cached link whose peer has gone away is
// replaced once. Refract may be called from several goroutines at once.
func (c *Core) Refract(ctx context.Context, name string, payload json.RawMessage) (*link.Link, string, error) {
	r, ok := c.spectrum.Refraction(name)
	if !ok {
		return nil, "", c.refractionNotFound(name)
	}

	if l, id, ok, err := c.forwardCached(ctx, name, r, payload); ok {
		return l, id, err
	}

	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	// connected by another caller while we waited
	if l, id, ok, err := c.forwardCached(ctx, name, r, payload); ok {
		return l, id, err
	}

	if c.refractor == nil {
		return nil, "", core.Errorf(core.KindOther, "%s cannot refract: no refractor configured", c.spectrum.ID())
	}

	l, id, err := c.refractor.RefractFrom(ctx, c.chain, r, payload)
	c.afterRefract(ctx, name, id, err)
	if err != nil {
		return nil, "", err
	}

	c.mu.Lock()
	if c.State() != pulse.Running {
		c.mu.Unlock()
		_ = l.SendExtinguish()
		_ = l.Close()
		return nil, "", core.Errorf(core.KindConnectionClosed, "%s is shutting down", c.spectrum.ID())
	}
	c.refractions[name] = l
	c.mu.Unlock()

	return l, id, nil
}

// forwardCached sends the call on the cached link of name. It reports
// ok == false when there is no usable cached link; a dead one is evicted.
func (c *Core) forwardCached(ctx context.Context, name string, r spectrum.Refraction, payload json.RawMessage) (*link.Link, string, bool, error) {
	c.mu.Lock()
	cached := c.refractions[name]
	c.mu.Unlock()
	if cached == nil {
		return nil, "", false, nil
	}

	id, err := forward(cached, r, payload)
	if err == nil {
		c.afterRefract(ctx, name, id, nil)
		return cached, id, true, nil
	}
	if !errors.Is(err, core.ErrConnectionClosed) {
		return nil, "", true, err
	}

	c.logger.Info("Reconnecting refraction", "unit", c.spectrum.ID().String(), "refraction", name)
	c.mu.Lock()
	if c.refractions[name] == cached {
		delete(c.refractions, name)
	}
	c.mu.Unlock()
	_ = cached.Close()
	return nil, "", false, nil
}

func (c *Core) afterRefract(ctx context.Context, name, id string, err error) {
	cbCtx := &CallbackContext{UnitID: c.spectrum.ID().String(), RequestID: id, Refraction: name, Err: err}
	if cerr := c.callbacks.ExecuteCallbacks(ctx, CallbackOnRefract, cbCtx); cerr != nil {
		c.logger.Warn("Refract callback failed", "error", cerr)
	}
}

func (c *Core) refractionNotFound(name string) error {
	return core.Errorf(core.KindRefractionNotFound, "%s declares no refraction %q", c.spectrum.ID(), name)
}

// targetStreams reports whether the target wavelength of r is a streaming one.
func (c *Core) targetStreams(r spectrum.Refraction) bool {
	resolver, ok := c.refractor.(SpectrumResolver)
	if !ok {
		return false
	}
	s, err := resolver.ResolveSpectrum(r.Target)
	if err != nil {
		return false
	}
	w, ok := s.Wavelength(r.Frequency)
	return ok && w.Stream
}

func (c *Core) logRefraction(name, target string, dur time.Duration, err error) {
	if ml, ok := c.logger.(*logging.MeshLogger); ok {
		ml.LogRefraction(name, target, dur, err)
		return
	}
	args := []any{"unit", c.spectrum.ID().String(), "refraction", name, "target", target, "duration", dur}
	if err != nil {
		c.logger.Warn("Refraction failed", append(args, "error", err)...)
		return
	}
	c.logger.Debug("Refraction completed", args...)
}

func forward(l *link.Link, r spectrum.Refraction, payload json.RawMessage) (string, error) {
	mapped, err := mapper.ApplyTranspose(r.Transpose, payload)
	if err != nil {
		return "", err
	}
	id := core.NewID()
	if err := l.SendWavefront(id, r.Frequency, mapped); err != nil {
		return "", err
	}
	return id, nil
}
