package multiplexer

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/prismmesh/core"
	"github.com/hupe1980/prismmesh/link"
	"github.com/hupe1980/prismmesh/logging"
	"github.com/hupe1980/prismmesh/mapper"
	"github.com/hupe1980/prismmesh/spectrum"
	"github.com/hupe1980/prismmesh/unit"
)

// Options configures a Multiplexer.
type Options struct {
	// Logger receives spawn and lifecycle records. Defaults to a no-op logger.
	Logger logging.Logger

	// PollInterval is the receive wait bound of every link the multiplexer
	// creates. Defaults to link.DefaultPollInterval.
	PollInterval time.Duration

	// LinkBuffer is the number of pulses each link direction holds before a
	// sender blocks. Defaults to link.DefaultBuffer.
	LinkBuffer int

	// ShutdownGrace bounds how long an instance waits for each dependency to
	// close when it is extinguished. Defaults to unit.DefaultShutdownGrace.
	ShutdownGrace time.Duration

	// Callbacks are shared by every spawned instance.
	Callbacks *unit.CallbackManager

	// Validate enables schema validation of wavefront inputs.
	Validate bool
}

// Instance describes a live unit instance.
type Instance struct {
	ID      string
	UnitID  string
	Chain   core.CallChain
	Started time.Time
}

type instance struct {
	Instance
	cancel context.CancelFunc
}

// Multiplexer resolves unit identifiers through a Registry, spawns one
// instance per established link and wires refractions between instances.
//
// Each instance runs in its own goroutine and lives until its caller sends
// Extinguish, closes the link, or the context passed at establishment ends.
// The multiplexer keeps no per-call state besides the set of live instances.
type Multiplexer struct {
	registry *Registry
	opts     Options
	logger   logging.Logger

	mu     sync.Mutex
	active map[string]*instance
	closed bool
	wg     sync.WaitGroup
}

// New creates a multiplexer over reg.
func New(reg *Registry, optFns ...func(o *Options)) *Multiplexer {
	opts := Options{
		PollInterval:  link.DefaultPollInterval,
		LinkBuffer:    link.DefaultBuffer,
		ShutdownGrace: unit.DefaultShutdownGrace,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.LinkBuffer <= 0 {
		opts.LinkBuffer = link.DefaultBuffer
	}
	if reg == nil {
		reg = NewRegistry()
	}

	return &Multiplexer{
		registry: reg,
		opts:     opts,
		logger:   logging.OrNoOp(opts.Logger),
		active:   make(map[string]*instance),
	}
}

// Registry returns the registry the multiplexer resolves units from.
func (m *Multiplexer) Registry() *Registry { return m.registry }

// EstablishLink spawns a new instance of unitID and returns the caller's end
// of its link. Resolution, spectrum loading and cycle checks happen before
// anything is spawned and fail synchronously; failures of the handler
// factory or of Init arrive later as a Trap on core.SentinelID.
func (m *Multiplexer) EstablishLink(ctx context.Context, unitID string) (*link.Link, error) {
	return m.establish(ctx, nil, unitID)
}

// Refract connects r to a fresh instance of its target and sends the first
// wavefront, built by transposing payload. It returns the link and the
// request id to absorb.
func (m *Multiplexer) Refract(ctx context.Context, r spectrum.Refraction, payload json.RawMessage) (*link.Link, string, error) {
	return m.RefractFrom(ctx, nil, r, payload)
}

// RefractFrom is Refract on behalf of the units on chain. A target already
// on the chain is refused with core.ErrCycleDetected.
func (m *Multiplexer) RefractFrom(ctx context.Context, chain core.CallChain, r spectrum.Refraction, payload json.RawMessage) (*link.Link, string, error) {
	if _, err := spectrum.ParseUnitID(r.Target); err != nil {
		return nil, "", core.WithOp("refract "+r.Name, err)
	}

	input, err := mapper.ApplyTranspose(r.Transpose, payload)
	if err != nil {
		return nil, "", core.WithOp("refract "+r.Name, err)
	}

	l, err := m.establish(ctx, chain, r.Target)
	if err != nil {
		return nil, "", err
	}

	id := core.NewID()
	if err := l.SendWavefront(id, r.Frequency, input); err != nil {
		_ = l.Close()
		return nil, "", err
	}
	return l, id, nil
}

// ResolveSpectrum loads the spectrum of a registered unit.
func (m *Multiplexer) ResolveSpectrum(unitID string) (*spectrum.Spectrum, error) {
	entry, err := m.registry.Resolve(unitID)
	if err != nil {
		return nil, err
	}
	return loadSpectrum(entry)
}

// Active returns the live instances, oldest first.
func (m *Multiplexer) Active() []Instance {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Instance, 0, len(m.active))
	for _, inst := range m.active {
		out = append(out, inst.Instance)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Started.Equal(out[j].Started) {
			return out[i].ID < out[j].ID
		}
		return out[i].Started.Before(out[j].Started)
	})
	return out
}

// Stop cancels one instance. The instance runs its normal shutdown, so its
// own dependencies are extinguished too.
func (m *Multiplexer) Stop(instanceID string) error {
	m.mu.Lock()
	inst, ok := m.active[instanceID]
	m.mu.Unlock()

	if !ok {
		return core.Errorf(core.KindUnitNotFound, "instance %s not found", instanceID)
	}
	inst.cancel()
	return nil
}

// Shutdown refuses new links, cancels every live instance and waits until all
// of them have exited or ctx ends.
func (m *Multiplexer) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for _, inst := range m.active {
		inst.cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Debug("Multiplexer shut down")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Multiplexer) establish(ctx context.Context, chain core.CallChain, unitID string) (*link.Link, error) {
	entry, err := m.registry.Resolve(unitID)
	if err != nil {
		return nil, err
	}
	id := entry.ID.String()

	if chain.Contains(id) {
		return nil, core.Errorf(core.KindCycleDetected, "refraction cycle: %s", chain.Extend(id))
	}

	s, err := loadSpectrum(entry)
	if err != nil {
		return nil, err
	}

	var validator unit.InputValidator
	if m.opts.Validate {
		v, err := spectrum.NewValidator(s)
		if err != nil {
			return nil, err
		}
		validator = v
	}

	caller, served := link.NewPair(func(o *link.Options) {
		o.Buffer = m.opts.LinkBuffer
		o.PollInterval = m.opts.PollInterval
		o.Logger = m.opts.Logger
	})

	inst := &instance{
		Instance: Instance{
			ID:      core.NewID(),
			UnitID:  id,
			Chain:   chain.Extend(id),
			Started: time.Now(),
		},
	}
	instCtx, cancel := context.WithCancel(ctx)
	inst.cancel = cancel

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		_ = caller.Close()
		_ = served.Close()
		return nil, core.Errorf(core.KindConnectionClosed, "multiplexer is shut down")
	}
	m.active[inst.ID] = inst
	m.wg.Add(1)
	m.mu.Unlock()

	m.logSpawn(inst)

	go func() {
		defer func() {
			cancel()
			m.mu.Lock()
			delete(m.active, inst.ID)
			m.mu.Unlock()
			m.wg.Done()
		}()
		m.run(instCtx, inst, entry, s, validator, served)
	}()

	return caller, nil
}

func (m *Multiplexer) run(ctx context.Context, inst *instance, entry Entry, s *spectrum.Spectrum, validator unit.InputValidator, served *link.Link) {
	logger := m.instanceLogger(inst)

	h, err := newHandler(entry.Factory, s)
	if err != nil {
		logger.Warn("Unit failed to start", "error", err)
		if terr := served.EmitTrap(core.SentinelID, err); terr != nil {
			logger.Debug("Could not report setup failure", "error", terr)
		}
		_ = served.Close()
		return
	}

	c := unit.NewCore(s, h, served, func(o *unit.Options) {
		o.Refractor = m
		o.Chain = inst.Chain
		o.Validator = validator
		o.Callbacks = m.opts.Callbacks
		o.Logger = logger
		o.ShutdownGrace = m.opts.ShutdownGrace
	})

	if err := c.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Warn("Unit stopped with error", "error", err)
	}
}

// newHandler runs the factory and Init, turning a panic in either into an error.
func newHandler(factory unit.Factory, s *spectrum.Spectrum) (h unit.Handler, err error) {
	defer func() {
		if r := recover(); r != nil {
			h, err = nil, fmt.Errorf("%s setup panic: %v\n%s", s.ID(), r, debug.Stack())
		}
	}()

	h, err = factory()
	if err != nil {
		return nil, core.WithOp("create handler for "+s.ID().String(), err)
	}
	if h == nil {
		return nil, core.Errorf(core.KindOther, "factory of %s returned no handler", s.ID())
	}
	if err := h.Init(s); err != nil {
		return nil, core.WithOp("init "+s.ID().String(), err)
	}
	return h, nil
}

func loadSpectrum(entry Entry) (*spectrum.Spectrum, error) {
	s, err := entry.Source()
	if err != nil {
		if core.KindOf(err) == core.KindOther {
			return nil, core.Wrap(core.KindSpectrumLoad, err, "load spectrum of "+entry.ID.String())
		}
		return nil, err
	}
	if s == nil {
		return nil, core.Errorf(core.KindSpectrumLoad, "no spectrum for %s", entry.ID)
	}
	if s.ID() != entry.ID {
		return nil, core.Errorf(core.KindSpectrumParse, "spectrum %s registered as %s", s.ID(), entry.ID)
	}
	return s, nil
}

func (m *Multiplexer) instanceLogger(inst *instance) logging.Logger {
	if ml, ok := m.logger.(*logging.MeshLogger); ok {
		return ml.WithUnit(inst.UnitID).WithContext("instance", inst.ID)
	}
	return m.logger
}

func (m *Multiplexer) logSpawn(inst *instance) {
	if ml, ok := m.logger.(*logging.MeshLogger); ok {
		ml.LogSpawn(inst.UnitID, inst.ID, len(inst.Chain))
		return
	}
	m.logger.Debug("Unit spawned", "unit", inst.UnitID, "instance", inst.ID, "depth", len(inst.Chain))
}
