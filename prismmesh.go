// Package prismmesh provides a high-level façade over the Multiplexer and its
// Registry. Most applications interact with this package by:
//  1. Creating a PrismMesh via New()
//  2. Registering units (an identifier, a spectrum source and a handler factory)
//  3. Invoking frequencies asynchronously (Invoke) or synchronously (InvokeSync),
//     or holding a long-lived link through Connect
//
// Every invocation establishes its own link, so it is served by a fresh unit
// instance that is extinguished once the response has been absorbed.
package prismmesh

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/prismmesh/core"
	"github.com/hupe1980/prismmesh/link"
	"github.com/hupe1980/prismmesh/logging"
	"github.com/hupe1980/prismmesh/multiplexer"
	"github.com/hupe1980/prismmesh/spectrum"
	"github.com/hupe1980/prismmesh/unit"
)

// Options configures the PrismMesh instance. The embedded multiplexer options
// apply to every unit instance the mesh spawns.
type Options struct {
	multiplexer.Options

	// MaxConcurrentInvocations limits the number of Invoke calls that can be
	// in flight simultaneously. Callers beyond the limit wait for a slot or
	// for their context. Set to 0 for unlimited.
	MaxConcurrentInvocations int

	// EventBufferSize sets the buffer of the data channel returned by Invoke.
	EventBufferSize int

	// Registry to resolve units from. Defaults to a new, empty registry.
	Registry *multiplexer.Registry
}

// PrismMesh is the high-level façade aggregating registry and multiplexer.
type PrismMesh struct {
	opts   Options
	mux    *multiplexer.Multiplexer
	logger logging.Logger
	slots  chan struct{}

	mu          sync.Mutex
	invocations map[string]context.CancelFunc
}

// New creates a PrismMesh with optional overrides.
func New(optFns ...func(o *Options)) *PrismMesh {
	opts := Options{
		Options: multiplexer.Options{
			PollInterval:  link.DefaultPollInterval,
			LinkBuffer:    link.DefaultBuffer,
			ShutdownGrace: unit.DefaultShutdownGrace,
			Validate:      true,
		},
		EventBufferSize: 16,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = link.DefaultPollInterval
	}
	if opts.EventBufferSize < 0 {
		opts.EventBufferSize = 0
	}
	if opts.Registry == nil {
		opts.Registry = multiplexer.NewRegistry()
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	m := &PrismMesh{
		opts:        opts,
		logger:      opts.Logger,
		invocations: make(map[string]context.CancelFunc),
	}
	if opts.MaxConcurrentInvocations > 0 {
		m.slots = make(chan struct{}, opts.MaxConcurrentInvocations)
	}
	m.mux = multiplexer.New(opts.Registry, func(o *multiplexer.Options) {
		*o = opts.Options
	})
	return m
}

// Register adds a unit to the underlying registry.
func (m *PrismMesh) Register(id string, source spectrum.Source, factory unit.Factory) error {
	return m.opts.Registry.Register(id, source, factory)
}

// Registry returns the registry units are resolved from.
func (m *PrismMesh) Registry() *multiplexer.Registry { return m.opts.Registry }

// Multiplexer exposes the multiplexer for lifecycle inspection (Active, Stop).
func (m *PrismMesh) Multiplexer() *multiplexer.Multiplexer { return m.mux }

// Connect establishes a long-lived link to a new instance of unitID. The
// caller owns the link and ends the instance with SendExtinguish or Close.
func (m *PrismMesh) Connect(ctx context.Context, unitID string) (*link.Link, error) {
	return m.mux.EstablishLink(ctx, unitID)
}

// Invoke sends one wavefront to a fresh instance of unitID and returns
// channels streaming its photons as they arrive.
//
// Returns:
//   - the request id of the wavefront
//   - a data channel closed after the final trap
//   - an error channel receiving at most one terminal error
//   - an immediate error if the invocation cannot be started
//
// The instance is extinguished once the response ends or ctx is cancelled.
func (m *PrismMesh) Invoke(
	ctx context.Context,
	unitID string,
	frequency string,
	input any,
) (string, <-chan json.RawMessage, <-chan error, error) {
	if err := m.acquire(ctx); err != nil {
		return "", nil, nil, err
	}

	invCtx, cancel := context.WithCancel(ctx)
	l, err := m.mux.EstablishLink(invCtx, unitID)
	if err != nil {
		cancel()
		m.release()
		return "", nil, nil, err
	}

	id := core.NewID()
	if err := l.SendWavefront(id, frequency, input); err != nil {
		cancel()
		_ = l.Close()
		m.release()
		return "", nil, nil, err
	}

	m.mu.Lock()
	m.invocations[id] = cancel
	m.mu.Unlock()

	dataCh := make(chan json.RawMessage, m.opts.EventBufferSize)
	errCh := make(chan error, 1)

	go func() {
		defer func() {
			m.extinguish(l)
			m.mu.Lock()
			delete(m.invocations, id)
			m.mu.Unlock()
			cancel()
			m.release()
			close(dataCh)
			close(errCh)
		}()

		photons, errs := link.Stream(invCtx, l, id)
		for data := range photons {
			select {
			case dataCh <- data:
			case <-invCtx.Done():
				errCh <- invCtx.Err()
				return
			}
		}
		if err := <-errs; err != nil {
			errCh <- err
		}
	}()

	return id, dataCh, errCh, nil
}

// InvokeSync calls frequency on a fresh instance of unitID and waits for the
// response. One photon is returned as is, several are joined into a JSON
// array and none yield a nil result.
func (m *PrismMesh) InvokeSync(ctx context.Context, unitID, frequency string, input any) (json.RawMessage, error) {
	l, err := m.Connect(ctx, unitID)
	if err != nil {
		return nil, err
	}
	defer m.extinguish(l)

	out, err := link.Call[json.RawMessage](ctx, l, frequency, input)
	if errors.Is(err, link.ErrNoData) {
		return nil, nil
	}
	return out, err
}

// Cancel stops the invocation with the given request id. It reports whether
// the invocation was still running.
func (m *PrismMesh) Cancel(id string) bool {
	m.mu.Lock()
	cancel, ok := m.invocations[id]
	m.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Invocations returns the request ids of running Invoke calls.
func (m *PrismMesh) Invocations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.invocations))
	for id := range m.invocations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Shutdown cancels running invocations and stops every unit instance.
func (m *PrismMesh) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	for _, cancel := range m.invocations {
		cancel()
	}
	m.mu.Unlock()

	return m.mux.Shutdown(ctx)
}

func (m *PrismMesh) acquire(ctx context.Context) error {
	if m.slots == nil {
		return nil
	}
	select {
	case m.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *PrismMesh) release() {
	if m.slots != nil {
		<-m.slots
	}
}

// extinguish ends the instance behind l and waits up to the shutdown grace
// for it to close.
func (m *PrismMesh) extinguish(l *link.Link) {
	if err := l.SendExtinguish(); err != nil {
		m.logger.Debug("Extinguish not delivered", "error", err)
	}
	grace := m.opts.ShutdownGrace
	if grace <= 0 {
		grace = time.Second
	}
	if !l.AwaitClosed(grace) {
		m.logger.Warn("Instance did not close within grace", "grace", grace)
	}
	_ = l.Close()
}
