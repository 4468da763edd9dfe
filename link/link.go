package link

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/hupe1980/prismmesh/core"
	"github.com/hupe1980/prismmesh/logging"
	"github.com/hupe1980/prismmesh/pulse"
)

const (
	// DefaultBuffer is the per-direction capacity of an in-process link.
	DefaultBuffer = 64
	// DefaultPollInterval bounds a single Receive call.
	DefaultPollInterval = 50 * time.Millisecond
)

// Options configures link construction.
type Options struct {
	// Buffer is the number of pulses each direction holds before senders block.
	Buffer int
	// PollInterval is how long Receive waits before reporting "nothing yet".
	PollInterval time.Duration
	// Logger receives debug records for every pulse sent and received.
	Logger logging.Logger
}

func buildOptions(optFns []func(o *Options)) Options {
	opts := Options{Buffer: DefaultBuffer, PollInterval: DefaultPollInterval}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Buffer < 0 {
		opts.Buffer = 0
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return opts
}

// endpoint is one side of a connection. Implementations exist for in-process
// channel pairs and for byte transports.
type endpoint interface {
	send(p pulse.Pulse) error
	recv(timeout time.Duration) (pulse.Pulse, bool, error)
	recvContext(ctx context.Context) (pulse.Pulse, error)
	close() error
}

// Emitter is anything that can answer a request: a *Link or its Sender.
type Emitter interface {
	EmitPhoton(id string, data any) error
	EmitTrap(id string, err error) error
}

// Sender is the send-only half of a Link. It is a small value that can be
// copied freely and used from several goroutines at once.
type Sender struct {
	ep       endpoint
	outbound *pulse.Tracker
	awaiting *held
	logger   logging.Logger
}

// Link is one endpoint of a bidirectional pulse connection.
//
// Raw receives (Receive, ReceiveContext) belong to the goroutine that owns
// the *Link. Drain and the helpers built on it may run concurrently for
// different request ids. Goroutines that only need to send take a copy of
// l.Sender instead. A Link must not be copied after first use.
type Link struct {
	noCopy noCopy

	Sender

	poll time.Duration
}

func newLink(ep endpoint, opts Options) *Link {
	return &Link{
		Sender: Sender{ep: ep, outbound: pulse.NewTracker(), awaiting: newHeld(), logger: opts.Logger},
		poll:   opts.PollInterval,
	}
}

// NewPair creates two cross-wired in-process endpoints. Each direction is a
// bounded channel: a sender blocks once Buffer pulses are waiting until the
// receiver catches up or either side closes.
func NewPair(optFns ...func(o *Options)) (*Link, *Link) {
	opts := buildOptions(optFns)

	a := &side{inbox: make(chan pulse.Pulse, opts.Buffer), done: make(chan struct{})}
	b := &side{inbox: make(chan pulse.Pulse, opts.Buffer), done: make(chan struct{})}

	return newLink(&chanEndpoint{self: a, peer: b}, opts), newLink(&chanEndpoint{self: b, peer: a}, opts)
}

// SendWavefront sends a request. Input is marshalled to JSON unless it is
// already a json.RawMessage or []byte holding JSON.
//
// Until the request is drained, its responses are kept aside when they
// arrive while another request on the same link is being drained.
func (s Sender) SendWavefront(id, frequency string, input any) error {
	raw, err := toRaw(input)
	if err != nil {
		return err
	}
	s.awaiting.expect(id)
	if err := s.Send(pulse.Wavefront{ID: id, Frequency: frequency, Input: raw}); err != nil {
		s.awaiting.done(id)
		return err
	}
	return nil
}

// EmitPhoton sends one chunk of response data for id.
func (s Sender) EmitPhoton(id string, data any) error {
	raw, err := toRaw(data)
	if err != nil {
		return err
	}
	return s.Send(pulse.Photon{ID: id, Data: raw})
}

// EmitTrap terminates id. A nil err reports success.
func (s Sender) EmitTrap(id string, err error) error {
	return s.Send(pulse.NewTrap(id, err))
}

// SendExtinguish asks the peer execution context to shut down.
func (s Sender) SendExtinguish() error {
	return s.Send(pulse.Extinguish{})
}

// Send sends any pulse. Responses for ids registered with Accept are checked
// against the ordering rules before they leave.
func (s Sender) Send(p pulse.Pulse) error {
	if p.Kind() == pulse.KindPhoton || p.Kind() == pulse.KindTrap {
		if _, tracked := s.outbound.State(p.RequestID()); tracked {
			if _, err := s.outbound.Observe(p); err != nil {
				return err
			}
		}
	}
	if err := s.ep.send(p); err != nil {
		return err
	}
	logPulse(s.logger, "out", p)
	return nil
}

// Accept registers an incoming request id so that the responses sent for it
// are checked: a second trap, or a photon after the trap, is refused.
func (l *Link) Accept(id string) { l.outbound.Begin(id) }

// Settled reports whether a trap has been sent for an accepted id.
func (l *Link) Settled(id string) bool {
	s, ok := l.outbound.State(id)
	return ok && s.Terminal()
}

// Release stops tracking an accepted id. A settled id stays refused for a
// while, see pulse.Tracker.Forget.
func (l *Link) Release(id string) { l.outbound.Forget(id) }

// Receive waits up to the poll interval for the next pulse. It returns
// ok == false with a nil error when nothing arrived in time, and an error
// matching core.ErrConnectionClosed once the peer is gone and every pulse it
// sent has been read.
func (l *Link) Receive() (pulse.Pulse, bool, error) {
	return l.ReceiveWithin(l.poll)
}

// ReceiveWithin is Receive with an explicit wait bound.
func (l *Link) ReceiveWithin(d time.Duration) (pulse.Pulse, bool, error) {
	p, ok, err := l.ep.recv(d)
	if ok {
		logPulse(l.logger, "in", p)
	}
	return p, ok, err
}

// ReceiveContext blocks until a pulse arrives, the link closes or ctx ends.
func (l *Link) ReceiveContext(ctx context.Context) (pulse.Pulse, error) {
	p, err := l.ep.recvContext(ctx)
	if err == nil {
		logPulse(l.logger, "in", p)
	}
	return p, err
}

// PollInterval returns the wait bound used by Receive.
func (l *Link) PollInterval() time.Duration { return l.poll }

// Close severs this endpoint. The peer drains what is already buffered and
// then sees core.ErrConnectionClosed. Close is idempotent.
func (l *Link) Close() error { return l.ep.close() }

// AwaitClosed reads and discards pulses until the peer closes or d elapses.
// It reports whether the peer closed in time.
func (l *Link) AwaitClosed(d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		p, ok, err := l.ep.recv(min(remaining, l.poll))
		if err != nil {
			return true
		}
		if ok {
			l.logger.Debug("Discarding pulse while awaiting close", "kind", p.Kind().String(), "pulse_id", p.RequestID())
		}
	}
}

func toRaw(v any) (json.RawMessage, error) {
	switch x := v.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		if !json.Valid(x) {
			return nil, core.Errorf(core.KindOther, "payload is not valid JSON")
		}
		return x, nil
	case []byte:
		if !json.Valid(x) {
			return nil, core.Errorf(core.KindOther, "payload is not valid JSON")
		}
		return json.RawMessage(bytes.Clone(x)), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, core.Wrap(core.KindOther, err, "encode payload")
		}
		return data, nil
	}
}

func logPulse(logger logging.Logger, direction string, p pulse.Pulse) {
	if ml, ok := logger.(*logging.MeshLogger); ok {
		ml.LogPulse(direction, p.Kind().String(), p.RequestID())
		return
	}
	logger.Debug("Pulse", "direction", direction, "kind", p.Kind().String(), "pulse_id", p.RequestID())
}

type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
