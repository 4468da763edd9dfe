package pulse

import (
	"sync"

	"github.com/hupe1980/prismmesh/core"
)

// RequestState is the lifecycle position of one request id.
type RequestState uint8

const (
	// Awaiting means the wavefront was sent and nothing came back yet.
	Awaiting RequestState = iota
	// Streaming means at least one photon arrived.
	Streaming
	// Completed means a success trap arrived.
	Completed
	// Failed means a trap with an error arrived.
	Failed
)

// String returns the state name.
func (s RequestState) String() string {
	switch s {
	case Awaiting:
		return "awaiting"
	case Streaming:
		return "streaming"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further pulse is valid for the request.
func (s RequestState) Terminal() bool { return s == Completed || s == Failed }

// State is the lifecycle position of an execution context. It is changed by
// Extinguish, never by a single request.
type State uint8

const (
	// Running accepts and dispatches pulses.
	Running State = iota
	// ShuttingDown runs shutdown hooks and cascades Extinguish.
	ShuttingDown
	// Terminated has exited its dispatch loop.
	Terminated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case ShuttingDown:
		return "shutting_down"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// SettledCapacity is how many settled ids a Tracker remembers after they are
// forgotten, so that late responses for them are still refused.
const SettledCapacity = 1024

// Tracker enforces the per-request ordering rules: photons for an id precede
// at most one trap, and nothing is valid for that id after its trap.
// It is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	states  map[string]RequestState
	settled []string
	next    int
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{states: make(map[string]RequestState)}
}

// Begin starts tracking id in the Awaiting state. Beginning an id that is
// already tracked resets it.
func (t *Tracker) Begin(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[id] = Awaiting
}

// Observe advances the state of the pulse's request. Pulses for untracked
// ids, for ids already terminated, and Wavefront or Extinguish pulses are
// rejected with a protocol error.
func (t *Tracker) Observe(p Pulse) (RequestState, error) {
	id := p.RequestID()

	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.states[id]
	if !ok {
		return Awaiting, core.Errorf(core.KindProtocol, "%s for untracked request %s", p.Kind(), id)
	}
	if cur.Terminal() {
		return cur, core.Errorf(core.KindProtocol, "%s for request %s after its trap", p.Kind(), id)
	}

	switch v := p.(type) {
	case Photon, *Photon:
		t.states[id] = Streaming
	case Trap:
		t.states[id] = trapState(v)
	case *Trap:
		t.states[id] = trapState(*v)
	default:
		return cur, core.Errorf(core.KindProtocol, "%s is not a response pulse", p.Kind())
	}
	return t.states[id], nil
}

func trapState(t Trap) RequestState {
	if t.Failed() {
		return Failed
	}
	return Completed
}

// State returns the current state of id and whether it is tracked.
func (t *Tracker) State(id string) (RequestState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[id]
	return s, ok
}

// Forget stops tracking id. An id that already saw its trap is kept among
// the most recent SettledCapacity settled ids, so that a late photon or trap
// for it is still refused.
func (t *Tracker) Forget(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.states[id]
	if !ok {
		return
	}
	if !s.Terminal() {
		delete(t.states, id)
		return
	}
	for _, sid := range t.settled {
		if sid == id {
			return
		}
	}
	if len(t.settled) < SettledCapacity {
		t.settled = append(t.settled, id)
		return
	}
	delete(t.states, t.settled[t.next])
	t.settled[t.next] = id
	t.next = (t.next + 1) % SettledCapacity
}
