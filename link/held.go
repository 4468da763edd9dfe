package link

import (
	"sync"

	"github.com/hupe1980/prismmesh/pulse"
)

// held keeps responses that arrived while a different request was being
// drained. Only ids this side sent a wavefront for, and is still waiting on,
// are kept; responses for any other id are dropped by the reader.
type held struct {
	mu      sync.Mutex
	waiting map[string]struct{}
	pulses  map[string][]pulse.Pulse
}

func newHeld() *held {
	return &held{
		waiting: make(map[string]struct{}),
		pulses:  make(map[string][]pulse.Pulse),
	}
}

func (h *held) expect(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.waiting[id] = struct{}{}
}

// put stores p if its request is still awaited.
func (h *held) put(p pulse.Pulse) bool {
	id := p.RequestID()

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.waiting[id]; !ok {
		return false
	}
	h.pulses[id] = append(h.pulses[id], p)
	return true
}

// take pops the oldest stored pulse of id.
func (h *held) take(id string) (pulse.Pulse, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	q := h.pulses[id]
	if len(q) == 0 {
		return nil, false
	}
	p := q[0]
	if len(q) == 1 {
		delete(h.pulses, id)
	} else {
		h.pulses[id] = q[1:]
	}
	return p, true
}

// done ends interest in id and discards anything stored for it.
func (h *held) done(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.waiting, id)
	delete(h.pulses, id)
}
