package link

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/prismmesh/core"
	"github.com/hupe1980/prismmesh/pulse"
)

// side is the receiving half of one in-process endpoint: its inbox and the
// signal that it has been closed.
type side struct {
	inbox chan pulse.Pulse
	done  chan struct{}
	once  sync.Once
}

func (s *side) shut() { s.once.Do(func() { close(s.done) }) }

type chanEndpoint struct {
	self *side
	peer *side
}

func errClosed(msg string) error {
	return &core.Error{Kind: core.KindConnectionClosed, Message: msg}
}

func (e *chanEndpoint) send(p pulse.Pulse) error {
	select {
	case <-e.self.done:
		return errClosed("link closed locally")
	case <-e.peer.done:
		return errClosed("peer closed the link")
	default:
	}

	select {
	case e.peer.inbox <- p:
		return nil
	case <-e.peer.done:
		return errClosed("peer closed the link")
	case <-e.self.done:
		return errClosed("link closed locally")
	}
}

func (e *chanEndpoint) recv(timeout time.Duration) (pulse.Pulse, bool, error) {
	select {
	case p := <-e.self.inbox:
		return p, true, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case p := <-e.self.inbox:
		return p, true, nil
	case <-e.self.done:
		return nil, false, errClosed("link closed locally")
	case <-e.peer.done:
		return e.drainAfterPeerClose()
	case <-timer.C:
		return nil, false, nil
	}
}

func (e *chanEndpoint) recvContext(ctx context.Context) (pulse.Pulse, error) {
	select {
	case p := <-e.self.inbox:
		return p, nil
	default:
	}

	select {
	case p := <-e.self.inbox:
		return p, nil
	case <-e.self.done:
		return nil, errClosed("link closed locally")
	case <-e.peer.done:
		p, _, err := e.drainAfterPeerClose()
		return p, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// drainAfterPeerClose hands out pulses the peer sent before closing, then
// reports the closure.
func (e *chanEndpoint) drainAfterPeerClose() (pulse.Pulse, bool, error) {
	select {
	case p := <-e.self.inbox:
		return p, true, nil
	default:
		return nil, false, errClosed("peer closed the link")
	}
}

func (e *chanEndpoint) close() error {
	e.self.shut()
	return nil
}
