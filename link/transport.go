package link

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hupe1980/prismmesh/core"
	"github.com/hupe1980/prismmesh/pulse"
)

// Transport moves encoded pulses between processes. Receive returns
// ok == false with a nil error when no frame arrived within timeout, and an
// error matching core.ErrConnectionClosed once the connection is gone.
type Transport interface {
	Send(frame []byte) error
	Receive(timeout time.Duration) ([]byte, bool, error)
	Close() error
}

// OverTransport wraps a byte transport in a Link. Pulses are framed with the
// pulse codec. Buffer is ignored: buffering belongs to the transport.
func OverTransport(t Transport, optFns ...func(o *Options)) *Link {
	opts := buildOptions(optFns)
	return newLink(&transportEndpoint{t: t, poll: opts.PollInterval}, opts)
}

type transportEndpoint struct {
	t    Transport
	poll time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (e *transportEndpoint) send(p pulse.Pulse) error {
	frame, err := pulse.Encode(p)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.t.Send(frame); err != nil {
		return transportErr(err, "send frame")
	}
	return nil
}

func (e *transportEndpoint) recv(timeout time.Duration) (pulse.Pulse, bool, error) {
	frame, ok, err := e.t.Receive(timeout)
	if err != nil {
		return nil, false, transportErr(err, "receive frame")
	}
	if !ok {
		return nil, false, nil
	}
	p, err := pulse.Decode(frame)
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

func (e *transportEndpoint) recvContext(ctx context.Context) (pulse.Pulse, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, ok, err := e.recv(e.poll)
		if err != nil {
			return nil, err
		}
		if ok {
			return p, nil
		}
	}
}

func (e *transportEndpoint) close() error {
	e.closeOnce.Do(func() { e.closeErr = e.t.Close() })
	return e.closeErr
}

func transportErr(err error, msg string) error {
	var ce *core.Error
	if errors.As(err, &ce) {
		return err
	}
	return core.Wrap(core.KindIO, err, msg)
}
