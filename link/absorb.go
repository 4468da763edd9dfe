package link

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/hupe1980/prismmesh/core"
	"github.com/hupe1980/prismmesh/pulse"
)

// ErrNoData is returned by Absorb when a request completed without a single photon.
var ErrNoData = &core.Error{Kind: core.KindOther, Message: "no data"}

// Drain reads pulses for id until its trap and returns the photon payloads in
// arrival order. If the trap carries an error, the photons received before it
// are returned together with that error. A trap on core.SentinelID fails the
// drain with the setup error of the unit.
//
// Responses to other requests sent on l are kept for their own Drain, so
// several requests may be outstanding on one link and drained in any order.
// Once Drain returns, nothing more is kept for id.
func Drain(ctx context.Context, l *Link, id string) ([]json.RawMessage, error) {
	defer l.awaiting.done(id)

	var photons []json.RawMessage
	for {
		p, err := l.next(ctx, id)
		if err != nil {
			return photons, err
		}

		switch v := p.(type) {
		case pulse.Photon:
			photons = append(photons, v.Data)
		case pulse.Trap:
			if v.ID != id {
				if v.Failed() {
					return photons, v.Err()
				}
				return photons, core.Errorf(core.KindOther, "unit reported a setup trap")
			}
			return photons, v.Err()
		case pulse.Extinguish:
			return photons, core.Errorf(core.KindConnectionClosed, "link extinguished while awaiting %s", id)
		}
	}
}

// next returns the next pulse that concerns id: one of its photons, its
// trap, a setup trap or an Extinguish. Stored responses for id come first.
// Responses to other awaited requests are stored; anything else is skipped.
//
// The wait on the link is bounded by the poll interval so that pulses stored
// by a concurrent reader are picked up.
func (l *Link) next(ctx context.Context, id string) (pulse.Pulse, error) {
	for {
		if p, ok := l.awaiting.take(id); ok {
			return p, nil
		}

		rctx, cancel := context.WithTimeout(ctx, l.poll)
		p, err := l.ReceiveContext(rctx)
		cancel()
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if stored, ok := l.awaiting.take(id); ok {
				return stored, nil
			}
			return nil, err
		}

		switch p.Kind() {
		case pulse.KindPhoton, pulse.KindTrap:
			rid := p.RequestID()
			if rid == id || (p.Kind() == pulse.KindTrap && core.IsSentinel(rid)) {
				return p, nil
			}
			if !l.awaiting.put(p) {
				l.logger.Warn("Skipping response for a request nobody awaits", "kind", p.Kind().String(), "pulse_id", rid, "awaiting", id)
			}
		case pulse.KindExtinguish:
			return p, nil
		default:
			l.logger.Warn("Skipping unexpected pulse", "kind", p.Kind().String(), "awaiting", id)
		}
	}
}

// Absorb collects the response to request id and decodes it into T.
//
// Zero photons fail with ErrNoData, one photon is decoded as the value itself
// and more than one are decoded as a JSON array in arrival order.
func Absorb[T any](ctx context.Context, l *Link, id string) (T, error) {
	var zero T

	photons, err := Drain(ctx, l, id)
	if err != nil {
		return zero, err
	}

	var raw json.RawMessage
	switch len(photons) {
	case 0:
		return zero, ErrNoData
	case 1:
		raw = photons[0]
	default:
		raw = joinArray(photons)
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, core.Wrap(core.KindOther, err, "decode response")
	}
	return out, nil
}

// Collect is the streaming counterpart of Absorb: every photon is one element
// of the result, and zero photons yield an empty slice.
func Collect[T any](ctx context.Context, l *Link, id string) ([]T, error) {
	photons, err := Drain(ctx, l, id)
	if err != nil {
		return nil, err
	}

	out := make([]T, 0, len(photons))
	for _, p := range photons {
		var v T
		if err := json.Unmarshal(p, &v); err != nil {
			return nil, core.Wrap(core.KindOther, err, "decode photon")
		}
		out = append(out, v)
	}
	return out, nil
}

// Call sends a wavefront with a fresh id and absorbs its response.
func Call[T any](ctx context.Context, l *Link, frequency string, input any) (T, error) {
	var zero T

	id := core.NewID()
	if err := l.SendWavefront(id, frequency, input); err != nil {
		return zero, err
	}
	return Absorb[T](ctx, l, id)
}

// Stream forwards the photons of id on a channel as they arrive. The data
// channel is closed after the trap; a failed trap or a link error is
// delivered on the error channel. The goroutine started by Stream owns l
// until both channels are closed.
func Stream(ctx context.Context, l *Link, id string) (<-chan json.RawMessage, <-chan error) {
	dataCh := make(chan json.RawMessage)
	errCh := make(chan error, 1)

	go func() {
		defer close(dataCh)
		defer close(errCh)
		defer l.awaiting.done(id)

		for {
			p, err := l.next(ctx, id)
			if err != nil {
				errCh <- err
				return
			}
			switch v := p.(type) {
			case pulse.Photon:
				select {
				case dataCh <- v.Data:
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				}
			case pulse.Trap:
				if v.Failed() {
					errCh <- v.Err()
				}
				return
			case pulse.Extinguish:
				errCh <- core.Errorf(core.KindConnectionClosed, "link extinguished while awaiting %s", id)
				return
			}
		}
	}()

	return dataCh, errCh
}

// Reflect answers request id with v and a success trap. A JSON array is sent
// as one photon per element; any other value is sent as a single photon.
func Reflect(e Emitter, id string, v any) error {
	raw, err := toRaw(v)
	if err != nil {
		return err
	}

	if isArray(raw) {
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err != nil {
			return core.Wrap(core.KindOther, err, "split array")
		}
		for _, el := range elems {
			if err := e.EmitPhoton(id, el); err != nil {
				return err
			}
		}
		return e.EmitTrap(id, nil)
	}

	if err := e.EmitPhoton(id, raw); err != nil {
		return err
	}
	return e.EmitTrap(id, nil)
}

// Emit answers request id with exactly one photon holding v, arrays
// included, followed by a success trap.
func Emit(e Emitter, id string, v any) error {
	if err := e.EmitPhoton(id, v); err != nil {
		return err
	}
	return e.EmitTrap(id, nil)
}

func isArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

func joinArray(parts []json.RawMessage) json.RawMessage {
	var b bytes.Buffer
	b.WriteByte('[')
	for i, p := range parts {
		if i > 0 {
			b.WriteByte(',')
		}
		if len(p) == 0 {
			b.WriteString("null")
			continue
		}
		b.Write(p)
	}
	b.WriteByte(']')
	return b.Bytes()
}
