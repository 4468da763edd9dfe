// Package ws carries links over websocket connections. Each text message is
// one pulse encoded with the pulse codec, so any client speaking the tagged
// JSON framing can talk to a unit.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hupe1980/prismmesh/core"
	"github.com/hupe1980/prismmesh/link"
	"github.com/hupe1980/prismmesh/logging"
)

// Conn adapts a websocket connection to link.Transport.
type Conn struct {
	conn      *websocket.Conn
	frames    chan frameOrError
	closeCh   chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	logger    logging.Logger
}

type frameOrError struct {
	frame []byte
	err   error
}

var _ link.Transport = (*Conn)(nil)

// NewConn wraps an established websocket connection and starts its reader.
func NewConn(c *websocket.Conn, logger logging.Logger) *Conn {
	conn := &Conn{
		conn:    c,
		frames:  make(chan frameOrError, 64),
		closeCh: make(chan struct{}),
		logger:  logging.OrNoOp(logger),
	}
	go conn.readLoop()
	return conn
}

// Dial connects to a websocket endpoint serving pulses.
func Dial(ctx context.Context, url string, header http.Header, logger logging.Logger) (*Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	c, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, core.Wrap(core.KindIO, err, "dial "+url+": "+resp.Status)
		}
		return nil, core.Wrap(core.KindIO, err, "dial "+url)
	}
	return NewConn(c, logger), nil
}

// Send writes one frame as a text message.
func (c *Conn) Send(frame []byte) error {
	select {
	case <-c.closeCh:
		return core.Errorf(core.KindConnectionClosed, "websocket closed")
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return core.Errorf(core.KindConnectionClosed, "websocket closed")
		}
		return core.Wrap(core.KindIO, err, "write websocket frame")
	}
	return nil
}

// Receive returns the next frame, waiting at most timeout.
func (c *Conn) Receive(timeout time.Duration) ([]byte, bool, error) {
	select {
	case f, ok := <-c.frames:
		return c.unpack(f, ok)
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f, ok := <-c.frames:
		return c.unpack(f, ok)
	case <-timer.C:
		return nil, false, nil
	}
}

func (c *Conn) unpack(f frameOrError, ok bool) ([]byte, bool, error) {
	if !ok {
		return nil, false, core.Errorf(core.KindConnectionClosed, "websocket closed")
	}
	if f.err != nil {
		return nil, false, f.err
	}
	return f.frame, true, nil
}

// Close sends a close message and tears down the connection.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.mu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// readLoop reads frames from the websocket connection until it fails.
func (c *Conn) readLoop() {
	defer close(c.frames)

	for {
		select {
		case <-c.closeCh:
			return
		default:
		}

		mt, message, err := c.conn.ReadMessage()
		if err != nil {
			var ferr error
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ferr = core.Errorf(core.KindConnectionClosed, "peer closed websocket")
			} else {
				ferr = &core.Error{Kind: core.KindConnectionClosed, Message: "websocket read failed", Err: err}
			}
			select {
			case <-c.closeCh:
			case c.frames <- frameOrError{err: ferr}:
			}
			return
		}

		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		c.logger.Debug("Websocket frame received", "len", len(message))

		select {
		case <-c.closeCh:
			return
		case c.frames <- frameOrError{frame: message}:
		}
	}
}
