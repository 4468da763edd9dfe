package ws

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/hupe1980/prismmesh/link"
	"github.com/hupe1980/prismmesh/logging"
)

// OpenFunc returns the local link a websocket client should be attached to,
// typically by establishing a link to the unit named in the request.
type OpenFunc func(r *http.Request) (*link.Link, error)

// Handler upgrades requests to websockets and bridges each connection to
// the local link returned by open. The bridge ends when either side closes.
type Handler struct {
	Open     OpenFunc
	Upgrader websocket.Upgrader
	Logger   logging.Logger
	// LinkOptions configures the remote side of every bridged connection.
	LinkOptions []func(o *link.Options)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := logging.OrNoOp(h.Logger)

	local, err := h.Open(r)
	if err != nil {
		logger.Warn("Refusing websocket link", "path", r.URL.Path, "error", err)
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	c, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Websocket upgrade failed", "error", err)
		_ = local.SendExtinguish()
		_ = local.Close()
		return
	}

	remote := link.OverTransport(NewConn(c, logger), h.LinkOptions...)
	logger.Info("Websocket link established", "path", r.URL.Path, "remote_addr", r.RemoteAddr)

	if err := link.Bridge(context.Background(), remote, local); err != nil {
		logger.Warn("Websocket link ended with error", "error", err)
	}
	logger.Info("Websocket link closed", "path", r.URL.Path)
}
