// Package fetch provides the net:fetch prism, which performs HTTP GET
// requests on behalf of other units.
//
// The "get" frequency takes {"url", "headers"} and answers with
// {"status", "headers", "body"}. Non-2xx statuses are ordinary results;
// transport failures are reported as IO errors.
package fetch

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hupe1980/prismmesh/core"
	"github.com/hupe1980/prismmesh/multiplexer"
	"github.com/hupe1980/prismmesh/spectrum"
	"github.com/hupe1980/prismmesh/unit"
)

// ID is the unit identifier of the fetch prism.
const ID = "net:fetch"

//go:embed spectrum.json
var document []byte

// Spectrum returns the embedded spectrum of the fetch prism.
func Spectrum() spectrum.Source { return spectrum.FromBytes(document) }

// Options configures the fetch handler.
type Options struct {
	// Client performs the requests. Defaults to a client with Timeout.
	Client *http.Client
	// Timeout bounds each request when Client is nil.
	Timeout time.Duration
	// MaxBodyBytes truncates larger bodies. Defaults to 1 MiB.
	MaxBodyBytes int64
	// UserAgent is sent unless the request sets its own.
	UserAgent string
}

// Request is the input of the "get" frequency.
type Request struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Response is the output of the "get" frequency.
type Response struct {
	Status    int               `json:"status"`
	Headers   map[string]string `json:"headers"`
	Body      string            `json:"body"`
	Truncated bool              `json:"truncated,omitempty"`
}

// Handler performs HTTP GET requests.
type Handler struct {
	unit.BaseHandler
	opts Options
}

// NewHandler creates a fetch handler.
func NewHandler(optFns ...func(o *Options)) *Handler {
	opts := Options{
		Timeout:      30 * time.Second,
		MaxBodyBytes: 1 << 20,
		UserAgent:    "prismmesh-fetch/1.0",
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Timeout}
	}
	return &Handler{opts: opts}
}

// Factory returns a unit.Factory building handlers with optFns.
func Factory(optFns ...func(o *Options)) unit.Factory {
	return func() (unit.Handler, error) { return NewHandler(optFns...), nil }
}

// Register adds the fetch prism to reg.
func Register(reg *multiplexer.Registry, optFns ...func(o *Options)) error {
	return reg.Register(ID, Spectrum(), Factory(optFns...))
}

// HandlePulse implements unit.Handler.
func (h *Handler) HandlePulse(pc *unit.PulseContext) (unit.Outcome, error) {
	if pc.Frequency() != "get" {
		return unit.Ignored, nil
	}

	var req Request
	if err := pc.Bind(&req); err != nil {
		return unit.Handled, err
	}

	resp, err := h.Get(pc.Context, req)
	if err != nil {
		return unit.Handled, err
	}
	pc.Logger.Debug("Fetched", "url", req.URL, "status", resp.Status, "bytes", len(resp.Body))
	return unit.Handled, pc.Respond(resp)
}

// Get performs one request.
func (h *Handler) Get(ctx context.Context, req Request) (*Response, error) {
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, core.Errorf(core.KindValidation, "invalid url %q", req.URL)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, core.Wrap(core.KindValidation, err, "build request")
	}
	if h.opts.UserAgent != "" {
		httpReq.Header.Set("User-Agent", h.opts.UserAgent)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := h.opts.Client.Do(httpReq)
	if err != nil {
		return nil, core.Wrap(core.KindIO, err, "GET "+u.Redacted())
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, h.opts.MaxBodyBytes+1))
	if err != nil {
		return nil, core.Wrap(core.KindIO, err, fmt.Sprintf("read body of %s", u.Redacted()))
	}

	out := &Response{
		Status:  httpResp.StatusCode,
		Headers: make(map[string]string, len(httpResp.Header)),
	}
	if int64(len(body)) > h.opts.MaxBodyBytes {
		body = body[:h.opts.MaxBodyBytes]
		out.Truncated = true
	}
	out.Body = string(body)
	for k := range httpResp.Header {
		out.Headers[k] = httpResp.Header.Get(k)
	}
	return out, nil
}
