package multiplexer

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/prismmesh/core"
	"github.com/hupe1980/prismmesh/link"
	"github.com/hupe1980/prismmesh/mapper"
	"github.com/hupe1980/prismmesh/spectrum"
	"github.com/hupe1980/prismmesh/unit"
)

const echoDoc = `{
  "name": "echo", "namespace": "core",
  "wavelengths": [
    {"frequency": "echo", "input": {"type": "object", "required": ["msg"]}}
  ]
}`

const fetchDoc = `{
  "name": "fetch", "namespace": "net",
  "wavelengths": [{"frequency": "get"}]
}`

const relayDoc = `{
  "name": "relay", "namespace": "core",
  "wavelengths": [{"frequency": "fetch"}],
  "refractions": [
    {"name": "fetch", "target": "net:fetch", "frequency": "get",
     "transpose": {"url": "url"}, "reflection": {"status": "status", "body": "body"}}
  ]
}`

const pingDoc = `{
  "name": "ping", "namespace": "loop",
  "wavelengths": [{"frequency": "go"}],
  "refractions": [{"name": "next", "target": "loop:pong", "frequency": "go"}]
}`

const pongDoc = `{
  "name": "pong", "namespace": "loop",
  "wavelengths": [{"frequency": "go"}],
  "refractions": [{"name": "next", "target": "loop:ping", "frequency": "go"}]
}`

func source(t *testing.T, doc string) spectrum.Source {
	t.Helper()
	s, err := spectrum.Parse([]byte(doc))
	require.NoError(t, err)
	return spectrum.Static(s)
}

func factory(h func() unit.Handler) unit.Factory {
	return func() (unit.Handler, error) { return h(), nil }
}

func echoHandler() unit.Handler {
	return unit.NewRouter().On("echo", func(pc *unit.PulseContext) error { return pc.Respond(pc.Input()) })
}

func fetchHandler() unit.Handler {
	return unit.NewRouter().On("get", func(pc *unit.PulseContext) error {
		var in struct {
			URL string `json:"url"`
		}
		if err := pc.Bind(&in); err != nil {
			return err
		}
		return pc.Respond(map[string]any{"status": 200, "body": "fetched " + in.URL, "headers": map[string]string{}})
	})
}

func forwarder(name string) func() unit.Handler {
	return func() unit.Handler {
		r := unit.NewRouter()
		for _, freq := range []string{"fetch", "go"} {
			r.On(freq, func(pc *unit.PulseContext) error {
				out, err := pc.Invoke(name, pc.Input())
				if err != nil {
					return err
				}
				return pc.Respond(out)
			})
		}
		return r
	}
}

func newMux(t *testing.T, reg *Registry, optFns ...func(o *Options)) *Multiplexer {
	t.Helper()
	fns := append([]func(o *Options){func(o *Options) {
		o.PollInterval = 5 * time.Millisecond
		o.ShutdownGrace = 500 * time.Millisecond
	}}, optFns...)
	m := New(reg, fns...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func ctxT(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("net:fetch", source(t, fetchDoc), factory(fetchHandler)))
	require.NoError(t, reg.Register("core:echo", source(t, echoDoc), factory(echoHandler)))

	assert.Equal(t, []string{"core:echo", "net:fetch"}, reg.Units())

	e, err := reg.Resolve("core:echo")
	require.NoError(t, err)
	assert.Equal(t, spectrum.UnitID{Namespace: "core", Name: "echo"}, e.ID)

	_, err = reg.Resolve("core:nope")
	assert.ErrorIs(t, err, core.ErrUnitNotFound)

	_, err = reg.Resolve("nope")
	assert.ErrorIs(t, err, core.ErrUnitNotFound)

	assert.Error(t, reg.Register("core:echo", source(t, echoDoc), factory(echoHandler)))
	assert.Error(t, reg.Register("bad id", source(t, echoDoc), factory(echoHandler)))
	assert.Error(t, reg.Register("core:x", nil, factory(echoHandler)))
	assert.Error(t, reg.Register("core:y", source(t, echoDoc), nil))

	assert.Panics(t, func() { reg.MustRegister("core:echo", source(t, echoDoc), factory(echoHandler)) })
}

func TestRegistry_RegisterCatalog(t *testing.T) {
	c := spectrum.NewCatalog()
	s, err := spectrum.Parse([]byte(echoDoc))
	require.NoError(t, err)
	require.NoError(t, c.Add(s))

	reg := NewRegistry()
	require.NoError(t, reg.RegisterCatalog(c, map[string]unit.Factory{"core:echo": factory(echoHandler)}))
	assert.Equal(t, []string{"core:echo"}, reg.Units())

	err = reg.RegisterCatalog(c, map[string]unit.Factory{"net:fetch": factory(fetchHandler)})
	assert.ErrorIs(t, err, core.ErrSpectrumLoad)
}

func TestEstablishLink_Echo(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("core:echo", source(t, echoDoc), factory(echoHandler))
	m := newMux(t, reg)

	l, err := m.EstablishLink(ctxT(t), "core:echo")
	require.NoError(t, err)

	out, err := link.Call[map[string]string](ctxT(t), l, "echo", map[string]string{"msg": "hi"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"msg": "hi"}, out)

	active := m.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "core:echo", active[0].UnitID)
	assert.Equal(t, core.CallChain{"core:echo"}, active[0].Chain)

	require.NoError(t, l.SendExtinguish())
	assert.True(t, l.AwaitClosed(time.Second))
	assert.Eventually(t, func() bool { return len(m.Active()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestEstablishLink_SynchronousFailures(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("core:broken", func() (*spectrum.Spectrum, error) { return nil, errors.New("disk on fire") }, factory(echoHandler))
	reg.MustRegister("core:garbled", spectrum.FromBytes([]byte(`{"name":`)), factory(echoHandler))
	reg.MustRegister("core:alias", source(t, echoDoc), factory(echoHandler))
	m := newMux(t, reg)

	_, err := m.EstablishLink(ctxT(t), "core:missing")
	assert.ErrorIs(t, err, core.ErrUnitNotFound)

	_, err = m.EstablishLink(ctxT(t), "core:broken")
	assert.ErrorIs(t, err, core.ErrSpectrumLoad)
	assert.Contains(t, err.Error(), "disk on fire")

	_, err = m.EstablishLink(ctxT(t), "core:garbled")
	assert.ErrorIs(t, err, core.ErrSpectrumParse)

	_, err = m.EstablishLink(ctxT(t), "core:alias")
	assert.ErrorIs(t, err, core.ErrSpectrumParse)

	assert.Empty(t, m.Active())
}

func TestEstablishLink_SetupFailureIsSentinelTrap(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("core:echo", source(t, echoDoc), func() (unit.Handler, error) {
		return nil, errors.New("no credentials")
	})
	m := newMux(t, reg)

	l, err := m.EstablishLink(ctxT(t), "core:echo")
	require.NoError(t, err)

	_, err = link.Call[json.RawMessage](ctxT(t), l, "echo", map[string]string{"msg": "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no credentials")

	assert.Eventually(t, func() bool { return len(m.Active()) == 0 }, time.Second, 5*time.Millisecond)
}

type panickyHandler struct{ unit.BaseHandler }

func (*panickyHandler) Init(*spectrum.Spectrum) error { panic("bad init") }

func (*panickyHandler) HandlePulse(*unit.PulseContext) (unit.Outcome, error) {
	return unit.Ignored, nil
}

func TestEstablishLink_InitPanicIsSentinelTrap(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("core:echo", source(t, echoDoc), func() (unit.Handler, error) { return &panickyHandler{}, nil })
	m := newMux(t, reg)

	l, err := m.EstablishLink(ctxT(t), "core:echo")
	require.NoError(t, err)

	p, err := l.ReceiveContext(ctxT(t))
	require.NoError(t, err)
	assert.True(t, core.IsSentinel(p.RequestID()))
	assert.True(t, l.AwaitClosed(time.Second))
}

func TestRefract_TransposeAndReflection(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("net:fetch", source(t, fetchDoc), factory(fetchHandler))
	reg.MustRegister("core:relay", source(t, relayDoc), factory(forwarder("fetch")))
	m := newMux(t, reg)

	l, err := m.EstablishLink(ctxT(t), "core:relay")
	require.NoError(t, err)

	out, err := link.Call[map[string]any](ctxT(t), l, "fetch", map[string]any{"url": "https://example.com", "depth": 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": float64(200), "body": "fetched https://example.com"}, out)

	// relay plus its cached dependency
	assert.Len(t, m.Active(), 2)

	_, err = link.Call[map[string]any](ctxT(t), l, "fetch", map[string]any{"url": "https://example.org"})
	require.NoError(t, err)
	assert.Len(t, m.Active(), 2)

	// extinguishing the relay takes its dependency down too
	require.NoError(t, l.SendExtinguish())
	assert.True(t, l.AwaitClosed(2*time.Second))
	assert.Eventually(t, func() bool { return len(m.Active()) == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestRefract_RequiredFieldMissing(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("net:fetch", source(t, fetchDoc), factory(fetchHandler))
	reg.MustRegister("core:relay", source(t, relayDoc), factory(forwarder("fetch")))
	m := newMux(t, reg)

	l, err := m.EstablishLink(ctxT(t), "core:relay")
	require.NoError(t, err)

	_, err = link.Call[json.RawMessage](ctxT(t), l, "fetch", map[string]any{"depth": 1})
	assert.ErrorIs(t, err, core.ErrMapping)
}

func TestRefract_Direct(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("net:fetch", source(t, fetchDoc), factory(fetchHandler))
	m := newMux(t, reg)

	r := spectrum.Refraction{
		Name:       "fetch",
		Target:     "net:fetch",
		Frequency:  "get",
		Transpose:  mapper.Mapping{"url": "link"},
		Reflection: mapper.Mapping{"code": "status"},
	}
	l, id, err := m.Refract(ctxT(t), r, json.RawMessage(`{"link":"https://x"}`))
	require.NoError(t, err)

	raw, err := link.Absorb[json.RawMessage](ctxT(t), l, id)
	require.NoError(t, err)

	// reflection is applied by the caller, not by the multiplexer
	assert.JSONEq(t, `{"status":200,"body":"fetched https://x","headers":{}}`, string(raw))
	mapped, err := mapper.ApplyReflection(r.Reflection, raw, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":200}`, string(mapped))

	_, _, err = m.Refract(ctxT(t), spectrum.Refraction{Name: "x", Target: "nope", Frequency: "get"}, nil)
	assert.ErrorIs(t, err, core.ErrUnitNotFound)
}

func TestRefract_CycleDetected(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("loop:ping", source(t, pingDoc), factory(forwarder("next")))
	reg.MustRegister("loop:pong", source(t, pongDoc), factory(forwarder("next")))
	m := newMux(t, reg)

	l, err := m.EstablishLink(ctxT(t), "loop:ping")
	require.NoError(t, err)

	_, err = link.Call[json.RawMessage](ctxT(t), l, "go", map[string]any{})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrCycleDetected)
	assert.Contains(t, err.Error(), "loop:ping -> loop:pong -> loop:ping")
}

func TestValidateOption(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("core:echo", source(t, echoDoc), factory(echoHandler))
	m := newMux(t, reg, func(o *Options) { o.Validate = true })

	l, err := m.EstablishLink(ctxT(t), "core:echo")
	require.NoError(t, err)

	_, err = link.Call[json.RawMessage](ctxT(t), l, "echo", map[string]string{"text": "hi"})
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = link.Call[json.RawMessage](ctxT(t), l, "echo", map[string]string{"msg": "hi"})
	assert.NoError(t, err)
}

func TestStopAndShutdown(t *testing.T) {
	var spawned atomic.Int32
	reg := NewRegistry()
	reg.MustRegister("core:echo", source(t, echoDoc), func() (unit.Handler, error) {
		spawned.Add(1)
		return echoHandler(), nil
	})
	m := newMux(t, reg)

	first, err := m.EstablishLink(ctxT(t), "core:echo")
	require.NoError(t, err)
	second, err := m.EstablishLink(ctxT(t), "core:echo")
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return spawned.Load() == 2 }, time.Second, 5*time.Millisecond)
	active := m.Active()
	require.Len(t, active, 2)

	assert.ErrorIs(t, m.Stop("no-such-instance"), core.ErrUnitNotFound)
	require.NoError(t, m.Stop(active[0].ID))
	assert.Eventually(t, func() bool { return len(m.Active()) == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))
	assert.Empty(t, m.Active())

	assert.True(t, first.AwaitClosed(time.Second))
	assert.True(t, second.AwaitClosed(time.Second))

	_, err = m.EstablishLink(ctxT(t), "core:echo")
	assert.ErrorIs(t, err, core.ErrConnectionClosed)
}

func TestCallbacksAreShared(t *testing.T) {
	cm := unit.NewCallbackManager()
	var refracts atomic.Int32
	cm.RegisterCallback(unit.NewFunctionCallback(unit.CallbackOnRefract, func(_ context.Context, c *unit.CallbackContext) error {
		assert.Equal(t, "fetch", c.Refraction)
		refracts.Add(1)
		return nil
	}))

	reg := NewRegistry()
	reg.MustRegister("net:fetch", source(t, fetchDoc), factory(fetchHandler))
	reg.MustRegister("core:relay", source(t, relayDoc), factory(forwarder("fetch")))
	m := newMux(t, reg, func(o *Options) { o.Callbacks = cm })

	l, err := m.EstablishLink(ctxT(t), "core:relay")
	require.NoError(t, err)

	_, err = link.Call[json.RawMessage](ctxT(t), l, "fetch", map[string]any{"url": "u"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), refracts.Load())
}
