package prismmesh

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/prismmesh/core"
	"github.com/hupe1980/prismmesh/internal/testutil"
	"github.com/hupe1980/prismmesh/prisms/echo"
	"github.com/hupe1980/prismmesh/unit"
)

// gate blocks every "wait" wavefront until open is closed.
func gate(open <-chan struct{}) unit.Factory {
	return testutil.Handler(map[string]unit.FrequencyFunc{
		"wait": func(pc *unit.PulseContext) error {
			select {
			case <-open:
				return pc.Respond("opened")
			case <-pc.Done():
				return pc.Err()
			}
		},
	})
}

func newMesh(t *testing.T, optFns ...func(o *Options)) *PrismMesh {
	t.Helper()
	fns := append([]func(o *Options){func(o *Options) {
		o.PollInterval = 5 * time.Millisecond
		o.ShutdownGrace = 500 * time.Millisecond
	}}, optFns...)

	m := New(fns...)
	require.NoError(t, echo.Register(m.Registry()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
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

func TestInvokeSync(t *testing.T) {
	m := newMesh(t)
	ctx := ctxT(t)

	out, err := m.InvokeSync(ctx, echo.ID, "echo", map[string]string{"msg": "hi"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"msg":"hi"}`, string(out))

	out, err = m.InvokeSync(ctx, echo.ID, "chant", []string{"a", "b"})
	require.NoError(t, err)
	assert.JSONEq(t, `["a","b"]`, string(out))

	assert.Eventually(t, func() bool { return len(m.Multiplexer().Active()) == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestInvokeSync_Errors(t *testing.T) {
	m := newMesh(t)
	ctx := ctxT(t)

	_, err := m.InvokeSync(ctx, "core:missing", "echo", nil)
	assert.ErrorIs(t, err, core.ErrUnitNotFound)

	_, err = m.InvokeSync(ctx, echo.ID, "shout", nil)
	assert.ErrorIs(t, err, core.ErrOperationNotFound)

	_, err = m.InvokeSync(ctx, echo.ID, "repeat", map[string]any{"times": 2})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestInvoke_Streams(t *testing.T) {
	m := newMesh(t)
	ctx := ctxT(t)

	id, dataCh, errCh, err := m.Invoke(ctx, echo.ID, "repeat", map[string]any{"text": "la", "times": 3})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	var got []string
	for data := range dataCh {
		var s string
		require.NoError(t, json.Unmarshal(data, &s))
		got = append(got, s)
	}
	assert.NoError(t, <-errCh)
	assert.Equal(t, []string{"la", "la", "la"}, got)
	assert.Empty(t, m.Invocations())
	assert.Eventually(t, func() bool { return len(m.Multiplexer().Active()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestInvoke_UnknownUnit(t *testing.T) {
	m := newMesh(t)

	_, _, _, err := m.Invoke(ctxT(t), "core:missing", "echo", nil)
	assert.ErrorIs(t, err, core.ErrUnitNotFound)
}

func TestInvoke_TrapError(t *testing.T) {
	m := newMesh(t)

	_, dataCh, errCh, err := m.Invoke(ctxT(t), echo.ID, "nope", nil)
	require.NoError(t, err)
	for range dataCh {
	}
	assert.ErrorIs(t, <-errCh, core.ErrOperationNotFound)
}

func TestInvoke_CancelAndConcurrencyLimit(t *testing.T) {
	open := make(chan struct{})
	m := newMesh(t, func(o *Options) { o.MaxConcurrentInvocations = 1 })
	require.NoError(t, m.Register("test:gate", testutil.NewSpectrumBuilder("test:gate").Wavelength("wait").Source(), gate(open)))

	ctx := ctxT(t)
	id, dataCh, errCh, err := m.Invoke(ctx, "test:gate", "wait", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, m.Invocations())

	// the only slot is taken
	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, _, _, err = m.Invoke(short, echo.ID, "echo", "x")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.True(t, m.Cancel(id))
	for range dataCh {
	}
	assert.Error(t, <-errCh)
	assert.False(t, m.Cancel(id))

	// the slot is free again
	out, err := m.InvokeSync(ctx, echo.ID, "echo", "x")
	require.NoError(t, err)
	assert.JSONEq(t, `"x"`, string(out))
}

func TestConnect(t *testing.T) {
	m := newMesh(t)
	ctx := ctxT(t)

	l, err := m.Connect(ctx, echo.ID)
	require.NoError(t, err)
	assert.Len(t, m.Multiplexer().Active(), 1)

	require.NoError(t, l.SendExtinguish())
	assert.True(t, l.AwaitClosed(time.Second))
	assert.Eventually(t, func() bool { return len(m.Multiplexer().Active()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestShutdown(t *testing.T) {
	m := newMesh(t)
	ctx := ctxT(t)

	require.NoError(t, m.Shutdown(ctx))

	_, err := m.Connect(ctx, echo.ID)
	assert.ErrorIs(t, err, core.ErrConnectionClosed)
}
