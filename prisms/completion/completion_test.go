package completion

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/prismmesh/core"
	"github.com/hupe1980/prismmesh/link"
	"github.com/hupe1980/prismmesh/model"
	"github.com/hupe1980/prismmesh/multiplexer"
)

func connect(t *testing.T, m model.Model) (*link.Link, context.Context) {
	t.Helper()
	reg := multiplexer.NewRegistry()
	require.NoError(t, Register(reg, m))

	mux := multiplexer.New(reg, func(o *multiplexer.Options) {
		o.PollInterval = 5 * time.Millisecond
		o.Validate = true
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = mux.Shutdown(ctx)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)

	l, err := mux.EstablishLink(ctx, ID)
	require.NoError(t, err)
	return l, ctx
}

func TestComplete(t *testing.T) {
	mock := model.NewMockModel("mock-1", "mock")
	mock.AddResponse("ping", "pong")
	l, ctx := connect(t, mock)

	out, err := link.Call[Output](ctx, l, "complete", Input{Prompt: "ping", System: "terse", MaxTokens: 5})
	require.NoError(t, err)
	assert.Equal(t, "pong", out.Text)
	assert.Equal(t, "stop", out.FinishReason)
	assert.Equal(t, "mock-1", out.Model)

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "terse", reqs[0].System)
	assert.Equal(t, int64(5), reqs[0].MaxTokens)
	assert.Equal(t, []model.Message{{Role: model.RoleUser, Text: "ping"}}, reqs[0].Messages)
}

func TestStream(t *testing.T) {
	mock := model.NewMockModel("mock-1", "mock")
	mock.AddResponse("sing", "la la la")
	l, ctx := connect(t, mock)

	id := core.NewID()
	require.NoError(t, l.SendWavefront(id, "stream", Input{
		Messages: []model.Message{{Role: model.RoleUser, Text: "sing"}},
	}))

	chunks, err := link.Collect[string](ctx, l, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"la ", "la ", "la"}, chunks)
	assert.Equal(t, "la la la", strings.Join(chunks, ""))
}

func TestValidation(t *testing.T) {
	l, ctx := connect(t, model.NewMockModel("mock-1", "mock"))

	_, err := link.Call[json.RawMessage](ctx, l, "complete", map[string]any{})
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = link.Call[json.RawMessage](ctx, l, "complete", map[string]any{
		"messages": []map[string]string{{"role": "robot", "text": "x"}},
	})
	assert.ErrorIs(t, err, core.ErrValidation)
}

type failingModel struct{}

func (failingModel) Generate(context.Context, model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response)
	errCh := make(chan error, 1)
	errCh <- errors.New("quota exceeded")
	close(out)
	close(errCh)
	return out, errCh
}

func (failingModel) Info() model.Info { return model.Info{Name: "failing", Provider: "test"} }

func TestModelErrorBecomesTrap(t *testing.T) {
	l, ctx := connect(t, failingModel{})

	_, err := link.Call[json.RawMessage](ctx, l, "complete", Input{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")

	id := core.NewID()
	require.NoError(t, l.SendWavefront(id, "stream", Input{Prompt: "x"}))
	_, err = link.Collect[string](ctx, l, id)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestFactoryWithoutModel(t *testing.T) {
	_, err := Factory(nil)()
	assert.Error(t, err)
}
