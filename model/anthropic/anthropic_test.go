package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/prismmesh/model"
)

func TestGenerate(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test", r.Header.Get("X-Api-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-3-5-sonnet-20241022",
			"content": [{"type": "text", "text": "Hello"}],
			"stop_reason": "end_turn", "stop_sequence": null,
			"usage": {"input_tokens": 3, "output_tokens": 1}
		}`)
	}))
	defer srv.Close()

	m := NewModel(func(o *Options) {
		o.APIKey = "test"
		o.BaseURL = srv.URL + "/"
	})

	out, errCh := m.Generate(context.Background(), model.Request{
		System: "be brief",
		Messages: []model.Message{
			{Role: model.RoleUser, Text: "hi"},
			{Role: model.RoleAssistant, Text: "hello?"},
			{Role: model.RoleUser, Text: "again"},
		},
		Stream: true,
	})

	var got []model.Response
	for r := range out {
		got = append(got, r)
	}
	require.NoError(t, <-errCh)

	require.Len(t, got, 2)
	assert.True(t, got[0].Partial)
	assert.Equal(t, "Hello", got[0].Text)
	assert.False(t, got[1].Partial)
	assert.Equal(t, "end_turn", got[1].FinishReason)
	assert.Equal(t, 4, got[1].Usage.TotalTokens)

	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 3)
	assert.NotNil(t, body["system"])
}

func TestBuildMessages_SkipsSystemAndEmpty(t *testing.T) {
	msgs := buildMessages([]model.Message{
		{Role: model.RoleSystem, Text: "sys"},
		{Role: model.RoleUser, Text: ""},
		{Role: model.RoleUser, Text: "q"},
	})
	assert.Len(t, msgs, 1)

	blocks := extractSystem(model.Request{System: "a", Messages: []model.Message{{Role: model.RoleSystem, Text: "b"}}})
	require.Len(t, blocks, 2)
	assert.Equal(t, "a", blocks[0].Text)
	assert.Equal(t, "b", blocks[1].Text)
}
