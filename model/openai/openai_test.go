package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hupe1980/atlasforge/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ model.Model = (*Model)(nil)

func TestModel_NonStreamingAgainstCompatibleServer(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "llama3",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "hello there"}}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7}
		}`))
	}))
	defer srv.Close()

	m := NewModel(func(o *Options) {
		o.BaseURL = srv.URL
		o.Model = "llama3"
	})
	assert.Equal(t, "local", m.Info().Provider)

	text, usage, err := model.Collect(context.Background(), m, model.Request{System: "be brief", Prompt: "hi", Context: []string{"Ada: earlier"}})
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)
	require.NotNil(t, usage)
	assert.Equal(t, 7, usage.TotalTokens)

	msgs, ok := got["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "llama3", got["model"])
}

func TestModel_ServerErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"down"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	m := NewModel(func(o *Options) { o.BaseURL = srv.URL })
	_, _, err := model.Collect(context.Background(), m, model.Request{Prompt: "hi"})
	assert.Error(t, err)
}
