package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Model = (*MockModel)(nil)

func TestMockModel_CollectCanned(t *testing.T) {
	m := NewMockModel("mock", "mock")
	m.AddResponse("ping", "pong")

	text, usage, err := Collect(context.Background(), m, Request{Prompt: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "pong", text)
	require.NotNil(t, usage)
	assert.Equal(t, 1, usage.CompletionTokens)
}

func TestMockModel_StreamingEndsWithFinal(t *testing.T) {
	m := NewMockModel("mock", "mock")
	respCh, errCh := m.Generate(context.Background(), Request{Prompt: "abc", Stream: true})

	var partials string
	var final Response
	for r := range respCh {
		if r.Partial {
			partials += r.Text
			continue
		}
		final = r
	}
	require.NoError(t, <-errCh)
	assert.Equal(t, "Mock response to: abc", partials)
	assert.Equal(t, partials, final.Text)
	assert.Equal(t, "stop", final.FinishReason)
}

func TestCollect_Error(t *testing.T) {
	_, _, err := Collect(context.Background(), NewMockModel("mock", "mock"), Request{Prompt: "  "})
	assert.Error(t, err)
}

func TestPromptAndEstimate(t *testing.T) {
	assert.Equal(t, "q", Prompt(Request{Prompt: "q"}))
	assert.Equal(t, "a\nb\nq", Prompt(Request{Prompt: "q", Context: []string{"a", "b"}}))
	assert.Equal(t, 0, EstimateTokens("   "))
	assert.Equal(t, 2, EstimateTokens("abcdefg"))
}
