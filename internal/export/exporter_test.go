package export

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hupe1980/atlasforge/agent"
	"github.com/hupe1980/atlasforge/core"
	"github.com/hupe1980/atlasforge/orchestrator"
	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func testResult() *orchestrator.Result {
	ts := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	return &orchestrator.Result{
		SessionID: "s-1",
		Prompt:    "Plan a\nproduct launch",
		Answer:    "Launch in spring.",
		Status:    orchestrator.StatusFinal,
		Turns:     2,
		Tokens:    42,
		Agents: []orchestrator.DynamicAgent{
			{ID: "a-1", Spec: agent.Spec{Name: "Coordinator", Role: "coordinator", Kind: agent.KindModel}, Coordinator: true},
			{ID: "a-2", Spec: agent.Spec{Name: "Researcher", Role: "researcher", Kind: agent.KindRAG}},
		},
		Messages: []orchestrator.ConversationMessage{
			{ID: "m-1", Turn: 1, From: "a-1", FromName: "Coordinator", To: "a-2", ToName: "Researcher", Content: "Research the market.", Backend: "hosted", Tokens: 20, Timestamp: ts},
			{ID: "m-2", Turn: 2, From: "a-1", FromName: "Coordinator", To: "u-1", ToName: core.CallerTopic, Content: "Launch in spring.", Backend: "hosted", Tokens: 22, Final: true, Timestamp: ts},
		},
		SharedMemory: []core.MemoryEntry{
			{ID: "e-1", Scope: core.MemoryScopeShared, Content: "Final insight", Participants: []string{"a-1", "a-2"}, CreatedAt: ts},
		},
	}
}

func TestNewExporter(t *testing.T) {
	tests := []struct {
		format string
		ext    string
	}{
		{"", "txt"},
		{"text", "txt"},
		{"json", "json"},
		{"yaml", "yaml"},
		{"yml", "yaml"},
		{"toml", "toml"},
		{"md", "md"},
		{"Markdown", "md"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			e, err := NewExporter(tt.format)
			require.NoError(t, err)
			assert.Equal(t, tt.ext, e.Extension())
		})
	}

	_, err := NewExporter("csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")
}

func TestJSONExporter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&JSONExporter{}).Export(testResult(), &buf))

	var got orchestrator.Result
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "s-1", got.SessionID)
	assert.Len(t, got.Messages, 2)
	assert.Contains(t, buf.String(), `"sessionId": "s-1"`)
}

func TestYAMLExporter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&YAMLExporter{}).Export(testResult(), &buf))

	var got map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "final", got["status"])
	assert.Equal(t, "Launch in spring.", got["answer"])
}

func TestTOMLExporter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&TOMLExporter{}).Export(testResult(), &buf))

	var got map[string]any
	require.NoError(t, toml.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "s-1", got["session_id"])
	assert.Equal(t, int64(2), got["turns"])
}

func TestMarkdownExporter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&MarkdownExporter{}).Export(testResult(), &buf))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "# Plan a product launch\n"))
	assert.Contains(t, out, "**Status:** final")
	assert.Contains(t, out, "- **Coordinator**: coordinator, model *(coordinator)*")
	assert.Contains(t, out, "**1. Coordinator → Researcher** _[hosted]_")
	assert.Contains(t, out, "## Answer\n\nLaunch in spring.\n")
}

func TestTextExporter(t *testing.T) {
	res := testResult()
	res.Status = orchestrator.StatusHalted
	res.HaltReason = orchestrator.HaltAlternation

	var buf bytes.Buffer
	require.NoError(t, (&TextExporter{}).Export(res, &buf))

	out := buf.String()
	assert.Contains(t, out, "Plan a product launch")
	assert.Contains(t, out, "halted: "+orchestrator.HaltAlternation)
	assert.Contains(t, out, "Research the market.")
	assert.Contains(t, out, "Launch in spring.")
}
