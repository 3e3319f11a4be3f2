package model

import (
	"context"
	"fmt"
	"strings"
)

// Intent describes the purpose of a generation request. The router uses it
// to decide between local and hosted backends.
type Intent string

const (
	// IntentChat is a free-form conversational request.
	IntentChat Intent = "chat"
	// IntentDebateTurn produces one agent contribution in a debate.
	IntentDebateTurn Intent = "debate-turn"
	// IntentSummary condenses a debate into a final answer.
	IntentSummary Intent = "summary"
	// IntentSchemaSynthesis asks for structured (JSON) output.
	IntentSchemaSynthesis Intent = "schema-synthesis"
	// IntentAgentConstruction designs the debate roster.
	IntentAgentConstruction Intent = "agent-construction"
	// IntentMetaControl covers orchestration decisions about the debate itself.
	IntentMetaControl Intent = "meta-control"
)

// Request captures the normalized model input.
type Request struct {
	System  string   `json:"system,omitempty"`
	Prompt  string   `json:"prompt"`
	Context []string `json:"context,omitempty"` // prior turns, oldest first
	Intent  Intent   `json:"intent,omitempty"`
	Stream  bool     `json:"stream,omitempty"`

	// Routing overrides. At most one should be set.
	ForceLocal  bool `json:"force_local,omitempty"`
	ForceHosted bool `json:"force_hosted,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a streaming model.
// Partial chunks carry a text delta; the final chunk carries the full text.
type Response struct {
	Partial      bool        `json:"partial"`
	Text         string      `json:"text"`
	FinishReason string      `json:"finish_reason,omitempty"`
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "local", "mock", ...
}

// Model is the minimal interface required by the router and agents to drive
// generation. Both channels are closed when generation ends.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// Collect drains a Generate call and returns the final text and usage. When
// the model only streams partials, their concatenation is returned.
func Collect(ctx context.Context, m Model, req Request) (string, *TokenUsage, error) {
	respCh, errCh := m.Generate(ctx, req)

	var (
		partial strings.Builder
		final   *Response
	)

	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return "", nil, ctx.Err()
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if r.Partial {
				partial.WriteString(r.Text)
				continue
			}
			rc := r
			final = &rc
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return "", nil, err
			}
		}
	}

	if final != nil {
		return final.Text, final.Usage, nil
	}
	if partial.Len() > 0 {
		return partial.String(), nil, nil
	}
	return "", nil, fmt.Errorf("model %s produced no output", m.Info().Name)
}

// Prompt flattens a request into a single transcript string for providers
// that only accept one user message.
func Prompt(req Request) string {
	if len(req.Context) == 0 {
		return req.Prompt
	}
	var b strings.Builder
	for _, c := range req.Context {
		b.WriteString(c)
		b.WriteString("\n")
	}
	b.WriteString(req.Prompt)
	return b.String()
}

// EstimateTokens approximates the token count of text (roughly four
// characters per token) for backends that do not report usage.
func EstimateTokens(text string) int {
	n := len([]rune(strings.TrimSpace(text)))
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// MockModel is a lightweight in-memory Model useful for tests and examples.
type MockModel struct {
	info      Info
	responses map[string]string
}

// NewMockModel constructs a MockModel.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: provider},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) { m.responses[prompt] = response }

// Generate implements Model; emits optional streaming char chunks then final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)
		if strings.TrimSpace(req.Prompt) == "" {
			errCh <- fmt.Errorf("no prompt provided")
			return
		}
		full := m.responses[req.Prompt]
		if full == "" {
			full = fmt.Sprintf("Mock response to: %s", req.Prompt)
		}
		if req.Stream {
			for _, r := range full {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Text: string(r)}:
				}
			}
		}
		tokens := EstimateTokens(full)
		respCh <- Response{
			Text:         full,
			FinishReason: "stop",
			Usage:        &TokenUsage{PromptTokens: EstimateTokens(req.Prompt), CompletionTokens: tokens, TotalTokens: EstimateTokens(req.Prompt) + tokens},
		}
	}()
	return respCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
