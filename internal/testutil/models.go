package testutil

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/hupe1980/atlasforge/model"
)

// ScriptedModel answers requests from a script. Each rule matches when the
// request intent equals Intent (if set) and the system prompt or prompt
// contains Contains (if set). Rules with Times > 0 are consumed after that
// many matches. Unmatched requests get Default.
type ScriptedModel struct {
	Name    string
	Default string

	mu       sync.Mutex
	rules    []*Rule
	requests []model.Request
}

// Rule is one scripted answer.
type Rule struct {
	Intent   model.Intent
	Contains string
	Reply    string
	Times    int
	used     int
}

// NewScriptedModel creates a scripted model with a default reply.
func NewScriptedModel(name, def string) *ScriptedModel {
	return &ScriptedModel{Name: name, Default: def}
}

// On adds a rule and returns the model (chainable).
func (m *ScriptedModel) On(r Rule) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	rc := r
	m.rules = append(m.rules, &rc)
	return m
}

// Requests returns every request seen so far.
func (m *ScriptedModel) Requests() []model.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Request(nil), m.requests...)
}

// Calls returns the number of requests seen so far.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *ScriptedModel) answer(req model.Request) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	for _, r := range m.rules {
		if r.Times > 0 && r.used >= r.Times {
			continue
		}
		if r.Intent != "" && r.Intent != req.Intent {
			continue
		}
		if r.Contains != "" && !strings.Contains(req.System+"\n"+req.Prompt, r.Contains) {
			continue
		}
		r.used++
		return r.Reply
	}
	return m.Default
}

// Generate implements model.Model.
func (m *ScriptedModel) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 1)
	errCh := make(chan error, 1)
	text := m.answer(req)
	go func() {
		defer close(out)
		defer close(errCh)
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case out <- model.Response{Text: text, FinishReason: "stop", Usage: &model.TokenUsage{TotalTokens: model.EstimateTokens(text)}}:
		}
	}()
	return out, errCh
}

// Info implements model.Model.
func (m *ScriptedModel) Info() model.Info { return model.Info{Name: m.Name, Provider: "scripted"} }

// ErrScriptedFailure is returned by FailingModel.
var ErrScriptedFailure = errors.New("scripted backend failure")

// FailingModel fails every call and counts attempts.
type FailingModel struct {
	Name string
	Err  error

	mu    sync.Mutex
	calls int
}

// Generate implements model.Model.
func (m *FailingModel) Generate(context.Context, model.Request) (<-chan model.Response, <-chan error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	out := make(chan model.Response)
	errCh := make(chan error, 1)
	err := m.Err
	if err == nil {
		err = ErrScriptedFailure
	}
	errCh <- err
	close(out)
	close(errCh)
	return out, errCh
}

// Calls returns the number of Generate calls.
func (m *FailingModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Info implements model.Model.
func (m *FailingModel) Info() model.Info { return model.Info{Name: m.Name, Provider: "failing"} }
