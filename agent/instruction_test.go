package agent

import (
	"errors"
	"testing"

	"github.com/hupe1980/atlasforge/core"
)

type mockProvider struct {
	text string
	err  error
}

func (m mockProvider) Instruction(InstructionContext) (string, error) { return m.text, m.err }

func newTestInstructionContext() InstructionContext {
	return InstructionContext{
		Agent:     core.AgentDescriptor{ID: "a1", Name: "Ada", Role: "researcher"},
		Expertise: []string{"markets", "pricing"},
		Message:   core.Message{From: "u", Content: "hello"},
	}
}

func TestInstruction_StaticTemplate(t *testing.T) {
	inst := NewInstructionFromText("You are {{.Agent.Name}} ({{.Agent.Role}}), asked: {{.Message.Content}}")
	if !inst.IsStatic() {
		t.Fatalf("expected static instruction")
	}
	got, err := inst.Resolve(newTestInstructionContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "You are Ada (researcher), asked: hello" {
		t.Fatalf("unexpected instruction %q", got)
	}
}

func TestInstruction_Default(t *testing.T) {
	got, err := NewInstructionFromText("").Resolve(newTestInstructionContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "You are Ada, acting as the researcher in a small team of agents.\nYour expertise: markets, pricing.\nAnswer concisely and build on what the others said instead of repeating it."
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestInstruction_NewInstructionFromFunc(t *testing.T) {
	inst := NewInstructionFromFunc(func(ic InstructionContext) (string, error) { return "dynamic for " + ic.Agent.Name, nil })
	if inst.IsStatic() {
		t.Fatalf("expected dynamic instruction")
	}
	got, err := inst.Resolve(newTestInstructionContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "dynamic for Ada" {
		t.Fatalf("unexpected instruction %q", got)
	}
}

func TestInstruction_ProviderError(t *testing.T) {
	inst := NewInstructionFromProvider(mockProvider{err: errors.New("boom")})
	if _, err := inst.Resolve(newTestInstructionContext()); err == nil {
		t.Fatalf("expected error from provider")
	}
}
