package agent

import (
	"github.com/hupe1980/atlasforge/core"
	"github.com/hupe1980/atlasforge/internal/util"
)

// InstructionContext is the data available to instruction templates and providers.
type InstructionContext struct {
	Agent     core.AgentDescriptor
	Expertise []string
	Message   core.Message
	Extra     map[string]any
}

// Provider supplies dynamic instruction text at runtime.
type Provider interface {
	Instruction(ic InstructionContext) (string, error)
}

// Func is a functional adapter to allow ordinary functions to be used as Providers.
type Func func(ic InstructionContext) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(ic InstructionContext) (string, error) { return f(ic) }

// Instruction represents either a static template or a dynamic provider.
// Static text may reference the context, e.g. "You are {{.Agent.Name}}".
type Instruction struct {
	text     string
	provider Provider
}

// DefaultInstruction is used when an agent spec carries no instructions.
const DefaultInstruction = `You are {{.Agent.Name}}, acting as the {{.Agent.Role}} in a small team of agents.
{{- if .Expertise}}
Your expertise: {{join ", " .Expertise}}.
{{- end}}
Answer concisely and build on what the others said instead of repeating it.`

// NewInstructionFromText creates an Instruction from a static template.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(ic InstructionContext) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

// IsStatic returns true if the instruction is backed by a static template.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// Resolve returns the instruction text, invoking the provider or rendering
// the template as needed.
func (i Instruction) Resolve(ic InstructionContext) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(ic)
	}
	text := i.text
	if text == "" {
		text = DefaultInstruction
	}
	return util.RenderTemplate(text, ic)
}
