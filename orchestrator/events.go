package orchestrator

import (
	"time"

	"github.com/hupe1980/atlasforge/core"
)

// EventKind names a session event.
type EventKind string

const (
	// EventAgentsSelected carries the participants once the roster is fixed.
	EventAgentsSelected EventKind = "agents-selected"
	// EventMessageAppended carries a published turn.
	EventMessageAppended EventKind = "message-appended"
	// EventMemoryUpdated carries a persisted memory entry.
	EventMemoryUpdated EventKind = "memory-updated"
	// EventSessionComplete carries the final Result.
	EventSessionComplete EventKind = "session-complete"
)

// SessionEvent is emitted on the Run event stream.
type SessionEvent struct {
	Kind      EventKind            `json:"kind"`
	SessionID string               `json:"sessionId"`
	Timestamp time.Time            `json:"timestamp"`
	Agents    []DynamicAgent       `json:"agents,omitempty"`
	Message   *ConversationMessage `json:"message,omitempty"`
	Memory    *core.MemoryEntry    `json:"memory,omitempty"`
	Result    *Result              `json:"result,omitempty"`
}

// Result is the outcome of a session.
type Result struct {
	SessionID    string                `json:"sessionId" yaml:"session_id" toml:"session_id"`
	Prompt       string                `json:"prompt" yaml:"prompt" toml:"prompt"`
	Answer       string                `json:"answer" yaml:"answer" toml:"answer"`
	Status       Status                `json:"status" yaml:"status" toml:"status"`
	HaltReason   string                `json:"haltReason,omitempty" yaml:"halt_reason,omitempty" toml:"halt_reason,omitempty"`
	Turns        int                   `json:"turns" yaml:"turns" toml:"turns"`
	Tokens       int                   `json:"tokens" yaml:"tokens" toml:"tokens"`
	Agents       []DynamicAgent        `json:"agents" yaml:"agents" toml:"agents"`
	Messages     []ConversationMessage `json:"messages" yaml:"messages" toml:"messages"`
	SharedMemory []core.MemoryEntry    `json:"sharedMemory,omitempty" yaml:"shared_memory,omitempty" toml:"shared_memory,omitempty"`
}
