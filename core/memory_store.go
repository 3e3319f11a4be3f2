package core

import (
	"context"
	"time"
)

// MemoryScope distinguishes private agent memory from debate-wide memory.
type MemoryScope string

const (
	// MemoryScopeAgent marks a note owned by a single agent.
	MemoryScopeAgent MemoryScope = "agent"
	// MemoryScopeShared marks a note shared by all debate participants.
	MemoryScopeShared MemoryScope = "shared"
)

// MemoryEntry is one persisted memory note.
type MemoryEntry struct {
	ID           string      `json:"id" yaml:"id"`
	Scope        MemoryScope `json:"scope" yaml:"scope"`
	AgentID      string      `json:"agentId,omitempty" yaml:"agentId,omitempty"`
	Content      string      `json:"content" yaml:"content"`
	Promoted     bool        `json:"promoted,omitempty" yaml:"promoted,omitempty"`
	Participants []string    `json:"participants,omitempty" yaml:"participants,omitempty"`
	CreatedAt    time.Time   `json:"createdAt" yaml:"createdAt"`
}

// MemoryStore persists agent and shared memory notes. Implementations can back
// Search with keywords, embeddings or any other heuristic; an empty query
// returns the most recent entries.
type MemoryStore interface {
	AppendAgentMemory(ctx context.Context, agentID, text string, promote bool) (MemoryEntry, error)
	AppendSharedMemory(ctx context.Context, text string, participantIDs []string) (MemoryEntry, error)
	Search(ctx context.Context, query string, limit int) ([]MemoryEntry, error)
}
