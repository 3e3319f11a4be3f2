package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/atlasforge/core"
)

// InMemoryStore is a naive process local MemoryStore.
//
// Concurrency: protected by RWMutex. Returned entries are copies.
// Search: keyword overlap ranking over all entries. Suitable for tests,
// demos and single-run CLI sessions; use SQLiteStore to keep notes across runs.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []core.MemoryEntry
	now     func() time.Time
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{now: time.Now}
}

// AppendAgentMemory stores a note owned by agentID.
func (m *InMemoryStore) AppendAgentMemory(_ context.Context, agentID, text string, promote bool) (core.MemoryEntry, error) {
	if strings.TrimSpace(text) == "" {
		return core.MemoryEntry{}, core.ErrEmptyContent
	}
	return m.append(core.MemoryEntry{Scope: core.MemoryScopeAgent, AgentID: agentID, Content: text, Promoted: promote}), nil
}

// AppendSharedMemory stores a note shared by the participants.
func (m *InMemoryStore) AppendSharedMemory(_ context.Context, text string, participantIDs []string) (core.MemoryEntry, error) {
	if strings.TrimSpace(text) == "" {
		return core.MemoryEntry{}, core.ErrEmptyContent
	}
	return m.append(core.MemoryEntry{Scope: core.MemoryScopeShared, Content: text, Participants: append([]string(nil), participantIDs...)}), nil
}

func (m *InMemoryStore) append(e core.MemoryEntry) core.MemoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = core.NewID()
	e.CreatedAt = m.now()
	m.entries = append(m.entries, e)
	return cloneEntry(e)
}

// Search returns up to limit entries ranked by keyword overlap with query.
func (m *InMemoryStore) Search(ctx context.Context, query string, limit int) ([]core.MemoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return rank(m.Entries(), query, limit), nil
}

// Entries returns every stored entry in insertion order.
func (m *InMemoryStore) Entries() []core.MemoryEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.MemoryEntry, len(m.entries))
	for i, e := range m.entries {
		out[i] = cloneEntry(e)
	}
	return out
}

// Shared returns the shared entries in insertion order.
func (m *InMemoryStore) Shared() []core.MemoryEntry {
	var out []core.MemoryEntry
	for _, e := range m.Entries() {
		if e.Scope == core.MemoryScopeShared {
			out = append(out, e)
		}
	}
	return out
}

// Delete removes an entry by id.
func (m *InMemoryStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.entries {
		if e.ID == id {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return nil
		}
	}
	return errors.New("memory not found")
}

func cloneEntry(e core.MemoryEntry) core.MemoryEntry {
	e.Participants = append([]string(nil), e.Participants...)
	return e
}
