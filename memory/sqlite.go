package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/atlasforge/core"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const schema = `CREATE TABLE IF NOT EXISTS memory_entries (
	id           TEXT PRIMARY KEY,
	scope        TEXT NOT NULL,
	agent_id     TEXT NOT NULL DEFAULT '',
	content      TEXT NOT NULL,
	promoted     INTEGER NOT NULL DEFAULT 0,
	participants TEXT NOT NULL DEFAULT '[]',
	created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS memory_entries_created ON memory_entries(created_at);`

// searchWindow caps how many recent rows Search ranks.
const searchWindow = 500

// SQLiteStore persists memory entries in a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (and migrates) a SQLite store. dsn is a file path or
// ":memory:".
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps ":memory:" databases coherent and serialises writers
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate memory schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// AppendAgentMemory stores a note owned by agentID.
func (s *SQLiteStore) AppendAgentMemory(ctx context.Context, agentID, text string, promote bool) (core.MemoryEntry, error) {
	return s.insert(ctx, core.MemoryEntry{Scope: core.MemoryScopeAgent, AgentID: agentID, Content: text, Promoted: promote})
}

// AppendSharedMemory stores a note shared by the participants.
func (s *SQLiteStore) AppendSharedMemory(ctx context.Context, text string, participantIDs []string) (core.MemoryEntry, error) {
	return s.insert(ctx, core.MemoryEntry{Scope: core.MemoryScopeShared, Content: text, Participants: append([]string(nil), participantIDs...)})
}

func (s *SQLiteStore) insert(ctx context.Context, e core.MemoryEntry) (core.MemoryEntry, error) {
	if strings.TrimSpace(e.Content) == "" {
		return core.MemoryEntry{}, core.ErrEmptyContent
	}
	e.ID = core.NewID()
	e.CreatedAt = s.now().UTC()
	if e.Participants == nil {
		e.Participants = []string{}
	}
	participants, err := json.Marshal(e.Participants)
	if err != nil {
		return core.MemoryEntry{}, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memory_entries (id, scope, agent_id, content, promoted, participants, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Scope), e.AgentID, e.Content, boolToInt(e.Promoted), string(participants), e.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return core.MemoryEntry{}, fmt.Errorf("insert memory entry: %w", err)
	}
	return e, nil
}

// Search ranks the most recent entries by keyword overlap with query.
func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) ([]core.MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, scope, agent_id, content, promoted, participants, created_at FROM memory_entries ORDER BY created_at DESC LIMIT ?`,
		searchWindow,
	)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var entries []core.MemoryEntry
	for rows.Next() {
		var (
			e            core.MemoryEntry
			scope        string
			promoted     int
			participants string
			createdAt    string
		)
		if err := rows.Scan(&e.ID, &scope, &e.AgentID, &e.Content, &promoted, &participants, &createdAt); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		e.Scope = core.MemoryScope(scope)
		e.Promoted = promoted != 0
		if err := json.Unmarshal([]byte(participants), &e.Participants); err != nil {
			return nil, fmt.Errorf("decode participants: %w", err)
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("decode created_at: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rank(entries, query, limit), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
