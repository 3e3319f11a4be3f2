package core

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageType classifies the intent of a message exchanged between agents.
type MessageType string

const (
	// MessageQuestion asks the recipient for information or an opinion.
	MessageQuestion MessageType = "question"
	// MessageResponse answers a previous question or task.
	MessageResponse MessageType = "response"
	// MessageTask assigns work to the recipient.
	MessageTask MessageType = "task"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageQuestion, MessageResponse, MessageTask:
		return true
	default:
		return false
	}
}

// Well-known metadata keys understood by the coordination layer.
const (
	// MetaTokens carries the token count consumed to produce a message.
	MetaTokens = "tokens"
	// MetaThread groups messages into one governed conversation thread.
	MetaThread = "thread"
	// MetaGovernanceExempt marks a message that bypasses conversation governance.
	MetaGovernanceExempt = "governanceExempt"
	// MetaDelegate names the agent a speaker hands the floor to.
	MetaDelegate = "delegate"
	// MetaBackend records which generation backend produced the content.
	MetaBackend = "backend"
)

// CallerTopic is the display name used when an agent addresses the external caller.
const CallerTopic = "user"

// Message is the primary unit of communication between agents. After
// publication it should be treated as immutable; the broker keeps it in its
// history log for the lifetime of the process.
type Message struct {
	ID        string         `json:"id"`
	From      string         `json:"from"`
	To        string         `json:"to"`
	Type      MessageType    `json:"type"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewMessage builds an unpublished message. ID and Timestamp are assigned by
// the broker on publish.
func NewMessage(from, to string, typ MessageType, content string, metadata map[string]any) Message {
	return Message{
		From:     from,
		To:       to,
		Type:     typ,
		Content:  content,
		Metadata: CloneMetadata(metadata),
	}
}

// Validate checks the publish preconditions of a message.
func (m Message) Validate() error {
	if strings.TrimSpace(m.Content) == "" {
		return ErrEmptyContent
	}
	return nil
}

// Clone returns a copy of the message with an independent metadata map.
func (m Message) Clone() Message {
	m.Metadata = CloneMetadata(m.Metadata)
	return m
}

// MetaString returns the metadata value for key if it is a non-empty string.
func (m Message) MetaString(key string) (string, bool) {
	v, ok := m.Metadata[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// MetaBool returns the metadata value for key interpreted as a boolean.
func (m Message) MetaBool(key string) bool {
	v, ok := m.Metadata[key].(bool)
	return ok && v
}

// Tokens extracts a positive token count from the message metadata. Any
// malformed or non-positive value yields ok=false.
func (m Message) Tokens() (int, bool) {
	raw, ok := m.Metadata[MetaTokens]
	if !ok {
		return 0, false
	}
	var n float64
	switch v := raw.(type) {
	case int:
		n = float64(v)
	case int32:
		n = float64(v)
	case int64:
		n = float64(v)
	case float32:
		n = float64(v)
	case float64:
		n = v
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		n = f
	default:
		return 0, false
	}
	if n != n || int(n) <= 0 { // NaN or below one whole token
		return 0, false
	}
	return int(n), true
}

// CloneMetadata returns a shallow copy of a metadata bag (nil stays nil).
func CloneMetadata(md map[string]any) map[string]any {
	if md == nil {
		return nil
	}
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}

// NewID generates a new unique identifier for messages, sessions and memory entries.
func NewID() string { return uuid.NewString() }
