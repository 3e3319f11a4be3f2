package testutil

import (
	"time"

	"github.com/hupe1980/atlasforge/core"
)

// MessageBuilder provides a fluent helper for constructing messages in tests.
// Example:
//
//	msg := NewMessageBuilder().From("a").To("b").Content("hello").Tokens(3).Build()
//
// Chain only the parts you need; sensible defaults are applied.
type MessageBuilder struct {
	msg core.Message
}

// NewMessageBuilder creates a builder for a question from "sender" to "receiver".
func NewMessageBuilder() *MessageBuilder {
	return &MessageBuilder{msg: core.Message{From: "sender", To: "receiver", Type: core.MessageQuestion, Content: "hello"}}
}

// ID sets an explicit message id (chainable).
func (b *MessageBuilder) ID(id string) *MessageBuilder { b.msg.ID = id; return b }

// From sets the sender (chainable).
func (b *MessageBuilder) From(id string) *MessageBuilder { b.msg.From = id; return b }

// To sets the topic (chainable).
func (b *MessageBuilder) To(topic string) *MessageBuilder { b.msg.To = topic; return b }

// Type sets the message type (chainable).
func (b *MessageBuilder) Type(t core.MessageType) *MessageBuilder { b.msg.Type = t; return b }

// Content sets the content (chainable).
func (b *MessageBuilder) Content(c string) *MessageBuilder { b.msg.Content = c; return b }

// Meta sets one metadata key (chainable).
func (b *MessageBuilder) Meta(k string, v any) *MessageBuilder {
	if b.msg.Metadata == nil {
		b.msg.Metadata = map[string]any{}
	}
	b.msg.Metadata[k] = v
	return b
}

// Tokens sets the token metadata (chainable).
func (b *MessageBuilder) Tokens(n any) *MessageBuilder { return b.Meta(core.MetaTokens, n) }

// Thread sets the thread metadata (chainable).
func (b *MessageBuilder) Thread(id string) *MessageBuilder { return b.Meta(core.MetaThread, id) }

// At sets the timestamp (chainable).
func (b *MessageBuilder) At(ts time.Time) *MessageBuilder { b.msg.Timestamp = ts; return b }

// Build returns a copy of the message.
func (b *MessageBuilder) Build() core.Message { return b.msg.Clone() }
