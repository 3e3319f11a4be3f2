package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/atlasforge/core"
	"github.com/hupe1980/atlasforge/internal/util"
	"github.com/hupe1980/atlasforge/logging"
	"github.com/hupe1980/atlasforge/model"
)

// contextTurns is how many memory records a model agent replays as context.
const contextTurns = 6

// ModelHandler answers questions and tasks with text from a model (usually
// the backend router). Responses are not answered, which keeps two model
// agents from replying to each other forever.
type ModelHandler struct {
	spec        Spec
	instruction Instruction
	model       model.Model
	memory      core.MemoryStore
	logger      logging.Logger
}

// NewModelHandler builds a model kind handler.
func NewModelHandler(spec Spec, deps Deps) (*ModelHandler, error) {
	if deps.Model == nil {
		return nil, errors.New("model agent requires a model")
	}
	return &ModelHandler{
		spec:        spec,
		instruction: NewInstructionFromText(spec.Instructions),
		model:       deps.Model,
		memory:      deps.Memory,
		logger:      logging.Ensure(deps.Logger),
	}, nil
}

// HandleMessage implements MessageHandler.
func (h *ModelHandler) HandleMessage(ctx context.Context, rt *Runtime, msg core.Message) error {
	if msg.Type == core.MessageResponse {
		return nil
	}
	return h.reply(ctx, rt, msg, nil)
}

func (h *ModelHandler) reply(ctx context.Context, rt *Runtime, msg core.Message, extra []string) error {
	system, err := h.instruction.Resolve(InstructionContext{Agent: rt.Descriptor(), Expertise: h.spec.Expertise, Message: msg})
	if err != nil {
		return fmt.Errorf("render instruction: %w", err)
	}

	req := model.Request{
		System:  system,
		Prompt:  msg.Content,
		Context: append(extra, transcript(rt.Memory(), msg.ID, contextTurns)...),
		Intent:  model.IntentChat,
	}
	text, usage, err := model.Collect(ctx, h.model, req)
	if err != nil {
		return fmt.Errorf("generate reply: %w", err)
	}

	md := replyMetadata(msg)
	if usage != nil && usage.TotalTokens > 0 {
		md[core.MetaTokens] = usage.TotalTokens
	} else {
		md[core.MetaTokens] = model.EstimateTokens(text)
	}
	if _, err := rt.SendMessage(ctx, msg.From, core.MessageResponse, text, md); err != nil {
		return err
	}

	if h.memory != nil {
		note := fmt.Sprintf("Q: %s\nA: %s", util.Truncate(msg.Content, 200), util.Truncate(text, 400))
		if _, err := h.memory.AppendAgentMemory(ctx, rt.ID(), note, false); err != nil {
			h.logger.Warn("agent memory not stored", "agent_id", rt.ID(), "error", err)
		}
	}
	return nil
}

// RAGHandler is a model agent that first searches the memory store for the
// incoming content and passes the hits as context.
type RAGHandler struct {
	*ModelHandler
	limit int
}

// NewRAGHandler builds a rag kind handler.
func NewRAGHandler(spec Spec, deps Deps) (*RAGHandler, error) {
	if deps.Memory == nil {
		return nil, errors.New("rag agent requires a memory store")
	}
	mh, err := NewModelHandler(spec, deps)
	if err != nil {
		return nil, err
	}
	return &RAGHandler{ModelHandler: mh, limit: 3}, nil
}

// HandleMessage implements MessageHandler.
func (h *RAGHandler) HandleMessage(ctx context.Context, rt *Runtime, msg core.Message) error {
	if msg.Type == core.MessageResponse {
		return nil
	}
	hits, err := h.memory.Search(ctx, msg.Content, h.limit)
	if err != nil {
		h.logger.Warn("memory search failed", "agent_id", rt.ID(), "error", err)
	}
	extra := make([]string, 0, len(hits))
	for _, e := range hits {
		extra = append(extra, "Retrieved: "+e.Content)
	}
	return h.reply(ctx, rt, msg, extra)
}

// EchoHandler replies to questions and tasks with the received content.
// Useful for diagnostics and wiring tests.
type EchoHandler struct{}

// HandleMessage implements MessageHandler.
func (EchoHandler) HandleMessage(ctx context.Context, rt *Runtime, msg core.Message) error {
	if msg.Type == core.MessageResponse {
		return nil
	}
	_, err := rt.SendMessage(ctx, msg.From, core.MessageResponse, msg.Content, replyMetadata(msg))
	return err
}

// replyMetadata carries the conversation thread over to a reply.
func replyMetadata(msg core.Message) map[string]any {
	md := map[string]any{}
	if thread, ok := msg.MetaString(core.MetaThread); ok {
		md[core.MetaThread] = thread
	}
	return md
}

// transcript renders up to n memory records (excluding skipID) as context lines.
func transcript(records []Record, skipID string, n int) []string {
	lines := make([]string, 0, n)
	for i := len(records) - 1; i >= 0 && len(lines) < n; i-- {
		m := records[i].Message
		if m.ID == skipID {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s -> %s: %s", m.From, m.To, strings.TrimSpace(m.Content)))
	}
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines
}
