package broker

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/atlasforge/core"
	"github.com/hupe1980/atlasforge/logging"
)

// Mailbox receives messages delivered by the broker. Receive must not block;
// agent runtimes enqueue and return.
type Mailbox interface {
	Receive(msg core.Message)
}

// MailboxFunc adapts a function to the Mailbox interface.
type MailboxFunc func(msg core.Message)

// Receive implements Mailbox.
func (f MailboxFunc) Receive(msg core.Message) { f(msg) }

// Options configures a Broker.
type Options struct {
	Logger logging.Logger
	// LinkTTL is how long a link stays active after a close or pulse.
	LinkTTL time.Duration
	// Now is the clock, injectable for tests.
	Now func() time.Time
}

// Usage is a snapshot of the token counters.
type Usage struct {
	Total    int            `json:"total"`
	PerAgent map[string]int `json:"perAgent"`
}

type registration struct {
	desc    core.AgentDescriptor
	mailbox Mailbox
	aliases map[string]struct{} // explicit aliases, normalised
}

// Broker routes messages between registered agents. The zero value is not
// usable; construct with New.
type Broker struct {
	opts   Options
	logger logging.Logger

	mu        sync.Mutex
	agents    map[string]*registration
	index     map[string]map[string]struct{} // topic -> agent ids
	links     map[string]*core.LinkDescriptor
	history   []core.Message
	total     int
	perAgent  map[string]int
	observers observers
}

// New creates a Broker.
func New(optFns ...func(o *Options)) *Broker {
	opts := Options{
		LinkTTL: core.DefaultLinkTTL,
		Now:     time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LinkTTL <= 0 {
		opts.LinkTTL = core.DefaultLinkTTL
	}
	return &Broker{
		opts:     opts,
		logger:   logging.Ensure(opts.Logger),
		agents:   make(map[string]*registration),
		index:    make(map[string]map[string]struct{}),
		links:    make(map[string]*core.LinkDescriptor),
		perAgent: make(map[string]int),
	}
}

// Register adds an agent. An empty ID is assigned; mailbox may be nil for
// agents that only publish.
func (b *Broker) Register(desc core.AgentDescriptor, mailbox Mailbox) (core.AgentDescriptor, error) {
	if desc.ID == "" {
		desc.ID = core.NewID()
	}
	desc = desc.Clone()
	desc.Normalize()

	b.mu.Lock()
	if _, exists := b.agents[desc.ID]; exists {
		b.mu.Unlock()
		return core.AgentDescriptor{}, fmt.Errorf("%w: %s", core.ErrAgentExists, desc.ID)
	}
	reg := &registration{desc: desc, mailbox: mailbox, aliases: map[string]struct{}{}}
	b.agents[desc.ID] = reg
	b.reindexLocked(desc.ID, nil, reg.topics())
	graph := b.snapshotLocked()
	b.mu.Unlock()

	b.logger.Debug("agent registered", "agent_id", desc.ID, "name", desc.Name, "role", desc.Role)
	b.emit(Event{Kind: EventAgentState, Agent: ptr(desc.Clone())})
	b.emit(Event{Kind: EventGraph, Graph: &graph})
	return desc.Clone(), nil
}

// Update applies a patch to a registered agent and incrementally updates the
// subscriber index for the topics that changed.
func (b *Broker) Update(agentID string, patch core.AgentPatch) (core.AgentDescriptor, error) {
	b.mu.Lock()
	reg, ok := b.agents[agentID]
	if !ok {
		b.mu.Unlock()
		return core.AgentDescriptor{}, fmt.Errorf("%w: %s", core.ErrAgentNotFound, agentID)
	}
	before := reg.topics()
	reg.desc = patch.Apply(reg.desc)
	b.reindexLocked(agentID, before, reg.topics())
	out := reg.desc.Clone()
	topologyChanged := patch.Name != nil || patch.Role != nil || patch.SetConnections
	var graph Graph
	if topologyChanged {
		graph = b.snapshotLocked()
	}
	b.mu.Unlock()

	b.emit(Event{Kind: EventAgentState, Agent: ptr(out.Clone())})
	if topologyChanged {
		b.emit(Event{Kind: EventGraph, Graph: &graph})
	}
	return out, nil
}

// Unregister removes an agent, its subscriptions and every link touching it.
func (b *Broker) Unregister(agentID string) error {
	b.mu.Lock()
	reg, ok := b.agents[agentID]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", core.ErrAgentNotFound, agentID)
	}
	b.reindexLocked(agentID, reg.topics(), nil)
	delete(b.agents, agentID)
	for id, l := range b.links {
		if l.Source == agentID || l.Target == agentID {
			delete(b.links, id)
		}
	}
	graph := b.snapshotLocked()
	b.mu.Unlock()

	b.logger.Debug("agent unregistered", "agent_id", agentID)
	b.emit(Event{Kind: EventGraph, Graph: &graph})
	return nil
}

// Publish validates, stamps and records a message, then delivers it to every
// subscriber of msg.To except the sender. A message that reaches nobody is
// still kept in history.
func (b *Broker) Publish(msg core.Message) (core.Message, error) {
	if err := msg.Validate(); err != nil {
		return core.Message{}, err
	}
	msg = msg.Clone()
	if msg.ID == "" {
		msg.ID = core.NewID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = b.opts.Now()
	}

	b.mu.Lock()
	recipients := b.resolveLocked(msg.To, msg.From)
	mailboxes := make([]Mailbox, 0, len(recipients))
	for _, id := range recipients {
		if mb := b.agents[id].mailbox; mb != nil {
			mailboxes = append(mailboxes, mb)
		}
	}
	b.history = append(b.history, msg)
	var usage *Usage
	if n, ok := msg.Tokens(); ok {
		b.total += n
		b.perAgent[msg.From] += n
		u := b.usageLocked()
		usage = &u
	}
	b.mu.Unlock()

	if len(recipients) == 0 {
		b.logger.Warn("message dropped", "message_id", msg.ID, "from", msg.From, "to", msg.To, "error", core.ErrUnknownSubscriber)
	} else {
		b.logger.Debug("message published", "message_id", msg.ID, "from", msg.From, "to", msg.To, "recipients", len(recipients))
	}

	b.emit(Event{Kind: EventMessage, Message: ptr(msg.Clone())})
	if usage != nil {
		b.emit(Event{Kind: EventTokenUsage, Usage: usage})
	}
	for _, mb := range mailboxes {
		mb.Receive(msg.Clone())
	}
	return msg.Clone(), nil
}

// ResolveSubscribers returns the sorted ids of agents subscribed to topic.
func (b *Broker) ResolveSubscribers(topic string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resolveLocked(topic, "")
}

// Agent returns the descriptor of a registered agent.
func (b *Broker) Agent(agentID string) (core.AgentDescriptor, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	reg, ok := b.agents[agentID]
	if !ok {
		return core.AgentDescriptor{}, false
	}
	return reg.desc.Clone(), true
}

// Agents returns all registered descriptors sorted by id.
func (b *Broker) Agents() []core.AgentDescriptor {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.agentsLocked()
}

// History returns a copy of every published message in publish order.
func (b *Broker) History() []core.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]core.Message, len(b.history))
	for i, m := range b.history {
		out[i] = m.Clone()
	}
	return out
}

// TokenUsage returns a snapshot of the token counters.
func (b *Broker) TokenUsage() Usage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.usageLocked()
}

func (b *Broker) usageLocked() Usage {
	per := make(map[string]int, len(b.perAgent))
	for k, v := range b.perAgent {
		per[k] = v
	}
	return Usage{Total: b.total, PerAgent: per}
}

func (b *Broker) agentsLocked() []core.AgentDescriptor {
	out := make([]core.AgentDescriptor, 0, len(b.agents))
	for _, reg := range b.agents {
		out = append(out, reg.desc.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func ptr[T any](v T) *T { return &v }

// topicKey normalises topics so aliases match regardless of case and padding.
func topicKey(topic string) string {
	return strings.ToLower(strings.TrimSpace(topic))
}
