package broker

import (
	"sync"

	"github.com/hupe1980/atlasforge/core"
)

// EventKind identifies the stream an Event belongs to.
type EventKind string

const (
	// EventMessage carries a published message.
	EventMessage EventKind = "message"
	// EventAgentState carries a talking toggle and/or link activity.
	EventAgentState EventKind = "agent-state"
	// EventGraph carries a full graph snapshot after a topology change.
	EventGraph EventKind = "graph"
	// EventTokenUsage carries updated token counters.
	EventTokenUsage EventKind = "token-usage"
)

// Event is a broker notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind    EventKind
	Message *core.Message
	Agent   *core.AgentDescriptor
	Link    *core.LinkDescriptor
	Graph   *Graph
	Usage   *Usage
}

type observers struct {
	mu   sync.RWMutex
	next int
	subs map[int]chan Event
}

// Subscribe attaches an observer with the given channel buffer. The returned
// function detaches it and closes the channel; it is safe to call twice.
func (b *Broker) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Event, buffer)

	o := &b.observers
	o.mu.Lock()
	if o.subs == nil {
		o.subs = make(map[int]chan Event)
	}
	id := o.next
	o.next++
	o.subs[id] = ch
	o.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.subs, id)
			close(ch)
			o.mu.Unlock()
		})
	}
}

// emit fans an event out to every observer without blocking. Callers must
// not hold b.mu.
func (b *Broker) emit(ev Event) {
	o := &b.observers
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, ch := range o.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
