package broker

import (
	"fmt"
	"sort"

	"github.com/hupe1980/atlasforge/core"
)

// Direction is the side of a link an agent reports activity for.
type Direction string

const (
	// Outgoing marks traffic from the reporting agent to the peer.
	Outgoing Direction = "outgoing"
	// Incoming marks traffic from the peer to the reporting agent.
	Incoming Direction = "incoming"
)

// Phase describes the kind of link activity.
type Phase string

const (
	// PhaseOpen activates a link until it is closed.
	PhaseOpen Phase = "open"
	// PhaseClose keeps the link active for one TTL and then lets it lapse.
	PhaseClose Phase = "close"
	// PhasePulse is a one-off activation lasting one TTL.
	PhasePulse Phase = "pulse"
)

// LinkActivity reports traffic between an agent and a peer.
type LinkActivity struct {
	Peer      string
	Direction Direction
	Phase     Phase
	MessageID string
}

// StateUpdate is emitted by agent runtimes for talking toggles and link activity.
type StateUpdate struct {
	AgentID   string
	IsTalking *bool
	Link      *LinkActivity
}

// Graph is a point-in-time view of agents and links.
type Graph struct {
	Agents []core.AgentDescriptor `json:"agents"`
	Links  []core.LinkDescriptor  `json:"links"`
}

// EmitStateChange records a talking toggle and/or link activity for an agent.
func (b *Broker) EmitStateChange(update StateUpdate) error {
	b.mu.Lock()
	reg, ok := b.agents[update.AgentID]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", core.ErrAgentNotFound, update.AgentID)
	}

	var agent *core.AgentDescriptor
	if update.IsTalking != nil && reg.desc.IsTalking != *update.IsTalking {
		reg.desc.IsTalking = *update.IsTalking
		agent = ptr(reg.desc.Clone())
	}

	var (
		link    *core.LinkDescriptor
		created bool
		graph   Graph
	)
	if update.Link != nil && update.Link.Peer != "" {
		link, created = b.touchLinkLocked(update.AgentID, *update.Link)
		if created {
			graph = b.snapshotLocked()
		}
	}
	b.mu.Unlock()

	if agent != nil || link != nil {
		b.emit(Event{Kind: EventAgentState, Agent: agent, Link: link})
	}
	if created {
		b.emit(Event{Kind: EventGraph, Graph: &graph})
	}
	return nil
}

// touchLinkLocked updates (or creates) the link addressed by the activity and
// returns a copy of it.
func (b *Broker) touchLinkLocked(agentID string, act LinkActivity) (*core.LinkDescriptor, bool) {
	source, target := agentID, act.Peer
	if act.Direction == Incoming {
		source, target = act.Peer, agentID
	}
	id := core.LinkID(source, target)
	l, exists := b.links[id]
	if !exists {
		l = &core.LinkDescriptor{ID: id, Source: source, Target: target}
		b.links[id] = l
	}
	l.IsActive = true
	if act.MessageID != "" {
		l.LastMessageID = act.MessageID
	}
	switch act.Phase {
	case PhaseOpen:
		l.ActiveUntil = nil
	default:
		until := b.opts.Now().Add(b.opts.LinkTTL)
		l.ActiveUntil = &until
	}
	out := l.Clone()
	return &out, !exists
}

// GraphSnapshot returns all agents and links. Links whose activation window
// has elapsed are flipped to inactive in place before being returned.
func (b *Broker) GraphSnapshot() Graph {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Broker) snapshotLocked() Graph {
	now := b.opts.Now()
	links := make([]core.LinkDescriptor, 0, len(b.links))
	for _, l := range b.links {
		l.Expire(now)
		links = append(links, l.Clone())
	}
	sort.Slice(links, func(i, j int) bool { return links[i].ID < links[j].ID })
	return Graph{Agents: b.agentsLocked(), Links: links}
}
