package broker

import (
	"errors"
	"fmt"
	"sort"

	"github.com/hupe1980/atlasforge/core"
)

// topics returns the normalised topic set of a registration: own id,
// connections, name, role and explicit aliases.
func (r *registration) topics() map[string]struct{} {
	set := make(map[string]struct{}, 4+len(r.desc.Connections)+len(r.aliases))
	add := func(t string) {
		if k := topicKey(t); k != "" {
			set[k] = struct{}{}
		}
	}
	add(r.desc.ID)
	add(r.desc.Name)
	add(r.desc.Role)
	for _, c := range r.desc.Connections {
		add(c)
	}
	for a := range r.aliases {
		set[a] = struct{}{}
	}
	return set
}

// reindexLocked applies the difference between two topic sets for one agent.
// Only affected topics are touched.
func (b *Broker) reindexLocked(agentID string, before, after map[string]struct{}) {
	for t := range before {
		if _, keep := after[t]; keep {
			continue
		}
		if subs := b.index[t]; subs != nil {
			delete(subs, agentID)
			if len(subs) == 0 {
				delete(b.index, t)
			}
		}
	}
	for t := range after {
		if _, had := before[t]; had {
			continue
		}
		subs := b.index[t]
		if subs == nil {
			subs = make(map[string]struct{})
			b.index[t] = subs
		}
		subs[agentID] = struct{}{}
	}
}

func (b *Broker) resolveLocked(topic, exclude string) []string {
	subs := b.index[topicKey(topic)]
	out := make([]string, 0, len(subs))
	for id := range subs {
		if id == exclude {
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// RegisterTopicAlias subscribes agentID to an additional topic.
func (b *Broker) RegisterTopicAlias(agentID, alias string) error {
	key := topicKey(alias)
	if key == "" {
		return errors.New("alias must not be empty")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	reg, ok := b.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrAgentNotFound, agentID)
	}
	before := reg.topics()
	reg.aliases[key] = struct{}{}
	b.reindexLocked(agentID, before, reg.topics())
	return nil
}

// UnregisterTopicAlias removes an explicit alias. Topics derived from the
// descriptor (id, name, role, connections) stay subscribed.
func (b *Broker) UnregisterTopicAlias(agentID, alias string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	reg, ok := b.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrAgentNotFound, agentID)
	}
	before := reg.topics()
	delete(reg.aliases, topicKey(alias))
	b.reindexLocked(agentID, before, reg.topics())
	return nil
}
