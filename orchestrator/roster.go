package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/atlasforge/agent"
	"github.com/hupe1980/atlasforge/internal/util"
	"github.com/hupe1980/atlasforge/model"
)

// RoleCoordinator marks the agent that opens and closes a debate.
const RoleCoordinator = "coordinator"

// DefaultRoster is used when no roster is configured and the model cannot
// design one.
func DefaultRoster() []agent.Spec {
	return []agent.Spec{
		{Name: "Coordinator", Role: RoleCoordinator, Kind: agent.KindModel, Expertise: []string{"planning", "synthesis", "delegation"}},
		{Name: "Researcher", Role: "researcher", Kind: agent.KindRAG, Expertise: []string{"research", "market", "data", "analysis"}},
		{Name: "Critic", Role: "critic", Kind: agent.KindModel, Expertise: []string{"risks", "review", "assumptions"}},
	}
}

const rosterSystem = `You design small teams of expert agents for a collaborative discussion.
Return only JSON: {"agents": [{"name": "...", "role": "...", "expertise": ["..."]}]}.
The first agent must have the role "coordinator". Use between 2 and {{.Max}} agents.`

// constructRoster asks the model for a roster tailored to prompt.
func (o *Orchestrator) constructRoster(ctx context.Context, prompt string) ([]agent.Spec, error) {
	system, err := util.RenderTemplate(rosterSystem, map[string]any{"Max": o.opts.MaxParticipants})
	if err != nil {
		return nil, err
	}
	res, err := o.gen.Complete(ctx, model.Request{
		System: system,
		Prompt: prompt,
		Intent: model.IntentAgentConstruction,
	})
	if err != nil {
		return nil, err
	}
	return parseRoster(res.Text)
}

// parseRoster accepts {"agents": [...]} or a bare array of agent specs.
func parseRoster(raw string) ([]agent.Spec, error) {
	body, ok := util.ExtractJSON(raw)
	if !ok {
		return nil, errors.New("roster reply contains no JSON")
	}
	var specs []agent.Spec
	if strings.HasPrefix(body, "[") {
		if err := json.Unmarshal([]byte(body), &specs); err != nil {
			return nil, fmt.Errorf("decode roster: %w", err)
		}
	} else {
		var wrapped struct {
			Agents []agent.Spec `json:"agents"`
		}
		if err := json.Unmarshal([]byte(body), &wrapped); err != nil {
			return nil, fmt.Errorf("decode roster: %w", err)
		}
		specs = wrapped.Agents
	}

	out := make([]agent.Spec, 0, len(specs))
	seen := map[string]bool{}
	for _, s := range specs {
		key := normalizeName(s.Name)
		if key == "" || seen[key] || isCaller(key) {
			continue
		}
		seen[key] = true
		if s.Role == "" {
			s.Role = strings.ToLower(s.Name)
		}
		out = append(out, s)
	}
	if len(out) < 2 {
		return nil, fmt.Errorf("roster needs at least two agents, got %d", len(out))
	}
	return out, nil
}

// selectAgents picks the coordinator and up to max-1 further agents ranked
// by keyword overlap between prompt and name, role and expertise. Ties keep
// roster order. The coordinator is returned first.
func selectAgents(prompt string, roster []agent.Spec, coordinator string, max int) []agent.Spec {
	if len(roster) == 0 {
		return nil
	}
	ci := coordinatorIndex(roster, coordinator)

	terms := util.Keywords(prompt)
	type ranked struct {
		spec  agent.Spec
		score int
	}
	others := make([]ranked, 0, len(roster)-1)
	for i, s := range roster {
		if i == ci {
			continue
		}
		profile := util.Keywords(strings.Join(append([]string{s.Name, s.Role}, s.Expertise...), " "))
		score := 0
		for _, t := range terms {
			for _, p := range profile {
				if strings.HasPrefix(p, t) || strings.HasPrefix(t, p) {
					score++
					break
				}
			}
		}
		others = append(others, ranked{spec: s, score: score})
	}
	sort.SliceStable(others, func(i, j int) bool { return others[i].score > others[j].score })

	if max <= 0 || max > len(roster) {
		max = len(roster)
	}
	out := []agent.Spec{roster[ci]}
	for _, r := range others {
		if len(out) >= max {
			break
		}
		out = append(out, r.spec)
	}
	return out
}

// coordinatorIndex finds the coordinator by name, then by role, else the first agent.
func coordinatorIndex(roster []agent.Spec, name string) int {
	if key := normalizeName(name); key != "" {
		for i, s := range roster {
			if normalizeName(s.Name) == key {
				return i
			}
		}
	}
	for i, s := range roster {
		if strings.Contains(strings.ToLower(s.Role), RoleCoordinator) {
			return i
		}
	}
	return 0
}
