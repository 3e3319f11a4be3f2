package core

import "sort"

// AgentDescriptor is the broker registry entry for one agent. It is created on
// registration, mutated by the owning runtime (connection changes, talking
// toggles) and destroyed on unregistration.
//
// Connections never contain the descriptor's own ID and hold no duplicates;
// use Normalize after any direct mutation.
type AgentDescriptor struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	Kind        string   `json:"kind,omitempty"`
	Connections []string `json:"connections"`
	IsTalking   bool     `json:"isTalking"`
}

// Normalize removes self references, blanks and duplicates from Connections
// and sorts them for stable snapshots.
func (d *AgentDescriptor) Normalize() {
	d.Connections = NormalizeConnections(d.ID, d.Connections)
}

// Clone returns a deep copy of the descriptor.
func (d AgentDescriptor) Clone() AgentDescriptor {
	d.Connections = append([]string(nil), d.Connections...)
	return d
}

// HasConnection reports whether peer is one of the descriptor's connections.
func (d AgentDescriptor) HasConnection(peer string) bool {
	for _, c := range d.Connections {
		if c == peer {
			return true
		}
	}
	return false
}

// AgentPatch describes a partial descriptor update. Nil fields are left untouched.
type AgentPatch struct {
	Name        *string
	Role        *string
	Connections []string
	// SetConnections distinguishes "replace with empty set" from "leave alone".
	SetConnections bool
	IsTalking      *bool
}

// Apply returns a copy of d with the patch applied and normalised.
func (p AgentPatch) Apply(d AgentDescriptor) AgentDescriptor {
	out := d.Clone()
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.Role != nil {
		out.Role = *p.Role
	}
	if p.SetConnections {
		out.Connections = append([]string(nil), p.Connections...)
	}
	if p.IsTalking != nil {
		out.IsTalking = *p.IsTalking
	}
	out.Normalize()
	return out
}

// NormalizeConnections returns the deduplicated, sorted connection set of
// self with self references and empty ids removed.
func NormalizeConnections(self string, conns []string) []string {
	seen := make(map[string]struct{}, len(conns))
	out := make([]string, 0, len(conns))
	for _, c := range conns {
		if c == "" || c == self {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// StringPtr returns a pointer to s. Useful for patches.
func StringPtr(s string) *string { return &s }

// BoolPtr returns a pointer to b. Useful for patches.
func BoolPtr(b bool) *bool { return &b }
