// Package core provides the foundational domain types, sentinel errors and
// narrow collaborator contracts shared by every atlasforge component. It
// defines the core abstractions for:
//
//   - Messages (immutable units routed by the broker between agents)
//   - Agent descriptors and patches (registry entries owned by a runtime)
//   - Link descriptors (live sender/receiver activity edges)
//   - Memory entries and the MemoryStore persistence contract
//   - Budgets (bounded counters such as the debate turn limit)
//
// The package intentionally keeps implementation concerns (routing, agent
// loops, orchestration, model backends) out of scope, exposing small types
// and interfaces so the concrete packages can depend on it without cycles.
package core
