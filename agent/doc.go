// Package agent contains the per-agent concurrency wrapper (Runtime) and the
// built-in agent kinds.
//
// A Runtime owns exactly one inbound Queue drained by exactly one consumption
// loop. Every message is processed inside a bracket that marks the agent as
// talking and opens the incoming link before the MessageHandler runs, then
// clears both afterwards, even when the handler fails or panics.
//
// Agent behavior is supplied through the MessageHandler capability interface.
// Handlers that also implement Thinker override the periodic autonomy hook.
// Kinds (model, rag, echo) are created through a Registry keyed by kind name.
//
// Design principles:
//   - No ambient state: the broker, governance and model are injected
//   - Sends go through governance before publication
//   - Follow-ups preserve submission order per agent
//   - Disposal is idempotent and unblocks the consumption loop
package agent
