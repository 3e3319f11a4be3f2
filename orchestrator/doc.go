// Package orchestrator drives a bounded multi-agent debate to a final answer.
//
// A session picks a coordinator plus a few relevant participants, then
// repeatedly asks the current speaker for a turn, publishes it through the
// speaker's agent runtime and hands the floor to whoever the speaker
// delegated to. A fairness check halts sessions where one agent monopolises
// the floor or two agents ping-pong. Sessions that end without an answer for
// the caller get one forced summary turn from the coordinator.
//
// Run streams SessionEvents; RunSync blocks and returns a Result.
package orchestrator
