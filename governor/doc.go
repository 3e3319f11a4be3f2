// Package governor detects conversational loops. A Governor compares each new
// message embedding with a short window of recent embeddings of the same
// thread and either lets it pass, suppresses it as redundant, or marks the
// thread complete once it has run for too many cycles.
//
// Guard adapts a Governor to the agent runtime's send path, keeping one State
// per conversation thread.
package governor
