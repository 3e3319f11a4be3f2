package governor

import (
	"context"
	"sort"
	"sync"

	"github.com/hupe1980/atlasforge/core"
	"github.com/hupe1980/atlasforge/logging"
)

// Comms holds the communication switches a Guard honours.
type Comms struct {
	// Disabled vetoes every governed message.
	Disabled bool
}

// GuardOptions configures a Guard.
type GuardOptions struct {
	Comms  Comms
	Logger logging.Logger
}

// Guard admits or vetoes outgoing messages using a Governor. It implements
// the runtime's Governance capability.
type Guard struct {
	gov    *Governor
	comms  Comms
	logger logging.Logger

	mu     sync.Mutex
	states map[string]*State
}

// NewGuard wraps gov.
func NewGuard(gov *Governor, optFns ...func(o *GuardOptions)) *Guard {
	opts := GuardOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Guard{
		gov:    gov,
		comms:  opts.Comms,
		logger: logging.Ensure(opts.Logger),
		states: make(map[string]*State),
	}
}

// ThreadKey returns the governance thread of msg: the thread metadata when
// present, otherwise the unordered sender/recipient pair.
func ThreadKey(msg core.Message) string {
	if thread, ok := msg.MetaString(core.MetaThread); ok {
		return thread
	}
	pair := []string{msg.From, msg.To}
	sort.Strings(pair)
	return pair[0] + "|" + pair[1]
}

// State returns (creating on demand) the state of a thread.
func (g *Guard) State(thread string) *State {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.states[thread]
	if !ok {
		st = g.gov.NewState()
		g.states[thread] = st
	}
	return st
}

// Reset forgets the state of a thread.
func (g *Guard) Reset(thread string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.states, thread)
}

// Threads returns the number of threads with live state.
func (g *Guard) Threads() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.states)
}

// Admit evaluates msg and returns a *core.GovernedRejectionError when it must
// not be published. Embedding failures are returned as is.
func (g *Guard) Admit(ctx context.Context, msg core.Message) error {
	thread := ThreadKey(msg)
	if g.comms.Disabled {
		return &core.GovernedRejectionError{Verdict: "disabled", Thread: thread}
	}
	if msg.MetaBool(core.MetaGovernanceExempt) {
		return nil
	}

	st := g.State(thread)
	out, err := g.gov.Evaluate(ctx, st, msg.Content)
	if err != nil {
		g.logger.Error("Governance evaluation failed", "thread", thread, "error", err)
		return err
	}

	if fl, ok := g.logger.(*logging.ForgeLogger); ok {
		fl.LogGovernance(thread, string(out.Verdict), out.Similarity, out.CycleCount)
	} else if out.Verdict != VerdictPass {
		g.logger.Warn("Governance verdict", "thread", thread, "verdict", out.Verdict, "similarity", out.Similarity, "cycle_count", out.CycleCount)
	}

	switch out.Verdict {
	case VerdictComplete:
		if _, pending := st.PendingKeyFor(); !pending {
			st.SetPendingKeyFor(msg.From)
		}
		return &core.GovernedRejectionError{Verdict: string(out.Verdict), Similarity: out.Similarity, Thread: thread}
	case VerdictSuppressed:
		return &core.GovernedRejectionError{Verdict: string(out.Verdict), Similarity: out.Similarity, Thread: thread}
	default:
		return nil
	}
}
