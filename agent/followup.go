package agent

import (
	"context"
	"errors"

	"github.com/hupe1980/atlasforge/core"
)

// FollowUp is a send the agent decided on but has not performed yet.
type FollowUp struct {
	To       string
	Type     core.MessageType
	Content  string
	Metadata map[string]any
}

// QueueFollowUp enqueues f and starts the background flush if none is in
// flight. Follow-ups are sent strictly in submission order.
func (r *Runtime) QueueFollowUp(f FollowUp) {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return
	}
	r.followUps = append(r.followUps, f)
	start := !r.flushing
	r.flushing = true
	if start {
		r.wg.Add(1)
	}
	r.mu.Unlock()

	if start {
		go func() {
			defer r.wg.Done()
			if err := r.drainFollowUps(r.ctx, true); err != nil {
				r.logger.Warn("follow-up flush failed", "agent_id", r.id, "error", err)
			}
		}()
	}
}

// PendingFollowUps returns the number of queued follow-ups.
func (r *Runtime) PendingFollowUps() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.followUps)
}

// FlushFollowUps synchronously sends every queued follow-up. Failed sends are
// logged, skipped and reported as a joined error.
func (r *Runtime) FlushFollowUps(ctx context.Context) error {
	return r.drainFollowUps(ctx, false)
}

func (r *Runtime) drainFollowUps(ctx context.Context, background bool) error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	var errs []error
	for {
		r.mu.Lock()
		if len(r.followUps) == 0 {
			if background {
				r.flushing = false
			}
			r.mu.Unlock()
			return errors.Join(errs...)
		}
		f := r.followUps[0]
		r.followUps = r.followUps[1:]
		r.mu.Unlock()

		if _, err := r.SendMessage(ctx, f.To, f.Type, f.Content, f.Metadata); err != nil {
			r.logger.Warn("follow-up not sent", "agent_id", r.id, "to", f.To, "error", err)
			errs = append(errs, err)
		}
	}
}
