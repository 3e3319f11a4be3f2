package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/atlasforge/agent"
	"github.com/hupe1980/atlasforge/broker"
	"github.com/hupe1980/atlasforge/core"
	"github.com/hupe1980/atlasforge/governor"
	"github.com/hupe1980/atlasforge/internal/util"
	"github.com/hupe1980/atlasforge/logging"
	"github.com/hupe1980/atlasforge/memory"
	"github.com/hupe1980/atlasforge/model"
	"github.com/hupe1980/atlasforge/router"
)

// Completer produces text for a request. *router.Router satisfies it.
type Completer interface {
	Complete(ctx context.Context, req model.Request) (router.Result, error)
}

// threadResetter is implemented by governance that keeps per-thread state,
// such as *governor.Guard.
type threadResetter interface {
	Reset(thread string)
}

// Options configures an Orchestrator.
type Options struct {
	// Broker carries every turn. A private broker is created when nil.
	Broker *broker.Broker
	// Memory receives promoted turns and final insights.
	Memory core.MemoryStore
	// Governance vets each turn before it is published.
	Governance agent.Governance
	// Roster lists the agents a session may select from. When empty the
	// roster is designed by the model for every prompt.
	Roster []agent.Spec
	// Coordinator names the roster agent that opens and closes the debate.
	Coordinator     string
	MaxParticipants int
	Limits          Limits
	// ContextTurns is how many recent turns each speaker sees.
	ContextTurns    int
	EventBufferSize int
	Logger          logging.Logger
}

// Orchestrator runs debates. Public methods are safe for concurrent use.
type Orchestrator struct {
	gen    Completer
	opts   Options
	broker *broker.Broker
	logger logging.Logger

	mu         sync.Mutex
	activeRuns map[string]context.CancelFunc
}

// New creates an Orchestrator on top of gen (usually the backend router).
func New(gen Completer, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		MaxParticipants: 4,
		Limits:          DefaultLimits(),
		ContextTurns:    8,
		EventBufferSize: 100,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	def := DefaultLimits()
	if opts.Limits.MaxTurns <= 0 {
		opts.Limits.MaxTurns = def.MaxTurns
	}
	if opts.Limits.MaxConsecutiveTurns <= 0 {
		opts.Limits.MaxConsecutiveTurns = def.MaxConsecutiveTurns
	}
	if opts.Limits.AlternationWindow <= 0 {
		opts.Limits.AlternationWindow = def.AlternationWindow
	}
	if opts.Limits.TurnSequenceCap < opts.Limits.AlternationWindow {
		opts.Limits.TurnSequenceCap = max(def.TurnSequenceCap, opts.Limits.AlternationWindow)
	}
	if opts.Limits.ShortTermCap <= 0 {
		opts.Limits.ShortTermCap = def.ShortTermCap
	}
	if opts.MaxParticipants < 2 {
		opts.MaxParticipants = 4
	}
	if opts.Broker == nil {
		opts.Broker = broker.New(func(bo *broker.Options) { bo.Logger = opts.Logger })
	}
	if opts.Memory == nil {
		opts.Memory = memory.NewInMemoryStore()
	}
	return &Orchestrator{
		gen:        gen,
		opts:       opts,
		broker:     opts.Broker,
		logger:     logging.Ensure(opts.Logger),
		activeRuns: make(map[string]context.CancelFunc),
	}
}

// Broker returns the broker sessions publish through.
func (o *Orchestrator) Broker() *broker.Broker { return o.broker }

// Run starts a session asynchronously. The event channel is closed when the
// session ends; a failure is delivered on the error channel.
func (o *Orchestrator) Run(ctx context.Context, prompt string) (string, <-chan SessionEvent, <-chan error, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", nil, nil, core.ErrEmptyContent
	}
	sess := newSession(core.NewID(), strings.TrimSpace(prompt), o.opts.Limits)

	events := make(chan SessionEvent, o.opts.EventBufferSize)
	errs := make(chan error, 1)

	ctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.activeRuns[sess.ID] = cancel
	o.mu.Unlock()

	go func() {
		defer func() {
			close(events)
			close(errs)
			cancel()
			o.mu.Lock()
			delete(o.activeRuns, sess.ID)
			o.mu.Unlock()
		}()

		emit := func(ev SessionEvent) {
			ev.SessionID = sess.ID
			ev.Timestamp = time.Now()
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		}

		res, err := o.runSession(ctx, sess, emit)
		if err != nil {
			errs <- fmt.Errorf("session %s failed: %w", sess.ID, err)
			return
		}
		emit(SessionEvent{Kind: EventSessionComplete, Result: res})
	}()

	return sess.ID, events, errs, nil
}

// RunSync runs a session to completion.
func (o *Orchestrator) RunSync(ctx context.Context, prompt string) (*Result, error) {
	_, events, errs, err := o.Run(ctx, prompt)
	if err != nil {
		return nil, err
	}
	var res *Result
	for ev := range events {
		if ev.Kind == EventSessionComplete {
			res = ev.Result
		}
	}
	if err := <-errs; err != nil {
		return nil, err
	}
	if res == nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("session ended without a result")
	}
	return res, nil
}

// Cancel stops a running session.
func (o *Orchestrator) Cancel(sessionID string) error {
	o.mu.Lock()
	cancel, ok := o.activeRuns[sessionID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	cancel()
	return nil
}

func (o *Orchestrator) sessionLogger(id string) logging.Logger {
	if fl, ok := o.logger.(*logging.ForgeLogger); ok {
		return fl.WithComponent("orchestrator").WithSession(id)
	}
	return o.logger
}

// roster returns the configured roster or asks the model for one.
func (o *Orchestrator) roster(ctx context.Context, prompt string, log logging.Logger) []agent.Spec {
	if len(o.opts.Roster) > 0 {
		return o.opts.Roster
	}
	specs, err := o.constructRoster(ctx, prompt)
	if err != nil {
		log.Warn("Roster construction failed, using default roster", "error", err)
		return DefaultRoster()
	}
	return specs
}

// spawn registers one runtime per participant plus one for the caller. The
// first spec is the coordinator.
func (o *Orchestrator) spawn(sess *Session, specs []agent.Spec, log logging.Logger) (*agent.Runtime, error) {
	passive := agent.HandlerFunc(func(context.Context, *agent.Runtime, core.Message) error { return nil })

	for i, spec := range specs {
		rt, err := agent.NewRuntime(o.broker, core.AgentDescriptor{Name: spec.Name, Role: spec.Role, Kind: spec.Kind}, passive, func(ro *agent.Options) {
			ro.Logger = log
			ro.Governance = o.opts.Governance
			ro.AutonomyInterval = 0
		})
		if err != nil {
			return nil, err
		}
		sess.addAgent(&DynamicAgent{
			ID:          rt.ID(),
			Spec:        spec,
			Coordinator: i == 0,
			runtime:     rt,
		})
	}

	caller, err := agent.NewRuntime(o.broker, core.AgentDescriptor{Name: core.CallerTopic, Role: "caller"}, agent.HandlerFunc(func(_ context.Context, _ *agent.Runtime, msg core.Message) error {
		log.Debug("Answer delivered to caller", "from", msg.From, "message_id", msg.ID)
		return nil
	}), func(ro *agent.Options) {
		ro.Logger = log
		ro.AutonomyInterval = 0
	})
	if err != nil {
		return nil, err
	}
	return caller, nil
}

func (o *Orchestrator) runSession(ctx context.Context, sess *Session, emit func(SessionEvent)) (*Result, error) {
	log := o.sessionLogger(sess.ID)
	start := time.Now()

	specs := selectAgents(sess.Prompt, o.roster(ctx, sess.Prompt, log), o.opts.Coordinator, o.opts.MaxParticipants)
	if len(specs) == 0 {
		return nil, errors.New("no agents available")
	}
	caller, err := o.spawn(sess, specs, log)
	defer func() {
		for _, rt := range sess.runtimes() {
			rt.Dispose()
		}
		if caller != nil {
			caller.Dispose()
		}
		if r, ok := o.opts.Governance.(threadResetter); ok {
			for _, thread := range sess.Threads() {
				r.Reset(thread)
			}
		}
	}()
	if err != nil {
		return nil, err
	}
	emit(SessionEvent{Kind: EventAgentsSelected, Agents: sess.Agents()})
	log.Info("Session started", "prompt", util.Truncate(sess.Prompt, 80), "agents", len(specs))

	var retrieved []string
	if hits, err := o.opts.Memory.Search(ctx, sess.Prompt, 3); err != nil {
		log.Warn("Memory search failed", "error", err)
	} else {
		for _, h := range hits {
			retrieved = append(retrieved, h.Content)
		}
	}

	coord := sess.coordinator()
	res := &Result{SessionID: sess.ID, Prompt: sess.Prompt}
	speaker := coord
	budget := core.NewBudget(o.opts.Limits.MaxTurns)

	for budget.Remaining() != 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if halt, reason := sess.guardTurnTaking(speaker, time.Now()); halt {
			res.Status, res.HaltReason = StatusHalted, reason
			log.Warn("Debate halted", "error", core.ErrFairnessHalt, "reason", reason, "speaker", speaker.Name())
			break
		}
		if err := budget.Increment(); err != nil {
			break
		}
		res.Turns = budget.Count()

		turnStart := time.Now()
		reply, gen, err := o.takeTurn(ctx, sess, speaker, res.Turns, retrieved)
		if err != nil {
			return nil, err
		}

		target, next := o.route(sess, speaker, reply)
		cm, err := o.publish(ctx, sess, speaker, target, caller, reply, gen, res.Turns, false)
		if rej, ok := core.IsGovernedRejection(err); ok {
			if rej.Verdict == string(governor.VerdictSuppressed) {
				log.Info("Turn suppressed as redundant", "speaker", speaker.Name(), "similarity", rej.Similarity)
				speaker = coord
				continue
			}
			res.Status, res.HaltReason = StatusHalted, HaltGovernor
			log.Warn("Debate halted by governance", "verdict", rej.Verdict, "speaker", speaker.Name())
			break
		}
		if err != nil {
			return nil, err
		}
		emit(SessionEvent{Kind: EventMessageAppended, Message: &cm})
		if fl, ok := log.(*logging.ForgeLogger); ok {
			fl.LogTurn(res.Turns, cm.FromName, cm.ToName, time.Since(turnStart))
		}

		sess.remember(speaker.ID, cm.Content)
		if reply.Remember {
			o.appendAgentMemory(ctx, speaker, cm.Content, emit, log)
		}

		if cm.Final {
			res.Status, res.Answer = StatusFinal, cm.Content
			break
		}
		speaker = next
	}

	if res.Status == "" {
		res.Status = StatusExhausted
		log.Info("Debate exhausted", "error", core.ErrBudgetExhausted, "turns", res.Turns)
	}
	if res.Status != StatusFinal {
		answer, err := o.summarize(ctx, sess, coord, caller, res.Turns+1, emit, log)
		if err != nil {
			return nil, err
		}
		res.Answer = answer
	}

	insight := fmt.Sprintf("Final insight for %q: %s", sess.Prompt, res.Answer)
	if entry, err := o.opts.Memory.AppendSharedMemory(ctx, insight, sess.participantIDs()); err != nil {
		log.Warn("Final insight not stored", "error", err)
	} else {
		res.SharedMemory = append(res.SharedMemory, entry)
		emit(SessionEvent{Kind: EventMemoryUpdated, Memory: &entry})
	}

	res.Agents = sess.Agents()
	res.Messages = sess.Messages()
	for _, m := range res.Messages {
		res.Tokens += m.Tokens
	}
	log.Info("Session complete", "status", res.Status, "turns", res.Turns, "duration", time.Since(start))
	return res, nil
}

// takeTurn asks the model for the speaker's next contribution.
func (o *Orchestrator) takeTurn(ctx context.Context, sess *Session, speaker *DynamicAgent, turn int, retrieved []string) (Reply, router.Result, error) {
	system, err := o.systemPrompt(speaker)
	if err != nil {
		return Reply{}, router.Result{}, err
	}
	history := sess.Messages()
	if speaker.Spec.Kind == agent.KindRAG && len(history) > 0 {
		if hits, err := o.opts.Memory.Search(ctx, history[len(history)-1].Content, 3); err == nil {
			for _, h := range hits {
				retrieved = append(retrieved, h.Content)
			}
		}
	}
	prompt, err := renderTurn(turnData{
		Prompt:       sess.Prompt,
		Participants: sess.Agents(),
		Notes:        sess.ShortTerm(speaker.ID),
		Retrieved:    retrieved,
		Turn:         turn,
		MaxTurns:     o.opts.Limits.MaxTurns,
		Coordinator:  speaker.Coordinator,
	})
	if err != nil {
		return Reply{}, router.Result{}, fmt.Errorf("render turn prompt: %w", err)
	}

	gen, err := o.gen.Complete(ctx, model.Request{
		System:  system,
		Prompt:  prompt,
		Context: transcriptLines(history, o.opts.ContextTurns),
		Intent:  model.IntentDebateTurn,
	})
	if err != nil {
		return Reply{}, router.Result{}, err
	}

	names := make([]string, 0)
	for _, a := range sess.Agents() {
		names = append(names, a.Name())
	}
	reply := parseReply(gen.Text, names)
	if strings.TrimSpace(reply.Message) == "" {
		reply.Message = "I have nothing to add."
	}
	return reply, gen, nil
}

func (o *Orchestrator) systemPrompt(speaker *DynamicAgent) (string, error) {
	instr := agent.NewInstructionFromText(speaker.Spec.Instructions)
	text, err := instr.Resolve(agent.InstructionContext{Agent: speaker.runtime.Descriptor(), Expertise: speaker.Spec.Expertise})
	if err != nil {
		return "", fmt.Errorf("render instruction: %w", err)
	}
	return text + "\n\n" + replyFormat(), nil
}

// route resolves the recipient of a turn (nil for the caller) and the next
// speaker: delegate, then recipient, then coordinator. A speaker may name
// itself as the next speaker.
func (o *Orchestrator) route(sess *Session, speaker *DynamicAgent, reply Reply) (*DynamicAgent, *DynamicAgent) {
	if reply.Final || isCaller(reply.To) {
		return nil, nil
	}
	next := sess.lookup(reply.Delegate)
	if next == nil {
		next = sess.lookup(reply.To)
	}
	if next == nil {
		next = sess.coordinator()
	}
	// self-addressed turns go to another participant
	target := sess.lookup(reply.To)
	if target == nil || target.ID == speaker.ID {
		target = next
	}
	if target.ID == speaker.ID {
		if other := sess.otherThan(speaker); other != nil {
			target = other
		}
	}
	return target, next
}

// publish sends a turn through the speaker's runtime and records it.
func (o *Orchestrator) publish(ctx context.Context, sess *Session, speaker, target *DynamicAgent, caller *agent.Runtime, reply Reply, gen router.Result, turn int, summary bool) (ConversationMessage, error) {
	tokens := model.EstimateTokens(reply.Message)
	if gen.Usage != nil && gen.Usage.TotalTokens > 0 {
		tokens = gen.Usage.TotalTokens
	}
	md := map[string]any{
		core.MetaTokens:  tokens,
		core.MetaBackend: string(gen.Backend),
	}

	final := target == nil
	toID, toName := caller.ID(), core.CallerTopic
	typ := core.MessageResponse
	if !final {
		toID, toName = target.ID, target.Name()
		typ = core.MessageQuestion
		if reply.Delegate != "" {
			typ = core.MessageTask
			md[core.MetaDelegate] = target.Name()
			if d := sess.lookup(reply.Delegate); d != nil {
				md[core.MetaDelegate] = d.Name()
			}
		}
	}
	md[core.MetaThread] = sess.thread(speaker.ID, toID)
	if summary {
		md[core.MetaGovernanceExempt] = true
	}

	msg, err := speaker.runtime.SendMessage(ctx, toID, typ, reply.Message, md)
	if err != nil {
		return ConversationMessage{}, err
	}
	cm := ConversationMessage{
		ID:        msg.ID,
		Turn:      turn,
		From:      speaker.ID,
		FromName:  speaker.Name(),
		To:        toID,
		ToName:    toName,
		Content:   msg.Content,
		Backend:   string(gen.Backend),
		Tokens:    tokens,
		Final:     final,
		Summary:   summary,
		Timestamp: msg.Timestamp,
	}
	sess.appendMessage(cm)
	return cm, nil
}

// summarize runs the forced summary turn. It bypasses the fairness check and
// is exempt from governance.
func (o *Orchestrator) summarize(ctx context.Context, sess *Session, coord *DynamicAgent, caller *agent.Runtime, turn int, emit func(SessionEvent), log logging.Logger) (string, error) {
	system, err := o.systemPrompt(coord)
	if err != nil {
		return "", err
	}
	prompt, err := renderSummary(sess.Prompt)
	if err != nil {
		return "", err
	}
	gen, err := o.gen.Complete(ctx, model.Request{
		System:  system,
		Prompt:  prompt,
		Context: transcriptLines(sess.Messages(), 0),
		Intent:  model.IntentSummary,
	})
	if err != nil {
		return "", err
	}

	names := make([]string, 0)
	for _, a := range sess.Agents() {
		names = append(names, a.Name())
	}
	reply := parseReply(gen.Text, names)
	if strings.TrimSpace(reply.Message) == "" {
		reply.Message = sess.Prompt
	}
	reply.To, reply.Final = core.CallerTopic, true

	cm, err := o.publish(ctx, sess, coord, nil, caller, reply, gen, turn, true)
	if err != nil {
		// the summary is the answer even when it cannot be delivered
		log.Warn("Summary not published", "error", err)
		return reply.Message, nil
	}
	emit(SessionEvent{Kind: EventMessageAppended, Message: &cm})
	return cm.Content, nil
}

func (o *Orchestrator) appendAgentMemory(ctx context.Context, speaker *DynamicAgent, text string, emit func(SessionEvent), log logging.Logger) {
	entry, err := o.opts.Memory.AppendAgentMemory(ctx, speaker.ID, text, true)
	if err != nil {
		log.Warn("Agent memory not stored", "agent_id", speaker.ID, "error", err)
		return
	}
	emit(SessionEvent{Kind: EventMemoryUpdated, Memory: &entry})
}
