package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hupe1980/atlasforge/broker"
	"github.com/hupe1980/atlasforge/core"
	"github.com/hupe1980/atlasforge/logging"
)

// MessageHandler processes one inbound message. Errors are logged by the
// runtime and never stop the consumption loop.
type MessageHandler interface {
	HandleMessage(ctx context.Context, rt *Runtime, msg core.Message) error
}

// HandlerFunc adapts a function to the MessageHandler interface.
type HandlerFunc func(ctx context.Context, rt *Runtime, msg core.Message) error

// HandleMessage implements MessageHandler.
func (f HandlerFunc) HandleMessage(ctx context.Context, rt *Runtime, msg core.Message) error {
	return f(ctx, rt, msg)
}

// Thinker is implemented by handlers that originate unsolicited work on the
// autonomy timer. Without it the timer just flushes pending follow-ups.
type Thinker interface {
	Think(ctx context.Context, rt *Runtime) error
}

// Governance decides whether a message may be published. A veto is returned
// as an error wrapping core.ErrGovernedRejection.
type Governance interface {
	Admit(ctx context.Context, msg core.Message) error
}

// Direction distinguishes sent and received memory records.
type Direction string

const (
	// Sent marks a message published by the agent.
	Sent Direction = "send"
	// Received marks a message delivered to the agent.
	Received Direction = "receive"
)

// Record is one entry of an agent's rolling memory window.
type Record struct {
	Direction Direction
	Message   core.Message
}

// Options configures a Runtime.
type Options struct {
	Logger     logging.Logger
	Governance Governance
	// AutonomyInterval is the period of the think hook; zero disables it.
	AutonomyInterval time.Duration
	// MemoryLimit bounds the send/receive record window.
	MemoryLimit int
}

// Runtime wraps one agent: it registers with the broker, drains the inbound
// queue sequentially and publishes on the agent's behalf. All exported
// methods are goroutine-safe.
type Runtime struct {
	id      string
	broker  *broker.Broker
	handler MessageHandler
	opts    Options
	logger  logging.Logger
	queue   *Queue

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	looping   bool
	disposed  bool
	memory    []Record
	followUps []FollowUp
	flushing  bool
	teardowns []func()

	flushMu     sync.Mutex
	disposeOnce sync.Once
}

// NewRuntime registers desc with the broker and returns a ready runtime. The
// broker registration is removed on Dispose.
func NewRuntime(b *broker.Broker, desc core.AgentDescriptor, handler MessageHandler, optFns ...func(o *Options)) (*Runtime, error) {
	if b == nil {
		return nil, fmt.Errorf("agent runtime requires a broker")
	}
	if handler == nil {
		return nil, fmt.Errorf("agent runtime requires a message handler")
	}

	opts := Options{
		AutonomyInterval: 5 * time.Second,
		MemoryLimit:      200,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MemoryLimit <= 0 {
		opts.MemoryLimit = 200
	}

	if desc.ID == "" {
		desc.ID = core.NewID()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runtime{
		id:      desc.ID,
		broker:  b,
		handler: handler,
		opts:    opts,
		logger:  logging.Ensure(opts.Logger),
		queue:   NewQueue(),
		ctx:     ctx,
		cancel:  cancel,
	}

	if _, err := b.Register(desc, r); err != nil {
		cancel()
		return nil, err
	}
	r.OnTeardown(func() {
		if err := b.Unregister(r.id); err != nil {
			r.logger.Warn("unregister failed", "agent_id", r.id, "error", err)
		}
	})

	if opts.AutonomyInterval > 0 {
		r.wg.Add(1)
		go r.autonomy(opts.AutonomyInterval)
	}

	return r, nil
}

// ID returns the agent id.
func (r *Runtime) ID() string { return r.id }

// Broker returns the broker the runtime is registered with.
func (r *Runtime) Broker() *broker.Broker { return r.broker }

// Descriptor returns the current broker descriptor of the agent.
func (r *Runtime) Descriptor() core.AgentDescriptor {
	d, _ := r.broker.Agent(r.id)
	return d
}

// Receive enqueues msg and starts the consumption loop if it is not running.
// It implements broker.Mailbox and never blocks.
func (r *Runtime) Receive(msg core.Message) {
	if !r.queue.Push(msg) {
		r.logger.Debug("message dropped by disposed runtime", "agent_id", r.id, "message_id", msg.ID)
		return
	}
	r.startLoop()
}

func (r *Runtime) startLoop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.looping || r.disposed {
		return
	}
	r.looping = true
	r.wg.Add(1)
	go r.loop()
}

func (r *Runtime) loop() {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		r.looping = false
		r.mu.Unlock()
	}()
	for {
		msg, ok := r.queue.Next(r.ctx)
		if !ok {
			return
		}
		r.process(msg)
	}
}

// process runs the handler inside the talking/link bracket.
func (r *Runtime) process(msg core.Message) {
	r.remember(Received, msg)
	r.signal(true, &broker.LinkActivity{Peer: msg.From, Direction: broker.Incoming, Phase: broker.PhaseOpen, MessageID: msg.ID})
	defer r.signal(false, &broker.LinkActivity{Peer: msg.From, Direction: broker.Incoming, Phase: broker.PhaseClose, MessageID: msg.ID})

	start := time.Now()
	if err := r.invoke(msg); err != nil {
		r.logger.Error("message handler failed", "agent_id", r.id, "message_id", msg.ID, "from", msg.From, "error", err)
		return
	}
	r.logger.Debug("message processed", "agent_id", r.id, "message_id", msg.ID, "duration", time.Since(start))
}

func (r *Runtime) invoke(msg core.Message) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v\n%s", p, debug.Stack())
		}
	}()
	// in-flight handlers finish even when the runtime is disposed meanwhile
	return r.handler.HandleMessage(context.WithoutCancel(r.ctx), r, msg)
}

func (r *Runtime) signal(talking bool, link *broker.LinkActivity) {
	if link != nil && link.Peer == "" {
		link = nil
	}
	err := r.broker.EmitStateChange(broker.StateUpdate{AgentID: r.id, IsTalking: core.BoolPtr(talking), Link: link})
	if err != nil {
		r.logger.Debug("state change not recorded", "agent_id", r.id, "error", err)
	}
}

// SendMessage is the only way an agent emits a message. Governance runs
// before publication; a veto is returned unchanged and nothing is published.
func (r *Runtime) SendMessage(ctx context.Context, to string, typ core.MessageType, content string, metadata map[string]any) (core.Message, error) {
	if r.isDisposed() {
		return core.Message{}, core.ErrDisposed
	}
	msg := core.NewMessage(r.id, to, typ, content, metadata)
	if err := msg.Validate(); err != nil {
		return core.Message{}, err
	}
	if g := r.opts.Governance; g != nil {
		if err := g.Admit(ctx, msg); err != nil {
			r.logger.Info("send vetoed", "agent_id", r.id, "to", to, "error", err)
			return core.Message{}, err
		}
	}

	published, err := r.broker.Publish(msg)
	if err != nil {
		return core.Message{}, err
	}
	r.remember(Sent, published)

	for _, peer := range r.broker.ResolveSubscribers(to) {
		if peer == r.id {
			continue
		}
		if err := r.broker.EmitStateChange(broker.StateUpdate{
			AgentID: r.id,
			Link:    &broker.LinkActivity{Peer: peer, Direction: broker.Outgoing, Phase: broker.PhasePulse, MessageID: published.ID},
		}); err != nil {
			r.logger.Debug("link pulse not recorded", "agent_id", r.id, "peer", peer, "error", err)
		}
	}
	return published, nil
}

func (r *Runtime) remember(dir Direction, msg core.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memory = append(r.memory, Record{Direction: dir, Message: msg.Clone()})
	if over := len(r.memory) - r.opts.MemoryLimit; over > 0 {
		r.memory = append([]Record(nil), r.memory[over:]...)
	}
}

// Memory returns a copy of the rolling send/receive window, oldest first.
func (r *Runtime) Memory() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.memory))
	copy(out, r.memory)
	return out
}

// Connect adds peerID to the agent's connections.
func (r *Runtime) Connect(peerID string) error {
	d, ok := r.broker.Agent(r.id)
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrAgentNotFound, r.id)
	}
	_, err := r.broker.Update(r.id, core.AgentPatch{SetConnections: true, Connections: append(d.Connections, peerID)})
	return err
}

// Disconnect removes peerID from the agent's connections.
func (r *Runtime) Disconnect(peerID string) error {
	d, ok := r.broker.Agent(r.id)
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrAgentNotFound, r.id)
	}
	conns := make([]string, 0, len(d.Connections))
	for _, c := range d.Connections {
		if c != peerID {
			conns = append(conns, c)
		}
	}
	_, err := r.broker.Update(r.id, core.AgentPatch{SetConnections: true, Connections: conns})
	return err
}

// SetName renames the agent; the name alias follows.
func (r *Runtime) SetName(name string) error {
	_, err := r.broker.Update(r.id, core.AgentPatch{Name: &name})
	return err
}

// SetRole changes the agent's role; the role alias follows.
func (r *Runtime) SetRole(role string) error {
	_, err := r.broker.Update(r.id, core.AgentPatch{Role: &role})
	return err
}

func (r *Runtime) autonomy(every time.Duration) {
	defer r.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if err := r.think(); err != nil {
				r.logger.Warn("think failed", "agent_id", r.id, "error", err)
			}
		}
	}
}

func (r *Runtime) think() error {
	if t, ok := r.handler.(Thinker); ok {
		return t.Think(r.ctx, r)
	}
	return r.FlushFollowUps(r.ctx)
}

// OnTeardown registers fn to run once on Dispose. Callbacks registered after
// disposal run immediately.
func (r *Runtime) OnTeardown(fn func()) {
	r.mu.Lock()
	if !r.disposed {
		r.teardowns = append(r.teardowns, fn)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	fn()
}

// Dispose stops the autonomy timer, closes the inbound queue and runs the
// teardown callbacks exactly once. An in-flight handler call is allowed to
// finish. Dispose does not wait; use Wait for that.
func (r *Runtime) Dispose() {
	r.disposeOnce.Do(func() {
		r.mu.Lock()
		r.disposed = true
		teardowns := r.teardowns
		r.teardowns = nil
		r.followUps = nil
		r.mu.Unlock()

		r.cancel()
		r.queue.Close()
		for _, fn := range teardowns {
			fn()
		}
		r.logger.Debug("agent runtime disposed", "agent_id", r.id)
	})
}

// Wait blocks until the runtime's goroutines have exited. Never call it from
// inside a handler.
func (r *Runtime) Wait() { r.wg.Wait() }

func (r *Runtime) isDisposed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disposed
}
