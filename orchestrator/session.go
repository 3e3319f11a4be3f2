package orchestrator

import (
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/atlasforge/agent"
)

// Status is the terminal state of a session.
type Status string

const (
	// StatusFinal means an agent addressed the caller directly.
	StatusFinal Status = "final"
	// StatusHalted means the fairness check or the conversation governor ended the debate.
	StatusHalted Status = "halted"
	// StatusExhausted means the turn limit was reached.
	StatusExhausted Status = "exhausted"
)

// Halt reasons.
const (
	HaltMonopolization = "monopolization"
	HaltAlternation    = "alternation"
	HaltGovernor       = "conversation-complete"
)

// DynamicAgent is one participant of a session.
type DynamicAgent struct {
	ID          string     `json:"id" yaml:"id"`
	Spec        agent.Spec `json:"spec" yaml:"spec"`
	Coordinator bool       `json:"coordinator,omitempty" yaml:"coordinator,omitempty"`

	runtime *agent.Runtime
}

// Name returns the display name of the agent.
func (a DynamicAgent) Name() string { return a.Spec.Name }

// ConversationMessage is one published turn.
type ConversationMessage struct {
	ID        string    `json:"id" yaml:"id" toml:"id"`
	Turn      int       `json:"turn" yaml:"turn" toml:"turn"`
	From      string    `json:"from" yaml:"from" toml:"from"`
	FromName  string    `json:"fromName" yaml:"from_name" toml:"from_name"`
	To        string    `json:"to" yaml:"to" toml:"to"`
	ToName    string    `json:"toName" yaml:"to_name" toml:"to_name"`
	Content   string    `json:"content" yaml:"content" toml:"content"`
	Backend   string    `json:"backend,omitempty" yaml:"backend,omitempty" toml:"backend,omitempty"`
	Tokens    int       `json:"tokens,omitempty" yaml:"tokens,omitempty" toml:"tokens,omitempty"`
	Final     bool      `json:"final,omitempty" yaml:"final,omitempty" toml:"final,omitempty"`
	Summary   bool      `json:"summary,omitempty" yaml:"summary,omitempty" toml:"summary,omitempty"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp" toml:"timestamp"`
}

// TurnStat tracks how often an agent has spoken.
type TurnStat struct {
	Count            int       `json:"count"`
	ConsecutiveCount int       `json:"consecutiveCount"`
	LastTimestamp    time.Time `json:"lastTimestamp"`
}

// Session is the state of one debate.
type Session struct {
	ID     string
	Prompt string

	mu           sync.Mutex
	agents       []*DynamicAgent
	messages     []ConversationMessage
	turnStats    map[string]*TurnStat
	turnSequence []string
	shortTerm    map[string][]string
	threads      map[string]struct{}
	limits       Limits
}

// Limits bound a session.
type Limits struct {
	MaxTurns            int
	MaxConsecutiveTurns int
	AlternationWindow   int
	TurnSequenceCap     int
	ShortTermCap        int
}

// DefaultLimits returns the standard session limits.
func DefaultLimits() Limits {
	return Limits{
		MaxTurns:            14,
		MaxConsecutiveTurns: 3,
		AlternationWindow:   6,
		TurnSequenceCap:     12,
		ShortTermCap:        8,
	}
}

func newSession(id, prompt string, limits Limits) *Session {
	return &Session{
		ID:        id,
		Prompt:    prompt,
		turnStats: make(map[string]*TurnStat),
		shortTerm: make(map[string][]string),
		threads:   make(map[string]struct{}),
		limits:    limits,
	}
}

// Agents returns the participants, coordinator first.
func (s *Session) Agents() []DynamicAgent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DynamicAgent, len(s.agents))
	for i, a := range s.agents {
		out[i] = *a
		out[i].runtime = nil
	}
	return out
}

// Messages returns the published turns in order.
func (s *Session) Messages() []ConversationMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ConversationMessage(nil), s.messages...)
}

// TurnSequence returns the recent speaker names, oldest first.
func (s *Session) TurnSequence() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.turnSequence...)
}

// ShortTerm returns the rolling buffer of an agent.
func (s *Session) ShortTerm(agentID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.shortTerm[agentID]...)
}

// TurnStat returns the turn statistics of an agent.
func (s *Session) TurnStat(agentID string) TurnStat {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.turnStats[agentID]; ok {
		return *st
	}
	return TurnStat{}
}

// thread returns the governance thread of the unordered pair a, b within the
// session and records it for cleanup.
func (s *Session) thread(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	key := s.ID + "/" + pair[0] + "|" + pair[1]
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[key] = struct{}{}
	return key
}

// Threads returns the governance threads used so far.
func (s *Session) Threads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.threads))
	for k := range s.threads {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *Session) addAgent(a *DynamicAgent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents = append(s.agents, a)
}

func (s *Session) coordinator() *DynamicAgent {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.agents {
		if a.Coordinator {
			return a
		}
	}
	if len(s.agents) > 0 {
		return s.agents[0]
	}
	return nil
}

func (s *Session) participantIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, len(s.agents))
	for i, a := range s.agents {
		ids[i] = a.ID
	}
	return ids
}

// guardTurnTaking records speaker as the next turn and reports whether the
// fairness check halts the session, with the reason. The previous message's
// sender drives the consecutive counter; the turn sequence drives the
// strict period-2 alternation check.
func (s *Session) guardTurnTaking(speaker *DynamicAgent, now time.Time) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.turnStats[speaker.ID]
	if !ok {
		st = &TurnStat{}
		s.turnStats[speaker.ID] = st
	}
	if n := len(s.messages); n > 0 && s.messages[n-1].From == speaker.ID {
		st.ConsecutiveCount++
	} else {
		st.ConsecutiveCount = 1
	}
	st.Count++
	st.LastTimestamp = now

	s.turnSequence = append(s.turnSequence, speaker.Name())
	if over := len(s.turnSequence) - s.limits.TurnSequenceCap; over > 0 {
		s.turnSequence = append([]string(nil), s.turnSequence[over:]...)
	}

	if st.ConsecutiveCount >= s.limits.MaxConsecutiveTurns {
		return true, HaltMonopolization
	}
	if isStrictAlternation(s.turnSequence, s.limits.AlternationWindow) {
		return true, HaltAlternation
	}
	return false, ""
}

// isStrictAlternation reports whether the last window entries of seq hold
// exactly two names repeating with period 2. Longer periods are not detected.
func isStrictAlternation(seq []string, window int) bool {
	if window < 2 || len(seq) < window {
		return false
	}
	recent := seq[len(seq)-window:]
	distinct := map[string]struct{}{}
	for _, name := range recent {
		distinct[name] = struct{}{}
	}
	if len(distinct) != 2 {
		return false
	}
	for i := 2; i < len(recent); i++ {
		if recent[i] != recent[i-2] {
			return false
		}
	}
	return true
}

func (s *Session) appendMessage(m ConversationMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
}

// remember appends text to the rolling short-term buffer of an agent.
func (s *Session) remember(agentID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := append(s.shortTerm[agentID], text)
	if over := len(buf) - s.limits.ShortTermCap; over > 0 {
		buf = append([]string(nil), buf[over:]...)
	}
	s.shortTerm[agentID] = buf
}

// lookup resolves a display name or id to a participant.
func (s *Session) lookup(nameOrID string) *DynamicAgent {
	key := normalizeName(nameOrID)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.agents {
		if a.ID == nameOrID || normalizeName(a.Name()) == key {
			return a
		}
	}
	return nil
}

// otherThan returns the first participant that is not a.
func (s *Session) otherThan(a *DynamicAgent) *DynamicAgent {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.agents {
		if p.ID != a.ID {
			return p
		}
	}
	return nil
}

func (s *Session) runtimes() []*agent.Runtime {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*agent.Runtime, 0, len(s.agents))
	for _, a := range s.agents {
		if a.runtime != nil {
			out = append(out, a.runtime)
		}
	}
	return out
}
