package governor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/atlasforge/embedding"
	"github.com/hupe1980/atlasforge/logging"
)

// Defaults for Options.
const (
	DefaultWindowSize = 3
	DefaultThreshold  = 0.92
	DefaultMaxCycles  = 8
)

// Verdict is the decision of one evaluation.
type Verdict string

const (
	// VerdictPass lets the message through.
	VerdictPass Verdict = "pass"
	// VerdictSuppressed marks the message as redundant with recent traffic.
	VerdictSuppressed Verdict = "suppressed"
	// VerdictComplete marks the thread as having run its course.
	VerdictComplete Verdict = "complete"
)

// Outcome is the result of one evaluation.
type Outcome struct {
	Verdict    Verdict
	Similarity float64
	CycleCount int
}

// State is the per-thread governor state. It is owned by the caller and safe
// for concurrent use.
type State struct {
	mu             sync.Mutex
	lastEmbeddings [][]float64
	cycleCount     int
	maxCycles      int
	complete       bool
	// pendingKeyFor is the participant awaiting the completion notice.
	pendingKeyFor string
}

// NewState returns a fresh state. maxCycles <= 0 uses DefaultMaxCycles.
func NewState(maxCycles int) *State {
	if maxCycles <= 0 {
		maxCycles = DefaultMaxCycles
	}
	return &State{maxCycles: maxCycles}
}

// CycleCount returns the number of evaluations performed.
func (s *State) CycleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycleCount
}

// Complete reports whether the terminal completion flag is set.
func (s *State) Complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.complete
}

// Window returns a copy of the stored embeddings, oldest first.
func (s *State) Window() [][]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]float64, len(s.lastEmbeddings))
	for i, v := range s.lastEmbeddings {
		out[i] = append([]float64(nil), v...)
	}
	return out
}

// PendingKeyFor returns the participant awaiting the completion notice, if any.
func (s *State) PendingKeyFor() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingKeyFor, s.pendingKeyFor != ""
}

// SetPendingKeyFor records the participant awaiting the completion notice.
func (s *State) SetPendingKeyFor(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingKeyFor = key
}

// Options configures a Governor.
type Options struct {
	Embedder   embedding.Embedder
	WindowSize int
	Threshold  float64
	MaxCycles  int
	Logger     logging.Logger
}

// Governor scores new messages against a thread's recent history.
type Governor struct {
	embedder   embedding.Embedder
	windowSize int
	threshold  float64
	maxCycles  int
	logger     logging.Logger
}

// New creates a Governor. Without an embedder the offline HashEmbedder is used.
func New(optFns ...func(o *Options)) *Governor {
	opts := Options{
		WindowSize: DefaultWindowSize,
		Threshold:  DefaultThreshold,
		MaxCycles:  DefaultMaxCycles,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Embedder == nil {
		opts.Embedder = embedding.NewHashEmbedder(0)
	}
	if opts.WindowSize <= 0 {
		opts.WindowSize = DefaultWindowSize
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.MaxCycles <= 0 {
		opts.MaxCycles = DefaultMaxCycles
	}
	return &Governor{
		embedder:   opts.Embedder,
		windowSize: opts.WindowSize,
		threshold:  opts.Threshold,
		maxCycles:  opts.MaxCycles,
		logger:     logging.Ensure(opts.Logger),
	}
}

// NewState returns a state using the governor's cycle limit.
func (g *Governor) NewState() *State { return NewState(g.maxCycles) }

// Evaluate scores content against st and advances it by one cycle.
// Embedding failures are returned and leave st untouched.
func (g *Governor) Evaluate(ctx context.Context, st *State, content string) (Outcome, error) {
	if st == nil {
		return Outcome{}, errors.New("governor state is nil")
	}
	vec, err := g.embedder.Embed(ctx, strings.TrimSpace(content))
	if err != nil {
		return Outcome{}, fmt.Errorf("embed message: %w", err)
	}
	if len(vec) == 0 {
		return Outcome{}, errors.New("embedder returned an empty vector")
	}
	vec = embedding.Normalize(vec)

	st.mu.Lock()
	defer st.mu.Unlock()

	similarity := 0.0
	if sum, ok := embedding.Sum(st.lastEmbeddings); ok && len(sum) == len(vec) {
		similarity = embedding.Clamp(embedding.Dot(embedding.Normalize(sum), vec), -1, 1)
	}

	st.lastEmbeddings = append(st.lastEmbeddings, vec)
	if over := len(st.lastEmbeddings) - g.windowSize; over > 0 {
		st.lastEmbeddings = append([][]float64(nil), st.lastEmbeddings[over:]...)
	}
	st.cycleCount++

	out := Outcome{Verdict: VerdictPass, Similarity: similarity, CycleCount: st.cycleCount}
	switch {
	case st.complete || st.cycleCount > st.maxCycles:
		st.complete = true
		out.Verdict = VerdictComplete
	case similarity > g.threshold:
		out.Verdict = VerdictSuppressed
	}
	return out, nil
}
