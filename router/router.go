package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/atlasforge/core"
	"github.com/hupe1980/atlasforge/logging"
	"github.com/hupe1980/atlasforge/model"
)

// Backend names a generation target.
type Backend string

const (
	// BackendLocal is the low latency backend (e.g. an OpenAI-compatible local server).
	BackendLocal Backend = "local"
	// BackendHosted is the high capability hosted backend.
	BackendHosted Backend = "hosted"
	// BackendEcho is the degraded mode that returns the prompt.
	BackendEcho Backend = "echo"
)

// Selection reasons.
const (
	ReasonForceLocal     = "force-local"
	ReasonForceHosted    = "force-hosted"
	ReasonReservedIntent = "reserved-intent"
	ReasonLocalBackoff   = "local-backoff"
	ReasonShortPrompt    = "short-prompt"
	ReasonDefault        = "default"
	ReasonUnavailable    = "no-backend"
	ReasonLocalFailed    = "local-failed"
)

// DefaultComplexityKeywords push otherwise short prompts to the hosted backend.
var DefaultComplexityKeywords = []string{
	"analyze", "analyse", "architecture", "compare", "design", "evaluate",
	"explain why", "json", "plan", "prove", "refactor", "schema",
	"step by step", "strategy", "trade-off", "tradeoff",
}

var errEmptyOutput = errors.New("backend returned empty output")

// reservedIntents always route hosted.
var reservedIntents = map[model.Intent]struct{}{
	model.IntentSchemaSynthesis:   {},
	model.IntentAgentConstruction: {},
	model.IntentMetaControl:       {},
}

// Options configures a Router.
type Options struct {
	Local  model.Model
	Hosted model.Model

	// ForceLocal and ForceHosted override selection for every request.
	ForceLocal  bool
	ForceHosted bool

	ShortPromptChars   int
	ComplexityKeywords []string

	LocalBackoff   time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	Timeout        time.Duration
	MaxConcurrent  int64

	Now    func() time.Time
	Logger logging.Logger
}

// Decision is the outcome of Select.
type Decision struct {
	Backend Backend
	Reason  string
}

// Result is the outcome of Complete.
type Result struct {
	Text     string
	Backend  Backend
	Reason   string
	Usage    *model.TokenUsage
	Attempts int
	Duration time.Duration
}

// Router implements model.Model on top of two backends.
type Router struct {
	opts   Options
	sem    *semaphore.Weighted
	logger logging.Logger

	mu           sync.Mutex
	backoffUntil time.Time
}

// New creates a Router.
func New(optFns ...func(o *Options)) *Router {
	opts := Options{
		ShortPromptChars:   300,
		ComplexityKeywords: DefaultComplexityKeywords,
		LocalBackoff:       60 * time.Second,
		MaxRetries:         2,
		RetryBaseDelay:     500 * time.Millisecond,
		Timeout:            30 * time.Second,
		MaxConcurrent:      8,
		Now:                time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 8
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Router{
		opts:   opts,
		sem:    semaphore.NewWeighted(opts.MaxConcurrent),
		logger: logging.Ensure(opts.Logger),
	}
}

// Info implements model.Model.
func (r *Router) Info() model.Info {
	return model.Info{Name: "router", Provider: "router"}
}

// BackoffUntil returns the end of the local backoff window (zero when none).
func (r *Router) BackoffUntil() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.backoffUntil
}

func (r *Router) backoffActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opts.Now().Before(r.backoffUntil)
}

func (r *Router) extendBackoff() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backoffUntil = r.opts.Now().Add(r.opts.LocalBackoff)
	return r.backoffUntil
}

// Select decides which backend serves req.
func (r *Router) Select(req model.Request) Decision {
	hasLocal, hasHosted := r.opts.Local != nil, r.opts.Hosted != nil
	if !hasLocal && !hasHosted {
		return Decision{Backend: BackendEcho, Reason: ReasonUnavailable}
	}
	// a missing backend cannot be forced or preferred
	prefer := func(b Backend, reason string) Decision {
		if b == BackendLocal && !hasLocal {
			return Decision{Backend: BackendHosted, Reason: reason}
		}
		if b == BackendHosted && !hasHosted {
			return Decision{Backend: BackendLocal, Reason: reason}
		}
		return Decision{Backend: b, Reason: reason}
	}

	switch {
	case req.ForceLocal || r.opts.ForceLocal:
		return prefer(BackendLocal, ReasonForceLocal)
	case req.ForceHosted || r.opts.ForceHosted:
		return prefer(BackendHosted, ReasonForceHosted)
	}
	if _, ok := reservedIntents[req.Intent]; ok {
		return prefer(BackendHosted, ReasonReservedIntent)
	}
	if r.backoffActive() {
		return prefer(BackendHosted, ReasonLocalBackoff)
	}
	if len([]rune(req.Prompt)) < r.opts.ShortPromptChars && !r.complex(req.Prompt) {
		return prefer(BackendLocal, ReasonShortPrompt)
	}
	return prefer(BackendHosted, ReasonDefault)
}

func (r *Router) complex(prompt string) bool {
	p := strings.ToLower(prompt)
	for _, kw := range r.opts.ComplexityKeywords {
		if kw != "" && strings.Contains(p, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Complete generates text for req following the selection and failure policy.
// It only returns an error when ctx is done.
func (r *Router) Complete(ctx context.Context, req model.Request) (Result, error) {
	return r.complete(ctx, req, nil)
}

// Generate implements model.Model. When req.Stream is set, partial chunks of
// the attempt that succeeds are forwarded; chunks of failed attempts are
// dropped. The final chunk carries the full text.
func (r *Router) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		var sink func(model.Response)
		if req.Stream {
			sink = func(resp model.Response) {
				select {
				case out <- resp:
				case <-ctx.Done():
				}
			}
		}
		res, err := r.complete(ctx, req, sink)
		if err != nil {
			errCh <- err
			return
		}
		select {
		case out <- model.Response{Text: res.Text, FinishReason: "stop", Usage: res.Usage}:
		case <-ctx.Done():
			errCh <- ctx.Err()
		}
	}()
	return out, errCh
}

func (r *Router) complete(ctx context.Context, req model.Request, sink func(model.Response)) (Result, error) {
	start := r.opts.Now()
	d := r.Select(req)
	res := Result{Backend: d.Backend, Reason: d.Reason}

	var (
		text  string
		usage *model.TokenUsage
		err   error
	)
	switch d.Backend {
	case BackendLocal:
		res.Attempts++
		text, usage, err = r.call(ctx, BackendLocal, d.Reason, r.opts.Local, req, sink)
		if err == nil || ctx.Err() != nil {
			break
		}
		until := r.extendBackoff()
		r.logger.Warn("Local backend failed, backing off", "error", err, "backoff_until", until)
		if d.Reason == ReasonForceLocal || r.opts.Hosted == nil {
			break
		}
		res.Backend, res.Reason = BackendHosted, ReasonLocalFailed
		var n int
		text, usage, n, err = r.callHosted(ctx, ReasonLocalFailed, req, sink)
		res.Attempts += n
	case BackendHosted:
		var n int
		text, usage, n, err = r.callHosted(ctx, d.Reason, req, sink)
		res.Attempts += n
	default:
		err = errors.New("no generation backend configured")
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		r.logger.Error("Generation degraded to echo", "error", fmt.Errorf("%w: %w", core.ErrBackendUnavailable, err), "reason", res.Reason)
		res.Backend, text, usage = BackendEcho, req.Prompt, nil
	}

	res.Text, res.Usage = text, usage
	res.Duration = r.opts.Now().Sub(start)
	return res, nil
}

// callHosted calls the hosted backend with retries. It returns the number of attempts.
func (r *Router) callHosted(ctx context.Context, reason string, req model.Request, sink func(model.Response)) (string, *model.TokenUsage, int, error) {
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= r.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.opts.RetryBaseDelay * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return "", nil, attempts, ctx.Err()
			case <-time.After(delay):
			}
		}
		attempts++
		text, usage, err := r.call(ctx, BackendHosted, reason, r.opts.Hosted, req, sink)
		if err == nil {
			return text, usage, attempts, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", nil, attempts, ctx.Err()
		}
	}
	return "", nil, attempts, lastErr
}

// call runs one bounded, timed backend call.
func (r *Router) call(ctx context.Context, b Backend, reason string, m model.Model, req model.Request, sink func(model.Response)) (string, *model.TokenUsage, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return "", nil, err
	}
	defer r.sem.Release(1)

	callCtx := ctx
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	text, usage, err := drain(callCtx, m, req, sink)
	if errors.Is(err, errEmptyOutput) {
		err = fmt.Errorf("%s %w", b, err)
	}

	tokens := 0
	if usage != nil {
		tokens = usage.TotalTokens
	}
	if fl, ok := r.logger.(*logging.ForgeLogger); ok {
		fl.LogBackendCall(string(b), reason, tokens, time.Since(start), err)
	} else if err != nil {
		r.logger.Warn("Backend call failed", "backend", b, "reason", reason, "error", err)
	}
	return text, usage, err
}

// drain consumes a Generate call. Partials are held back and forwarded to
// sink only when the call succeeds, so a fallback never interleaves two
// partial streams.
func drain(ctx context.Context, m model.Model, req model.Request, sink func(model.Response)) (string, *model.TokenUsage, error) {
	respCh, errCh := m.Generate(ctx, req)

	var (
		partial strings.Builder
		held    []model.Response
		final   *model.Response
	)
	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return "", nil, ctx.Err()
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if resp.Partial {
				partial.WriteString(resp.Text)
				if sink != nil {
					held = append(held, resp)
				}
				continue
			}
			rc := resp
			final = &rc
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return "", nil, err
			}
		}
	}
	text, usage := partial.String(), (*model.TokenUsage)(nil)
	if final != nil {
		text, usage = final.Text, final.Usage
	}
	if strings.TrimSpace(text) == "" {
		return "", nil, errEmptyOutput
	}
	for _, resp := range held {
		sink(resp)
	}
	return text, usage, nil
}
