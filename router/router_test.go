package router

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hupe1980/atlasforge/internal/testutil"
	"github.com/hupe1980/atlasforge/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetries(o *Options) { o.RetryBaseDelay = time.Millisecond }

func TestSelect_Policy(t *testing.T) {
	local := testutil.NewScriptedModel("local", "l")
	hosted := testutil.NewScriptedModel("hosted", "h")
	r := New(func(o *Options) { o.Local, o.Hosted = local, hosted })

	tests := []struct {
		name   string
		req    model.Request
		want   Backend
		reason string
	}{
		{"short prompt", model.Request{Prompt: "hi there"}, BackendLocal, ReasonShortPrompt},
		{"long prompt", model.Request{Prompt: strings.Repeat("a", 300)}, BackendHosted, ReasonDefault},
		{"complexity keyword", model.Request{Prompt: "Design a launch"}, BackendHosted, ReasonDefault},
		{"reserved intent", model.Request{Prompt: "hi", Intent: model.IntentAgentConstruction}, BackendHosted, ReasonReservedIntent},
		{"force local beats reserved intent", model.Request{Prompt: "hi", Intent: model.IntentSchemaSynthesis, ForceLocal: true}, BackendLocal, ReasonForceLocal},
		{"force hosted", model.Request{Prompt: "hi", ForceHosted: true}, BackendHosted, ReasonForceHosted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := r.Select(tt.req)
			assert.Equal(t, tt.want, d.Backend)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestSelect_MissingBackends(t *testing.T) {
	assert.Equal(t, BackendEcho, New().Select(model.Request{Prompt: "x"}).Backend)

	onlyLocal := New(func(o *Options) { o.Local = testutil.NewScriptedModel("l", "l") })
	assert.Equal(t, BackendLocal, onlyLocal.Select(model.Request{Prompt: strings.Repeat("long ", 100)}).Backend)

	onlyHosted := New(func(o *Options) { o.Hosted = testutil.NewScriptedModel("h", "h"); o.ForceLocal = true })
	assert.Equal(t, BackendHosted, onlyHosted.Select(model.Request{Prompt: "x"}).Backend)
}

func TestComplete_LocalFailureFallsBackAndBacksOff(t *testing.T) {
	clock := testutil.NewClock()
	local := &testutil.FailingModel{Name: "local"}
	hosted := testutil.NewScriptedModel("hosted", "hosted answer")
	r := New(func(o *Options) {
		o.Local, o.Hosted = local, hosted
		o.Now = clock.Now
	}, fastRetries)

	res, err := r.Complete(context.Background(), model.Request{Prompt: "quick question"})
	require.NoError(t, err)
	assert.Equal(t, "hosted answer", res.Text)
	assert.Equal(t, BackendHosted, res.Backend)
	assert.Equal(t, ReasonLocalFailed, res.Reason)
	assert.Equal(t, 1, local.Calls())
	assert.Equal(t, clock.Now().Add(60*time.Second), r.BackoffUntil())

	// within the window the local backend is skipped entirely
	clock.Advance(30 * time.Second)
	res, err = r.Complete(context.Background(), model.Request{Prompt: "another quick one"})
	require.NoError(t, err)
	assert.Equal(t, BackendHosted, res.Backend)
	assert.Equal(t, ReasonLocalBackoff, res.Reason)
	assert.Equal(t, 1, local.Calls())

	// after the window local is tried again
	clock.Advance(31 * time.Second)
	assert.Equal(t, BackendLocal, r.Select(model.Request{Prompt: "short"}).Backend)
}

func TestComplete_ForcedLocalDoesNotFallBack(t *testing.T) {
	hosted := testutil.NewScriptedModel("hosted", "hosted answer")
	r := New(func(o *Options) {
		o.Local, o.Hosted = &testutil.FailingModel{Name: "local"}, hosted
	})
	res, err := r.Complete(context.Background(), model.Request{Prompt: "hello", ForceLocal: true})
	require.NoError(t, err)
	assert.Equal(t, BackendEcho, res.Backend)
	assert.Equal(t, "hello", res.Text)
	assert.Zero(t, hosted.Calls())
}

func TestComplete_HostedRetriesThenEchoes(t *testing.T) {
	hosted := &testutil.FailingModel{Name: "hosted"}
	r := New(func(o *Options) { o.Hosted = hosted }, fastRetries)

	res, err := r.Complete(context.Background(), model.Request{Prompt: "Plan a product launch"})
	require.NoError(t, err)
	assert.Equal(t, BackendEcho, res.Backend)
	assert.Equal(t, "Plan a product launch", res.Text)
	assert.Equal(t, 3, hosted.Calls())
	assert.Equal(t, 3, res.Attempts)
}

// flakyModel fails the first n calls.
type flakyModel struct {
	fails int32
	calls atomic.Int32
}

func (m *flakyModel) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	if m.calls.Add(1) <= m.fails {
		return (&testutil.FailingModel{}).Generate(ctx, req)
	}
	return testutil.NewScriptedModel("flaky", "recovered").Generate(ctx, req)
}

func (m *flakyModel) Info() model.Info { return model.Info{Name: "flaky"} }

func TestComplete_HostedRecoversOnRetry(t *testing.T) {
	hosted := &flakyModel{fails: 2}
	r := New(func(o *Options) { o.Hosted = hosted }, fastRetries)

	res, err := r.Complete(context.Background(), model.Request{Prompt: "x", ForceHosted: true})
	require.NoError(t, err)
	assert.Equal(t, "recovered", res.Text)
	assert.Equal(t, 3, res.Attempts)
}

func TestComplete_CanceledContext(t *testing.T) {
	r := New(func(o *Options) { o.Hosted = &testutil.FailingModel{} }, fastRetries)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Complete(ctx, model.Request{Prompt: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

// slowModel blocks until its context ends.
type slowModel struct{}

func (slowModel) Generate(ctx context.Context, _ model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		<-ctx.Done()
		errCh <- ctx.Err()
	}()
	return out, errCh
}

func (slowModel) Info() model.Info { return model.Info{Name: "slow"} }

func TestComplete_TimeoutFallsBack(t *testing.T) {
	r := New(func(o *Options) {
		o.Local = slowModel{}
		o.Hosted = testutil.NewScriptedModel("hosted", "fast")
		o.Timeout = 20 * time.Millisecond
	}, fastRetries)

	res, err := r.Complete(context.Background(), model.Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "fast", res.Text)
	assert.False(t, r.BackoffUntil().IsZero())
}

// countingModel tracks concurrent calls.
type countingModel struct {
	mu      sync.Mutex
	active  int
	maxSeen int
}

func (m *countingModel) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	m.mu.Lock()
	m.active++
	if m.active > m.maxSeen {
		m.maxSeen = m.active
	}
	m.mu.Unlock()
	time.Sleep(5 * time.Millisecond)
	m.mu.Lock()
	m.active--
	m.mu.Unlock()
	return testutil.NewScriptedModel("c", "ok").Generate(ctx, req)
}

func (m *countingModel) Info() model.Info { return model.Info{Name: "counting"} }

func TestComplete_ConcurrencyBound(t *testing.T) {
	hosted := &countingModel{}
	r := New(func(o *Options) { o.Hosted = hosted; o.MaxConcurrent = 2 })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Complete(context.Background(), model.Request{Prompt: "x"})
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, hosted.maxSeen, 2)
}

func TestGenerate_StreamsPartials(t *testing.T) {
	mock := model.NewMockModel("local", "mock")
	mock.AddResponse("hey", "hello")
	r := New(func(o *Options) { o.Local = mock })

	respCh, errCh := r.Generate(context.Background(), model.Request{Prompt: "hey", Stream: true})
	var partials strings.Builder
	var final string
	for resp := range respCh {
		if resp.Partial {
			partials.WriteString(resp.Text)
		} else {
			final = resp.Text
		}
	}
	require.NoError(t, <-errCh)
	assert.Equal(t, "hello", partials.String())
	assert.Equal(t, "hello", final)

	text, _, err := model.Collect(context.Background(), r, model.Request{Prompt: "hey"})
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
}

// brokenStreamModel streams a partial chunk and then fails.
type brokenStreamModel struct{}

func (brokenStreamModel) Generate(context.Context, model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 1)
	errCh := make(chan error, 1)
	out <- model.Response{Partial: true, Text: "half an ans"}
	errCh <- testutil.ErrScriptedFailure
	close(out)
	close(errCh)
	return out, errCh
}

func (brokenStreamModel) Info() model.Info { return model.Info{Name: "broken"} }

func TestGenerate_FailedAttemptPartialsAreDropped(t *testing.T) {
	hosted := model.NewMockModel("hosted", "mock")
	hosted.AddResponse("hey", "hello")
	r := New(func(o *Options) {
		o.Local = brokenStreamModel{}
		o.Hosted = hosted
	}, fastRetries)

	respCh, errCh := r.Generate(context.Background(), model.Request{Prompt: "hey", Stream: true})
	var partials strings.Builder
	var final string
	for resp := range respCh {
		if resp.Partial {
			partials.WriteString(resp.Text)
		} else {
			final = resp.Text
		}
	}
	require.NoError(t, <-errCh)
	assert.Equal(t, "hello", partials.String())
	assert.Equal(t, "hello", final)
	assert.False(t, r.BackoffUntil().IsZero())
}
