package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/hupe1980/atlasforge/core"
	"github.com/hupe1980/atlasforge/governor"
	"github.com/hupe1980/atlasforge/internal/testutil"
	"github.com/hupe1980/atlasforge/memory"
	"github.com/hupe1980/atlasforge/model"
	"github.com/hupe1980/atlasforge/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(m model.Model) *router.Router {
	return router.New(func(o *router.Options) {
		o.Hosted = m
		o.RetryBaseDelay = time.Millisecond
	})
}

func TestRunSync_PlanAProductLaunch(t *testing.T) {
	llm := testutil.NewScriptedModel("hosted", "I agree.").
		On(testutil.Rule{Intent: model.IntentDebateTurn, Contains: "You are Coordinator,", Times: 1,
			Reply: `{"to":"Researcher","delegate":"Researcher","message":"Research the target market and competitors for the launch."}`}).
		On(testutil.Rule{Intent: model.IntentDebateTurn, Contains: "You are Researcher,", Times: 1,
			Reply: `{"to":"Coordinator","message":"Small businesses are the target; competitors charge 30 dollars a seat.","remember":true}`}).
		On(testutil.Rule{Intent: model.IntentDebateTurn, Contains: "You are Coordinator,",
			Reply: "```json\n{\"to\":\"user\",\"final\":true,\"message\":\"Launch in spring to small businesses at 25 dollars a seat.\"}\n```"})

	store := memory.NewInMemoryStore()
	orch := New(newRouter(llm), func(o *Options) {
		o.Roster = DefaultRoster()
		o.Memory = store
		o.Governance = governor.NewGuard(governor.New())
	})

	res, err := orch.RunSync(context.Background(), "Plan a product launch")
	require.NoError(t, err)

	assert.Equal(t, StatusFinal, res.Status)
	assert.Equal(t, "Launch in spring to small businesses at 25 dollars a seat.", res.Answer)
	assert.LessOrEqual(t, res.Turns, 14)
	require.Len(t, res.Messages, 3)

	first := res.Messages[0]
	assert.Equal(t, "Coordinator", first.FromName)
	assert.Equal(t, "Researcher", first.ToName)
	assert.Equal(t, "Researcher", res.Messages[1].FromName)

	last := res.Messages[2]
	assert.True(t, last.Final)
	assert.Equal(t, core.CallerTopic, last.ToName)

	require.Len(t, res.SharedMemory, 1)
	assert.Equal(t, core.MemoryScopeShared, res.SharedMemory[0].Scope)
	assert.Len(t, res.SharedMemory[0].Participants, 3)
	assert.NotEmpty(t, res.SharedMemory[0].Content)

	var promoted int
	for _, e := range store.Entries() {
		if e.Promoted {
			promoted++
		}
	}
	assert.Equal(t, 1, promoted)

	hist := orch.Broker().History()
	require.Len(t, hist, 3)
	assert.Equal(t, core.MessageTask, hist[0].Type)
	thread, _ := hist[0].MetaString(core.MetaThread)
	assert.True(t, strings.HasPrefix(thread, res.SessionID+"/"), thread)
	delegate, _ := hist[0].MetaString(core.MetaDelegate)
	assert.Equal(t, "Researcher", delegate)
	assert.Equal(t, core.MessageResponse, hist[2].Type)

	// session runtimes are gone once the session ends
	assert.Empty(t, orch.Broker().Agents())
}

func TestRunSync_AlternationHaltsWithSummary(t *testing.T) {
	llm := testutil.NewScriptedModel("hosted", "Still thinking about it.").
		On(testutil.Rule{Intent: model.IntentSummary, Reply: "Summary: launch in spring."}).
		On(testutil.Rule{Intent: model.IntentDebateTurn, Contains: "You are Coordinator,", Reply: "@Researcher still thinking about it."}).
		On(testutil.Rule{Intent: model.IntentDebateTurn, Contains: "You are Researcher,", Reply: "@Coordinator still thinking about it."})

	orch := New(newRouter(llm), func(o *Options) {
		o.Roster = DefaultRoster()[:2]
	})
	res, err := orch.RunSync(context.Background(), "Plan a product launch")
	require.NoError(t, err)

	assert.Equal(t, StatusHalted, res.Status)
	assert.Equal(t, HaltAlternation, res.HaltReason)
	assert.Equal(t, "Summary: launch in spring.", res.Answer)
	assert.Equal(t, 5, res.Turns)

	last := res.Messages[len(res.Messages)-1]
	assert.True(t, last.Summary)
	assert.Equal(t, "Coordinator", last.FromName)
	assert.Equal(t, core.CallerTopic, last.ToName)
}

func TestRunSync_ExhaustedAfterMaxTurns(t *testing.T) {
	llm := testutil.NewScriptedModel("hosted", "ok").
		On(testutil.Rule{Intent: model.IntentDebateTurn, Contains: "You are Coordinator,", Reply: "@Researcher please dig deeper."}).
		On(testutil.Rule{Intent: model.IntentDebateTurn, Contains: "You are Researcher,", Reply: "@Critic what are the risks?"}).
		On(testutil.Rule{Intent: model.IntentDebateTurn, Contains: "You are Critic,", Reply: "@Coordinator risks noted."}).
		On(testutil.Rule{Intent: model.IntentSummary, Reply: `{"to":"user","message":"Final plan."}`})

	orch := New(newRouter(llm), func(o *Options) { o.Roster = DefaultRoster() })
	res, err := orch.RunSync(context.Background(), "Plan a product launch")
	require.NoError(t, err)

	assert.Equal(t, StatusExhausted, res.Status)
	assert.Equal(t, 14, res.Turns)
	assert.Equal(t, "Final plan.", res.Answer)
	assert.Len(t, res.Messages, 15)
}

func TestRunSync_SelfDelegationHaltsForMonopolization(t *testing.T) {
	llm := testutil.NewScriptedModel("hosted", "ok").
		On(testutil.Rule{Intent: model.IntentDebateTurn, Contains: "You are Coordinator,",
			Reply: `{"to":"Researcher","delegate":"Coordinator","message":"I will handle the launch plan myself."}`}).
		On(testutil.Rule{Intent: model.IntentSummary, Reply: "Coordinator plan."})

	orch := New(newRouter(llm), func(o *Options) { o.Roster = DefaultRoster() })
	res, err := orch.RunSync(context.Background(), "Plan a product launch")
	require.NoError(t, err)

	assert.Equal(t, StatusHalted, res.Status)
	assert.Equal(t, HaltMonopolization, res.HaltReason)
	assert.Equal(t, 2, res.Turns)
	require.Len(t, res.Messages, 3)
	for _, m := range res.Messages[:2] {
		assert.Equal(t, "Coordinator", m.FromName)
		assert.Equal(t, "Researcher", m.ToName)
	}
	assert.True(t, res.Messages[2].Summary)
	assert.Equal(t, "Coordinator plan.", res.Answer)
}

func TestRunSync_GovernedDebateExhausts(t *testing.T) {
	coordinator := []string{
		"check the pricing of rivals",
		"survey small retailers in Ohio",
		"estimate warehouse rent",
		"compare delivery partners",
		"review the hiring budget",
	}
	researcher := []string{
		"rivals charge thirty dollars monthly",
		"retailers want bundled plans",
		"storage gets pricier during winter",
		"couriers miss weekend slots",
		"engineers are scarce this year",
	}
	critic := []string{
		"margin erosion worries me",
		"bundles complicate support",
		"seasonal costs hurt cash flow",
		"late parcels anger customers",
	}
	llm := testutil.NewScriptedModel("hosted", "ok").
		On(testutil.Rule{Intent: model.IntentSummary, Reply: `{"to":"user","message":"Final plan."}`})
	for _, text := range coordinator {
		llm.On(testutil.Rule{Intent: model.IntentDebateTurn, Contains: "You are Coordinator,", Times: 1, Reply: "@Researcher " + text})
	}
	for _, text := range researcher {
		llm.On(testutil.Rule{Intent: model.IntentDebateTurn, Contains: "You are Researcher,", Times: 1, Reply: "@Critic " + text})
	}
	for _, text := range critic {
		llm.On(testutil.Rule{Intent: model.IntentDebateTurn, Contains: "You are Critic,", Times: 1, Reply: "@Coordinator " + text})
	}

	guard := governor.NewGuard(governor.New())
	orch := New(newRouter(llm), func(o *Options) {
		o.Roster = DefaultRoster()
		o.Governance = guard
	})
	res, err := orch.RunSync(context.Background(), "Plan a product launch")
	require.NoError(t, err)

	assert.Equal(t, StatusExhausted, res.Status)
	assert.Equal(t, 14, res.Turns)
	assert.Len(t, res.Messages, 15)
	assert.Equal(t, "Final plan.", res.Answer)

	// per-session governance state is released with the session
	assert.Zero(t, guard.Threads())
}

func TestRunSync_SuppressedTurnsAreDropped(t *testing.T) {
	llm := testutil.NewScriptedModel("hosted", "The same point again.").
		On(testutil.Rule{Intent: model.IntentSummary, Reply: "Wrap up."})

	orch := New(newRouter(llm), func(o *Options) {
		o.Roster = DefaultRoster()
		o.Governance = governor.NewGuard(governor.New())
	})
	res, err := orch.RunSync(context.Background(), "Plan a product launch")
	require.NoError(t, err)

	assert.Equal(t, StatusHalted, res.Status)
	assert.Equal(t, HaltMonopolization, res.HaltReason)
	require.Len(t, res.Messages, 2)
	assert.Equal(t, "The same point again.", res.Messages[0].Content)
	assert.True(t, res.Messages[1].Summary)
	assert.Equal(t, "Wrap up.", res.Answer)
}

func TestRun_DynamicRosterAndEvents(t *testing.T) {
	llm := testutil.NewScriptedModel("hosted", "").
		On(testutil.Rule{Intent: model.IntentAgentConstruction,
			Reply: `{"agents":[{"name":"Host","role":"coordinator"},{"name":"Analyst","role":"analyst","expertise":["launch"]}]}`}).
		On(testutil.Rule{Intent: model.IntentDebateTurn, Reply: `{"to":"user","message":"Done."}`})

	orch := New(newRouter(llm))
	id, events, errs, err := orch.Run(context.Background(), "Plan a product launch")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	var kinds []EventKind
	var selected []DynamicAgent
	var result *Result
	for ev := range events {
		assert.Equal(t, id, ev.SessionID)
		kinds = append(kinds, ev.Kind)
		switch ev.Kind {
		case EventAgentsSelected:
			selected = ev.Agents
		case EventSessionComplete:
			result = ev.Result
		}
	}
	require.NoError(t, <-errs)

	require.NotEmpty(t, kinds)
	assert.Equal(t, EventAgentsSelected, kinds[0])
	assert.Equal(t, EventSessionComplete, kinds[len(kinds)-1])
	assert.Contains(t, kinds, EventMessageAppended)
	assert.Contains(t, kinds, EventMemoryUpdated)

	require.Len(t, selected, 2)
	assert.Equal(t, "Host", selected[0].Name())
	assert.True(t, selected[0].Coordinator)

	require.NotNil(t, result)
	assert.Equal(t, "Done.", result.Answer)
}

func TestRun_FallbackRosterWhenConstructionFails(t *testing.T) {
	llm := testutil.NewScriptedModel("hosted", `{"to":"user","message":"Answer."}`)
	orch := New(newRouter(llm))

	res, err := orch.RunSync(context.Background(), "Plan a product launch")
	require.NoError(t, err)
	require.Len(t, res.Agents, 3)
	assert.Equal(t, "Coordinator", res.Agents[0].Name())
}

func TestRun_Errors(t *testing.T) {
	orch := New(newRouter(testutil.NewScriptedModel("hosted", "x")))
	_, _, _, err := orch.Run(context.Background(), "   ")
	assert.ErrorIs(t, err, core.ErrEmptyContent)
	assert.Error(t, orch.Cancel("missing"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = orch.RunSync(ctx, "Plan a product launch")
	assert.Error(t, err)
}
