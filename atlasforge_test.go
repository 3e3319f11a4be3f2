package atlasforge

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hupe1980/atlasforge/agent"
	"github.com/hupe1980/atlasforge/config"
	"github.com/hupe1980/atlasforge/core"
	"github.com/hupe1980/atlasforge/embedding"
	"github.com/hupe1980/atlasforge/internal/testutil"
	"github.com/hupe1980/atlasforge/logging"
	"github.com/hupe1980/atlasforge/memory"
	"github.com/hupe1980/atlasforge/model"
	"github.com/hupe1980/atlasforge/orchestrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Local.Provider = config.ProviderNone
	cfg.Hosted.Provider = config.ProviderNone
	return cfg
}

func TestNew_Defaults(t *testing.T) {
	f, err := New(func(o *Options) { o.Logger = logging.NoOpLogger{} })
	require.NoError(t, err)
	defer func() { require.NoError(t, f.Close()) }()

	assert.NotNil(t, f.Broker)
	assert.NotNil(t, f.Router)
	assert.NotNil(t, f.Guard)
	assert.NotNil(t, f.Orchestrator)
	assert.IsType(t, &memory.InMemoryStore{}, f.Memory)
	assert.ElementsMatch(t, []string{agent.KindEcho, agent.KindModel, agent.KindRAG}, f.Registry.Kinds())
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Governor.Threshold = 2

	_, err := New(func(o *Options) { o.Config = cfg })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "governor.threshold")
}

func TestNew_SQLiteMemory(t *testing.T) {
	cfg := testConfig()
	cfg.Memory.Driver = config.MemorySQLite
	cfg.Memory.Path = filepath.Join(t.TempDir(), "memory.db")

	f, err := New(func(o *Options) {
		o.Config = cfg
		o.Logger = logging.NoOpLogger{}
	})
	require.NoError(t, err)

	_, err = f.Memory.AppendSharedMemory(context.Background(), "launch pricing settled", []string{"a", "b"})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	store, err := memory.OpenSQLite(cfg.Memory.Path)
	require.NoError(t, err)
	defer store.Close()

	hits, err := store.Search(context.Background(), "pricing", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, core.MemoryScopeShared, hits[0].Scope)
}

func TestDebate_WithInjectedBackend(t *testing.T) {
	llm := testutil.NewScriptedModel("hosted", "I agree.").
		On(testutil.Rule{Intent: model.IntentDebateTurn, Contains: "You are Planner,", Times: 1,
			Reply: `{"to":"Analyst","message":"Estimate the demand for the launch region."}`}).
		On(testutil.Rule{Intent: model.IntentDebateTurn, Contains: "You are Analyst,", Times: 1,
			Reply: `{"to":"Planner","message":"Demand is strong in the northern region."}`}).
		On(testutil.Rule{Intent: model.IntentDebateTurn, Contains: "You are Planner,",
			Reply: `{"to":"user","final":true,"message":"Launch in the northern region first."}`})

	cfg := testConfig()
	cfg.Agents = []agent.Spec{
		{Name: "Planner", Role: "coordinator", Kind: agent.KindModel},
		{Name: "Analyst", Role: "analyst", Kind: agent.KindModel},
	}
	cfg.Orchestrator.Coordinator = "Planner"

	f, err := New(func(o *Options) {
		o.Config = cfg
		o.Hosted = llm
		o.Logger = logging.NoOpLogger{}
	})
	require.NoError(t, err)
	defer f.Close()

	res, err := f.Debate(context.Background(), "Where should we launch first?")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusFinal, res.Status)
	assert.Equal(t, "Launch in the northern region first.", res.Answer)
	require.Len(t, res.Messages, 3)
	assert.Equal(t, "Planner", res.Messages[0].FromName)
	assert.Equal(t, "hosted", res.Messages[0].Backend)
	assert.Len(t, res.SharedMemory, 1)
}

func TestSpawn_EchoAgents(t *testing.T) {
	cfg := testConfig()
	cfg.Governor.Enabled = false

	f, err := New(func(o *Options) {
		o.Config = cfg
		o.Logger = logging.NoOpLogger{}
	})
	require.NoError(t, err)
	defer f.Close()

	noAutonomy := func(o *agent.Options) { o.AutonomyInterval = 0 }
	a, err := f.Spawn(agent.Spec{Name: "Alpha", Kind: agent.KindEcho}, noAutonomy)
	require.NoError(t, err)
	defer a.Dispose()
	b, err := f.Spawn(agent.Spec{Name: "Beta", Kind: agent.KindEcho}, noAutonomy)
	require.NoError(t, err)
	defer b.Dispose()

	assert.Equal(t, "alpha", a.Descriptor().Role)

	_, err = a.SendMessage(context.Background(), b.ID(), core.MessageQuestion, "ping", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(f.Broker.History()) == 2 }, time.Second, 5*time.Millisecond)
	reply := f.Broker.History()[1]
	assert.Equal(t, b.ID(), reply.From)
	assert.Equal(t, a.ID(), reply.To)
	assert.Equal(t, core.MessageResponse, reply.Type)
}

func TestSpawn_GovernedEchoIsSuppressed(t *testing.T) {
	f, err := New(func(o *Options) {
		o.Config = testConfig()
		o.Logger = logging.NoOpLogger{}
	})
	require.NoError(t, err)
	defer f.Close()

	noAutonomy := func(o *agent.Options) { o.AutonomyInterval = 0 }
	a, err := f.Spawn(agent.Spec{Name: "Alpha", Kind: agent.KindEcho}, noAutonomy)
	require.NoError(t, err)
	defer a.Dispose()
	b, err := f.Spawn(agent.Spec{Name: "Beta", Kind: agent.KindEcho}, noAutonomy)
	require.NoError(t, err)
	defer b.Dispose()

	_, err = a.SendMessage(context.Background(), b.ID(), core.MessageQuestion, "ping", nil)
	require.NoError(t, err)

	// the echoed reply repeats the thread verbatim
	assert.Never(t, func() bool { return len(f.Broker.History()) > 1 }, 100*time.Millisecond, 5*time.Millisecond)
}

func TestSpawn_Errors(t *testing.T) {
	f, err := New(func(o *Options) {
		o.Config = testConfig()
		o.Logger = logging.NoOpLogger{}
	})
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Spawn(agent.Spec{Name: " "})
	require.Error(t, err)

	_, err = f.Spawn(agent.Spec{Name: "Ghost", Kind: "ghost"})
	require.ErrorIs(t, err, core.ErrUnknownKind)
	assert.Empty(t, f.Broker.Agents())
}

func TestNewBackend(t *testing.T) {
	m, err := NewBackend(config.BackendConfig{Provider: config.ProviderNone})
	require.NoError(t, err)
	assert.Nil(t, m)

	m, err = NewBackend(config.BackendConfig{Provider: config.ProviderOpenAI, Model: "llama3.1", BaseURL: "http://localhost:11434/v1"})
	require.NoError(t, err)
	assert.Equal(t, "llama3.1", m.Info().Name)
	assert.Equal(t, "local", m.Info().Provider)

	m, err = NewBackend(config.BackendConfig{Provider: config.ProviderAnthropic, Model: "claude-3-5-sonnet-20241022", APIKey: "test"})
	require.NoError(t, err)
	assert.Equal(t, "claude-3-5-sonnet-20241022", m.Info().Name)

	_, err = NewBackend(config.BackendConfig{Provider: "bogus"})
	require.Error(t, err)
}

func TestNewEmbedder(t *testing.T) {
	cfg := config.Default().Embedding

	e := NewEmbedder(cfg, logging.NoOpLogger{})
	cache, ok := e.(*embedding.Cache)
	require.True(t, ok)

	v1, err := cache.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	v2, err := cache.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	hits, misses := cache.Stats()
	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, misses)

	cfg.CacheSize = 0
	cfg.Provider = config.EmbeddingFallback
	assert.IsType(t, &embedding.Fallback{}, NewEmbedder(cfg, logging.NoOpLogger{}))
}

func TestNewMemory_UnknownDriver(t *testing.T) {
	_, _, err := NewMemory(config.MemoryConfig{Driver: "redis"})
	require.Error(t, err)
}
