// Package atlasforge provides a high-level façade that wires the broker,
// backend router, conversation governor, memory store and orchestrator into
// one ready to use value. Most applications interact with this package by:
//  1. Loading a config.Config (or starting from config.Default)
//  2. Creating a Forge via New, optionally overriding backends or stores
//  3. Running debates (Debate, Run) or spawning standalone agents (Spawn)
//
// Every collaborator can be replaced through Options; unset ones are built
// from the configuration.
package atlasforge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	openaisdk "github.com/openai/openai-go"

	"github.com/hupe1980/atlasforge/agent"
	"github.com/hupe1980/atlasforge/broker"
	"github.com/hupe1980/atlasforge/config"
	"github.com/hupe1980/atlasforge/core"
	"github.com/hupe1980/atlasforge/embedding"
	"github.com/hupe1980/atlasforge/governor"
	"github.com/hupe1980/atlasforge/logging"
	"github.com/hupe1980/atlasforge/memory"
	"github.com/hupe1980/atlasforge/model"
	"github.com/hupe1980/atlasforge/model/anthropic"
	"github.com/hupe1980/atlasforge/model/openai"
	"github.com/hupe1980/atlasforge/orchestrator"
	"github.com/hupe1980/atlasforge/router"
)

// Options configures a Forge. Nil collaborators are built from Config.
type Options struct {
	Config *config.Config

	// Local and Hosted override the configured generation backends.
	Local  model.Model
	Hosted model.Model

	Embedder embedding.Embedder
	Memory   core.MemoryStore
	Registry *agent.Registry
	Logger   logging.Logger
}

// Forge aggregates the coordination components.
type Forge struct {
	Config       *config.Config
	Broker       *broker.Broker
	Router       *router.Router
	Governor     *governor.Governor
	Guard        *governor.Guard
	Memory       core.MemoryStore
	Orchestrator *orchestrator.Orchestrator
	Registry     *agent.Registry

	logger  logging.Logger
	closers []func() error
}

// New builds a Forge.
func New(optFns ...func(o *Options)) (*Forge, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		l, err := NewLogger(cfg.Log)
		if err != nil {
			return nil, err
		}
		logger = l
	}

	f := &Forge{Config: cfg, logger: logger, Registry: opts.Registry}
	if f.Registry == nil {
		f.Registry = agent.DefaultRegistry()
	}

	local, hosted := opts.Local, opts.Hosted
	if local == nil {
		m, err := NewBackend(cfg.Local)
		if err != nil {
			return nil, fmt.Errorf("local backend: %w", err)
		}
		local = m
	}
	if hosted == nil {
		m, err := NewBackend(cfg.Hosted)
		if err != nil {
			return nil, fmt.Errorf("hosted backend: %w", err)
		}
		hosted = m
	}

	f.Router = router.New(func(o *router.Options) {
		o.Local = local
		o.Hosted = hosted
		o.ForceLocal = cfg.Router.ForceLocal
		o.ForceHosted = cfg.Router.ForceHosted
		o.ShortPromptChars = cfg.Router.ShortPromptChars
		o.LocalBackoff = cfg.Router.LocalBackoff
		o.MaxRetries = cfg.Router.MaxRetries
		o.Timeout = cfg.Router.Timeout
		o.MaxConcurrent = cfg.Router.MaxConcurrent
		o.Logger = component(logger, "router")
	})

	f.Memory = opts.Memory
	if f.Memory == nil {
		store, closer, err := NewMemory(cfg.Memory)
		if err != nil {
			return nil, err
		}
		f.Memory = store
		if closer != nil {
			f.closers = append(f.closers, closer)
		}
	}

	embedder := opts.Embedder
	if embedder == nil {
		embedder = NewEmbedder(cfg.Embedding, logger)
	}
	f.Governor = governor.New(func(o *governor.Options) {
		o.Embedder = embedder
		o.WindowSize = cfg.Governor.WindowSize
		o.Threshold = cfg.Governor.Threshold
		o.MaxCycles = cfg.Governor.MaxCycles
		o.Logger = component(logger, "governor")
	})
	f.Guard = governor.NewGuard(f.Governor, func(o *governor.GuardOptions) {
		o.Comms = governor.Comms{Disabled: cfg.Comms.Disabled}
		o.Logger = component(logger, "guard")
	})

	f.Broker = broker.New(func(o *broker.Options) { o.Logger = component(logger, "broker") })

	f.Orchestrator = orchestrator.New(f.Router, func(o *orchestrator.Options) {
		o.Broker = f.Broker
		o.Memory = f.Memory
		if cfg.Governor.Enabled || cfg.Comms.Disabled {
			o.Governance = f.Guard
		}
		o.Roster = cfg.Agents
		o.Coordinator = cfg.Orchestrator.Coordinator
		o.MaxParticipants = cfg.Orchestrator.MaxParticipants
		o.Limits.MaxTurns = cfg.Orchestrator.MaxTurns
		o.Limits.MaxConsecutiveTurns = cfg.Orchestrator.MaxConsecutiveTurns
		o.Limits.AlternationWindow = cfg.Orchestrator.AlternationWindow
		o.Logger = component(logger, "orchestrator")
	})

	return f, nil
}

// Debate runs one orchestrated debate and waits for its result.
func (f *Forge) Debate(ctx context.Context, prompt string) (*orchestrator.Result, error) {
	return f.Orchestrator.RunSync(ctx, prompt)
}

// Run starts a debate and streams its events.
func (f *Forge) Run(ctx context.Context, prompt string) (string, <-chan orchestrator.SessionEvent, <-chan error, error) {
	return f.Orchestrator.Run(ctx, prompt)
}

// Spawn builds an agent of spec.Kind and registers it with the broker. The
// caller owns the runtime and must Dispose it.
func (f *Forge) Spawn(spec agent.Spec, optFns ...func(o *agent.Options)) (*agent.Runtime, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	if spec.Kind == "" {
		spec.Kind = agent.KindModel
	}
	handler, err := f.Registry.New(spec, agent.Deps{
		Model:  f.Router,
		Memory: f.Memory,
		Logger: component(f.logger, "agent"),
	})
	if err != nil {
		return nil, err
	}
	role := spec.Role
	if role == "" {
		role = strings.ToLower(spec.Name)
	}
	desc := core.AgentDescriptor{Name: spec.Name, Role: role, Kind: spec.Kind}
	return agent.NewRuntime(f.Broker, desc, handler, append([]func(o *agent.Options){func(o *agent.Options) {
		o.Logger = component(f.logger, "agent")
		if f.Config.Governor.Enabled || f.Config.Comms.Disabled {
			o.Governance = f.Guard
		}
	}}, optFns...)...)
}

// Close releases resources owned by the Forge (the sqlite handle).
func (f *Forge) Close() error {
	var errs []error
	for _, c := range f.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	f.closers = nil
	return errors.Join(errs...)
}

// NewLogger builds the logger described by cfg.
func NewLogger(cfg config.LogConfig) (*logging.ForgeLogger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewSlogLogger(level, cfg.Format, cfg.AddSource), nil
}

// NewBackend builds a generation backend. The none provider yields nil, so
// the router treats the slot as missing.
func NewBackend(cfg config.BackendConfig) (model.Model, error) {
	switch cfg.Provider {
	case config.ProviderNone, "":
		return nil, nil
	case config.ProviderOpenAI:
		return openai.NewModel(func(o *openai.Options) {
			if cfg.Model != "" {
				o.Model = cfg.Model
			}
			o.BaseURL = cfg.BaseURL
			o.APIKey = cfg.APIKey
		}), nil
	case config.ProviderAnthropic:
		return anthropic.NewModel(func(o *anthropic.Options) {
			if cfg.Model != "" {
				o.Model = anthropicsdk.Model(cfg.Model)
			}
			o.BaseURL = cfg.BaseURL
			o.APIKey = cfg.APIKey
		}), nil
	default:
		return nil, fmt.Errorf("unknown backend provider %q", cfg.Provider)
	}
}

// NewEmbedder builds the governor's embedder, cached when CacheSize > 0.
func NewEmbedder(cfg config.EmbeddingConfig, logger logging.Logger) embedding.Embedder {
	hash := embedding.NewHashEmbedder(cfg.Dimensions)
	remote := func() *embedding.OpenAIEmbedder {
		return embedding.NewOpenAIEmbedder(func(o *embedding.OpenAIOptions) {
			if cfg.Model != "" {
				o.Model = openaisdk.EmbeddingModel(cfg.Model)
			}
			o.BaseURL = cfg.BaseURL
			o.APIKey = cfg.APIKey
		})
	}

	var e embedding.Embedder
	switch cfg.Provider {
	case config.EmbeddingOpenAI:
		e = remote()
	case config.EmbeddingFallback:
		e = &embedding.Fallback{Primary: remote(), Secondary: hash, Logger: component(logger, "embedding")}
	default:
		e = hash
	}
	if cfg.CacheSize <= 0 {
		return e
	}
	return embedding.NewCache(e, func(o *embedding.CacheOptions) {
		o.MaxEntries = cfg.CacheSize
		o.TTL = cfg.CacheTTL
	})
}

// NewMemory opens the configured memory store. The returned closer is nil
// for stores without resources.
func NewMemory(cfg config.MemoryConfig) (core.MemoryStore, func() error, error) {
	switch cfg.Driver {
	case config.MemorySQLite:
		store, err := memory.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open memory store: %w", err)
		}
		return store, store.Close, nil
	case config.MemoryInMemory, "":
		return memory.NewInMemoryStore(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown memory driver %q", cfg.Driver)
	}
}

func component(l logging.Logger, name string) logging.Logger {
	if fl, ok := l.(*logging.ForgeLogger); ok {
		return fl.WithComponent(name)
	}
	return l
}
