package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/atlasforge/agent"
	"github.com/hupe1980/atlasforge/internal/util"
	"github.com/hupe1980/atlasforge/logging"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "ATLAS"
	// DefaultFileName is the config file name searched when no path is given.
	DefaultFileName = "atlasforge"
)

// Config is the complete atlasforge configuration.
type Config struct {
	Log          LogConfig          `mapstructure:"log" yaml:"log"`
	Router       RouterConfig       `mapstructure:"router" yaml:"router"`
	Local        BackendConfig      `mapstructure:"local" yaml:"local"`
	Hosted       BackendConfig      `mapstructure:"hosted" yaml:"hosted"`
	Embedding    EmbeddingConfig    `mapstructure:"embedding" yaml:"embedding"`
	Governor     GovernorConfig     `mapstructure:"governor" yaml:"governor"`
	Comms        CommsConfig        `mapstructure:"comms" yaml:"comms"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	Memory       MemoryConfig       `mapstructure:"memory" yaml:"memory"`
	Agents       []agent.Spec       `mapstructure:"agents" yaml:"agents,omitempty"`
}

// LogConfig selects the logger.
type LogConfig struct {
	Level     string `mapstructure:"level" yaml:"level"`
	Format    string `mapstructure:"format" yaml:"format"`
	AddSource bool   `mapstructure:"add_source" yaml:"add_source"`
}

// RouterConfig tunes backend selection.
type RouterConfig struct {
	ForceLocal       bool          `mapstructure:"force_local" yaml:"force_local"`
	ForceHosted      bool          `mapstructure:"force_hosted" yaml:"force_hosted"`
	ShortPromptChars int           `mapstructure:"short_prompt_chars" yaml:"short_prompt_chars"`
	LocalBackoff     time.Duration `mapstructure:"local_backoff" yaml:"local_backoff"`
	MaxRetries       int           `mapstructure:"max_retries" yaml:"max_retries"`
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxConcurrent    int64         `mapstructure:"max_concurrent" yaml:"max_concurrent"`
}

// Backend providers.
const (
	ProviderNone      = "none"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// BackendConfig describes one generation backend.
type BackendConfig struct {
	Provider string `mapstructure:"provider" yaml:"provider"`
	Model    string `mapstructure:"model" yaml:"model"`
	BaseURL  string `mapstructure:"base_url" yaml:"base_url,omitempty"`
	APIKey   string `mapstructure:"api_key" yaml:"api_key,omitempty"`
}

// Embedding providers.
const (
	EmbeddingHash     = "hash"
	EmbeddingOpenAI   = "openai"
	EmbeddingFallback = "fallback"
)

// EmbeddingConfig describes the governor's embedder.
type EmbeddingConfig struct {
	Provider   string        `mapstructure:"provider" yaml:"provider"`
	Model      string        `mapstructure:"model" yaml:"model"`
	BaseURL    string        `mapstructure:"base_url" yaml:"base_url,omitempty"`
	APIKey     string        `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Dimensions int           `mapstructure:"dimensions" yaml:"dimensions"`
	CacheSize  int           `mapstructure:"cache_size" yaml:"cache_size"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

// GovernorConfig tunes loop detection.
type GovernorConfig struct {
	Enabled    bool    `mapstructure:"enabled" yaml:"enabled"`
	WindowSize int     `mapstructure:"window_size" yaml:"window_size"`
	Threshold  float64 `mapstructure:"threshold" yaml:"threshold"`
	MaxCycles  int     `mapstructure:"max_cycles" yaml:"max_cycles"`
}

// CommsConfig switches agent communication.
type CommsConfig struct {
	Disabled bool `mapstructure:"disabled" yaml:"disabled"`
}

// OrchestratorConfig bounds debates.
type OrchestratorConfig struct {
	MaxTurns            int    `mapstructure:"max_turns" yaml:"max_turns"`
	MaxConsecutiveTurns int    `mapstructure:"max_consecutive_turns" yaml:"max_consecutive_turns"`
	AlternationWindow   int    `mapstructure:"alternation_window" yaml:"alternation_window"`
	MaxParticipants     int    `mapstructure:"max_participants" yaml:"max_participants"`
	Coordinator         string `mapstructure:"coordinator" yaml:"coordinator,omitempty"`
}

// Memory drivers.
const (
	MemoryInMemory = "memory"
	MemorySQLite   = "sqlite"
)

// MemoryConfig selects the memory store.
type MemoryConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	Path   string `mapstructure:"path" yaml:"path,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Router: RouterConfig{
			ShortPromptChars: 300,
			LocalBackoff:     60 * time.Second,
			MaxRetries:       2,
			Timeout:          30 * time.Second,
			MaxConcurrent:    8,
		},
		Local: BackendConfig{
			Provider: ProviderOpenAI,
			Model:    "llama3.1",
			BaseURL:  "http://localhost:11434/v1",
		},
		Hosted: BackendConfig{
			Provider: ProviderAnthropic,
			Model:    "claude-3-5-sonnet-20241022",
		},
		Embedding: EmbeddingConfig{
			Provider:  EmbeddingHash,
			Model:     "text-embedding-3-small",
			CacheSize: 1024,
			CacheTTL:  30 * time.Minute,
		},
		Governor: GovernorConfig{Enabled: true, WindowSize: 3, Threshold: 0.92, MaxCycles: 8},
		Orchestrator: OrchestratorConfig{
			MaxTurns:            14,
			MaxConsecutiveTurns: 3,
			AlternationWindow:   6,
			MaxParticipants:     4,
		},
		Memory: MemoryConfig{Driver: MemoryInMemory},
	}
}

// setDefaults registers every key so that environment overrides apply to
// keys absent from the file.
func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.add_source", d.Log.AddSource)

	v.SetDefault("router.force_local", d.Router.ForceLocal)
	v.SetDefault("router.force_hosted", d.Router.ForceHosted)
	v.SetDefault("router.short_prompt_chars", d.Router.ShortPromptChars)
	v.SetDefault("router.local_backoff", d.Router.LocalBackoff)
	v.SetDefault("router.max_retries", d.Router.MaxRetries)
	v.SetDefault("router.timeout", d.Router.Timeout)
	v.SetDefault("router.max_concurrent", d.Router.MaxConcurrent)

	for prefix, b := range map[string]BackendConfig{"local": d.Local, "hosted": d.Hosted} {
		v.SetDefault(prefix+".provider", b.Provider)
		v.SetDefault(prefix+".model", b.Model)
		v.SetDefault(prefix+".base_url", b.BaseURL)
		v.SetDefault(prefix+".api_key", b.APIKey)
	}

	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.base_url", d.Embedding.BaseURL)
	v.SetDefault("embedding.api_key", d.Embedding.APIKey)
	v.SetDefault("embedding.dimensions", d.Embedding.Dimensions)
	v.SetDefault("embedding.cache_size", d.Embedding.CacheSize)
	v.SetDefault("embedding.cache_ttl", d.Embedding.CacheTTL)

	v.SetDefault("governor.enabled", d.Governor.Enabled)
	v.SetDefault("governor.window_size", d.Governor.WindowSize)
	v.SetDefault("governor.threshold", d.Governor.Threshold)
	v.SetDefault("governor.max_cycles", d.Governor.MaxCycles)

	v.SetDefault("comms.disabled", d.Comms.Disabled)

	v.SetDefault("orchestrator.max_turns", d.Orchestrator.MaxTurns)
	v.SetDefault("orchestrator.max_consecutive_turns", d.Orchestrator.MaxConsecutiveTurns)
	v.SetDefault("orchestrator.alternation_window", d.Orchestrator.AlternationWindow)
	v.SetDefault("orchestrator.max_participants", d.Orchestrator.MaxParticipants)
	v.SetDefault("orchestrator.coordinator", d.Orchestrator.Coordinator)

	v.SetDefault("memory.driver", d.Memory.Driver)
	v.SetDefault("memory.path", d.Memory.Path)
}

// Load reads the configuration. With an empty path, atlasforge.{yaml,toml,json}
// is looked up in the working directory and in ~/.atlasforge; a missing file
// is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName(DefaultFileName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".atlasforge"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration and returns a *util.ValidationError for
// the first invalid field.
func (c *Config) Validate() error {
	invalid := func(field string, value any, msg string) error {
		return &util.ValidationError{Field: field, Value: value, Message: msg}
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", c.Log.Level, err.Error())
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		return invalid("log.format", c.Log.Format, "must be text or json")
	}

	if c.Router.ForceLocal && c.Router.ForceHosted {
		return invalid("router.force_hosted", true, "cannot be combined with router.force_local")
	}
	if c.Router.ShortPromptChars < 0 {
		return invalid("router.short_prompt_chars", c.Router.ShortPromptChars, "must not be negative")
	}
	if c.Router.MaxRetries < 0 {
		return invalid("router.max_retries", c.Router.MaxRetries, "must not be negative")
	}
	if c.Router.MaxConcurrent < 1 {
		return invalid("router.max_concurrent", c.Router.MaxConcurrent, "must be at least 1")
	}

	if !oneOf(c.Local.Provider, ProviderNone, ProviderOpenAI) {
		return invalid("local.provider", c.Local.Provider, "must be none or openai")
	}
	if !oneOf(c.Hosted.Provider, ProviderNone, ProviderOpenAI, ProviderAnthropic) {
		return invalid("hosted.provider", c.Hosted.Provider, "must be none, openai or anthropic")
	}

	if !oneOf(c.Embedding.Provider, EmbeddingHash, EmbeddingOpenAI, EmbeddingFallback) {
		return invalid("embedding.provider", c.Embedding.Provider, "must be hash, openai or fallback")
	}

	if c.Governor.WindowSize < 1 {
		return invalid("governor.window_size", c.Governor.WindowSize, "must be at least 1")
	}
	if c.Governor.Threshold <= 0 || c.Governor.Threshold > 1 {
		return invalid("governor.threshold", c.Governor.Threshold, "must be in (0, 1]")
	}
	if c.Governor.MaxCycles < 1 {
		return invalid("governor.max_cycles", c.Governor.MaxCycles, "must be at least 1")
	}

	if c.Orchestrator.MaxTurns < 1 {
		return invalid("orchestrator.max_turns", c.Orchestrator.MaxTurns, "must be at least 1")
	}
	if c.Orchestrator.MaxParticipants < 2 {
		return invalid("orchestrator.max_participants", c.Orchestrator.MaxParticipants, "must be at least 2")
	}

	switch c.Memory.Driver {
	case MemoryInMemory:
	case MemorySQLite:
		if strings.TrimSpace(c.Memory.Path) == "" {
			return invalid("memory.path", c.Memory.Path, "is required for the sqlite driver")
		}
	default:
		return invalid("memory.driver", c.Memory.Driver, "must be memory or sqlite")
	}

	seen := map[string]bool{}
	for i, a := range c.Agents {
		name := strings.ToLower(strings.TrimSpace(a.Name))
		if name == "" {
			return invalid(fmt.Sprintf("agents[%d].name", i), a.Name, "is required")
		}
		if seen[name] {
			return invalid(fmt.Sprintf("agents[%d].name", i), a.Name, "is duplicated")
		}
		seen[name] = true
	}
	return nil
}

// WriteFile writes cfg as YAML, creating parent directories.
func WriteFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
