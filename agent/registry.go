package agent

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/atlasforge/core"
	"github.com/hupe1980/atlasforge/logging"
	"github.com/hupe1980/atlasforge/model"
)

// Built-in agent kinds.
const (
	KindModel = "model"
	KindRAG   = "rag"
	KindEcho  = "echo"
)

// Spec describes an agent to build: identity plus kind specific settings.
type Spec struct {
	Name         string   `mapstructure:"name" yaml:"name" json:"name"`
	Role         string   `mapstructure:"role" yaml:"role" json:"role"`
	Kind         string   `mapstructure:"kind" yaml:"kind" json:"kind"`
	Expertise    []string `mapstructure:"expertise" yaml:"expertise,omitempty" json:"expertise,omitempty"`
	Instructions string   `mapstructure:"instructions" yaml:"instructions,omitempty" json:"instructions,omitempty"`
}

// Deps are the collaborators a kind may use.
type Deps struct {
	Model  model.Model
	Memory core.MemoryStore
	Logger logging.Logger
}

// Factory builds the MessageHandler of one kind.
type Factory func(spec Spec, deps Deps) (MessageHandler, error)

// Registry maps kind names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with the built-in kinds.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(KindModel, func(spec Spec, deps Deps) (MessageHandler, error) { return NewModelHandler(spec, deps) })
	r.Register(KindRAG, func(spec Spec, deps Deps) (MessageHandler, error) { return NewRAGHandler(spec, deps) })
	r.Register(KindEcho, func(Spec, Deps) (MessageHandler, error) { return EchoHandler{}, nil })
	return r
}

// Register adds or replaces a kind.
func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// New builds the handler for spec.Kind (model when empty).
func (r *Registry) New(spec Spec, deps Deps) (MessageHandler, error) {
	kind := spec.Kind
	if kind == "" {
		kind = KindModel
	}
	r.mu.RLock()
	f, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownKind, kind)
	}
	return f(spec, deps)
}

// Kinds returns the registered kind names, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
