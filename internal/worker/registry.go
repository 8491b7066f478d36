// Package worker provides WorkerPort implementations backed by external
// agent processes and hosted model APIs.
package worker

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Rogers-F/wavequorum/internal/domain"
	"github.com/Rogers-F/wavequorum/internal/logging"
)

// Provider kinds.
const (
	KindCommand   = "command"
	KindAnthropic = "anthropic"
)

// ProviderSpec describes how to reach one provider.
type ProviderSpec struct {
	Name      string            `koanf:"-"`
	Kind      string            `koanf:"kind"`
	Command   string            `koanf:"command"`
	Args      []string          `koanf:"args"`
	Env       map[string]string `koanf:"env"`
	Model     string            `koanf:"model"`
	MaxTokens int               `koanf:"max_tokens"`
	APIKeyEnv string            `koanf:"api_key_env"`
}

// Registry is a thread-safe registry of provider specifications.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]ProviderSpec
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]ProviderSpec)}
}

// Register adds a provider spec to the registry.
// Returns ErrProviderUnavailable if a provider with the same name is already registered.
func (r *Registry) Register(spec ProviderSpec) error {
	if spec.Name == "" {
		return domain.NewEngineError(domain.ErrProviderUnavailable.Code, "provider name is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[spec.Name]; exists {
		return domain.NewEngineError(domain.ErrProviderUnavailable.Code,
			fmt.Sprintf("provider %s already registered", spec.Name))
	}
	r.providers[spec.Name] = spec
	return nil
}

// Get returns the spec for the named provider, or ErrProviderUnavailable if not found.
func (r *Registry) Get(name string) (ProviderSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spec, ok := r.providers[name]
	if !ok {
		return ProviderSpec{}, domain.NewEngineError(domain.ErrProviderUnavailable.Code,
			fmt.Sprintf("%s: %s", domain.ErrProviderUnavailable.Message, name))
	}
	return spec, nil
}

// List returns all registered provider names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildOptions carries what a provider needs beyond its spec.
type BuildOptions struct {
	// Dir is the working directory for command providers.
	Dir          string
	StartRetries uint64
	Logger       *logging.Logger
}

// Worker builds the WorkerPort for the named provider.
func (r *Registry) Worker(name string, opts BuildOptions) (domain.WorkerPort, error) {
	spec, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	switch spec.Kind {
	case KindCommand, "":
		return NewCommandWorker(spec, opts)
	case KindAnthropic:
		return NewAnthropicWorker(spec)
	default:
		return nil, domain.NewEngineError(domain.ErrProviderUnavailable.Code,
			fmt.Sprintf("provider %s: unknown kind %q", name, spec.Kind))
	}
}
