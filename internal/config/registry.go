package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/callout/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by [Registry.CreateTTS] when no factory
// has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// TTSFactory builds a synthesis provider from its config block.
type TTSFactory func(ProviderEntry) (tts.Provider, error)

// Registry maps synthesis provider names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	tts map[string]TTSFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{tts: make(map[string]TTSFactory)}
}

// RegisterTTS registers a synthesis provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTTS(name string, factory TTSFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// CreateTTS instantiates a provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// TTSNames returns the registered provider names in sorted order.
func (r *Registry) TTSNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tts))
	for name := range r.tts {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// NamedProvider pairs a built provider with the name it was configured under.
type NamedProvider struct {
	Name     string
	Provider tts.Provider
}

// BuildSynthesis instantiates every entry of cfg.Synthesis.Providers in order.
// Entries whose factory fails are skipped; their errors are joined into the
// returned error, which is non-nil even when some providers were built.
func (r *Registry) BuildSynthesis(cfg *Config) ([]NamedProvider, error) {
	var (
		out  []NamedProvider
		errs []error
	)
	for _, entry := range cfg.Synthesis.Providers {
		p, err := r.CreateTTS(entry)
		if err != nil {
			errs = append(errs, fmt.Errorf("synthesis provider %q: %w", entry.Name, err))
			continue
		}
		out = append(out, NamedProvider{Name: entry.Name, Provider: p})
	}
	return out, errors.Join(errs...)
}
