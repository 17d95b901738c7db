package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/callout/pkg/audio"
	"github.com/MrWong99/callout/pkg/provider/tts"
)

// SynthesizerChain implements [tts.Provider] with automatic failover across
// several synthesis providers, each behind its own circuit breaker.
//
// Member names must match the Provider field the members stamp on their
// voices. A voice is sent to the provider that owns it first; other providers
// receive the voice with its ID cleared and use their own default voice.
type SynthesizerChain struct {
	group *Group[tts.Provider]
}

// Compile-time interface assertion.
var _ tts.Provider = (*SynthesizerChain)(nil)

// NewSynthesizerChain creates an empty chain. Register providers with
// [SynthesizerChain.Add] before use.
func NewSynthesizerChain(cfg CircuitBreakerConfig) *SynthesizerChain {
	return &SynthesizerChain{group: NewGroup[tts.Provider](cfg)}
}

// Add registers a provider. Providers are tried in the order they are added.
func (c *SynthesizerChain) Add(name string, p tts.Provider) {
	c.group.Add(name, p)
}

// Len returns the number of registered providers.
func (c *SynthesizerChain) Len() int { return c.group.Len() }

// States returns the breaker state of every provider keyed by name.
func (c *SynthesizerChain) States() map[string]State { return c.group.States() }

// Synthesize renders text on the first healthy provider.
func (c *SynthesizerChain) Synthesize(ctx context.Context, text string, voice tts.Voice, params tts.Params) (audio.Clip, error) {
	return Try(ctx, c.group, voice.Provider, func(ctx context.Context, name string, p tts.Provider) (audio.Clip, error) {
		v := voice
		if v.Provider != name {
			v.ID = ""
			v.Provider = name
		}
		return p.Synthesize(ctx, text, v, params)
	})
}

// ListVoices merges the catalogues of every provider whose breaker admits the
// call. It fails only when no provider answered.
func (c *SynthesizerChain) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	var (
		voices []tts.Voice
		errs   []error
		ok     int
	)
	for _, m := range c.group.members {
		err := m.breaker.Execute(ctx, func(ctx context.Context) error {
			vs, err := m.value.ListVoices(ctx)
			if err != nil {
				return err
			}
			for _, v := range vs {
				if v.Provider == "" {
					v.Provider = m.name
				}
				voices = append(voices, v)
			}
			return nil
		})
		if err != nil {
			slog.Debug("voice listing failed", "backend", m.name, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
			continue
		}
		ok++
	}
	if ok == 0 && len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
	}
	return voices, nil
}
