// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to return controlled clips to consumers and to verify that the
// correct voice, params and text are passed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    SynthesizeResult: audio.Clip{PCM: pcm, Format: audio.Format{SampleRate: 16000, Channels: 1}},
//	    ListVoicesResult: []tts.Voice{{ID: "v1", Name: "Urdu Female", Lang: "ur-PK"}},
//	}
//	clip, _ := p.Synthesize(ctx, "text", voice, tts.Params{})
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/callout/pkg/audio"
	"github.com/MrWong99/callout/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Text is the text passed to Synthesize.
	Text string
	// Voice is the voice passed to Synthesize.
	Voice tts.Voice
	// Params is the params value passed to Synthesize.
	Params tts.Params
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SynthesizeResult is returned by Synthesize.
	SynthesizeResult audio.Clip

	// SynthesizeErr, if non-nil, is returned as the error from Synthesize.
	SynthesizeErr error

	// SynthesizeDelay blocks Synthesize for this long (or until ctx is done).
	SynthesizeDelay time.Duration

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.Voice

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// --- Call records ---

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall

	// ListVoicesCalls counts calls to ListVoices.
	ListVoicesCalls int
}

// Synthesize records the call and returns SynthesizeResult, SynthesizeErr.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice, params tts.Params) (audio.Clip, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, Voice: voice, Params: params})
	delay, clip, err := p.SynthesizeDelay, p.SynthesizeResult, p.SynthesizeErr
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return audio.Clip{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return audio.Clip{}, err
	}
	return clip, nil
}

// ListVoices records the call and returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(_ context.Context) ([]tts.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls++
	out := make([]tts.Voice, len(p.ListVoicesResult))
	copy(out, p.ListVoicesResult)
	return out, p.ListVoicesErr
}

// SetVoices replaces ListVoicesResult. Thread-safe.
func (p *Provider) SetVoices(voices []tts.Voice) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesResult = voices
}

// SetSynthesizeErr replaces SynthesizeErr. Thread-safe.
func (p *Provider) SetSynthesizeErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeErr = err
}

// Calls returns a copy of the recorded Synthesize calls. Thread-safe.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.SynthesizeCalls))
	copy(out, p.SynthesizeCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.ListVoicesCalls = 0
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
