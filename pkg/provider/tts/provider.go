// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., OpenAI, ElevenLabs,
// or a local Coqui instance) and presents a uniform batch interface: one call
// renders one complete announcement into an in-memory [audio.Clip]. The voice
// catalogue exposed by ListVoices feeds the voice selector.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/callout/pkg/audio"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with the given voice and returns the complete
	// PCM clip. It returns an error if the voice is unknown, the backend
	// cannot be reached, or ctx is done before synthesis completes.
	Synthesize(ctx context.Context, text string, voice Voice, params Params) (audio.Clip, error)

	// ListVoices returns all voices currently offered by this provider. The
	// list may change between calls; callers rescan periodically.
	ListVoices(ctx context.Context) ([]Voice, error)
}
