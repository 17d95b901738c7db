//go:build !nocgo

// Package device provides an [audio.Speaker] backed by the host's default
// sound output through oto.
//
// oto allows a single context per process, so [Open] must be called at most
// once. Build with the nocgo tag on hosts without audio libraries; [Open] then
// always fails and callers fall back to [audio.Silent].
package device

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/MrWong99/callout/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Speaker = (*Speaker)(nil)

// pollInterval is how often Play checks whether the oto player drained.
const pollInterval = 10 * time.Millisecond

// DefaultFormat is the device format used when none is configured.
var DefaultFormat = audio.Format{SampleRate: 44100, Channels: 2}

// Speaker plays clips through an oto context. Clips in other formats are
// converted to the device format before playback.
type Speaker struct {
	ctx    *oto.Context
	format audio.Format

	// mu serialises playback; oto mixes concurrent players, which the engine
	// never wants.
	mu sync.Mutex
}

// Open initialises the system audio context in the given format and waits
// until the device is ready.
func Open(format audio.Format) (*Speaker, error) {
	if format.SampleRate <= 0 || format.Channels <= 0 {
		format = DefaultFormat
	}
	op := &oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("device: open audio context: %w", err)
	}
	<-ready

	slog.Debug("audio device initialised", "sample_rate", format.SampleRate, "channels", format.Channels)
	return &Speaker{ctx: ctx, format: format}, nil
}

// Play implements [audio.Speaker].
func (s *Speaker) Play(ctx context.Context, clip audio.Clip, volume float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	clip = audio.Convert(clip, s.format)
	player := s.ctx.NewPlayer(bytes.NewReader(clip.PCM))
	player.SetVolume(volume)
	player.Play()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			player.Pause()
			_ = player.Close()
			return ctx.Err()
		case <-ticker.C:
		}
	}

	if err := player.Err(); err != nil {
		_ = player.Close()
		return fmt.Errorf("device: playback: %w", err)
	}
	return player.Close()
}

// Available implements [audio.Speaker]. An opened context is always usable.
func (s *Speaker) Available() bool { return true }

// Format returns the device format.
func (s *Speaker) Format() audio.Format { return s.format }
