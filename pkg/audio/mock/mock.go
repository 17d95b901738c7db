// Package mock provides an in-memory mock implementation of [audio.Speaker]
// for use in unit tests.
//
// The mock is safe for concurrent use. It records every Play call so that
// tests can assert on call counts and arguments, and it exposes exported
// fields that the test can set to control behaviour.
//
// Typical usage:
//
//	spk := &mock.Speaker{PlayDuration: 20 * time.Millisecond}
//	err := spk.Play(ctx, clip, 0.8)
//	calls := spk.Calls()
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/callout/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Speaker = (*Speaker)(nil)

// PlayCall records the arguments of a single [Speaker.Play] invocation.
type PlayCall struct {
	// Clip is the clip passed to Play.
	Clip audio.Clip

	// Volume is the volume passed to Play.
	Volume float64

	// Interrupted is true when the call returned because ctx was done.
	Interrupted bool
}

// Speaker is a mock implementation of [audio.Speaker].
// Set the exported fields before use; inspect [Speaker.Calls] after.
type Speaker struct {
	mu sync.Mutex

	// Unavailable makes [Speaker.Available] return false and Play return
	// [audio.ErrNoDevice].
	Unavailable bool

	// PlayErr is returned by Play after PlayDuration elapses.
	PlayErr error

	// PlayDuration simulates the playback length. Zero returns immediately.
	PlayDuration time.Duration

	// OnPlay, if set, is called at the start of every Play call.
	OnPlay func(clip audio.Clip)

	calls     []PlayCall
	active    int
	maxActive int
}

// Play implements [audio.Speaker]. It blocks for PlayDuration or until ctx
// is done.
func (s *Speaker) Play(ctx context.Context, clip audio.Clip, volume float64) error {
	s.mu.Lock()
	if s.Unavailable {
		s.calls = append(s.calls, PlayCall{Clip: clip, Volume: volume})
		s.mu.Unlock()
		return audio.ErrNoDevice
	}
	s.active++
	s.maxActive = max(s.maxActive, s.active)
	d, playErr, onPlay := s.PlayDuration, s.PlayErr, s.OnPlay
	s.mu.Unlock()

	if onPlay != nil {
		onPlay(clip)
	}

	var err error
	interrupted := false
	if d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			err = ctx.Err()
			interrupted = true
		case <-timer.C:
		}
	} else if ctx.Err() != nil {
		err = ctx.Err()
		interrupted = true
	}
	if err == nil {
		err = playErr
	}

	s.mu.Lock()
	s.active--
	s.calls = append(s.calls, PlayCall{Clip: clip, Volume: volume, Interrupted: interrupted})
	s.mu.Unlock()
	return err
}

// Available implements [audio.Speaker].
func (s *Speaker) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.Unavailable
}

// SetUnavailable toggles device availability at runtime.
func (s *Speaker) SetUnavailable(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Unavailable = v
}

// Calls returns a copy of all recorded Play calls in completion order.
func (s *Speaker) Calls() []PlayCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PlayCall, len(s.calls))
	copy(out, s.calls)
	return out
}

// MaxConcurrent returns the highest number of Play calls observed in flight
// at the same time.
func (s *Speaker) MaxConcurrent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxActive
}
