package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/callout/internal/phonetic"
	"github.com/MrWong99/callout/pkg/announce"
	"github.com/MrWong99/callout/pkg/audio"
	"github.com/MrWong99/callout/pkg/provider/tts"
)

const (
	// DefaultRestartDelay separates a cancelled utterance from the one that
	// replaces it.
	DefaultRestartDelay = 300 * time.Millisecond

	// DefaultTrailingPause is held after an utterance before the attempt
	// resolves.
	DefaultTrailingPause = 500 * time.Millisecond
)

// VoiceSource reports the currently selected voice. [voice.Selector] is the
// production implementation.
type VoiceSource interface {
	Current() (tts.Voice, bool)
}

// Synthesis speaks the announcement through a text-to-speech provider.
//
// A Synthesis never queues utterances internally: if a second Attempt
// arrives while one is still speaking, the first is cancelled and the new
// one starts after RestartDelay.
type Synthesis struct {
	Provider tts.Provider
	Voices   VoiceSource
	Speaker  audio.Speaker

	// RestartDelay and TrailingPause default to DefaultRestartDelay and
	// DefaultTrailingPause when zero. Negative values disable the pause.
	RestartDelay  time.Duration
	TrailingPause time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var _ Backend = (*Synthesis)(nil)

// Method implements [Backend].
func (s *Synthesis) Method() announce.Method { return announce.MethodSynthesis }

// Attempt implements [Backend]. It is unavailable until a voice has been
// selected and while no output device exists.
func (s *Synthesis) Attempt(ctx context.Context, a announce.Announcement, set announce.Settings) announce.Outcome {
	fail := func(err error) announce.Outcome {
		return announce.Outcome{Method: announce.MethodSynthesis, Err: err}
	}
	v, ok := s.Voices.Current()
	if !ok {
		return fail(announce.Unavailable(announce.MethodSynthesis, "no voice selected"))
	}
	if !s.Speaker.Available() {
		return fail(announce.Unavailable(announce.MethodSynthesis, "no audio device"))
	}

	ctx, release, err := s.begin(ctx)
	if err != nil {
		return fail(announce.PlaybackFailed(announce.MethodSynthesis, err))
	}
	defer release()

	params := tts.Params{Rate: set.SpeechRate, Pitch: set.SpeechPitch, Locale: set.Locale()}
	clip, err := s.Provider.Synthesize(ctx, Text(a, set), v, params)
	if err != nil {
		return fail(announce.PlaybackFailed(announce.MethodSynthesis, err))
	}
	if clip.Size() == 0 {
		return fail(announce.PlaybackFailed(announce.MethodSynthesis, errors.New("provider returned no audio")))
	}
	if err := s.Speaker.Play(ctx, clip, set.ClampedVolume()); err != nil {
		return fail(announce.PlaybackFailed(announce.MethodSynthesis, err))
	}
	if !wait(ctx, durationOr(s.TrailingPause, DefaultTrailingPause)) {
		return fail(announce.PlaybackFailed(announce.MethodSynthesis, ctx.Err()))
	}
	return announce.Outcome{Succeeded: true, Method: announce.MethodSynthesis}
}

// Busy reports whether an utterance is in progress.
func (s *Synthesis) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// begin claims the synthesizer, preempting any utterance in progress.
func (s *Synthesis) begin(ctx context.Context) (context.Context, func(), error) {
	s.mu.Lock()
	prevCancel, prevDone := s.cancel, s.done
	s.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
		select {
		case <-prevDone:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
		if !wait(ctx, durationOr(s.RestartDelay, DefaultRestartDelay)) {
			return nil, nil, ctx.Err()
		}
	}

	uctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.mu.Lock()
	s.cancel, s.done = cancel, done
	s.mu.Unlock()

	release := func() {
		cancel()
		s.mu.Lock()
		if s.done == done {
			s.cancel, s.done = nil, nil
		}
		s.mu.Unlock()
		close(done)
	}
	return uctx, release, nil
}

// Text returns what the synthesis tier speaks for a: the custom message if
// set, otherwise the call or recall sentence in the configured language.
func Text(a announce.Announcement, s announce.Settings) string {
	if a.CustomMessage != "" {
		return a.CustomMessage
	}
	return phonetic.For(s.Locale()).Message(a.TicketLabel, a.CounterLabel, a.IsUrgent)
}

func durationOr(d, def time.Duration) time.Duration {
	switch {
	case d < 0:
		return 0
	case d == 0:
		return def
	}
	return d
}
