package playback

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/callout/pkg/announce"
	"github.com/MrWong99/callout/pkg/audio"
)

const (
	// DefaultToneHold is how long after the chime starts the tone tier
	// resolves.
	DefaultToneHold = 800 * time.Millisecond

	// DefaultNoDeviceHold is how long the tone tier waits before reporting
	// a degraded success when there is nothing to play on.
	DefaultNoDeviceHold = 1000 * time.Millisecond
)

// toneFormat is the PCM format the chime is rendered in.
var toneFormat = audio.Format{SampleRate: 48000, Channels: 2}

// Tone is the last-resort tier. It has no external dependency and reports
// success whenever it is allowed to run to its hold time. Without an output
// device the success is flagged Degraded because nothing was heard.
type Tone struct {
	Speaker audio.Speaker

	// Spec defaults to [audio.DefaultTone].
	Spec audio.ToneSpec

	// Hold and NoDeviceHold default to DefaultToneHold and
	// DefaultNoDeviceHold when zero.
	Hold         time.Duration
	NoDeviceHold time.Duration

	once sync.Once
	clip audio.Clip
}

var _ Backend = (*Tone)(nil)

// Method implements [Backend].
func (t *Tone) Method() announce.Method { return announce.MethodTone }

// Attempt implements [Backend].
func (t *Tone) Attempt(ctx context.Context, a announce.Announcement, s announce.Settings) announce.Outcome {
	if t.Speaker == nil || !t.Speaker.Available() {
		return t.degraded(ctx, durationOr(t.NoDeviceHold, DefaultNoDeviceHold), nil)
	}

	played := make(chan error, 1)
	start := time.Now()
	volume := s.ClampedVolume()
	go func() { played <- t.Speaker.Play(ctx, t.chime(), volume) }()

	hold := durationOr(t.Hold, DefaultToneHold)
	err := <-played
	if err != nil && ctx.Err() == nil {
		return t.degraded(ctx, hold-time.Since(start), err)
	}
	if !wait(ctx, hold-time.Since(start)) {
		return announce.Outcome{Method: announce.MethodTone, Err: ctx.Err()}
	}
	return announce.Outcome{Succeeded: true, Method: announce.MethodTone}
}

// degraded waits d and then reports success without audible output.
func (t *Tone) degraded(ctx context.Context, d time.Duration, cause error) announce.Outcome {
	if !wait(ctx, d) {
		return announce.Outcome{Method: announce.MethodTone, Err: ctx.Err()}
	}
	return announce.Outcome{Succeeded: true, Method: announce.MethodTone, Degraded: true, Err: cause}
}

func (t *Tone) chime() audio.Clip {
	t.once.Do(func() {
		spec := t.Spec
		if spec.Length == 0 {
			spec = audio.DefaultTone
		}
		t.clip = audio.GenerateTone(spec, toneFormat)
	})
	return t.clip
}
