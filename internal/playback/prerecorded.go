package playback

import (
	"context"

	"github.com/MrWong99/callout/pkg/announce"
	"github.com/MrWong99/callout/pkg/audio"
)

// ClipSource resolves a pre-recorded asset reference to a decoded clip.
// [cache.Cache] is the production implementation.
type ClipSource interface {
	Get(ctx context.Context, ref string) (audio.Clip, error)
}

// PreRecorded plays the announcement's referenced audio asset.
type PreRecorded struct {
	Clips   ClipSource
	Speaker audio.Speaker
}

var _ Backend = (*PreRecorded)(nil)

// Method implements [Backend].
func (p *PreRecorded) Method() announce.Method { return announce.MethodPreRecorded }

// Attempt implements [Backend]. It is unavailable when the announcement has
// no asset reference or no output device exists.
func (p *PreRecorded) Attempt(ctx context.Context, a announce.Announcement, s announce.Settings) announce.Outcome {
	fail := func(err error) announce.Outcome {
		return announce.Outcome{Method: announce.MethodPreRecorded, Err: err}
	}
	if a.PreRecordedAudioRef == "" {
		return fail(announce.Unavailable(announce.MethodPreRecorded, "no audio reference"))
	}
	if !p.Speaker.Available() {
		return fail(announce.Unavailable(announce.MethodPreRecorded, "no audio device"))
	}

	clip, err := p.Clips.Get(ctx, a.PreRecordedAudioRef)
	if err != nil {
		return fail(announce.PlaybackFailed(announce.MethodPreRecorded, err))
	}
	if clip.Size() == 0 {
		return fail(announce.Unavailable(announce.MethodPreRecorded, "empty clip"))
	}
	if err := p.Speaker.Play(ctx, clip, s.ClampedVolume()); err != nil {
		return fail(announce.PlaybackFailed(announce.MethodPreRecorded, err))
	}
	return announce.Outcome{Succeeded: true, Method: announce.MethodPreRecorded}
}
