// Package audio defines the PCM clip type and the output [Speaker] contract
// used by every playback tier, plus the small signal-processing helpers the
// tiers need: WAV decoding, format conversion, gain and tone generation.
//
// All PCM in this package is signed 16-bit little-endian, interleaved when
// stereo.
//
// This package lives under pkg/ because external code (other output devices,
// e.g. a PA system bridge) is expected to implement [Speaker].
package audio

import (
	"context"
	"errors"
	"time"
)

// ErrNoDevice is returned by a [Speaker] that has no usable output device.
var ErrNoDevice = errors.New("audio: no output device")

// Format describes the sample rate and channel count of PCM data.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the PCM byte rate for f.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Clip is a fully decoded piece of audio held in memory.
type Clip struct {
	// PCM is signed 16-bit little-endian sample data.
	PCM []byte

	Format Format
}

// Duration returns the playback length of the clip.
func (c Clip) Duration() time.Duration {
	bps := c.Format.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(len(c.PCM)) * int64(time.Second) / int64(bps))
}

// Size returns the in-memory size of the clip in bytes.
func (c Clip) Size() int { return len(c.PCM) }

// Speaker plays clips on an output device.
//
// Implementations must be safe for concurrent use, though the engine only
// ever has one Play call in flight.
type Speaker interface {
	// Play renders clip at the given volume (0..1) and blocks until playback
	// finishes or ctx is done. Cancelling ctx stops the sound immediately and
	// Play returns ctx.Err().
	Play(ctx context.Context, clip Clip, volume float64) error

	// Available reports whether an output device is usable. Tiers that need
	// sound treat an unavailable speaker as backend-unavailable.
	Available() bool
}

// Silent is a [Speaker] with no output device. It is used when the host has
// no sound card; tiers that need sound fall through and the tone tier
// completes on its timer.
type Silent struct{}

// Play always returns [ErrNoDevice].
func (Silent) Play(context.Context, Clip, float64) error { return ErrNoDevice }

// Available always returns false.
func (Silent) Available() bool { return false }
