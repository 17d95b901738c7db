package audio

import (
	"math"
	"time"
)

// ToneSpec describes a single enveloped sine tone.
type ToneSpec struct {
	// Frequency is the tone pitch in Hz.
	Frequency float64

	// Peak is the maximum gain reached after the attack phase (0..1).
	Peak float64

	// Attack is the linear ramp time from silence to Peak.
	Attack time.Duration

	// Length is the total tone length; the gain decays exponentially from
	// Peak towards silence between Attack and Length.
	Length time.Duration
}

// DefaultTone is the chime used as the guaranteed last-resort tier: an 800 Hz
// sine ramping to 0.1 over 100 ms and fading out by 500 ms.
var DefaultTone = ToneSpec{
	Frequency: 800,
	Peak:      0.1,
	Attack:    100 * time.Millisecond,
	Length:    500 * time.Millisecond,
}

// toneFloor is the gain the exponential decay reaches at the end of the tone.
const toneFloor = 0.01

// GenerateTone renders spec as PCM in the given format.
func GenerateTone(spec ToneSpec, format Format) Clip {
	if format.SampleRate <= 0 || format.Channels <= 0 || spec.Length <= 0 {
		return Clip{Format: format}
	}

	total := int(int64(format.SampleRate) * int64(spec.Length) / int64(time.Second))
	attack := int(int64(format.SampleRate) * int64(spec.Attack) / int64(time.Second))
	decay := total - attack

	pcm := make([]byte, total*format.Channels*2)
	step := 2 * math.Pi * spec.Frequency / float64(format.SampleRate)

	for i := range total {
		var gain float64
		switch {
		case i < attack:
			gain = spec.Peak * float64(i) / float64(attack)
		case decay > 0:
			// Exponential ramp from Peak to Peak*toneFloor over the decay phase.
			frac := float64(i-attack) / float64(decay)
			gain = spec.Peak * math.Pow(toneFloor, frac)
		}
		v := int16(math.Round(math.Sin(step*float64(i)) * gain * math.MaxInt16))
		for c := range format.Channels {
			off := (i*format.Channels + c) * 2
			pcm[off] = byte(v)
			pcm[off+1] = byte(uint16(v) >> 8)
		}
	}
	return Clip{PCM: pcm, Format: format}
}
