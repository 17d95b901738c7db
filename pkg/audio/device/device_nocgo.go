//go:build nocgo

package device

import (
	"fmt"

	"github.com/MrWong99/callout/pkg/audio"
)

// DefaultFormat is the device format used when none is configured.
var DefaultFormat = audio.Format{SampleRate: 44100, Channels: 2}

// Speaker is unavailable in nocgo builds.
type Speaker = audio.Silent

// Open always fails in nocgo builds.
func Open(audio.Format) (*Speaker, error) {
	return nil, fmt.Errorf("device: %w (built with nocgo)", audio.ErrNoDevice)
}
