package announce

import "strings"

// Settings is the configuration surface consumed by the engine. Backends read
// a snapshot taken when their attempt starts; changes never affect an attempt
// already in flight.
type Settings struct {
	// AutoPlay enables automatic playback of received announcements.
	AutoPlay bool `json:"autoPlay"`

	// SoundNotifications enables sound output at all. When false, incoming
	// requests are dropped without being queued.
	SoundNotifications bool `json:"soundNotifications"`

	// Volume is the output gain in [0, 1].
	Volume float64 `json:"voiceVolume"`

	// SpeechRate is the synthesis speaking rate; 1.0 is the voice's default.
	SpeechRate float64 `json:"voiceRate"`

	// SpeechPitch is the synthesis pitch; 1.0 is the voice's default.
	SpeechPitch float64 `json:"voicePitch"`

	// Language selects the announcement language ("urdu", "english", or a
	// BCP-47 tag).
	Language string `json:"language"`
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		AutoPlay:           true,
		SoundNotifications: true,
		Volume:             1.0,
		SpeechRate:         0.85,
		SpeechPitch:        1.2,
		Language:           "urdu",
	}
}

// Locale returns the BCP-47 tag for the configured language.
func (s Settings) Locale() string {
	switch strings.ToLower(s.Language) {
	case "", "urdu":
		return "ur-PK"
	case "english":
		return "en-US"
	}
	return s.Language
}

// ClampedVolume returns Volume limited to [0, 1].
func (s Settings) ClampedVolume() float64 {
	switch {
	case s.Volume < 0:
		return 0
	case s.Volume > 1:
		return 1
	}
	return s.Volume
}
