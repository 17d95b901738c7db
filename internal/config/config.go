// Package config provides the configuration schema, loader, and provider registry
// for the Callout announcement engine.
package config

import (
	"time"

	"github.com/MrWong99/callout/pkg/announce"
)

// LogLevel controls log verbosity for the Callout server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// TraceExporter selects where finished spans are sent.
type TraceExporter string

const (
	// TraceNone records spans without exporting them.
	TraceNone TraceExporter = "none"
	// TraceLog writes each finished span to the structured log.
	TraceLog TraceExporter = "log"
)

// IsValid reports whether t is a recognised exporter.
func (t TraceExporter) IsValid() bool {
	return t == TraceNone || t == TraceLog
}

// Output selects where announcement audio is played.
type Output string

const (
	// OutputDevice plays through the host's default audio device.
	OutputDevice Output = "device"

	// OutputNone runs without an audio device. Pre-recorded and synthesised
	// tiers report unavailable and the tone tier degrades to a timed hold.
	OutputNone Output = "none"
)

// IsValid reports whether o is a recognised output mode.
func (o Output) IsValid() bool {
	switch o {
	case OutputDevice, OutputNone:
		return true
	}
	return false
}

// Config is the root configuration structure for Callout.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Announcer AnnouncerConfig `yaml:"announcer"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Voices    VoicesConfig    `yaml:"voices"`
	Cache     CacheConfig     `yaml:"cache"`
	Transport TransportConfig `yaml:"transport"`
	Synthesis SynthesisConfig `yaml:"synthesis"`
	Journal   JournalConfig   `yaml:"journal"`
	Report    ReportConfig    `yaml:"report"`
}

// ServerConfig holds network and logging settings for the Callout server.
type ServerConfig struct {
	// ListenAddr is the TCP address for the control and health API (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel sets the minimum log level. Defaults to "info" when empty.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`

	// TraceExporter selects the span exporter. Defaults to "none".
	TraceExporter TraceExporter `yaml:"trace_exporter"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded private key.
	KeyFile string `yaml:"key_file"`
}

// AnnouncerConfig mirrors the operator-facing settings. Every field is
// optional; unset fields take the value from [announce.DefaultSettings].
type AnnouncerConfig struct {
	AutoPlay           *bool    `yaml:"auto_play"`
	SoundNotifications *bool    `yaml:"sound_notifications"`
	Volume             *float64 `yaml:"volume"`
	SpeechRate         float64  `yaml:"speech_rate"`
	SpeechPitch        float64  `yaml:"speech_pitch"`
	Language           string   `yaml:"language"`

	// Gap is the pause between the end of one announcement and the start of
	// the next. Zero selects the engine default.
	Gap time.Duration `yaml:"gap"`
}

// Settings merges the configured values over the defaults.
func (a AnnouncerConfig) Settings() announce.Settings {
	s := announce.DefaultSettings()
	if a.AutoPlay != nil {
		s.AutoPlay = *a.AutoPlay
	}
	if a.SoundNotifications != nil {
		s.SoundNotifications = *a.SoundNotifications
	}
	if a.Volume != nil {
		s.Volume = *a.Volume
	}
	if a.SpeechRate > 0 {
		s.SpeechRate = a.SpeechRate
	}
	if a.SpeechPitch > 0 {
		s.SpeechPitch = a.SpeechPitch
	}
	if a.Language != "" {
		s.Language = a.Language
	}
	return s
}

// PlaybackConfig tunes the backend chain.
type PlaybackConfig struct {
	// Output selects the audio sink. Defaults to "device".
	Output Output `yaml:"output"`

	// AttemptTimeout bounds every tier that has no override below.
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`

	PreRecordedTimeout time.Duration `yaml:"prerecorded_timeout"`
	SynthesisTimeout   time.Duration `yaml:"synthesis_timeout"`
	ToneTimeout        time.Duration `yaml:"tone_timeout"`

	// ToneHold is how long the tone tier holds after the chime.
	ToneHold time.Duration `yaml:"tone_hold"`

	// TrailingPause is held after synthesised speech finishes. A negative
	// value disables it.
	TrailingPause time.Duration `yaml:"trailing_pause"`
}

// VoicesConfig controls the voice selector.
type VoicesConfig struct {
	// RescanInterval is how often the catalogue is rescanned. Zero selects
	// the selector default.
	RescanInterval time.Duration `yaml:"rescan_interval"`
}

// CacheConfig controls the pre-recorded clip cache.
type CacheConfig struct {
	// MaxBytes bounds the total PCM held in memory. Zero means unbounded.
	MaxBytes int64 `yaml:"max_bytes"`

	// MaxClipBytes rejects any single recording larger than this. Zero
	// selects the loader default of 64 MiB.
	MaxClipBytes int64 `yaml:"max_clip_bytes"`

	EvictInterval  time.Duration `yaml:"evict_interval"`
	LoadTimeout    time.Duration `yaml:"load_timeout"`
	PreloadWorkers int           `yaml:"preload_workers"`

	// BaseURL resolves relative refs over HTTP.
	BaseURL string `yaml:"base_url"`

	// BaseDir resolves relative refs on the local filesystem when BaseURL is empty.
	BaseDir string `yaml:"base_dir"`

	// Preload lists refs fetched at startup.
	Preload []string `yaml:"preload"`
}

// TransportConfig holds the realtime connection to the central system.
type TransportConfig struct {
	// URL is the websocket endpoint. Empty disables the transport and the
	// engine is driven only through the control API.
	URL string `yaml:"url"`

	// ScreenID identifies this display. Defaults to "main-waiting".
	ScreenID string `yaml:"screen_id"`

	// Token is sent as a Bearer authorization header when set.
	Token string `yaml:"token"`

	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// SynthesisConfig lists speech synthesis providers in preference order.
type SynthesisConfig struct {
	Providers []ProviderEntry `yaml:"providers"`

	// Breaker configures the per-provider circuit breakers.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig mirrors [resilience.CircuitBreakerConfig] for YAML.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// ProviderEntry is the configuration block for a single synthesis provider.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name is the registered provider name (e.g., "openai", "elevenlabs").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint. Required for
	// self-hosted servers such as coqui.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model (e.g., "gpt-4o-mini-tts").
	Model string `yaml:"model"`

	// Options holds provider-specific settings not covered by the common fields.
	Options map[string]any `yaml:"options"`
}

// JournalConfig enables the PostgreSQL delivery journal.
type JournalConfig struct {
	// PostgresDSN is the connection string. Empty disables the journal.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ReportConfig tunes completion reporting.
type ReportConfig struct {
	// File appends completions as JSON lines when set.
	File string `yaml:"file"`

	SendTimeout time.Duration `yaml:"send_timeout"`
	Buffer      int           `yaml:"buffer"`

	// Breaker wraps every sink in a circuit breaker when MaxFailures > 0.
	Breaker BreakerConfig `yaml:"breaker"`
}
