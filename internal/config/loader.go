package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the synthesis provider names known to this build.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{"openai", "elevenlabs", "coqui"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// An empty document yields the zero [Config], which runs with defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TraceExporter != "" && !cfg.Server.TraceExporter.IsValid() {
		errs = append(errs, fmt.Errorf("server.trace_exporter %q is invalid; valid values: none, log", cfg.Server.TraceExporter))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Announcer
	a := cfg.Announcer
	if a.Volume != nil && (*a.Volume < 0 || *a.Volume > 1) {
		errs = append(errs, fmt.Errorf("announcer.volume %.2f is out of range [0, 1]", *a.Volume))
	}
	if a.SpeechRate < 0 || a.SpeechRate > 4 {
		errs = append(errs, fmt.Errorf("announcer.speech_rate %.2f is out of range [0, 4]", a.SpeechRate))
	}
	if a.SpeechPitch < 0 || a.SpeechPitch > 2 {
		errs = append(errs, fmt.Errorf("announcer.speech_pitch %.2f is out of range [0, 2]", a.SpeechPitch))
	}
	if a.Gap < 0 {
		errs = append(errs, fmt.Errorf("announcer.gap %s must not be negative", a.Gap))
	}

	// Playback
	p := cfg.Playback
	if p.Output != "" && !p.Output.IsValid() {
		errs = append(errs, fmt.Errorf("playback.output %q is invalid; valid values: device, none", p.Output))
	}
	for name, d := range map[string]time.Duration{
		"playback.attempt_timeout":     p.AttemptTimeout,
		"playback.prerecorded_timeout": p.PreRecordedTimeout,
		"playback.synthesis_timeout":   p.SynthesisTimeout,
		"playback.tone_timeout":        p.ToneTimeout,
		"playback.tone_hold":           p.ToneHold,
		"voices.rescan_interval":       cfg.Voices.RescanInterval,
		"cache.evict_interval":         cfg.Cache.EvictInterval,
		"cache.load_timeout":           cfg.Cache.LoadTimeout,
		"transport.backoff":            cfg.Transport.Backoff,
		"transport.max_backoff":        cfg.Transport.MaxBackoff,
		"report.send_timeout":          cfg.Report.SendTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s %s must not be negative", name, d))
		}
	}

	// Cache
	if cfg.Cache.MaxBytes < 0 {
		errs = append(errs, fmt.Errorf("cache.max_bytes %d must not be negative", cfg.Cache.MaxBytes))
	}
	if cfg.Cache.MaxClipBytes < 0 {
		errs = append(errs, fmt.Errorf("cache.max_clip_bytes %d must not be negative", cfg.Cache.MaxClipBytes))
	}
	if cfg.Cache.PreloadWorkers < 0 {
		errs = append(errs, fmt.Errorf("cache.preload_workers %d must not be negative", cfg.Cache.PreloadWorkers))
	}
	if cfg.Cache.BaseURL != "" {
		if err := validateURL(cfg.Cache.BaseURL, "http", "https"); err != nil {
			errs = append(errs, fmt.Errorf("cache.base_url: %w", err))
		}
	}

	// Transport
	if cfg.Transport.URL != "" {
		if err := validateURL(cfg.Transport.URL, "ws", "wss", "http", "https"); err != nil {
			errs = append(errs, fmt.Errorf("transport.url: %w", err))
		}
	}
	if t := cfg.Transport; t.MaxBackoff > 0 && t.Backoff > t.MaxBackoff {
		errs = append(errs, fmt.Errorf("transport.backoff %s exceeds transport.max_backoff %s", t.Backoff, t.MaxBackoff))
	}

	// Synthesis providers
	seen := make(map[string]int, len(cfg.Synthesis.Providers))
	for i, entry := range cfg.Synthesis.Providers {
		prefix := fmt.Sprintf("synthesis.providers[%d]", i)
		if entry.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[entry.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of synthesis.providers[%d]", prefix, entry.Name, prev))
		}
		seen[entry.Name] = i
		validateProviderName(entry.Name)
		if entry.Name == "coqui" && entry.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s: coqui requires base_url", prefix))
		}
	}
	if cfg.Synthesis.Breaker.MaxFailures < 0 || cfg.Report.Breaker.MaxFailures < 0 {
		errs = append(errs, errors.New("breaker.max_failures must not be negative"))
	}
	if len(cfg.Synthesis.Providers) == 0 {
		slog.Warn("no synthesis providers configured; announcements without a pre-recorded clip will fall through to the tone")
	}

	// Report
	if cfg.Report.Buffer < 0 {
		errs = append(errs, fmt.Errorf("report.buffer %d must not be negative", cfg.Report.Buffer))
	}
	if cfg.Transport.URL == "" && cfg.Journal.PostgresDSN == "" && cfg.Report.File == "" {
		slog.Warn("no completion sinks configured; delivery results will only be logged")
	}

	return errors.Join(errs...)
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if !slices.Contains(schemes, u.Scheme) {
		return fmt.Errorf("scheme %q is not one of %v", u.Scheme, schemes)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}

// validateProviderName logs a warning if name is not in [ValidProviderNames].
func validateProviderName(name string) {
	if slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown synthesis provider name; may be a typo or a provider registered elsewhere",
		"name", name,
		"known", ValidProviderNames,
	)
}
