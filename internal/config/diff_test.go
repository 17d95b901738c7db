package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/callout/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{ListenAddr: ":8080", LogLevel: config.LogInfo},
		Announcer: config.AnnouncerConfig{Language: "urdu"},
		Transport: config.TransportConfig{URL: "wss://queue.example.org/socket"},
		Synthesis: config.SynthesisConfig{Providers: []config.ProviderEntry{{Name: "openai"}}},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()

	d := config.Diff(baseConfig(), baseConfig())
	if !d.Empty() {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()

	next := baseConfig()
	next.Server.LogLevel = config.LogDebug
	d := config.Diff(baseConfig(), next)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level: got changed=%v level=%q", d.LogLevelChanged, d.NewLogLevel)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level alone should not require restart, got %v", d.RestartRequired)
	}
}

func TestDiff_AnnouncerChanged(t *testing.T) {
	t.Parallel()

	vol := 0.4
	tests := []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{"volume", func(c *config.Config) { c.Announcer.Volume = &vol }},
		{"language", func(c *config.Config) { c.Announcer.Language = "english" }},
		{"gap", func(c *config.Config) { c.Announcer.Gap = time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			next := baseConfig()
			tt.mutate(next)
			if d := config.Diff(baseConfig(), next); !d.AnnouncerChanged {
				t.Errorf("AnnouncerChanged = false, want true")
			}
		})
	}
}

func TestDiff_DefaultEquivalentIsNoChange(t *testing.T) {
	t.Parallel()

	// Spelling out the default volume is the same effective setting.
	one := 1.0
	next := baseConfig()
	next.Announcer.Volume = &one
	if d := config.Diff(baseConfig(), next); d.AnnouncerChanged {
		t.Error("AnnouncerChanged = true for an explicit default, want false")
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	next := baseConfig()
	next.Server.ListenAddr = ":9090"
	next.Transport.ScreenID = "lab-waiting"
	next.Synthesis.Providers = append(next.Synthesis.Providers, config.ProviderEntry{Name: "coqui"})
	next.Voices.RescanInterval = time.Minute

	d := config.Diff(baseConfig(), next)
	for _, section := range []string{"server", "transport", "synthesis"} {
		if !slices.Contains(d.RestartRequired, section) {
			t.Errorf("RestartRequired %v missing %q", d.RestartRequired, section)
		}
	}
	if slices.Contains(d.RestartRequired, "journal") {
		t.Errorf("RestartRequired %v should not contain journal", d.RestartRequired)
	}
	if !d.RescanChanged {
		t.Error("RescanChanged = false, want true")
	}
}
