package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Hot-reloadable changes get their own fields; everything else is listed in
// RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// AnnouncerChanged is true when any operator setting or the gap changed.
	AnnouncerChanged bool

	// RescanChanged is true when voices.rescan_interval changed.
	RescanChanged bool

	// RestartRequired names the top-level sections that changed but are only
	// read at startup.
	RestartRequired []string
}

// Empty reports whether d carries no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.AnnouncerChanged && !d.RescanChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Announcer.Settings() != new.Announcer.Settings() || old.Announcer.Gap != new.Announcer.Gap {
		d.AnnouncerChanged = true
	}
	if old.Voices.RescanInterval != new.Voices.RescanInterval {
		d.RescanChanged = true
	}

	// Server is compared without the log level, which reloads live.
	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""

	sections := []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"playback", old.Playback, new.Playback},
		{"cache", old.Cache, new.Cache},
		{"transport", old.Transport, new.Transport},
		{"synthesis", old.Synthesis, new.Synthesis},
		{"journal", old.Journal, new.Journal},
		{"report", old.Report, new.Report},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
