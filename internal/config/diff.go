package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two loaded configs, grouped so
// the reload handler can report each change at the right severity. Only the
// log level takes effect live; everything else is built at startup and needs
// a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	PromptsChanged bool
	SessionChanged bool
	HistoryChanged bool

	ProvidersChanged bool
	ServerChanged    bool
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return d == ConfigDiff{}
}

// Diff compares old and new configs and reports what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.ServerChanged = serverChanged(old.Server, new.Server)
	d.PromptsChanged = old.Prompts != new.Prompts
	d.SessionChanged = old.Session != new.Session
	d.HistoryChanged = old.History != new.History
	d.ProvidersChanged = entryChanged(old.Providers.LLM, new.Providers.LLM) ||
		entryChanged(old.Providers.STT, new.Providers.STT) ||
		entryChanged(old.Providers.TTS, new.Providers.TTS)

	return d
}

// serverChanged compares everything in ServerConfig except the log level,
// which is tracked separately because it is the one hot-appliable setting.
func serverChanged(old, new ServerConfig) bool {
	if old.ListenAddr != new.ListenAddr || old.ListenPort != new.ListenPort {
		return true
	}
	if !slices.Equal(old.AllowedOrigins, new.AllowedOrigins) {
		return true
	}
	switch {
	case old.TLS == nil && new.TLS == nil:
		return false
	case old.TLS == nil || new.TLS == nil:
		return true
	default:
		return *old.TLS != *new.TLS
	}
}

func entryChanged(old, new ProviderEntry) bool {
	if old.Name != new.Name || old.APIKey != new.APIKey ||
		old.BaseURL != new.BaseURL || old.Model != new.Model {
		return true
	}
	// Options is free-form YAML; DeepEqual handles the nested maps.
	return !reflect.DeepEqual(old.Options, new.Options)
}
