package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; anything else
// (vector backend, listen address, provider selection) requires a restart.
type ConfigDiff struct {
	// LogLevelChanged is set when server.log_level changed.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// APIKeysChanged is set when llm.api_keys changed (order-sensitive).
	// The credential pool is rebuilt with the new key set.
	APIKeysChanged bool

	// MemoryChanged is set when any of the memory tuning knobs changed
	// (top_k, excerpt_chars, credential_cooldown).
	MemoryChanged bool
}

// Empty reports whether no hot-reloadable field changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.APIKeysChanged && !d.MemoryChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if !slices.Equal(old.LLM.APIKeys, new.LLM.APIKeys) {
		d.APIKeysChanged = true
	}
	if old.Memory != new.Memory {
		d.MemoryChanged = true
	}
	return d
}
