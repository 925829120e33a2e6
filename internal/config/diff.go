package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; audio, VAD, and
// provider changes require a restart because they are bound at pipeline
// construction.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// AgentChanged is true if the system prompt, temperature, max tokens, or
	// SSML flag changed. These apply from the next turn onward.
	AgentChanged bool

	// VoiceChanged is true if the TTS voice ID or speed factor changed.
	VoiceChanged bool
}

// Any reports whether the diff contains at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.AgentChanged || d.VoiceChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}

	if old.Agent.SystemPrompt != new.Agent.SystemPrompt ||
		old.Agent.Temperature != new.Agent.Temperature ||
		old.Agent.MaxTokens != new.Agent.MaxTokens ||
		old.Agent.UseSSML != new.Agent.UseSSML {
		d.AgentChanged = true
	}

	if old.Agent.Voice != new.Agent.Voice {
		d.VoiceChanged = true
	}

	return d
}
