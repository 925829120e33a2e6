package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"deepgram", "whisper"},
	"tts": {"openai"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, applies defaults, and validates
// the result. Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	// Audio
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels != 1 && cfg.Audio.Channels != 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d must be 1 or 2", cfg.Audio.Channels))
	}
	if cfg.Audio.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d must be positive", cfg.Audio.FrameSize))
	}

	// VAD thresholds form a hysteresis band.
	if cfg.VAD.SpeechThreshold <= cfg.VAD.SilenceThreshold {
		errs = append(errs, fmt.Errorf("vad.speech_threshold %.2f must be greater than vad.silence_threshold %.2f",
			cfg.VAD.SpeechThreshold, cfg.VAD.SilenceThreshold))
	}

	// Turn bounds
	if cfg.Turn.MaxDurationMs <= cfg.Turn.MinDurationMs {
		errs = append(errs, fmt.Errorf("turn.max_duration_ms %d must be greater than turn.min_duration_ms %d",
			cfg.Turn.MaxDurationMs, cfg.Turn.MinDurationMs))
	}
	if c := cfg.Turn.MinConfidence; c < 0 || c > 1 {
		errs = append(errs, fmt.Errorf("turn.min_confidence %.2f is out of range [0, 1]", c))
	}

	// History
	if cfg.History.Capacity < cfg.History.Window {
		errs = append(errs, fmt.Errorf("history.capacity %d must be at least history.window %d",
			cfg.History.Capacity, cfg.History.Window))
	}

	// Voice
	if s := cfg.Agent.Voice.SpeedFactor; s != 0 && (s < 0.5 || s > 2.0) {
		errs = append(errs, fmt.Errorf("agent.voice.speed_factor %.2f is out of range [0.5, 2.0]", s))
	}

	// Provider name validation: warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)

	// Each stage of the pipeline needs a provider.
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt is required"))
	}
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts is required"))
	}

	if cfg.History.PostgresDSN == "" {
		slog.Warn("history.postgres_dsn is empty; conversation history will not survive restarts")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
