package resilience

import (
	"context"

	"github.com/MrWong99/loquax/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with automatic failover across multiple
// TTS backends. Each backend has its own circuit breaker.
//
// All registered backends must emit the same PCM format; OutputFormat reports
// the primary's format and does not participate in failover.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize converts the reply text using the first healthy provider. If the
// primary fails, subsequent fallbacks are tried with the same text.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice tts.Voice) ([]byte, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]byte, error) {
		return p.Synthesize(ctx, text, voice)
	})
}

// OutputFormat reports the primary backend's PCM format.
func (f *TTSFallback) OutputFormat() tts.Format {
	return f.group.entries[0].value.OutputFormat()
}
