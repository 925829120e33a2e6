package resilience

import (
	"context"

	"github.com/MrWong99/loquax/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across multiple
// STT backends. Each backend has its own circuit breaker. A typical setup uses
// a hosted service as the primary and local whisper.cpp inference as the
// fallback so transcription survives network outages.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe sends the turn audio to the first healthy provider. If the
// primary fails, subsequent fallbacks are tried with the same audio.
func (f *STTFallback) Transcribe(ctx context.Context, pcm []byte, cfg stt.AudioConfig) (stt.Result, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (stt.Result, error) {
		return p.Transcribe(ctx, pcm, cfg)
	})
}
