// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., OpenAI TTS, a local
// Piper instance) and turns one reply text into one buffer of raw PCM audio.
// The turn orchestrator synthesises at most one reply at a time, so the
// interface is a simple request/response call rather than a stream.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Voice describes a synthesis voice configuration.
type Voice struct {
	// ID is the provider-specific voice identifier (e.g., "alloy").
	ID string

	// Speed adjusts the speaking rate (0.5 to 2.0, 1.0 = default).
	// Zero means use the provider default.
	Speed float64
}

// Format describes the PCM audio a provider emits.
type Format struct {
	// SampleRate in Hz (e.g., 24000).
	SampleRate int

	// Channels is the number of interleaved channels (usually 1).
	Channels int
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts text into raw 16-bit little-endian PCM audio in the
	// provider's OutputFormat. An empty text must return an error rather than
	// an empty buffer.
	//
	// Returns an error if the service cannot be reached, the voice is not
	// available, or ctx is cancelled before synthesis completes.
	Synthesize(ctx context.Context, text string, voice Voice) ([]byte, error)

	// OutputFormat reports the PCM format of the audio returned by Synthesize.
	// The result is constant for the lifetime of the provider.
	OutputFormat() Format
}
