// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription service (e.g., Deepgram, or a local
// whisper.cpp model) behind a uniform batch interface: the orchestrator hands
// over the complete audio of one finished turn and receives a single
// authoritative transcript with a confidence score. Streaming providers
// implement the same contract by feeding the buffered audio through their
// stream and collecting the final results.
//
// Implementations must be safe for concurrent use, although the turn
// orchestrator only ever has one transcription in flight at a time.
package stt

import "context"

// AudioConfig describes the audio format of the PCM handed to Transcribe.
type AudioConfig struct {
	// SampleRate is the audio sample rate in Hz. Most providers want 16000.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono (required by most
	// STT providers).
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en",
	// "en-US"). An empty string lets the provider use its default.
	Language string
}

// Result is the outcome of a successful transcription request. An empty Text
// is a valid result — it means the provider found no speech in the audio; the
// caller decides what to do with it.
type Result struct {
	// Text is the transcribed speech content, post-processed by the provider
	// (punctuation, formatting) where supported.
	Text string

	// Confidence is the provider's overall confidence score (0.0–1.0).
	// Zero when the provider does not report confidence.
	Confidence float64
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe submits one turn's worth of little-endian 16-bit PCM and
	// blocks until the provider returns its transcript. The pcm slice must
	// match cfg; implementations must not retain it after returning.
	//
	// Returns an error only for transport or provider failures. Audio that
	// contains no recognisable speech yields a Result with empty Text, not an
	// error.
	Transcribe(ctx context.Context, pcm []byte, cfg AudioConfig) (Result, error)
}
