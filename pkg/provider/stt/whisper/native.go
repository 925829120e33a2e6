// Package whisper provides a local STT provider backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.
//
// Because inference runs in-process, this provider has no network failure
// modes and works fully offline, at the cost of CPU time proportional to the
// turn length.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/loquax/pkg/provider/stt"
)

// defaultLanguage is the transcription language used when neither the
// provider nor the request specifies one.
const defaultLanguage = "en"

// Provider implements stt.Provider using the whisper.cpp Go bindings (CGO).
// The model is loaded once at construction and shared across all Transcribe
// calls; each call creates its own whisper context, which is the unit of
// thread safety in whisper.cpp.
type Provider struct {
	model    whisperlib.Model
	language string
}

// Compile-time assertion that Provider satisfies stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the language code for transcription (e.g., "en", "de").
// Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// New creates a Provider that loads the whisper.cpp model from the given file
// path. The caller must call Close when the provider is no longer needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &Provider{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model. Must be called when the provider is no
// longer needed.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe runs whisper.cpp inference over the complete turn audio and
// returns the concatenated segment text. whisper.cpp does not report a
// confidence score, so Result.Confidence is always zero.
//
// The audio is downmixed to mono and normalised to float32 before inference,
// as required by whisper.cpp. cfg.SampleRate should be 16000; other rates are
// accepted but degrade accuracy.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, cfg stt.AudioConfig) (stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	channels := cfg.Channels
	if channels <= 0 {
		channels = 1
	}

	samples := pcmToFloat32Mono(pcm, channels)

	// Each inference gets a fresh context; contexts are not thread-safe but
	// the model is shared.
	wctx, err := p.model.NewContext()
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Result{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	return stt.Result{Text: strings.Join(parts, " ")}, nil
}
