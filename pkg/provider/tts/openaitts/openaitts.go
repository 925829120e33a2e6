// Package openaitts provides a TTS provider backed by the OpenAI
// text-to-speech API. It requests raw PCM output, which the API delivers as
// 24 kHz mono 16-bit little-endian samples.
package openaitts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/loquax/pkg/provider/tts"
)

// The PCM response format is fixed by the OpenAI API.
const (
	outputSampleRate = 24000
	outputChannels   = 1
)

// DefaultVoice is used when the caller passes a Voice with an empty ID.
const DefaultVoice = "alloy"

// Provider implements tts.Provider using the OpenAI audio speech API.
type Provider struct {
	client oai.Client
	model  oai.SpeechModel
}

// Compile-time assertion that Provider satisfies tts.Provider.
var _ tts.Provider = (*Provider)(nil)

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	model   string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithModel sets the speech model to use (e.g., "tts-1", "tts-1-hd").
// Defaults to "tts-1".
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI TTS Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openaitts: apiKey must not be empty")
	}

	cfg := &config{model: string(oai.SpeechModelTTS1)}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(cfg.timeout))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  oai.SpeechModel(cfg.model),
	}, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) ([]byte, error) {
	if text == "" {
		return nil, errors.New("openaitts: text must not be empty")
	}

	voiceID := voice.ID
	if voiceID == "" {
		voiceID = DefaultVoice
	}

	params := oai.AudioSpeechNewParams{
		Model:          p.model,
		Input:          text,
		Voice:          oai.AudioSpeechNewParamsVoice(voiceID),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if voice.Speed != 0 {
		params.Speed = param.NewOpt(voice.Speed)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openaitts: speech request: %w", err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openaitts: read audio: %w", err)
	}
	return pcm, nil
}

// OutputFormat implements tts.Provider.
func (p *Provider) OutputFormat() tts.Format {
	return tts.Format{SampleRate: outputSampleRate, Channels: outputChannels}
}
