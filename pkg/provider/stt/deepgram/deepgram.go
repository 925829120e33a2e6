// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface by pushing
// the buffered turn audio through a short-lived streaming session and joining
// the final results into one transcript.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/loquax/pkg/provider/stt"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// chunkBytes is the size of the binary messages streamed to Deepgram.
	// 8 KiB is 256 ms of 16 kHz mono PCM, comfortably under frame limits.
	chunkBytes = 8192
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey   string
	model    string
	language string
}

// Compile-time assertion that Provider satisfies stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe opens a streaming session, writes the PCM in chunks, closes the
// stream, and collects every final result Deepgram commits before the server
// closes the connection. The finals are joined in order into one transcript,
// and the lowest final confidence is reported as the overall score.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, cfg stt.AudioConfig) (stt.Result, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "transcription finished")

	// Writer: stream the audio then ask Deepgram to flush.
	writeErr := make(chan error, 1)
	go func() {
		for off := 0; off < len(pcm); off += chunkBytes {
			end := min(off+chunkBytes, len(pcm))
			if err := conn.Write(ctx, websocket.MessageBinary, pcm[off:end]); err != nil {
				writeErr <- fmt.Errorf("deepgram: write audio: %w", err)
				return
			}
		}
		if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
			writeErr <- fmt.Errorf("deepgram: close stream: %w", err)
			return
		}
		writeErr <- nil
	}()

	// Reader: accumulate finals until the server closes the connection.
	var (
		parts      []string
		confidence float64
		haveFinal  bool
	)
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return stt.Result{}, fmt.Errorf("deepgram: read: %w", ctx.Err())
			}
			// Server closed the stream after the flush — transcription done.
			break
		}
		text, conf, ok := parseResults(msg)
		if !ok {
			continue
		}
		if text != "" {
			parts = append(parts, text)
		}
		if !haveFinal || conf < confidence {
			confidence = conf
		}
		haveFinal = true
	}

	if err := <-writeErr; err != nil {
		return stt.Result{}, err
	}

	return stt.Result{
		Text:       strings.Join(parts, " "),
		Confidence: confidence,
	}, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.AudioConfig) (string, error) {
	u, err := url.Parse(deepgramEndpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = defaultSampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseResults extracts the best alternative from a final Results message.
// Returns ok=false for non-Results messages, interim results, and messages
// without alternatives.
func parseResults(data []byte) (text string, confidence float64, ok bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", 0, false
	}
	if resp.Type != "Results" || !resp.IsFinal {
		return "", 0, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return "", 0, false
	}
	alt := resp.Channel.Alternatives[0]
	return strings.TrimSpace(alt.Transcript), alt.Confidence, true
}
