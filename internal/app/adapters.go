package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/loquax/internal/config"
	"github.com/MrWong99/loquax/internal/history"
	"github.com/MrWong99/loquax/internal/prosody"
	"github.com/MrWong99/loquax/internal/turn"
	"github.com/MrWong99/loquax/pkg/audio"
	"github.com/MrWong99/loquax/pkg/provider/llm"
	"github.com/MrWong99/loquax/pkg/provider/stt"
	"github.com/MrWong99/loquax/pkg/provider/tts"
)

// sttTarget is the audio format handed to STT providers. Speech models are
// trained on 16kHz mono, so captured audio is converted to it first.
var sttTarget = audio.Format{SampleRate: 16000, Channels: 1}

// transcriber adapts an stt.Provider to the orchestrator's Transcriber
// interface, converting captured audio to the provider's preferred format.
type transcriber struct {
	provider stt.Provider
	capture  audio.Format
	language string
}

var _ turn.Transcriber = (*transcriber)(nil)

func (t *transcriber) Transcribe(ctx context.Context, pcm []byte) (turn.Transcript, error) {
	samples := audio.BytesToSamples(pcm)
	converted := audio.ConvertSamples(samples, t.capture, sttTarget)

	res, err := t.provider.Transcribe(ctx, audio.SamplesToBytes(converted), stt.AudioConfig{
		SampleRate: sttTarget.SampleRate,
		Channels:   sttTarget.Channels,
		Language:   t.language,
	})
	if err != nil {
		return turn.Transcript{}, err
	}
	return turn.Transcript{Text: res.Text, Confidence: res.Confidence}, nil
}

// responder adapts an llm.Provider to the orchestrator's Responder interface.
// It replays the recent conversation window into every request and appends the
// finished exchange to the history store. Agent settings can be swapped at
// runtime via applyAgent, which backs config hot reload.
type responder struct {
	provider llm.Provider
	hist     history.Store

	mu     sync.RWMutex
	agent  config.AgentConfig
	window int
}

var _ turn.Responder = (*responder)(nil)

func (r *responder) Respond(ctx context.Context, transcript string) (string, error) {
	r.mu.RLock()
	agent := r.agent
	window := r.window
	r.mu.RUnlock()

	exchanges, err := r.hist.Recent(ctx, window)
	if err != nil {
		slog.Warn("failed to load conversation history", "error", err)
	}

	messages := make([]llm.Message, 0, len(exchanges)*2+1)
	for _, e := range exchanges {
		messages = append(messages,
			llm.Message{Role: llm.RoleUser, Content: e.UserText},
			llm.Message{Role: llm.RoleAssistant, Content: e.AssistantText},
		)
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: transcript})

	resp, err := r.provider.Complete(ctx, llm.Request{
		Messages:     messages,
		SystemPrompt: agent.SystemPrompt,
		Temperature:  agent.Temperature,
		MaxTokens:    agent.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("complete: %w", err)
	}

	if err := r.hist.Append(ctx, history.Exchange{
		UserText:      transcript,
		AssistantText: resp.Content,
		Timestamp:     time.Now(),
	}); err != nil {
		slog.Warn("failed to append exchange to history", "error", err)
	}
	return resp.Content, nil
}

// applyAgent swaps the agent settings used from the next turn onward.
func (r *responder) applyAgent(agent config.AgentConfig) {
	r.mu.Lock()
	r.agent = agent
	r.mu.Unlock()
}

// synthesizer adapts a tts.Provider to the orchestrator's Synthesizer
// interface. When SSML is enabled the reply is enhanced with prosody markup
// first; the tags are stripped again before synthesis because the wired TTS
// providers accept plain text only, but the break and emphasis decisions
// still shape the logged output for debugging voice issues.
type synthesizer struct {
	provider tts.Provider

	mu    sync.RWMutex
	voice tts.Voice
	ssml  bool
	style prosody.Style
}

var _ turn.Synthesizer = (*synthesizer)(nil)

func (s *synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	s.mu.RLock()
	voice := s.voice
	ssml := s.ssml
	style := s.style
	s.mu.RUnlock()

	if ssml {
		enhanced := prosody.Enhance(text, style)
		slog.Debug("ssml enhanced reply", "ssml", enhanced)
		text = prosody.StripTags(enhanced)
	}
	return s.provider.Synthesize(ctx, text, voice)
}

// applyVoice swaps the voice profile and SSML flag used from the next turn
// onward.
func (s *synthesizer) applyVoice(agent config.AgentConfig) {
	s.mu.Lock()
	s.voice = tts.Voice{ID: agent.Voice.VoiceID, Speed: agent.Voice.SpeedFactor}
	s.ssml = agent.UseSSML
	s.mu.Unlock()
}
