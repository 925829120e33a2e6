// Package app wires all Loquax subsystems into a running voice agent.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the capture and turn loop, and Shutdown tears
// everything down in order.
//
// For testing, inject fakes via functional options (WithFrameSource,
// WithAudioSink, WithHistory). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/loquax/internal/config"
	"github.com/MrWong99/loquax/internal/history"
	"github.com/MrWong99/loquax/internal/observe"
	"github.com/MrWong99/loquax/internal/prosody"
	"github.com/MrWong99/loquax/internal/resilience"
	"github.com/MrWong99/loquax/internal/stats"
	"github.com/MrWong99/loquax/internal/turn"
	"github.com/MrWong99/loquax/internal/vad"
	"github.com/MrWong99/loquax/pkg/audio"
	paudio "github.com/MrWong99/loquax/pkg/audio/portaudio"
	"github.com/MrWong99/loquax/pkg/provider/llm"
	"github.com/MrWong99/loquax/pkg/provider/stt"
	"github.com/MrWong99/loquax/pkg/provider/tts"
)

// Providers holds one interface value per pipeline stage. All three are
// required. Populated by main.go via the config registry.
type Providers struct {
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider
}

// FrameSource abstracts the microphone capture device.
type FrameSource interface {
	// Start opens the device and begins delivering frames.
	Start(ctx context.Context) error

	// Frames returns the capture channel. It is closed when the source stops.
	Frames() <-chan audio.Frame

	// Stop closes the device and the frames channel. Idempotent.
	Stop()
}

// AudioSink is a playback device with a lifecycle.
type AudioSink interface {
	turn.Player
	Close() error
}

// App owns all subsystem lifetimes and runs the Loquax voice pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	source    FrameSource
	sink      AudioSink
	hist      history.Store
	collector *stats.Collector

	detector     *vad.Detector
	orchestrator *turn.Orchestrator
	responder    *responder
	synthesizer  *synthesizer

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithFrameSource injects a capture source instead of opening the default
// microphone.
func WithFrameSource(s FrameSource) Option {
	return func(a *App) { a.source = s }
}

// WithAudioSink injects a playback sink instead of opening the default output
// device.
func WithAudioSink(s AudioSink) Option {
	return func(a *App) { a.sink = s }
}

// WithHistory injects a history store instead of creating one from config.
func WithHistory(h history.Store) Option {
	return func(a *App) { a.hist = h }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil || providers.STT == nil || providers.TTS == nil {
		return nil, errors.New("app: llm, stt, and tts providers are required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		collector: stats.NewCollector(),
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Conversation history ──────────────────────────────────────────
	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 2. Provider fallback chains ──────────────────────────────────────
	llmChain := resilience.NewLLMFallback(providers.LLM, cfg.Providers.LLM.Name, resilience.FallbackConfig{})
	llmChain.AddFallback("canned", resilience.NewCannedResponder())

	sttChain := resilience.NewSTTFallback(providers.STT, cfg.Providers.STT.Name, resilience.FallbackConfig{})
	ttsChain := resilience.NewTTSFallback(providers.TTS, cfg.Providers.TTS.Name, resilience.FallbackConfig{})

	// ── 3. Turn detector ─────────────────────────────────────────────────
	detector, err := vad.New(vad.Config{
		SpeechThreshold:  cfg.VAD.SpeechThreshold,
		SilenceThreshold: cfg.VAD.SilenceThreshold,
		SpeechFrames:     cfg.VAD.SpeechFrames,
		SilenceFrames:    cfg.VAD.SilenceFrames,
		SilenceDuration:  cfg.VAD.SilenceDuration(),
	})
	if err != nil {
		return nil, fmt.Errorf("app: init detector: %w", err)
	}
	a.detector = detector

	// ── 4. Stage adapters ────────────────────────────────────────────────
	captureFormat := audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels}

	tr := &transcriber{
		provider: sttChain,
		capture:  captureFormat,
		language: optString(cfg.Providers.STT.Options, "language"),
	}
	a.responder = &responder{
		provider: llmChain,
		hist:     a.hist,
		agent:    cfg.Agent,
		window:   cfg.History.Window,
	}
	a.synthesizer = &synthesizer{
		provider: ttsChain,
		voice:    tts.Voice{ID: cfg.Agent.Voice.VoiceID, Speed: cfg.Agent.Voice.SpeedFactor},
		ssml:     cfg.Agent.UseSSML,
		style:    prosody.StyleGeneral,
	}

	// ── 5. Audio devices ─────────────────────────────────────────────────
	if err := a.initAudio(ttsChain.OutputFormat()); err != nil {
		return nil, fmt.Errorf("app: init audio: %w", err)
	}

	// ── 6. Orchestrator ──────────────────────────────────────────────────
	orch, err := turn.New(turn.Config{
		PreRoll:       cfg.Turn.PreRoll(),
		MinTurn:       cfg.Turn.MinDuration(),
		MaxTurn:       cfg.Turn.MaxDuration(),
		MinConfidence: cfg.Turn.MinConfidence,
		DumpDir:       cfg.Turn.DumpFailedAudioDir,
	}, detector, tr, a.responder, a.synthesizer,
		turn.WithPlayer(a.sink),
		turn.WithRecorder(a.collector),
	)
	if err != nil {
		return nil, fmt.Errorf("app: init orchestrator: %w", err)
	}
	a.orchestrator = orch

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initHistory sets up the conversation history store. PostgreSQL when a DSN is
// configured, in-memory otherwise.
func (a *App) initHistory(ctx context.Context) error {
	if a.hist != nil {
		return nil
	}

	if dsn := a.cfg.History.PostgresDSN; dsn != "" {
		sessionID := fmt.Sprintf("session-%d", time.Now().Unix())
		store, err := history.NewPostgresStore(ctx, dsn, sessionID)
		if err != nil {
			return err
		}
		a.hist = store
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
		slog.Info("conversation history backed by postgres", "session", sessionID)
		return nil
	}

	a.hist = history.NewMemoryStore(a.cfg.History.Capacity)
	slog.Info("conversation history kept in memory")
	return nil
}

// initAudio opens the capture and playback devices unless test doubles were
// injected.
func (a *App) initAudio(playback tts.Format) error {
	if a.source == nil {
		dropped := observe.DefaultMetrics().DroppedFrames
		capture, err := paudio.NewCapture(a.cfg.Audio.SampleRate, a.cfg.Audio.Channels, a.cfg.Audio.FrameSize,
			paudio.WithDropHook(func() {
				dropped.Add(context.Background(), 1,
					metric.WithAttributes(observe.Attr("reason", "queue_full")))
			}),
		)
		if err != nil {
			return fmt.Errorf("open capture device: %w", err)
		}
		a.source = capture
	}

	if a.sink == nil {
		player, err := paudio.NewPlayer(audio.Format{
			SampleRate: playback.SampleRate,
			Channels:   playback.Channels,
		})
		if err != nil {
			return fmt.Errorf("open playback device: %w", err)
		}
		a.sink = player
		a.closers = append(a.closers, player.Close)
	}

	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the capture stream and the turn loop and blocks until ctx is
// cancelled or the audio source ends. Startup probes run first; they are
// best-effort and only warn on failure.
func (a *App) Run(ctx context.Context) error {
	a.probeProviders(ctx)

	if err := a.source.Start(ctx); err != nil {
		return fmt.Errorf("app: start capture: %w", err)
	}

	slog.Info("listening",
		"sample_rate", a.cfg.Audio.SampleRate,
		"channels", a.cfg.Audio.Channels,
		"frame_size", a.cfg.Audio.FrameSize,
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		// Unblock the stopper when the loop exits on its own (source ended).
		defer cancel()
		return a.orchestrator.Run(gctx, a.source.Frames())
	})
	g.Go(func() error {
		<-gctx.Done()
		a.source.Stop()
		return nil
	})
	return g.Wait()
}

// probeProviders performs best-effort startup checks so a misconfigured
// provider surfaces immediately instead of on the first spoken turn.
func (a *App) probeProviders(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := a.hist.Recent(probeCtx, 1); err != nil {
		slog.Warn("history store probe failed", "error", err)
	}

	_, err := a.providers.LLM.Complete(probeCtx, llm.Request{
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: "ping"}},
		MaxTokens: 1,
	})
	if err != nil {
		slog.Warn("llm probe failed, replies may fall back to canned responses", "error", err)
	} else {
		slog.Info("llm provider reachable", "name", a.cfg.Providers.LLM.Name)
	}
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// HandleConfigChange applies the hot-reloadable parts of a config update and
// returns the diff. Wired as the config watcher callback; audio, VAD, and
// provider changes still require a restart.
func (a *App) HandleConfigChange(old, new *config.Config) config.ConfigDiff {
	d := config.Diff(old, new)
	if !d.Any() {
		return d
	}

	if d.AgentChanged {
		a.responder.applyAgent(new.Agent)
		slog.Info("agent settings reloaded")
	}
	if d.AgentChanged || d.VoiceChanged {
		a.synthesizer.applyVoice(new.Agent)
		slog.Info("voice settings reloaded", "voice", new.Agent.Voice.VoiceID)
	}
	return d
}

// Stats returns the session statistics collector.
func (a *App) Stats() *stats.Collector {
	return a.collector
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Stop capture first so the turn loop drains and exits.
		if a.source != nil {
			a.source.Stop()
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// optString reads a string value from a provider entry's options map.
func optString(options map[string]any, key string) string {
	if options == nil {
		return ""
	}
	if v, ok := options[key].(string); ok {
		return v
	}
	return ""
}
