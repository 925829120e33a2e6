// Command loquax is the main entry point for the Loquax voice agent.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/loquax/internal/app"
	"github.com/MrWong99/loquax/internal/config"
	"github.com/MrWong99/loquax/internal/observe"
	"github.com/MrWong99/loquax/pkg/provider/llm"
	"github.com/MrWong99/loquax/pkg/provider/llm/anyllm"
	"github.com/MrWong99/loquax/pkg/provider/stt"
	"github.com/MrWong99/loquax/pkg/provider/stt/deepgram"
	"github.com/MrWong99/loquax/pkg/provider/stt/whisper"
	"github.com/MrWong99/loquax/pkg/provider/tts"
	"github.com/MrWong99/loquax/pkg/provider/tts/openaitts"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "loquax: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "loquax: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("loquax starting",
		"config", *configPath,
		"log_level", cfg.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "loquax",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := application.HandleConfigChange(old, new)
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("agent ready; press Ctrl+C to end the session")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("session ended, stopping")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}

	application.Stats().LogSummary()
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai, anthropic, gemini, deepseek, mistral, groq, llamacpp, llamafile
	// all share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"openai", "anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// whisper runs a local whisper.cpp model; Options.model_path selects the
	// ggml model file.
	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(modelPath, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []openaitts.Option
		if entry.Model != "" {
			opts = append(opts, openaitts.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, openaitts.WithBaseURL(entry.BaseURL))
		}
		return openaitts.New(entry.APIKey, opts...)
	})

	// Debug log of all registered providers.
	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates the providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	llmProvider, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	ps.LLM = llmProvider
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name)

	sttProvider, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	ps.STT = sttProvider
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)

	ttsProvider, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	ps.TTS = ttsProvider
	slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name)

	return ps, nil
}

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

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Loquax — voice agent         ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	fmt.Printf("║  Sample rate  : %-20s  ║\n", fmt.Sprintf("%d Hz", cfg.Audio.SampleRate))
	fmt.Printf("║  Voice        : %-20s  ║\n", orDefault(cfg.Agent.Voice.VoiceID, "(provider default)"))
	if cfg.History.PostgresDSN != "" {
		fmt.Printf("║  History      : %-20s  ║\n", "postgres")
	} else {
		fmt.Printf("║  History      : %-20s  ║\n", "in-memory")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 20 {
		value = value[:17] + "…"
	}
	fmt.Printf("║  %-12s : %-20s  ║\n", kind, value)
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
