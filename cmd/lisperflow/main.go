// Command lisperflow is the push-to-talk dictation engine. It captures
// microphone audio, runs it through VAD-gated streaming or batch speech
// recognition, and types the transcript into the focused window.
//
// Dictation is driven interactively on stdin: "start" and "stop" control a
// session in the configured mode, "cancel" aborts it, "history" prints
// recent utterances, "quit" exits. Hotkey registration is intentionally out
// of scope; bind the commands with an external hotkey tool.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zordhalo/lisper-flow/internal/config"
	"github.com/zordhalo/lisper-flow/internal/enhance"
	"github.com/zordhalo/lisper-flow/internal/history"
	"github.com/zordhalo/lisper-flow/internal/observe"
	"github.com/zordhalo/lisper-flow/internal/session"
	"github.com/zordhalo/lisper-flow/internal/typing"
	"github.com/zordhalo/lisper-flow/pkg/audio"
	"github.com/zordhalo/lisper-flow/pkg/capture"
	"github.com/zordhalo/lisper-flow/pkg/provider/asr"
	"github.com/zordhalo/lisper-flow/pkg/provider/asr/deepgram"
	"github.com/zordhalo/lisper-flow/pkg/provider/asr/whisper"
	"github.com/zordhalo/lisper-flow/pkg/vad"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "lisperflow: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "lisperflow: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	mode := cfg.Mode
	if mode == "" {
		mode = config.ModeStreaming
	}
	slog.Info("lisperflow starting", "config", *configPath, "mode", mode, "log_level", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	if cfg.Telemetry.MetricsAddr != "" {
		go serveMetrics(cfg.Telemetry.MetricsAddr)
	}

	streamASR, batchASR, err := buildASRProviders(cfg)
	if err != nil {
		slog.Error("failed to build ASR providers", "err", err)
		return 1
	}

	enhancer, err := buildEnhancer(cfg, logger)
	if err != nil {
		slog.Error("failed to build enhancer", "err", err)
		return 1
	}

	platform, err := newPlatform()
	if err != nil {
		slog.Error("no keystroke backend for this platform", "err", err)
		return 1
	}

	store, err := history.Open(ctx, history.Config{
		Path:          cfg.History.Path,
		RetentionDays: cfg.History.RetentionDays,
	}, logger)
	if err != nil {
		slog.Error("failed to open history store", "err", err)
		return 1
	}
	defer store.Close()

	var classifier vad.Classifier
	if cfg.VAD.UseRecurrent {
		classifier = vad.NewRecurrentClassifier()
	}
	pipeline := capture.New(capture.Config{
		TargetRate:    cfg.Audio.SampleRate,
		ChunkInterval: time.Duration(cfg.Audio.ChunkIntervalMs) * time.Millisecond,
		PreRoll:       time.Duration(cfg.Audio.PreRollMs) * time.Millisecond,
		Gate: vad.GateConfig{
			Threshold:  cfg.VAD.Threshold,
			Hangover:   time.Duration(cfg.VAD.HangoverMs) * time.Millisecond,
			MinSegment: time.Duration(cfg.VAD.MinSegmentMs) * time.Millisecond,
		},
	}, audio.NewMalgoDevice(), classifier)

	orch := session.New(session.Config{
		DeviceID:   cfg.Audio.DeviceID,
		SampleRate: cfg.Audio.SampleRate,
		Language:   cfg.Providers.Streaming.Language,
	}, typing.InjectorConfig{
		InterCommand:    time.Duration(cfg.Injection.InterCommandMs) * time.Millisecond,
		FocusRetries:    cfg.Injection.FocusRetries,
		FocusRetryDelay: time.Duration(cfg.Injection.FocusRetryDelayMs) * time.Millisecond,
	}, session.Deps{
		Capture:  pipeline,
		Stream:   streamASR,
		Batch:    batchASR,
		Platform: platform,
		Enhancer: enhancer,
		History:  store,
		Logger:   logger,
	})
	orch.SetListener(func(from, to session.State) {
		slog.Debug("state", "from", from.String(), "to", to.String())
	})

	if err := orch.Initialize(ctx); err != nil {
		slog.Error("failed to open capture device", "err", err)
		return 1
	}
	defer orch.Close()

	slog.Info("ready, type 'start', 'stop', 'cancel', 'history', or 'quit'")
	return commandLoop(ctx, orch, store, mode)
}

// commandLoop reads dictation commands from stdin until EOF, "quit", or
// signal.
func commandLoop(ctx context.Context, orch *session.Orchestrator, store *history.Store, mode config.Mode) int {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- strings.TrimSpace(sc.Text())
		}
	}()

	for {
		select {
		case <-ctx.Done():
			slog.Info("shutdown signal received, stopping")
			return 0
		case line, ok := <-lines:
			if !ok {
				return 0
			}
			switch line {
			case "":
			case "start":
				if err := startSession(ctx, orch, mode); err != nil {
					slog.Error("start failed", "err", err)
				}
			case "stop":
				if err := stopSession(ctx, orch, mode); err != nil {
					slog.Error("stop failed", "err", err)
				}
			case "cancel":
				orch.Cancel()
			case "reset":
				orch.Reset()
			case "history":
				printHistory(ctx, store)
			case "quit", "exit":
				return 0
			default:
				fmt.Printf("unknown command %q (start, stop, cancel, reset, history, quit)\n", line)
			}
		}
	}
}

func startSession(ctx context.Context, orch *session.Orchestrator, mode config.Mode) error {
	if mode == config.ModeBatch {
		return orch.StartRecording(ctx)
	}
	return orch.StartStreaming(ctx)
}

func stopSession(ctx context.Context, orch *session.Orchestrator, mode config.Mode) error {
	if mode == config.ModeBatch {
		return orch.StopRecording(ctx)
	}
	return orch.StopStreaming(ctx)
}

func printHistory(ctx context.Context, store *history.Store) {
	items, err := store.Recent(ctx, 10)
	if err != nil {
		slog.Error("history query failed", "err", err)
		return
	}
	if len(items) == 0 {
		fmt.Println("no utterances recorded")
		return
	}
	for _, u := range items {
		fmt.Printf("%s  %s\n", u.CreatedAt.Local().Format("2006-01-02 15:04:05"), u.Text)
	}
}

// buildASRProviders instantiates the configured streaming and batch ASR
// backends. Either may be nil when unconfigured.
func buildASRProviders(cfg *config.Config) (asr.StreamProvider, asr.BatchProvider, error) {
	var streamP asr.StreamProvider
	var batchP asr.BatchProvider

	if e := cfg.Providers.Streaming; e.Name != "" {
		switch e.Name {
		case "deepgram":
			opts := []deepgram.Option{}
			if e.Model != "" {
				opts = append(opts, deepgram.WithModel(e.Model))
			}
			if e.Language != "" {
				opts = append(opts, deepgram.WithLanguage(e.Language))
			}
			if e.BaseURL != "" {
				opts = append(opts, deepgram.WithEndpoint(e.BaseURL))
			}
			p, err := deepgram.New(e.APIKey, opts...)
			if err != nil {
				return nil, nil, err
			}
			streamP = p
		default:
			return nil, nil, fmt.Errorf("unknown streaming provider %q", e.Name)
		}
	}

	if e := cfg.Providers.Batch; e.Name != "" {
		switch e.Name {
		case "whisper":
			opts := []whisper.Option{}
			if e.Model != "" {
				opts = append(opts, whisper.WithModel(e.Model))
			}
			if e.Language != "" {
				opts = append(opts, whisper.WithLanguage(e.Language))
			}
			p, err := whisper.New(e.BaseURL, opts...)
			if err != nil {
				return nil, nil, err
			}
			batchP = p
		default:
			return nil, nil, fmt.Errorf("unknown batch provider %q", e.Name)
		}
	}

	return streamP, batchP, nil
}

// buildEnhancer instantiates the LLM cleanup pass, or a no-op when none is
// configured.
func buildEnhancer(cfg *config.Config, logger *slog.Logger) (enhance.Enhancer, error) {
	e := cfg.Providers.Enhance
	if e.Name == "" {
		return enhance.Noop{}, nil
	}
	switch e.Name {
	case "openai":
		opts := []enhance.Option{}
		if e.BaseURL != "" {
			opts = append(opts, enhance.WithBaseURL(e.BaseURL))
		}
		model := e.Model
		if model == "" {
			model = "gpt-4o-mini"
		}
		return enhance.NewOpenAI(e.APIKey, model, logger, opts...)
	default:
		return nil, fmt.Errorf("unknown enhance provider %q", e.Name)
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	slog.Info("metrics endpoint listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("metrics endpoint failed", "err", err)
	}
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
