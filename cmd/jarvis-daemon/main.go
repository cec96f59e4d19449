package main

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"jarvis/internal/assistant"
	"jarvis/internal/audio"
	"jarvis/internal/config"
	"jarvis/internal/ipc"
	"jarvis/internal/llm"
	"jarvis/internal/memory"
	"jarvis/internal/nlu"
	"jarvis/internal/notify"
	"jarvis/internal/proxy"
	"jarvis/internal/server"
	"jarvis/internal/sysinfo"
	"jarvis/internal/tts"
	"jarvis/internal/voice"
	"jarvis/pkg/stt"
)

// localSession is the conversation driven by the push-to-talk loop.
const localSession = "local"

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "jarvis-daemon:", err)
		os.Exit(2)
	}

	logger := config.NewLogger(cfg.LogLevel)
	log.SetDefault(logger)
	log.Info("Booting up", "provider", cfg.Provider, "model", cfg.ModelName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error("Daemon stopped", "err", err)
		os.Exit(1)
	}
	log.Info("Bye")
}

func run(ctx context.Context, cfg config.Config) error {
	httpClient, err := proxy.NewHTTPClient(cfg.Proxy, 0)
	if err != nil {
		return fmt.Errorf("socks proxy %s: %w", cfg.Proxy, err)
	}
	if cfg.Proxy != "" {
		log.Debug("Loaded proxy", "addr", cfg.Proxy)
	}

	gen := assistant.New(assistant.Options{
		Config: assistant.GenerationConfig{
			ModelName:       cfg.ModelName,
			Temperature:     cfg.Temperature,
			MaxOutputTokens: cfg.MaxOutputTokens,
		},
		Backend:    newBackend(ctx, cfg, httpClient),
		Classifier: newClassifier(cfg, httpClient),
		Timeout:    cfg.GenerationTimeout,
		Logger:     log.Default(),
	})

	sessions := memory.NewRegistry(cfg.MaxMemorySize)

	var proc *voice.Processor
	if cfg.WhisperModel != "" {
		whisper, err := stt.NewTranscriber(cfg.WhisperModel, stt.Options{Language: cfg.Language})
		if err != nil {
			log.Error("Failed to init whisper, voice disabled", "model", cfg.WhisperModel, "err", err)
		} else {
			defer whisper.Close()
			proc = voice.New(whisper, voice.Options{Timeout: 60 * time.Second, Logger: log.Default()})
			log.Debug("Loaded whisper", "model", cfg.WhisperModel)
		}
	} else {
		log.Warn("No whisper model configured, voice disabled")
	}

	srv := server.New(server.Options{
		Generator:       gen,
		Sessions:        sessions,
		Voice:           proc,
		Metrics:         sysinfo.NewSampler(),
		AllowedOrigins:  cfg.AllowedOrigins,
		MetricsInterval: cfg.MetricsInterval,
		SessionTTL:      cfg.SessionTTL,
		Logger:          log.Default(),
	})

	if proc != nil {
		loop, err := newVoiceLoop(cfg, srv, proc)
		if err != nil {
			log.Error("Failed to init microphone, push-to-talk disabled", "err", err)
		} else {
			defer loop.close()
			ctl, err := ipc.StartServer(cfg.Socket, loop.handle(ctx))
			if err != nil {
				return fmt.Errorf("control socket: %w", err)
			}
			defer ctl.Close()
			log.Info("Control socket ready", "path", cfg.Socket)
		}
	}

	log.Info("Boot up - successful")
	return srv.Run(ctx, cfg.Listen)
}

func newBackend(ctx context.Context, cfg config.Config, httpClient *http.Client) assistant.Backend {
	b, err := llm.New(ctx, cfg.Provider, llm.Config{
		APIKey:       cfg.APIKey(),
		BaseURL:      cfg.BaseURL,
		SystemPrompt: cfg.SystemPrompt,
		HTTPClient:   httpClient,
	})
	if err != nil {
		log.Error("Failed to init AI backend, running degraded", "provider", cfg.Provider, "err", err)
		return nil
	}
	return b
}

func newClassifier(cfg config.Config, httpClient *http.Client) assistant.Classifier {
	c, err := nlu.NewSentiment(cfg.SentimentModel, llm.Config{
		APIKey:     cfg.SentimentAPIKey(),
		BaseURL:    cfg.SentimentBaseURL,
		HTTPClient: httpClient,
	})
	if err != nil {
		log.Error("Failed to init sentiment classifier", "err", err)
		return nil
	}
	return c
}

type voiceLoop struct {
	srv    *server.Server
	proc   *voice.Processor
	rec    *audio.Recorder
	ducker *audio.Ducker
	beep   string
	speak  bool
	voice  tts.Voice
	busy   atomic.Bool
}

func newVoiceLoop(cfg config.Config, srv *server.Server, proc *voice.Processor) (*voiceLoop, error) {
	rec := audio.NewRecorder(audio.DefaultRecorderConfig())
	if err := rec.Init(); err != nil {
		return nil, err
	}
	log.Debug("Loaded recorder")

	return &voiceLoop{
		srv:    srv,
		proc:   proc,
		rec:    rec,
		ducker: audio.NewDucker([]string{"jarvis-daemon", "PortAudio", "espeak-ng"}, 10),
		beep:   cfg.BeepSound,
		speak:  cfg.Speak,
		voice:  tts.Voice{Language: cfg.Language},
	}, nil
}

func (l *voiceLoop) close() {
	l.rec.Close()
}

func (l *voiceLoop) handle(ctx context.Context) ipc.Handler {
	return func(msg ipc.ControlMessage) error {
		session := msg.Session
		if session == "" {
			session = localSession
		}

		switch msg.Cmd {
		case ipc.CmdTrigger:
			if !l.busy.CompareAndSwap(false, true) {
				return errors.New("already listening")
			}
			go func() {
				defer l.busy.Store(false)
				l.trigger(ctx, session)
			}()
			return nil
		case ipc.CmdClear:
			if !l.srv.ClearSession(session) {
				log.Debug("Nothing to clear", "session", session)
			}
			log.Info("Cleared conversation", "session", session)
			return nil
		default:
			log.Warn("Unknown command", "cmd", msg.Cmd)
			return fmt.Errorf("unknown command %q", msg.Cmd)
		}
	}
}

func (l *voiceLoop) trigger(ctx context.Context, session string) {
	if err := notify.Beep(l.beep); err != nil {
		log.Warn("Failed to beep", "err", err)
	}
	if err := notify.Desktop("Listening..."); err != nil {
		log.Debug("Failed to notify", "err", err)
	}

	if err := l.ducker.Duck(ctx, 0.3, 150*time.Millisecond); err != nil {
		log.Warn("Failed to duck audio", "err", err)
	}
	log.Info("Starting listening")

	pcm, err := l.rec.RecordAuto(ctx)

	if err := l.ducker.Restore(context.WithoutCancel(ctx), 300*time.Millisecond); err != nil {
		log.Warn("Failed to restore audio", "err", err)
	}
	if err != nil {
		log.Error("Failed to record", "err", err)
		return
	}
	log.Info("Recorded", "samples", len(pcm))

	text, err := l.proc.ProcessPCM(ctx, pcm)
	if err != nil {
		log.Error("Failed to transcribe", "err", err)
		return
	}

	reply := l.srv.Converse(ctx, session, text)
	log.Info("──────── JARVIS ────────")
	log.Info("you:    ", "text", text)
	log.Info("jarvis: ", "text", reply.Text, "kind", reply.Kind)
	log.Info("────────────────────────")

	if !l.speak {
		return
	}
	if err := tts.Speak(reply.Text, l.voice); err != nil {
		log.Error("Failed to voice out", "err", err)
	}
}
