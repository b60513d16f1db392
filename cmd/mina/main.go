// cmd/mina/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/keshon/mina/internal/ai"
	"github.com/keshon/mina/internal/capture"
	"github.com/keshon/mina/internal/command"
	"github.com/keshon/mina/internal/config"
	"github.com/keshon/mina/internal/core"
	"github.com/keshon/mina/internal/discord"
	"github.com/keshon/mina/internal/logging"
	"github.com/keshon/mina/internal/memory"
	"github.com/keshon/mina/internal/nlu"
	"github.com/keshon/mina/internal/pipeline"
	"github.com/keshon/mina/internal/reminder"
	"github.com/keshon/mina/internal/satellite"
	"github.com/keshon/mina/internal/session"
	"github.com/keshon/mina/internal/storage"
	"github.com/keshon/mina/internal/stream"
	"github.com/keshon/mina/internal/transcribe"
	"github.com/keshon/mina/internal/tts"
)

const sweepInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error().Err(err).Msg("mina exited with error")
		os.Exit(1)
	}
	log.Info().Msg("mina exited cleanly")
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	log.Info().Str("wake", cfg.WakeWord).Msg("starting mina")

	store, err := storage.New(cfg.StoragePath, cfg.TTSVoice, logging.Component(log, "storage"))
	if err != nil {
		return err
	}
	defer store.Close()
	transcripts := storage.NewTranscriptLog(cfg.TranscriptDir())

	chatter, err := session.LoadChatter(cfg.ResponsesFile)
	if err != nil {
		log.Warn().Err(err).Msg("chatter responses disabled")
	}

	provider, err := ai.NewProvider(cfg.AIProvider, cfg.AIBaseURL, cfg.AIKey)
	if err != nil {
		log.Warn().Err(err).Msg("ai provider unavailable")
	}
	var responder *ai.Responder
	if provider != nil {
		responder = ai.NewResponder(ai.Options{
			Provider:      provider,
			Models:        store,
			Model:         cfg.AIModel,
			FallbackModel: cfg.AIFallbackModel,
			PersonaFile:   cfg.AIPersonaFile,
			Logger:        logging.Component(log, "ai"),
		})
	} else {
		responder = ai.NewResponder(ai.Options{Logger: logging.Component(log, "ai")})
	}

	var completer memory.Completer
	if provider != nil {
		completer = responder
	}
	mem := memory.New(store, completer, logging.Component(log, "memory"))

	sat := satellite.NewChannel(cfg.SatelliteToken, logging.Component(log, "satellite"))
	classifier := nlu.NewHeuristic(cfg.WakeWord, cfg.WakeVariants)

	registry := command.NewRegistry()
	command.RegisterBuiltins(registry, command.Builtins{
		Store:        store,
		Classifier:   classifier,
		Satellite:    sat,
		QueryTimeout: cfg.SatelliteQueryTimeout,
	})

	bot, err := discord.New(discord.Options{
		Token:          cfg.DiscordToken,
		GuildBlacklist: cfg.GuildBlacklist,
		InitCommands:   cfg.InitCommands,
		DataDir:        cfg.DataDir,
		FFmpeg:         cfg.FFmpeg,
		Logger:         logging.Component(log, "discord"),
	})
	if err != nil {
		return err
	}

	// the pipeline's thinking cue needs the manager, which needs the pipeline
	var mgr *session.Manager
	pipe := pipeline.New(pipeline.Options{
		Classifier: classifier,
		Registry:   registry,
		Responder:  responder,
		Memory:     mem,
		Settings:   store,
		Logger:     logging.Component(log, "pipeline"),
		OnAccept:   func(uc core.UtteranceContext) { mgr.PlayThinking(uc) },
	})
	defer pipe.Wait()

	opts := session.Options{
		Transport:   bot.Transport(),
		Directory:   bot.Directory(),
		Presence:    bot,
		Synthesizer: tts.NewGTTS(cfg.TTSBaseURL, cfg.TempDir(), logging.Component(log, "tts")),
		Handler:     pipe,
		Satellite:   sat,
		Settings:    store,
		Transcripts: transcripts,
		People:      mem,
		Transcriber: transcribe.NewSubprocess(cfg.TranscriberCmd, logging.Component(log, "transcriber")),
		NewDecoder: func() (capture.Decoder, error) {
			return stream.NewCaptureDecoder()
		},
		Silence:       cfg.CaptureSilence,
		ThinkingSound: cfg.ThinkingSound,
		Chatter:       chatter,
		Logger:        logging.Component(log, "session"),
	}
	if provider != nil {
		opts.Greeter = responder
	}
	mgr = session.NewManager(ctx, opts)
	defer mgr.Close()

	scheduler := reminder.New(reminder.Options{
		Store:     store,
		Directory: bot.Directory(),
		Voice:     mgr,
		Names:     mem,
		Logger:    logging.Component(log, "scheduler"),
	})
	defer scheduler.Close()
	mgr.SetScheduler(scheduler)

	armed, removed := scheduler.Restore(time.Now())
	log.Info().Int("armed", armed).Int("removed", removed).Msg("reminders restored")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return satellite.NewServer(sat, logging.Component(log, "satellite")).ListenAndServe(ctx, cfg.SatelliteAddr)
	})
	g.Go(func() error {
		return scheduler.RunSweeper(ctx, sweepInterval)
	})
	g.Go(func() error {
		return bot.Run(ctx, discord.Services{
			Voice:     mgr,
			Settings:  store,
			Reminders: scheduler,
		})
	})
	return g.Wait()
}
