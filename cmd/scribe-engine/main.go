package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/api"
	"github.com/snarg/scribe-engine/internal/config"
	"github.com/snarg/scribe-engine/internal/database"
	"github.com/snarg/scribe-engine/internal/events"
	"github.com/snarg/scribe-engine/internal/ingest"
	"github.com/snarg/scribe-engine/internal/notify"
	"github.com/snarg/scribe-engine/internal/pipeline"
	"github.com/snarg/scribe-engine/internal/probe"
	"github.com/snarg/scribe-engine/internal/speech"
	"github.com/snarg/scribe-engine/internal/storage"
	"github.com/snarg/scribe-engine/internal/summarize"
)

var version = "dev"

var errMQTTDisconnected = errors.New("mqtt broker disconnected")

func main() {
	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file")
	flag.StringVar(&overrides.HTTPAddr, "addr", "", "http listen address")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "postgres connection string")
	flag.StringVar(&overrides.WatchDir, "watch-dir", "", "drop folder to watch for audio files")
	flag.Parse()

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("scribe-engine starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	db, err := database.Connect(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Recording storage
	recordings, err := storage.NewRecordingStore(cfg.RecordingsDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.RecordingsDir).Msg("failed to open recordings directory")
	}
	if cfg.RecordingRetention > 0 || cfg.RecordingMaxGB > 0 {
		pruner := storage.NewRecordingPruner(recordings.Dir(), cfg.RecordingRetention, cfg.RecordingMaxGB, log)
		pruner.Start()
		defer pruner.Stop()
	}

	// Transient object store for long-running recognition
	var objectStore speech.ObjectStore
	if cfg.S3.Enabled() {
		s3, err := storage.NewS3Store(cfg.S3, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init object store")
		}
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := s3.HeadBucket(checkCtx); err != nil {
			log.Warn().Err(err).Str("bucket", cfg.S3.Bucket).Msg("object store bucket check failed")
		}
		cancel()
		objectStore = s3
	} else {
		log.Info().Msg("object store not configured, long-running recognition disabled")
	}

	// Media probe
	if !probe.Available() {
		log.Warn().Msg("ffprobe not found in PATH, audio metadata will be unavailable")
	}
	prober := probe.New(cfg.ProbeTimeout, log)

	// Speech engine
	creds := speech.Credentials{APIKey: cfg.SpeechAPIKey, BearerToken: cfg.SpeechAccessToken}
	if !creds.Valid() {
		log.Warn().Msg("no speech credentials configured, transcription will fail")
	}
	engine := speech.NewEngine(speech.EngineOptions{
		BaseURL:        cfg.SpeechBaseURL,
		Credentials:    creds,
		RequestTimeout: cfg.SpeechTimeout,
		Store:          objectStore,
		Log:            log,
	})

	// Summarization (optional)
	var summarizer summarize.Summarizer
	var tasks summarize.TaskExtractor
	if cfg.GeminiAPIKey != "" {
		gemini, err := summarize.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, log)
		if err != nil {
			log.Warn().Err(err).Msg("summarizer init failed, falling back to local summaries")
		} else {
			summarizer = gemini
			tasks = gemini
		}
	} else {
		log.Info().Msg("no summarizer key configured, using local fallback summaries")
	}

	// Notifications (optional)
	var notifiers notify.Multi
	var mqttNotifier *notify.MQTTNotifier
	if cfg.MQTTBrokerURL != "" {
		mqttNotifier, err = notify.ConnectMQTT(notify.MQTTOptions{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			Topic:     cfg.MQTTTopic,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			Log:       log,
		})
		if err != nil {
			log.Warn().Err(err).Msg("mqtt connect failed, notifications disabled")
		} else {
			notifiers = append(notifiers, mqttNotifier)
			defer mqttNotifier.Close()
		}
	}

	// Event bus feeds both SSE clients and in-process notifications.
	bus := events.NewBus(256)
	notifiers = append(notifiers, notify.Func(func(n notify.Notification) {
		bus.Publish("notification", "", "", n)
	}))

	orchestrator := pipeline.NewOrchestrator(pipeline.OrchestratorOptions{
		Prober:     prober,
		Engine:     engine,
		Summarizer: summarizer,
		Tasks:      tasks,
		Sessions:   db,
		Model:      cfg.SpeechModel,
		Enhanced:   cfg.SpeechEnhanced,
		Log:        log,
	})

	queue := pipeline.NewQueue(pipeline.QueueOptions{
		Orchestrator:  orchestrator,
		MaxConcurrent: cfg.MaxConcurrentJobs,
		Sessions:      db,
		Notifier:      notifiers,
		PublishEvent: func(eventType, jobID, sessionID string, payload map[string]any) {
			bus.Publish(eventType, jobID, sessionID, payload)
		},
		Log: log,
	})
	queue.Start()
	defer queue.Stop()

	// Drop folder watcher (optional)
	if cfg.WatchDir != "" {
		watcher := ingest.NewWatcher(ingest.WatcherOptions{
			WatchDir: cfg.WatchDir,
			Language: cfg.Language,
			Queue:    queue,
			Sessions: db,
			Log:      log,
		})
		if err := watcher.Start(ctx); err != nil {
			log.Fatal().Err(err).Str("dir", cfg.WatchDir).Msg("failed to start drop folder watcher")
		}
		defer watcher.Stop()
	}

	// HTTP surface
	health := api.NewHealthHandler(queue, log)
	health.AddCheck("database", db.HealthCheck)
	if mqttNotifier != nil {
		health.AddCheck("mqtt", func(context.Context) error {
			if !mqttNotifier.IsConnected() {
				return errMQTTDisconnected
			}
			return nil
		})
	}

	srv := api.NewServer(api.ServerOptions{
		Addr:           cfg.HTTPAddr,
		AuthToken:      cfg.AuthToken,
		AllowedOrigins: cfg.AllowedOrigins,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		Jobs:           api.NewJobsHandler(queue, recordings, db, cfg.MaxUploadMB, cfg.Language, log),
		Sessions:       api.NewSessionsHandler(db, log),
		Events:         api.NewEventsHandler(bus, log),
		Health:         health,
		Log:            log,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("scribe-engine stopped")
}
