package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/reelgen/reelgen/internal/config"
	"github.com/reelgen/reelgen/internal/database"
	"github.com/reelgen/reelgen/internal/engine"
	"github.com/reelgen/reelgen/internal/ffmpeg"
	internalhttp "github.com/reelgen/reelgen/internal/http"
	"github.com/reelgen/reelgen/internal/http/handlers"
	"github.com/reelgen/reelgen/internal/repository"
	"github.com/reelgen/reelgen/internal/runner"
	"github.com/reelgen/reelgen/internal/scheduler"
	"github.com/reelgen/reelgen/internal/service"
	"github.com/reelgen/reelgen/internal/storage"
	"github.com/reelgen/reelgen/internal/version"

	imageopenai "github.com/reelgen/reelgen/internal/provider/image/openai"
	llmopenai "github.com/reelgen/reelgen/internal/provider/llm/openai"
	"github.com/reelgen/reelgen/internal/provider/tts/elevenlabs"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the reelgen server",
	Long: `Start the reelgen HTTP server, pipeline engines and stale-record reaper.

The server provides:
- REST API for driving the video generation pipeline
- Health check endpoint at /healthz
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("database", "", "Database DSN (overrides config)")
	serveCmd.Flags().String("work-dir", "", "Render scratch directory (overrides config)")

	viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("database.dsn", serveCmd.Flags().Lookup("database"))
	viper.BindPFlag("render.work_dir", serveCmd.Flags().Lookup("work-dir"))
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Database and schema.
	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(context.Background()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	videoRepo := repository.NewVideoRepository(db.DB)

	// Object store.
	store, err := storage.New(cfg.Storage.Endpoint, cfg.Storage.APIKey,
		storage.WithLogger(logger),
		storage.WithAvailabilityWait(cfg.Storage.Availability.MaxWait),
	)
	if err != nil {
		return fmt.Errorf("initializing object store: %w", err)
	}
	if err := store.EnsureBuckets(context.Background()); err != nil {
		logger.Warn("ensuring storage buckets", slog.String("error", err.Error()))
	}

	// Providers.
	llmClient, err := llmopenai.New(cfg.Providers.LLM.APIKey, cfg.Providers.LLM.Model,
		llmopenai.WithBaseURL(cfg.Providers.LLM.BaseURL),
		llmopenai.WithTimeout(cfg.Providers.LLM.Timeout),
	)
	if err != nil {
		return fmt.Errorf("initializing llm provider: %w", err)
	}

	imageClient, err := imageopenai.New(cfg.Providers.Image.APIKey,
		imageopenai.WithBaseURL(cfg.Providers.Image.BaseURL),
		imageopenai.WithTimeout(cfg.Providers.Image.Timeout),
		imageopenai.WithModels(cfg.Providers.Image.Model, cfg.Providers.Image.FallbackModel),
	)
	if err != nil {
		return fmt.Errorf("initializing image provider: %w", err)
	}

	ttsClient, err := elevenlabs.New(cfg.Providers.TTS.APIKey, cfg.Providers.TTS.VoiceID,
		elevenlabs.WithBaseURL(cfg.Providers.TTS.BaseURL),
		elevenlabs.WithModel(cfg.Providers.TTS.ModelID),
		elevenlabs.WithTimeout(cfg.Providers.TTS.Timeout),
	)
	if err != nil {
		return fmt.Errorf("initializing tts provider: %w", err)
	}

	// Transcoder. Missing binaries degrade rather than abort: every
	// stage except render works without ffmpeg.
	detector := ffmpeg.NewBinaryDetector().
		WithPaths(cfg.Render.FFmpegPath, cfg.Render.FFprobePath)
	var renderer engine.Renderer
	var prober engine.AudioProber
	if info, err := detector.Detect(context.Background()); err != nil {
		logger.Warn("ffmpeg not found; render stage disabled until available",
			slog.String("error", err.Error()),
		)
	} else {
		renderer = ffmpeg.NewRunner(info.FFmpegPath).WithTimeout(cfg.Render.Timeout)
		prober = ffmpeg.NewProber(info.FFprobePath)
		logger.Info("transcoder detected",
			slog.String("ffmpeg", info.FFmpegPath),
			slog.String("version", info.Version),
		)
	}

	// Pipeline engine and service.
	eng := engine.New(videoRepo, engine.Deps{
		LLM:      llmClient,
		Image:    imageClient,
		TTS:      ttsClient,
		Store:    store,
		Renderer: renderer,
		Prober:   prober,
	}, engine.Config{
		LLMTimeout:       cfg.Providers.LLM.Timeout,
		ImageTimeout:     cfg.Providers.Image.Timeout,
		TTSTimeout:       cfg.Providers.TTS.Timeout,
		ImageConcurrency: cfg.Pipeline.ImageConcurrency,
		Retry: runner.RetryConfig{
			MaxAttempts:   cfg.Pipeline.Retry.MaxAttempts,
			InitialDelay:  cfg.Pipeline.Retry.InitialDelay,
			BackoffFactor: cfg.Pipeline.Retry.BackoffFactor,
		},
		WorkDir: cfg.Render.WorkDir,
		Width:   cfg.Render.Width,
		Height:  cfg.Render.Height,
		FPS:     cfg.Render.FrameRate,
		Buckets: engine.BucketNames{
			Images:   cfg.Storage.Buckets.Images,
			Audio:    cfg.Storage.Buckets.Audio,
			Captions: cfg.Storage.Buckets.Captions,
			Videos:   cfg.Storage.Buckets.Videos,
		},
	}).WithLogger(logger)

	videoService := service.NewVideoService(videoRepo, eng).WithLogger(logger)

	// Stale-record reaper.
	if cfg.Scheduler.Enabled {
		reaper := scheduler.NewReaper(videoRepo, cfg.Render.WorkDir, scheduler.Config{
			ReapInterval: cfg.Scheduler.ReapInterval,
			StaleAfter:   cfg.Scheduler.StaleAfter,
		}).WithLogger(logger)
		if err := reaper.Start(); err != nil {
			return fmt.Errorf("starting reaper: %w", err)
		}
		defer reaper.Stop()
	}

	// HTTP server.
	serverConfig := internalhttp.DefaultServerConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	if cfg.Server.ReadTimeout > 0 {
		serverConfig.ReadTimeout = cfg.Server.ReadTimeout
	}
	if cfg.Server.WriteTimeout > 0 {
		serverConfig.WriteTimeout = cfg.Server.WriteTimeout
	}
	if cfg.Server.ShutdownTimeout > 0 {
		serverConfig.ShutdownTimeout = cfg.Server.ShutdownTimeout
	}
	server := internalhttp.NewServer(serverConfig, logger, version.Version)

	healthHandler := handlers.NewHealthHandler(version.Version).
		WithDB(db.DB).
		WithDetector(detector).
		WithWorkDir(cfg.Render.WorkDir)
	healthHandler.Register(server.API())

	videoHandler := handlers.NewVideoHandler(videoService).WithLogger(logger)
	videoHandler.Register(server.API())

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting reelgen server",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.String("version", version.Version),
	)

	return server.ListenAndServe(ctx)
}
