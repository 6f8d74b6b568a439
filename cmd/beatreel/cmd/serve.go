package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/beatreel/beatreel/internal/audio"
	"github.com/beatreel/beatreel/internal/compose"
	"github.com/beatreel/beatreel/internal/config"
	"github.com/beatreel/beatreel/internal/database"
	"github.com/beatreel/beatreel/internal/database/migrations"
	"github.com/beatreel/beatreel/internal/ffmpeg"
	"github.com/beatreel/beatreel/internal/generator"
	internalhttp "github.com/beatreel/beatreel/internal/http"
	"github.com/beatreel/beatreel/internal/http/handlers"
	"github.com/beatreel/beatreel/internal/models"
	"github.com/beatreel/beatreel/internal/repository"
	"github.com/beatreel/beatreel/internal/scheduler"
	"github.com/beatreel/beatreel/internal/service"
	"github.com/beatreel/beatreel/internal/service/progress"
	"github.com/beatreel/beatreel/internal/startup"
	"github.com/beatreel/beatreel/internal/storage"
	"github.com/beatreel/beatreel/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the beatreel server",
	Long: `Start the beatreel HTTP server, job workers and scheduler.

The server provides:
- REST API for songs, analysis, clip planning, generation and composition
- Server-sent events for live job progress
- Signed blob downloads for audio and video artifacts
- Health check endpoint
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server flags
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("database", "", "Database DSN (default beatreel.db)")
	serveCmd.Flags().String("data-dir", "", "Base directory for blob storage")
	serveCmd.Flags().Int("workers", 0, "Number of job workers")

	// Bind flags to viper
	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("database.dsn", serveCmd.Flags().Lookup("database"))
	mustBindPFlag("storage.base_dir", serveCmd.Flags().Lookup("data-dir"))
	mustBindPFlag("workers.count", serveCmd.Flags().Lookup("workers"))
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Clean up scratch directories left behind by a previous crash.
	orphansRemoved, err := startup.CleanupScratchDirs(logger, cfg.Storage)
	if err != nil {
		logger.Warn("failed to clean orphaned scratch directories",
			slog.String("error", err.Error()),
		)
	} else if orphansRemoved > 0 {
		logger.Info("cleaned orphaned scratch directories on startup",
			slog.Int("removed_count", orphansRemoved),
		)
	}

	// Initialize database
	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}

	// Run migrations
	migrator := migrations.NewMigrator(db.DB, logger)
	migrator.RegisterAll(migrations.AllMigrations())
	if err := migrator.Up(context.Background()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	// Initialize repositories
	songRepo := repository.NewSongRepository(db.DB)
	analysisRepo := repository.NewAnalysisRepository(db.DB)
	planRepo := repository.NewClipPlanRepository(db.DB)
	clipRepo := repository.NewClipRepository(db.DB)
	compRepo := repository.NewCompositionRepository(db.DB)
	jobRepo := repository.NewJobRepository(db.DB)

	// Initialize blob store
	store, err := storage.NewStore(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("initializing blob store: %w", err)
	}

	// Detect ffmpeg/ffprobe binaries
	binaries, err := ffmpeg.NewBinaryDetector(cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath).
		Detect(context.Background())
	if err != nil {
		return fmt.Errorf("detecting ffmpeg binaries: %w", err)
	}
	logger.Info("detected media binaries",
		slog.String("ffmpeg", binaries.FFmpegPath),
		slog.String("ffprobe", binaries.FFprobePath),
	)

	// Initialize pipeline engines and the external generator client
	audioEngine := audio.NewEngine(cfg.Analysis, binaries.FFmpegPath, logger)
	composeEngine := compose.NewEngine(cfg.Composition, binaries.FFmpegPath, binaries.FFprobePath, store, logger)
	genClient := generator.NewHTTPClient(cfg.Generator, logger)

	// Initialize progress service
	progressService := progress.NewService(logger)
	progressService.Start()
	defer progressService.Stop()

	// Initialize scheduler. The sweep cron is only installed when the
	// sweeper is enabled.
	sweepCron := ""
	if cfg.Sweeper.Enabled {
		sweepCron = cfg.Sweeper.Cron
	}
	sched := scheduler.NewScheduler(jobRepo).
		WithLogger(logger).
		WithConfig(scheduler.SchedulerConfig{SweepCron: sweepCron})

	// Initialize services
	analysisService := service.NewAnalysisService(songRepo, analysisRepo, audioEngine, sched, store).
		WithLogger(logger)

	clipService := service.NewClipService(cfg, songRepo, analysisRepo, planRepo, clipRepo, compRepo,
		genClient, binaries.FFprobePath, sched, store).
		WithLogger(logger)

	compositionService := service.NewCompositionService(songRepo, analysisRepo, planRepo, clipRepo, compRepo,
		composeEngine, sched, store).
		WithLogger(logger)

	songService := service.NewSongService(songRepo, analysisRepo, planRepo, clipRepo, compRepo, store).
		WithLogger(logger)

	sweepService := service.NewSweepService(songRepo, compRepo, store).
		WithLogger(logger)

	// Wire job handlers into the executor
	executor := scheduler.NewExecutor(jobRepo).
		WithLogger(logger).
		WithNotifier(progressService)
	executor.RegisterHandler(models.JobTypeSongAnalysis, scheduler.NewSongAnalysisHandler(analysisService))
	executor.RegisterHandler(models.JobTypeClipGeneration, scheduler.NewClipGenerationHandler(clipService))
	executor.RegisterHandler(models.JobTypeClipRetry, scheduler.NewClipRetryHandler(clipService))
	executor.RegisterHandler(models.JobTypeComposition, scheduler.NewCompositionHandler(compositionService))
	executor.RegisterHandler(models.JobTypeBlobSweep, scheduler.NewBlobSweepHandler(sweepService))

	// Initialize job runner. Clip generation runs on its own queue with a
	// tighter timeout than the default queue.
	clipQueue := cfg.Workers.QueueName(models.QueueClipGeneration)
	runner := scheduler.NewRunner(jobRepo, executor).
		WithLogger(logger).
		WithConfig(scheduler.RunnerConfig{
			WorkerCount:  cfg.Workers.Count,
			PollInterval: cfg.Workers.PollInterval,
			Queues:       []string{clipQueue, models.QueueDefault},
			QueueTimeouts: map[string]time.Duration{
				clipQueue:           cfg.Workers.ClipQueueTimeout,
				models.QueueDefault: cfg.Workers.DefaultQueueTimeout,
			},
		})

	jobService := service.NewJobService(jobRepo).
		WithLogger(logger).
		WithScheduler(sched).
		WithRunner(runner)

	// Initialize HTTP server
	server := internalhttp.NewServer(cfg.Server, logger, version.Version)

	// Register handlers
	healthHandler := handlers.NewHealthHandler(version.Version).
		WithDB(db.DB).
		WithRunner(runner)
	healthHandler.Register(server.API())

	songHandler := handlers.NewSongHandler(songService, cfg.Server.MaxUploadBytes.Int64())
	songHandler.Register(server.API())

	analysisHandler := handlers.NewAnalysisHandler(analysisService)
	analysisHandler.Register(server.API())

	clipHandler := handlers.NewClipHandler(clipService)
	clipHandler.Register(server.API())

	compositionHandler := handlers.NewCompositionHandler(compositionService)
	compositionHandler.Register(server.API())

	jobHandler := handlers.NewJobHandler(jobService)
	jobHandler.Register(server.API())

	progressHandler := handlers.NewProgressHandler(progressService)
	progressHandler.RegisterSSE(server.Router())

	fileHandler := handlers.NewFileHandler(store, logger)
	fileHandler.RegisterFileServer(server.Router())

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	// Start background components
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("starting job runner: %w", err)
	}
	defer runner.Stop()

	logger.Info("starting beatreel server",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.Int("workers", cfg.Workers.Count),
		slog.String("version", version.Version),
	)

	return server.ListenAndServe(ctx)
}

// loadConfig unmarshals the global viper state (defaults, config file,
// env vars and bound CLI flags) into a validated Config.
func loadConfig() (*config.Config, error) {
	var cfg config.Config
	if err := viper.Unmarshal(&cfg, config.DecodeHooks()); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}
