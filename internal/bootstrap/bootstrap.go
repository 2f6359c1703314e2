// Package bootstrap provides dependency initialization for the denoise API.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/maauso/denoise-api/internal/audio"
	"github.com/maauso/denoise-api/internal/config"
	"github.com/maauso/denoise-api/internal/denoise"
	"github.com/maauso/denoise-api/internal/job"
	"github.com/maauso/denoise-api/internal/media"
	"github.com/maauso/denoise-api/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	DenoiseService *job.DenoiseService
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	// Initialize storage
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	// Initialize ffmpeg-backed collaborators
	splitter := audio.NewFFmpegSplitter(cfg.FFmpegPath)
	merger := media.NewFFmpegMerger(cfg.FFmpegPath)

	var denoiserOpts []denoise.DenoiserOption
	if cfg.RNNoiseModel != "" {
		denoiserOpts = append(denoiserOpts, denoise.WithRNNoiseModel(cfg.RNNoiseModel))
		logger.Info("RNNoise model configured",
			slog.String("model", cfg.RNNoiseModel),
		)
	}
	denoiser := denoise.NewFFmpegDenoiser(cfg.FFmpegPath, denoiserOpts...)

	// Initialize job repository
	repo := job.NewMemoryRepository()

	// Configure audio split options
	splitOpts := audio.SplitOpts{
		ChunkTargetSec:  cfg.ChunkTargetSec,
		MinSilenceMs:    500,
		SilenceThreshDB: -40,
	}

	// Initialize DenoiseService
	svc := job.NewDenoiseService(
		repo,
		splitter,
		denoiser,
		merger,
		store,
		logger,
		job.WithSplitOpts(splitOpts),
		job.WithWorkers(cfg.Workers),
		job.WithKeepFailedChunks(cfg.KeepFailedChunks),
	)

	return &Dependencies{
		DenoiseService: svc,
	}, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}
