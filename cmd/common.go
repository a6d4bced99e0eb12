package cmd

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/spamlens/spamlens/pkg/config"
	"github.com/spamlens/spamlens/pkg/imagetext"
	"github.com/spamlens/spamlens/pkg/inference"
	"github.com/spamlens/spamlens/pkg/learning"
	"github.com/spamlens/spamlens/pkg/logging"
	"github.com/spamlens/spamlens/pkg/store"
	"github.com/spamlens/spamlens/pkg/textnorm"
	"github.com/spamlens/spamlens/pkg/trainer"
)

// setup loads the configuration and builds the logger shared by every command.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if debugLog {
		cfg.Logging.Level = "debug"
	}
	logger, err := logging.New(cfg.Logging.Env, cfg.Logging.Level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// openStore opens the configured artifact backend.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	switch cfg.Storage.Backend {
	case "redis":
		return store.NewRedisStore(ctx, &store.RedisConfig{
			RedisURL:        cfg.Storage.Redis.RedisURL,
			KeyPrefix:       cfg.Storage.Redis.KeyPrefix,
			DatabaseNum:     cfg.Storage.Redis.DatabaseNum,
			KeepGenerations: cfg.Storage.KeepGenerations,
		}, logger)
	default:
		return store.NewFileStore(cfg.Storage.Dir, cfg.Storage.KeepGenerations, logger)
	}
}

func storeLocation(cfg *config.Config) string {
	if cfg.Storage.Backend == "redis" {
		return cfg.Storage.Redis.RedisURL + " (" + cfg.Storage.Redis.KeyPrefix + ")"
	}
	return cfg.Storage.Dir
}

func ocrConfig(cfg *config.Config) imagetext.Config {
	return imagetext.Config{
		Tesseract:     cfg.OCR.Tesseract,
		Lang:          cfg.OCR.Lang,
		PSM:           cfg.OCR.PSM,
		TessdataDir:   cfg.OCR.TessdataDir,
		TempDir:       cfg.OCR.TempDir,
		MedianRadius:  cfg.OCR.MedianRadius,
		MinTextLength: cfg.OCR.MinTextLength,
		MaxPixels:     cfg.OCR.MaxPixels,
	}
}

func trainerOptions(cfg *config.Config) (trainer.Options, error) {
	profile, err := textnorm.ParseProfile(cfg.Normalization.Profile)
	if err != nil {
		return trainer.Options{}, err
	}
	return trainer.Options{
		Profile: profile,
		Vectorizer: learning.VectorizerConfig{
			MaxVocabularySize: cfg.Vectorizer.MaxVocabularySize,
			StopWordPolicy:    learning.StopWordPolicy(cfg.Vectorizer.StopWordPolicy),
			NgramRange:        [2]int{cfg.Vectorizer.NgramMin, cfg.Vectorizer.NgramMax},
		},
		Alpha:               cfg.Classifier.Alpha,
		MinExamples:         cfg.Training.MinExamples,
		TestRatio:           cfg.Training.TestRatio,
		Seed:                cfg.Training.Seed,
		MinPerClassForSplit: cfg.Training.MinPerClassForSplit,
	}, nil
}

// loadService builds an inference service and installs the stored model.
// A missing model is not an error: the service starts with predictions
// disabled.
func loadService(ctx context.Context, cfg *config.Config, st store.Store, logger *zap.Logger) (*inference.Service, error) {
	svc := inference.New(
		imagetext.NewExtractor(ocrConfig(cfg), logger),
		inference.Options{MaxUploadBytes: cfg.MaxUploadBytes(), ExcerptLength: cfg.Server.ExcerptLength},
		logger,
	)
	if _, err := svc.Reload(ctx, st); err != nil {
		if !errors.Is(err, inference.ErrModelNotLoaded) {
			return nil, err
		}
		logger.Warn("no trained model found, predictions are disabled until one is loaded",
			zap.String("store", storeLocation(cfg)))
	}
	return svc, nil
}
