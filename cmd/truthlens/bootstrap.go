package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"truthlens/internal/api"
	"truthlens/internal/artifacts"
	"truthlens/internal/config"
	"truthlens/internal/engines/cloud"
	"truthlens/internal/engines/lightweight"
	"truthlens/internal/engines/local"
	"truthlens/internal/engines/saliency"
	"truthlens/internal/ensemble"
	"truthlens/internal/inference"
	"truthlens/internal/inference/worker"
	"truthlens/internal/logging"
	"truthlens/internal/media/video"
	"truthlens/internal/metrics"
	"truthlens/internal/services/gemini"
	"truthlens/internal/uploadcache"
)

// app holds the wired engines and the resources they share.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	artifacts *artifacts.Store
	metrics   *metrics.Recorder
	engines   api.Engines
	runner    *ensemble.Runner

	worker *worker.Client
	cache  *uploadcache.Store
}

// bootstrap builds every engine the config allows. Local engines that cannot
// start are logged and left nil; the ensemble scores them as neutral. A
// configured Gemini key that fails verification aborts startup.
func bootstrap(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	rt := &app{cfg: cfg, logger: logger, metrics: metrics.New()}

	store, err := artifacts.New(cfg.Paths.ArtifactDir, logger)
	if err != nil {
		return nil, err
	}
	rt.artifacts = store

	ffmpeg := video.NewFFmpeg(cfg.FFmpegBinary(), cfg.FFprobeBinary())

	client, err := worker.Start(ctx, worker.Config{
		Command:        cfg.Inference.Command,
		Args:           cfg.Inference.Args,
		Device:         cfg.Inference.Device,
		StartupTimeout: time.Duration(cfg.Inference.StartupTimeoutSeconds) * time.Second,
	}, logger)
	if err != nil {
		logging.WarnWithContext(logger, "inference worker unavailable", "worker_unavailable",
			logging.Error(err),
			logging.String(logging.FieldImpact, "saliency and local engines disabled; lightweight reports neutral scores"),
			logging.String(logging.FieldErrorHint, "check inference.command and that the worker package is installed"),
		)
	} else {
		rt.worker = client
		if eng, err := saliency.New(ctx, client, cfg, saliency.Deps{Decoder: ffmpeg, Encoder: ffmpeg, Artifacts: store}, logger); err != nil {
			warnEngine(logger, saliency.Name, err)
		} else {
			rt.engines.Saliency = eng
		}
		if eng, err := local.New(ctx, client, cfg, ffmpeg, logger); err != nil {
			warnEngine(logger, local.Name, err)
		} else {
			rt.engines.Local = eng
		}
	}

	// lightweight runs without a worker, scoring every frame as neutral
	if cfg.Lightweight.Enabled {
		var loader inference.Loader
		if rt.worker != nil {
			loader = rt.worker
		}
		rt.engines.Lightweight = lightweight.New(ctx, loader, cfg, ffmpeg, logger)
	}

	if cfg.Gemini.APIKey == "" {
		logger.Warn("gemini api key not configured; cloud engine disabled",
			logging.String(logging.FieldEventType, "cloud_disabled"),
			logging.String(logging.FieldErrorHint, "set gemini.api_key or GEMINI_API_KEY"),
		)
	} else {
		opts := []gemini.Option{gemini.WithLogger(logger)}
		if cfg.Uploads.CacheEnabled {
			cache, err := uploadcache.Open(cfg.UploadCachePath(), time.Duration(cfg.Uploads.CacheTTLHours)*time.Hour)
			if err != nil {
				logger.Warn("upload cache unavailable", logging.Error(err),
					logging.String(logging.FieldImpact, "videos are re-uploaded on every analysis"))
			} else {
				rt.cache = cache
				opts = append(opts, gemini.WithUploadCache(cache))
			}
		}
		svc := gemini.NewClient(gemini.Config{
			APIKey:         cfg.Gemini.APIKey,
			BaseURL:        cfg.Gemini.BaseURL,
			Model:          cfg.Gemini.Model,
			TimeoutSeconds: cfg.Gemini.TimeoutSeconds,
		}, opts...)
		eng, err := cloud.New(ctx, svc, cfg, ffmpeg, logger)
		if err != nil {
			// a configured key that cannot be verified is a startup failure,
			// not a silently neutral engine
			_ = rt.Close()
			return nil, fmt.Errorf("cloud engine: %w (check gemini.api_key and gemini.model, or unset the key to run without it)", err)
		}
		rt.engines.Cloud = eng
	}

	rt.runner = ensemble.New(ensemble.Options{
		Cloud:       rt.engines.Cloud,
		Saliency:    rt.engines.Saliency,
		Lightweight: rt.engines.Lightweight,
		Artifacts:   store,
		Metrics:     rt.metrics,
		Logger:      logger,
	})
	return rt, nil
}

func warnEngine(logger *slog.Logger, name string, err error) {
	logging.WarnWithContext(logger, "engine unavailable", "engine_init_failed",
		logging.String(logging.FieldEngine, name),
		logging.Error(err),
		logging.String(logging.FieldImpact, "engine scored as neutral in the ensemble"),
	)
}

// maintain prunes expired artifacts and upload cache rows until ctx ends.
func (rt *app) maintain(ctx context.Context, interval time.Duration) {
	retention := time.Duration(rt.cfg.Artifacts.RetentionHours) * time.Hour
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if retention > 0 {
			if _, _, err := rt.artifacts.Prune(ctx, retention); err != nil && !errors.Is(err, context.Canceled) {
				rt.logger.Warn("artifact prune failed", logging.Error(err))
			}
		}
		if rt.cache != nil {
			if n, err := rt.cache.PurgeExpired(ctx); err != nil {
				rt.logger.Warn("upload cache purge failed", logging.Error(err))
			} else if n > 0 {
				rt.logger.Debug("upload cache purged", logging.Int("rows", int(n)))
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (rt *app) Close() error {
	var errs []error
	if rt.worker != nil {
		errs = append(errs, rt.worker.Close())
	}
	if rt.cache != nil {
		errs = append(errs, rt.cache.Close())
	}
	return errors.Join(errs...)
}
