// Package app - Wires configuration into a running measurement service: artifact store,
// resolver, ONNX Runtime, segmenter, processor and the inference service.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nvr-ai/go-bodymeasure/artifacts"
	"github.com/nvr-ai/go-bodymeasure/config"
	"github.com/nvr-ai/go-bodymeasure/inference"
	"github.com/nvr-ai/go-bodymeasure/inference/providers"
	"github.com/nvr-ai/go-bodymeasure/models"
	"github.com/nvr-ai/go-bodymeasure/models/dualview"
	"github.com/nvr-ai/go-bodymeasure/segmentation"
)

// App is the assembled pipeline.
type App struct {
	Resolver  *artifacts.Resolver
	Processor *segmentation.Processor
	Service   *inference.Service
	logger    *zap.Logger
}

// NewStore creates the artifact store selected by the configuration.
//
// Arguments:
//   - cfg: The artifacts section.
//
// Returns:
//   - artifacts.Store: The hub or S3 store.
//   - error: An error if the backend is unknown or the S3 session cannot be created.
func NewStore(cfg config.ArtifactsConfig) (artifacts.Store, error) {
	switch cfg.Backend {
	case config.BackendHub:
		opts := []artifacts.HubOption{artifacts.WithHubRevision(cfg.HubRevision)}
		if cfg.HubEndpoint != "" {
			opts = append(opts, artifacts.WithHubEndpoint(cfg.HubEndpoint))
		}
		if cfg.HubToken != "" {
			opts = append(opts, artifacts.WithHubToken(cfg.HubToken))
		}
		return artifacts.NewHubStore(cfg.HubRepo, opts...), nil
	case config.BackendS3:
		s3, err := artifacts.NewS3Store(cfg.S3Region, cfg.S3Bucket, cfg.S3Prefix)
		if err != nil {
			return nil, err
		}
		return s3, nil
	default:
		return nil, fmt.Errorf("unknown artifact backend: %q", cfg.Backend)
	}
}

// New builds the pipeline and activates the configured default variant.
//
// A segmenter that cannot be loaded is logged and skipped: mask uploads keep working and
// photos fail with errs.ErrSegmentationFailed.
//
// Arguments:
//   - ctx: Bounds artifact downloads during startup.
//   - cfg: The validated configuration.
//   - logger: The root logger.
//
// Returns:
//   - *App: The running pipeline.
//   - error: An error if ONNX Runtime, the store or the default model cannot be set up.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if err := providers.InitializeEnvironment(cfg.Provider); err != nil {
		return nil, fmt.Errorf("onnx runtime: %w", err)
	}
	dualview.Register(dualview.Config{
		Provider:    cfg.Provider,
		InputHeight: segmentation.CanonicalSize.Y,
		InputWidth:  segmentation.CanonicalSize.X,
	})

	store, err := NewStore(cfg.Artifacts)
	if err != nil {
		return nil, err
	}
	catalog := models.DefaultCatalog()
	resolver, err := artifacts.NewResolver(cfg.Models.Dir, store, catalog, logger)
	if err != nil {
		return nil, err
	}

	seg, err := segmentation.NewSegmenterWithFallback(ctx, logger,
		segmentation.U2NetOpener(resolver, cfg.Provider), cfg.Segmentation.Models...)
	if err != nil {
		logger.Warn("running without a segmentation model; only mask uploads will work", zap.Error(err))
	}
	processor := segmentation.NewProcessor(seg, cfg.Segmentation.Config, logger)

	svc, err := inference.NewServiceBuilder().
		WithCatalog(catalog).
		WithResolver(resolver).
		WithProcessor(processor).
		WithProvider(cfg.Provider).
		WithLogger(logger).
		BuildAndLoad(ctx, cfg.Models.Default)
	if err != nil {
		processor.Close()
		return nil, err
	}

	return &App{Resolver: resolver, Processor: processor, Service: svc, logger: logger}, nil
}

// Close releases the model and the segmenter.
func (a *App) Close() error {
	err := a.Service.Close()
	if perr := a.Processor.Close(); perr != nil && err == nil {
		err = perr
	}
	return err
}
