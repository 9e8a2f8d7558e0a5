package inference

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/nvr-ai/go-bodymeasure/inference/preprocess"
	"github.com/nvr-ai/go-bodymeasure/inference/providers"
	"github.com/nvr-ai/go-bodymeasure/models"
)

// ServiceBuilder assembles a Service with a fluent API.
type ServiceBuilder struct {
	service *Service
	err     error
}

// NewServiceBuilder creates a builder with the default catalog, the canonical tensor
// configuration and the registry-backed model loader.
//
// Returns:
//   - *ServiceBuilder: The service builder.
func NewServiceBuilder() *ServiceBuilder {
	pre, err := preprocess.NewPreprocessor(preprocess.BodyMeasurementConfig())
	return &ServiceBuilder{
		service: &Service{
			catalog:      models.DefaultCatalog(),
			preprocessor: pre,
			loader:       models.NewModel,
			provider:     providers.DefaultConfig(),
			logger:       zap.NewNop(),
		},
		err: err,
	}
}

// WithCatalog replaces the selectable variants.
//
// Arguments:
//   - catalog: The variants, which must not be empty.
//
// Returns:
//   - *ServiceBuilder: The service builder.
func (b *ServiceBuilder) WithCatalog(catalog models.Catalog) *ServiceBuilder {
	if b.HasError() {
		return b
	}
	if len(catalog) == 0 {
		b.err = errors.New("catalog is empty")
		return b
	}
	b.service.catalog = catalog
	return b
}

// WithResolver sets where model weights and stats come from.
//
// Arguments:
//   - resolver: The artifact resolver.
//
// Returns:
//   - *ServiceBuilder: The service builder.
func (b *ServiceBuilder) WithResolver(resolver ArtifactResolver) *ServiceBuilder {
	if b.HasError() {
		return b
	}
	b.service.resolver = resolver
	return b
}

// WithProcessor sets the segmentation preprocessor.
//
// Arguments:
//   - processor: The mask processor.
//
// Returns:
//   - *ServiceBuilder: The service builder.
func (b *ServiceBuilder) WithProcessor(processor MaskProcessor) *ServiceBuilder {
	if b.HasError() {
		return b
	}
	b.service.processor = processor
	return b
}

// WithPreprocessor overrides the tensor preparation configuration.
//
// Arguments:
//   - config: The model input configuration.
//
// Returns:
//   - *ServiceBuilder: The service builder.
func (b *ServiceBuilder) WithPreprocessor(config *preprocess.ModelConfig) *ServiceBuilder {
	if b.HasError() {
		return b
	}
	pre, err := preprocess.NewPreprocessor(config)
	if err != nil {
		b.err = err
		return b
	}
	b.service.preprocessor = pre
	return b
}

// WithLoader overrides how variants are opened. The default is models.NewModel.
//
// Arguments:
//   - loader: The model loader.
//
// Returns:
//   - *ServiceBuilder: The service builder.
func (b *ServiceBuilder) WithLoader(loader ModelLoader) *ServiceBuilder {
	if b.HasError() {
		return b
	}
	b.service.loader = loader
	return b
}

// WithProvider records the execution provider reported by ModelInfo.
//
// Arguments:
//   - cfg: The provider configuration.
//
// Returns:
//   - *ServiceBuilder: The service builder.
func (b *ServiceBuilder) WithProvider(cfg providers.Config) *ServiceBuilder {
	if b.HasError() {
		return b
	}
	if err := cfg.Validate(); err != nil {
		b.err = err
		return b
	}
	b.service.provider = cfg
	return b
}

// WithLogger sets the logger.
//
// Arguments:
//   - logger: The logger.
//
// Returns:
//   - *ServiceBuilder: The service builder.
func (b *ServiceBuilder) WithLogger(logger *zap.Logger) *ServiceBuilder {
	if b.HasError() || logger == nil {
		return b
	}
	b.service.logger = logger.Named("inference")
	return b
}

// HasError checks if the builder has an error.
//
// Returns:
//   - bool: True if the builder has an error, false otherwise.
func (b *ServiceBuilder) HasError() bool {
	return b.err != nil
}

// Build returns the service without an active model.
//
// Returns:
//   - *Service: The service.
//   - error: The first error recorded by the builder, or a missing dependency.
func (b *ServiceBuilder) Build() (*Service, error) {
	if b.err != nil {
		return nil, b.err
	}
	switch {
	case b.service.resolver == nil:
		return nil, errors.New("artifact resolver is required")
	case b.service.processor == nil:
		return nil, errors.New("mask processor is required")
	case b.service.loader == nil:
		return nil, errors.New("model loader is required")
	}
	return b.service, nil
}

// BuildAndLoad builds the service and activates the variant under key.
//
// Arguments:
//   - ctx: Bounds artifact downloads.
//   - key: The variant to activate.
//
// Returns:
//   - *Service: The service with an active model.
//   - error: A build error or the SwitchModel failure.
func (b *ServiceBuilder) BuildAndLoad(ctx context.Context, key string) (*Service, error) {
	svc, err := b.Build()
	if err != nil {
		return nil, err
	}
	if _, err := svc.SwitchModel(ctx, key); err != nil {
		return nil, err
	}
	return svc, nil
}
