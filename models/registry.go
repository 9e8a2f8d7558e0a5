package models

import (
	"fmt"
	"sync"
)

// Loader opens the artifact at path as a Model for the given architecture.
type Loader func(arch Architecture, path string) (Model, error)

var (
	loadersMu sync.RWMutex
	loaders   = map[Backbone]Loader{}
)

// Register installs the loader used for a backbone. Runtime packages call it during
// initialization; tests use it to install fakes.
func Register(backbone Backbone, loader Loader) {
	loadersMu.Lock()
	defer loadersMu.Unlock()
	loaders[backbone] = loader
}

// RegisterAll installs loader for every supported backbone.
func RegisterAll(loader Loader) {
	for _, b := range Backbones() {
		Register(b, loader)
	}
}

// NewModel creates a model instance for a catalog variant.
//
// This factory is the single entry point for model creation, routing each backbone to its
// registered loader so that callers never depend on a runtime directly.
//
// Arguments:
//   - variant: The catalog entry to load.
//   - path: The local path of the resolved artifact.
//
// Returns:
//   - Model: The loaded model.
//   - error: An error if the backbone is unsupported, has no loader, or loading fails.
//
// @example
//
//	v, _ := models.DefaultCatalog().Lookup("model_v2")
//	m, err := models.NewModel(v, "/models/mobilenetv3_model.onnx")
//	if err != nil {
//	    log.Fatalf("failed to load %s: %v", v.Key, err)
//	}
//	defer m.Close()
func NewModel(variant Variant, path string) (Model, error) {
	arch, err := ArchitectureFor(variant.Backbone)
	if err != nil {
		return nil, err
	}

	loadersMu.RLock()
	loader, ok := loaders[variant.Backbone]
	loadersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no loader registered for backbone: %s", variant.Backbone)
	}

	m, err := loader(arch, path)
	if err != nil {
		return nil, fmt.Errorf("load %s (%s): %w", variant.Key, variant.Backbone, err)
	}
	return m, nil
}
