// Package dualview - The dual-view body measurement regressor on ONNX Runtime.
//
// The exported graph takes a front and a side silhouette tensor, each (1, 3, 512, 384), and
// returns the 14 normalized measurements as (1, 14). Target statistics may be embedded as
// custom metadata so a single artifact carries everything needed for denormalization.
package dualview

import (
	"fmt"
	"strconv"

	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-bodymeasure/inference/providers"
	"github.com/nvr-ai/go-bodymeasure/models"
	"github.com/nvr-ai/go-bodymeasure/models/stats"
)

// Tensor names used by the export script.
const (
	InputFront = "front"
	InputSide  = "side"
	Output     = "measurements"
)

// MetadataParameterCount optionally records the trained parameter count.
const MetadataParameterCount = "parameter_count"

// Config controls how the model is opened.
type Config struct {
	Provider    providers.Config
	InputHeight int
	InputWidth  int
}

// DefaultConfig returns the CPU configuration for 512x384 inputs.
func DefaultConfig() Config {
	return Config{Provider: providers.DefaultConfig(), InputHeight: 512, InputWidth: 384}
}

// Model is a loaded dual-view regressor. It is safe for concurrent use.
type Model struct {
	path       string
	inputShape []int
	session    *providers.ProfiledSession
	metadata   map[string]string
	parameters int64
}

// Open loads the ONNX artifact at path.
//
// Arguments:
//   - arch: The architecture the artifact was exported from.
//   - path: The local artifact path.
//   - cfg: The runtime configuration.
//
// Returns:
//   - *Model: The loaded model; the caller must Close it.
//   - error: An error if the file is not a compatible ONNX model.
func Open(arch models.Architecture, path string, cfg Config) (*Model, error) {
	info, err := providers.Inspect(cfg.Provider, path,
		stats.MetadataMean, stats.MetadataStd, MetadataParameterCount)
	if err != nil {
		return nil, err
	}

	inputs, err := providers.PickNames(providers.Names(info.Inputs), []string{InputFront, InputSide})
	if err != nil {
		return nil, fmt.Errorf("inputs: %w", err)
	}
	outputs, err := providers.PickNames(providers.Names(info.Outputs), []string{Output})
	if err != nil {
		return nil, fmt.Errorf("outputs: %w", err)
	}

	in := ort.NewShape(1, 3, int64(cfg.InputHeight), int64(cfg.InputWidth))
	session, err := providers.NewProfiledSession(cfg.Provider, providers.SessionArgs{
		ModelPath:    path,
		InputNames:   inputs,
		InputShapes:  []ort.Shape{in, in},
		OutputNames:  outputs,
		OutputShapes: []ort.Shape{ort.NewShape(1, int64(arch.Outputs))},
	})
	if err != nil {
		return nil, err
	}

	return &Model{
		path:       path,
		inputShape: []int{3, cfg.InputHeight, cfg.InputWidth},
		session:    session,
		metadata:   info.Metadata,
		parameters: parameterCount(info.Metadata, arch),
	}, nil
}

// Loader returns a models.Loader that opens artifacts with cfg.
func Loader(cfg Config) models.Loader {
	return func(arch models.Architecture, path string) (models.Model, error) {
		return Open(arch, path, cfg)
	}
}

// Register installs the ONNX loader for every supported backbone.
func Register(cfg Config) {
	models.RegisterAll(Loader(cfg))
}

// Forward implements models.Model.
func (m *Model) Forward(front, side *tensor.Dense) ([]float32, error) {
	frontData, err := m.inputData("front", front)
	if err != nil {
		return nil, err
	}
	sideData, err := m.inputData("side", side)
	if err != nil {
		return nil, err
	}

	outs, err := m.session.Run(frontData, sideData)
	if err != nil {
		return nil, err
	}
	return outs[0], nil
}

func (m *Model) inputData(name string, t *tensor.Dense) ([]float32, error) {
	if t == nil {
		return nil, fmt.Errorf("%s tensor is nil", name)
	}
	if err := checkShape(t.Shape(), m.inputShape); err != nil {
		return nil, fmt.Errorf("%s tensor: %w", name, err)
	}
	data, ok := t.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("%s tensor must be float32, got %T", name, t.Data())
	}
	return data, nil
}

// Parameters implements models.Model.
func (m *Model) Parameters() int64 {
	return m.parameters
}

// LookupMetadata implements stats.MetadataReader.
func (m *Model) LookupMetadata(key string) (string, bool, error) {
	v, ok := m.metadata[key]
	return v, ok, nil
}

// Metrics implements models.Metrics.
func (m *Model) Metrics() models.PerformanceMetrics {
	s := m.session.Metrics()
	return models.PerformanceMetrics{
		InferenceCount:   s.InferenceCount,
		AverageLatencyMS: s.AverageMS(),
		LastLatencyMS:    s.LastMS,
	}
}

// Close implements models.Model.
func (m *Model) Close() error {
	return m.session.Close()
}

// checkShape accepts want, optionally with a leading batch dimension of one.
func checkShape(got tensor.Shape, want []int) error {
	dims := []int(got)
	if len(dims) == len(want)+1 && dims[0] == 1 {
		dims = dims[1:]
	}
	if len(dims) != len(want) {
		return fmt.Errorf("shape %v, want %v", got, want)
	}
	for i := range want {
		if dims[i] != want[i] {
			return fmt.Errorf("shape %v, want %v", got, want)
		}
	}
	return nil
}

// parameterCount prefers the exported count and otherwise derives it from the architecture.
func parameterCount(metadata map[string]string, arch models.Architecture) int64 {
	if raw, ok := metadata[MetadataParameterCount]; ok {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return arch.TotalParameters()
}
