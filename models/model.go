// Package models - The dual-view regressor contract, backbone architectures and the catalog
// of trained model variants.
package models

import (
	"gorgonia.org/tensor"
)

// Model is a loaded dual-view regressor. Forward maps one front and one side input tensor
// (CHW, batch of one) to the 14 normalized outputs in measurements.Names order.
//
// Implementations must be safe for concurrent use and must never mutate their weights.
type Model interface {
	Forward(front, side *tensor.Dense) ([]float32, error)
	// Parameters returns the trainable parameter count.
	Parameters() int64
	Close() error
}

// Metrics is implemented by models that track runtime performance.
type Metrics interface {
	Metrics() PerformanceMetrics
}

// PerformanceMetrics holds per-model inference counters.
type PerformanceMetrics struct {
	InferenceCount   int64   `json:"inference_count"`
	AverageLatencyMS float64 `json:"average_latency_ms"`
	LastLatencyMS    float64 `json:"last_latency_ms"`
}
