// Package providers - ONNX Runtime execution providers and session options shared by every
// ONNX-backed component (the dual-view regressor and the u2net segmenter).
package providers

import (
	"fmt"
	"strings"
)

// Backend represents an ONNX Runtime execution provider.
type Backend string

const (
	// CPUBackend runs on the default CPU execution provider.
	CPUBackend Backend = "cpu"
	// CUDABackend uses NVIDIA CUDA for GPU acceleration.
	CUDABackend Backend = "cuda"
	// CoreMLBackend uses Apple CoreML for macOS acceleration.
	CoreMLBackend Backend = "coreml"
	// OpenVINOBackend uses Intel OpenVINO.
	OpenVINOBackend Backend = "openvino"
)

// ParseBackend maps a configuration string onto a Backend. The empty string selects the CPU.
//
// Arguments:
//   - s: The backend name, case insensitive.
//
// Returns:
//   - Backend: The parsed backend.
//   - error: An error if the name is not a supported backend.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case "":
		return CPUBackend, nil
	case CPUBackend, CUDABackend, CoreMLBackend, OpenVINOBackend:
		return b, nil
	default:
		return "", fmt.Errorf("unsupported execution provider: %q", s)
	}
}

// Device returns the coarse device class reported to clients.
func (b Backend) Device() string {
	switch b {
	case CUDABackend:
		return "cuda"
	case CoreMLBackend, OpenVINOBackend:
		return string(b)
	default:
		return "cpu"
	}
}

// Config describes how ONNX Runtime sessions are created.
type Config struct {
	// Backend specifies the execution provider to append to every session.
	Backend Backend `json:"backend" yaml:"backend"`

	// LibraryPath is the onnxruntime shared library. Empty resolves a platform default.
	LibraryPath string `json:"library_path" yaml:"library_path"`

	// IntraOpThreads sets threads for parallelizing a single node. Zero lets ORT decide.
	IntraOpThreads int `json:"intra_op_threads" yaml:"intra_op_threads"`

	// InterOpThreads sets threads for running independent nodes in parallel.
	InterOpThreads int `json:"inter_op_threads" yaml:"inter_op_threads"`

	// CoreMLFlags is passed verbatim to the CoreML provider.
	CoreMLFlags uint32 `json:"coreml_flags" yaml:"coreml_flags"`

	CUDA     CUDAOptions     `json:"cuda"     yaml:"cuda"`
	OpenVINO OpenVINOOptions `json:"openvino" yaml:"openvino"`
}

// DefaultConfig returns a CPU configuration with ORT-chosen thread counts.
func DefaultConfig() Config {
	return Config{Backend: CPUBackend}
}

// Validate checks the configuration before any native resource is allocated.
func (c Config) Validate() error {
	if _, err := ParseBackend(string(c.Backend)); err != nil {
		return err
	}
	if c.IntraOpThreads < 0 || c.InterOpThreads < 0 {
		return fmt.Errorf("thread counts must not be negative, got intra=%d inter=%d",
			c.IntraOpThreads, c.InterOpThreads)
	}
	return nil
}
