package providers

import (
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var envMu sync.Mutex

// InitializeEnvironment points ONNX Runtime at its shared library and initializes the native
// environment. It is safe to call from every component; only the first call does any work.
//
// Arguments:
//   - cfg: The provider configuration carrying the library path.
//
// Returns:
//   - error: An error if the library is missing or the environment cannot be created.
func InitializeEnvironment(cfg Config) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}

	libPath := SharedLibPath(cfg.LibraryPath)
	if _, err := os.Stat(libPath); err != nil {
		return fmt.Errorf("ONNX Runtime library not found at %s: %w", libPath, err)
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("error initializing ORT environment: %w", err)
	}
	return nil
}

// NewSessionOptions builds session options for cfg, appending the configured execution
// provider. The caller must Destroy the returned options once the session is created.
//
// Arguments:
//   - cfg: The provider configuration.
//
// Returns:
//   - *ort.SessionOptions: The configured options.
//   - error: An error if an option or provider cannot be applied.
func NewSessionOptions(cfg Config) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating ORT session options: %w", err)
	}

	if err := applyOptions(options, cfg); err != nil {
		options.Destroy()
		return nil, err
	}
	return options, nil
}

func applyOptions(options *ort.SessionOptions, cfg Config) error {
	if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
		return fmt.Errorf("error setting intra-op threads: %w", err)
	}
	if err := options.SetInterOpNumThreads(cfg.InterOpThreads); err != nil {
		return fmt.Errorf("error setting inter-op threads: %w", err)
	}
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		return fmt.Errorf("error setting graph optimization level: %w", err)
	}

	switch cfg.Backend {
	case "", CPUBackend:
	case CoreMLBackend:
		if err := options.AppendExecutionProviderCoreML(cfg.CoreMLFlags); err != nil {
			return fmt.Errorf("error enabling CoreML: %w", err)
		}
	case OpenVINOBackend:
		if err := options.AppendExecutionProviderOpenVINO(cfg.OpenVINO.toMap()); err != nil {
			return fmt.Errorf("error enabling OpenVINO: %w", err)
		}
	case CUDABackend:
		cuda, err := cfg.CUDA.toNative()
		if err != nil {
			return err
		}
		defer cuda.Destroy()
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return fmt.Errorf("error enabling CUDA: %w", err)
		}
	default:
		return fmt.Errorf("unsupported execution provider: %q", cfg.Backend)
	}
	return nil
}
