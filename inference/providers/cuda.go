package providers

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// CUDAOptions contains arguments for the CUDA provider.
// See:
// https://onnxruntime.ai/docs/execution-providers/CUDA-ExecutionProvider.html#configuration-options
type CUDAOptions struct {
	// The device ID.
	DeviceID int `json:"device_id" yaml:"device_id"`
	// The size limit of the device memory arena in bytes. Zero leaves the ORT default.
	GPUMemLimit int64 `json:"gpu_mem_limit" yaml:"gpu_mem_limit"`
	// 0: kNextPowerOfTwo, 1: kSameAsRequested.
	ArenaExtendStrategy int `json:"arena_extend_strategy" yaml:"arena_extend_strategy"`
	// 0: EXHAUSTIVE, 1: HEURISTIC, 2: DEFAULT.
	CudnnConvAlgoSearch int `json:"cudnn_conv_algo_search" yaml:"cudnn_conv_algo_search"`
	// Whether to do copies in the default stream.
	DoCopyInDefaultStream bool `json:"do_copy_in_default_stream" yaml:"do_copy_in_default_stream"`
}

func (o CUDAOptions) toMap() map[string]string {
	m := map[string]string{
		"device_id":                 fmt.Sprintf("%d", o.DeviceID),
		"arena_extend_strategy":     pick(arenaStrategies, o.ArenaExtendStrategy),
		"cudnn_conv_algo_search":    pick(convSearches, o.CudnnConvAlgoSearch),
		"do_copy_in_default_stream": fmt.Sprintf("%d", boolInt(o.DoCopyInDefaultStream)),
	}
	if o.GPUMemLimit > 0 {
		m["gpu_mem_limit"] = fmt.Sprintf("%d", o.GPUMemLimit)
	}
	return m
}

var (
	arenaStrategies = []string{"kNextPowerOfTwo", "kSameAsRequested"}
	convSearches    = []string{"EXHAUSTIVE", "HEURISTIC", "DEFAULT"}
)

// toNative converts the options into the handle the CUDA provider expects. The caller owns the
// returned handle.
func (o CUDAOptions) toNative() (*ort.CUDAProviderOptions, error) {
	opts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating CUDA provider options: %w", err)
	}
	if err := opts.Update(o.toMap()); err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("error updating CUDA provider options: %w", err)
	}
	return opts, nil
}

// pick returns values[i], or the first value when i is out of range.
func pick(values []string, i int) string {
	if i < 0 || i >= len(values) {
		return values[0]
	}
	return values[i]
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
