package providers

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// ModelInfo is what can be learned about a model file without creating a session.
type ModelInfo struct {
	Inputs  []ort.InputOutputInfo
	Outputs []ort.InputOutputInfo
	// Metadata holds the requested custom metadata entries that were present.
	Metadata map[string]string
}

// Inspect reads tensor descriptions and selected custom metadata from a model file.
//
// Arguments:
//   - cfg: The provider configuration, used to initialize the environment.
//   - path: The ONNX model path.
//   - keys: Custom metadata keys to look up.
//
// Returns:
//   - *ModelInfo: The model description.
//   - error: An error if the file cannot be read as an ONNX model.
func Inspect(cfg Config, path string, keys ...string) (*ModelInfo, error) {
	if err := InitializeEnvironment(cfg); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("read model io %s: %w", path, err)
	}
	info := &ModelInfo{Inputs: inputs, Outputs: outputs, Metadata: map[string]string{}}
	if len(keys) == 0 {
		return info, nil
	}

	md, err := ort.GetModelMetadata(path)
	if err != nil {
		return nil, fmt.Errorf("read model metadata %s: %w", path, err)
	}
	defer md.Destroy()

	for _, key := range keys {
		v, ok, err := md.LookupCustomMetadataMap(key)
		if err != nil {
			return nil, fmt.Errorf("lookup metadata %s: %w", key, err)
		}
		if ok {
			info.Metadata[key] = v
		}
	}
	return info, nil
}

// Names returns the names of the given tensor descriptions in order.
func Names(infos []ort.InputOutputInfo) []string {
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = info.Name
	}
	return out
}

// PickNames selects len(preferred) names: the preferred names when the model declares all of
// them, otherwise the model's first names in declaration order.
func PickNames(declared, preferred []string) ([]string, error) {
	if len(declared) < len(preferred) {
		return nil, fmt.Errorf("model declares %d tensors %v, need %d", len(declared), declared, len(preferred))
	}
	set := make(map[string]bool, len(declared))
	for _, name := range declared {
		set[name] = true
	}
	for _, name := range preferred {
		if !set[name] {
			return append([]string(nil), declared[:len(preferred)]...), nil
		}
	}
	return append([]string(nil), preferred...), nil
}
