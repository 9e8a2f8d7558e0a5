package models

import (
	"github.com/nvr-ai/go-bodymeasure/errs"
)

// Speed and accuracy grades shown to clients.
const (
	GradeFast   = "fast"
	GradeMedium = "medium"
	GradeSlow   = "slow"
	GradeHigh   = "high"
)

// DefaultKey is the variant loaded at startup.
const DefaultKey = "model_v1"

// Variant is an entry in the catalog of trained models.
type Variant struct {
	Key         string   `json:"key"         yaml:"key"`
	Name        string   `json:"name"        yaml:"name"`
	Backbone    Backbone `json:"backbone"    yaml:"backbone"`
	Filename    string   `json:"filename"    yaml:"filename"`
	Description string   `json:"description" yaml:"description"`
	Speed       string   `json:"speed"       yaml:"speed"`
	Accuracy    string   `json:"accuracy"    yaml:"accuracy"`
	SizeMB      int      `json:"size_mb"     yaml:"size_mb"`
}

// Catalog is the ordered set of selectable variants.
type Catalog []Variant

// DefaultCatalog returns the trained variants published to the artifact repository.
func DefaultCatalog() Catalog {
	return Catalog{
		{
			Key:         "model_v1",
			Name:        "Model V1 (EfficientNet-B3)",
			Backbone:    BackboneEfficientNetB3,
			Filename:    "efficientnet-b3_model.onnx",
			Description: "Balanced accuracy and speed",
			Speed:       GradeMedium,
			Accuracy:    GradeHigh,
			SizeMB:      89,
		},
		{
			Key:         "model_v2",
			Name:        "Model V2 (MobileNetV3)",
			Backbone:    BackboneMobileNetV3Large,
			Filename:    "mobilenetv3_model.onnx",
			Description: "Lightweight and fast",
			Speed:       GradeFast,
			Accuracy:    GradeMedium,
			SizeMB:      20,
		},
		{
			Key:         "model_v3",
			Name:        "Model V3 (ResNet50)",
			Backbone:    BackboneResNet50,
			Filename:    "resnet50_model.onnx",
			Description: "High accuracy",
			Speed:       GradeSlow,
			Accuracy:    GradeHigh,
			SizeMB:      98,
		},
	}
}

// Keys returns the variant keys in catalog order.
func (c Catalog) Keys() []string {
	keys := make([]string, len(c))
	for i, v := range c {
		keys[i] = v.Key
	}
	return keys
}

// Lookup returns the variant registered under key.
//
// Returns:
//   - Variant: The matching variant.
//   - error: errs.ErrUnknownModel listing the available keys.
func (c Catalog) Lookup(key string) (Variant, error) {
	for _, v := range c {
		if v.Key == key {
			return v, nil
		}
	}
	return Variant{}, errs.UnknownModel(key, c.Keys())
}

// Filename maps a catalog key to its artifact filename. Anything that is not a key is
// returned unchanged and treated as a filename.
func (c Catalog) Filename(keyOrFilename string) string {
	for _, v := range c {
		if v.Key == keyOrFilename {
			return v.Filename
		}
	}
	return keyOrFilename
}
