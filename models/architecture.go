package models

import (
	"fmt"
	"sort"
)

// Backbone identifies an image encoder family.
type Backbone string

const (
	// BackboneEfficientNetB3 is EfficientNet-B3 (1536-d features).
	BackboneEfficientNetB3 Backbone = "efficientnet_b3"
	// BackboneMobileNetV3Large is MobileNetV3-Large 1.0 (1280-d features).
	BackboneMobileNetV3Large Backbone = "mobilenetv3_large_100"
	// BackboneResNet50 is ResNet-50 (2048-d features).
	BackboneResNet50 Backbone = "resnet50"
)

// Outputs is the regression head output width.
const Outputs = 14

// HeadLayer is one hidden block of the regression head: Linear, BatchNorm, ReLU, Dropout.
type HeadLayer struct {
	Units   int
	Dropout float64
}

// Architecture describes the dual-view network built on a backbone: two independent
// encoders (front and side) whose pooled features are concatenated and fed to the head.
type Architecture struct {
	Backbone Backbone
	// FeatureDim is the pooled feature width of one encoder.
	FeatureDim int
	// EncoderParameters is the parameter count of one headless encoder.
	EncoderParameters int64
	Head              []HeadLayer
	Outputs           int
}

var regressionHead = []HeadLayer{
	{Units: 512, Dropout: 0.3},
	{Units: 256, Dropout: 0.3},
	{Units: 128, Dropout: 0.2},
}

var architectures = map[Backbone]Architecture{
	BackboneEfficientNetB3:   {Backbone: BackboneEfficientNetB3, FeatureDim: 1536, EncoderParameters: 10_696_232},
	BackboneMobileNetV3Large: {Backbone: BackboneMobileNetV3Large, FeatureDim: 1280, EncoderParameters: 4_202_032},
	BackboneResNet50:         {Backbone: BackboneResNet50, FeatureDim: 2048, EncoderParameters: 23_508_032},
}

// ArchitectureFor returns the architecture for a backbone.
//
// Arguments:
//   - backbone: The encoder family.
//
// Returns:
//   - Architecture: The dual-view architecture.
//   - error: An error if the backbone is not supported.
func ArchitectureFor(backbone Backbone) (Architecture, error) {
	a, ok := architectures[backbone]
	if !ok {
		return Architecture{}, fmt.Errorf("unsupported backbone: %s", backbone)
	}
	a.Head = append([]HeadLayer(nil), regressionHead...)
	a.Outputs = Outputs
	return a, nil
}

// Backbones lists the supported backbones in name order.
func Backbones() []Backbone {
	out := make([]Backbone, 0, len(architectures))
	for b := range architectures {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// HeadParameters counts the trainable parameters of the regression head. Each hidden block
// contributes a Linear layer (weights and bias) and a BatchNorm layer (scale and shift).
func (a Architecture) HeadParameters() int64 {
	var total int64
	in := int64(2 * a.FeatureDim)
	for _, layer := range a.Head {
		out := int64(layer.Units)
		total += in*out + out
		total += 2 * out
		in = out
	}
	return total + in*int64(a.Outputs) + int64(a.Outputs)
}

// TotalParameters counts both encoders and the head.
func (a Architecture) TotalParameters() int64 {
	return 2*a.EncoderParameters + a.HeadParameters()
}
