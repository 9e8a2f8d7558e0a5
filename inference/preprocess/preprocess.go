// Package preprocess - Converts silhouette masks into normalized input tensors for the
// dual-view regressor.
package preprocess

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-bodymeasure/errs"
)

// NormalizationType defines how pixel values are normalized.
type NormalizationType int

const (
	// NormalizeNone keeps pixel values as 0-255.
	NormalizeNone NormalizationType = iota
	// NormalizeZeroToOne scales pixel values to [0, 1].
	NormalizeZeroToOne
	// NormalizeStandardize scales to [0, 1] and then applies per-channel mean and std.
	NormalizeStandardize
)

// ChannelOrder defines the ordering of tensor dimensions.
type ChannelOrder int

const (
	// ChannelOrderCHW is Channel-Height-Width ordering (common for ONNX).
	ChannelOrderCHW ChannelOrder = iota
	// ChannelOrderHWC is Height-Width-Channel ordering.
	ChannelOrderHWC
)

// ImageNet statistics used by every supported backbone.
var (
	ImageNetMean = []float32{0.485, 0.456, 0.406}
	ImageNetStd  = []float32{0.229, 0.224, 0.225}
)

// ModelConfig defines preprocessing configuration for a model input.
type ModelConfig struct {
	// Name of the model for debugging purposes.
	Name string
	// InputWidth is the expected width of the model input.
	InputWidth int
	// InputHeight is the expected height of the model input.
	InputHeight int
	// InputChannels is the number of channels the grayscale mask is replicated to.
	InputChannels int
	// NormalizationType defines how to normalize pixel values.
	NormalizationType NormalizationType
	// MeanValues for standardization, one per channel.
	MeanValues []float32
	// StdValues for standardization, one per channel.
	StdValues []float32
	// ChannelOrder defines the dimension ordering of the output tensor.
	ChannelOrder ChannelOrder
}

// BodyMeasurementConfig returns the input configuration the dual-view regressor was trained
// with: 3x512x384 (height 512, width 384), ImageNet standardized, CHW.
func BodyMeasurementConfig() *ModelConfig {
	return &ModelConfig{
		Name:              "body-measurement",
		InputWidth:        384,
		InputHeight:       512,
		InputChannels:     3,
		NormalizationType: NormalizeStandardize,
		MeanValues:        ImageNetMean,
		StdValues:         ImageNetStd,
		ChannelOrder:      ChannelOrderCHW,
	}
}

// Size returns the input size with X as width and Y as height.
func (c *ModelConfig) Size() image.Point {
	return image.Pt(c.InputWidth, c.InputHeight)
}

// Shape returns the tensor shape produced for a single image.
func (c *ModelConfig) Shape() []int {
	if c.ChannelOrder == ChannelOrderHWC {
		return []int{c.InputHeight, c.InputWidth, c.InputChannels}
	}
	return []int{c.InputChannels, c.InputHeight, c.InputWidth}
}

// Validate checks the configuration for consistency.
func (c *ModelConfig) Validate() error {
	if c.InputWidth <= 0 || c.InputHeight <= 0 {
		return fmt.Errorf("input size must be positive, got %dx%d", c.InputWidth, c.InputHeight)
	}
	if c.InputChannels <= 0 {
		return fmt.Errorf("input channels must be positive, got %d", c.InputChannels)
	}
	if c.NormalizationType == NormalizeStandardize {
		if len(c.MeanValues) != c.InputChannels || len(c.StdValues) != c.InputChannels {
			return fmt.Errorf("standardization needs %d mean and std values, got %d and %d",
				c.InputChannels, len(c.MeanValues), len(c.StdValues))
		}
		for i, s := range c.StdValues {
			if s == 0 {
				return fmt.Errorf("std value %d must not be zero", i)
			}
		}
	}
	return nil
}

// Preprocessor turns encoded masks into input tensors. It holds no mutable state and is
// safe for concurrent use.
type Preprocessor struct {
	config ModelConfig
}

// NewPreprocessor creates a new preprocessor with the given configuration.
//
// Arguments:
//   - config: The model input configuration.
//
// Returns:
//   - *Preprocessor: A configured preprocessor.
//   - error: An error if the configuration is invalid.
//
// @example
//
//	p, err := NewPreprocessor(BodyMeasurementConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	front, err := p.Prepare(frontMaskPNG)
func NewPreprocessor(config *ModelConfig) (*Preprocessor, error) {
	if config == nil {
		config = BodyMeasurementConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Preprocessor{config: *config}, nil
}

// Config returns a copy of the preprocessor configuration.
func (p *Preprocessor) Config() ModelConfig {
	return p.config
}

// Prepare decodes mask as grayscale, resizes it to the configured size with linear
// interpolation, replicates it across channels and normalizes it.
//
// Arguments:
//   - mask: Encoded image bytes, typically a PNG silhouette.
//
// Returns:
//   - *tensor.Dense: A float32 tensor shaped per ModelConfig.Shape.
//   - error: errs.ErrInvalidImage if the bytes cannot be decoded.
func (p *Preprocessor) Prepare(mask []byte) (*tensor.Dense, error) {
	if len(mask) == 0 {
		return nil, errs.InvalidImage("empty mask")
	}

	mat, err := gocv.IMDecode(mask, gocv.IMReadGrayScale)
	if err != nil {
		return nil, errs.InvalidImage(err.Error())
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, errs.InvalidImage("mask could not be decoded")
	}

	resized := gocv.NewMat()
	defer resized.Close()
	if err := gocv.Resize(mat, &resized, p.config.Size(), 0, 0, gocv.InterpolationLinear); err != nil {
		return nil, fmt.Errorf("resize mask: %w", err)
	}

	return p.FromGray(resized.ToBytes())
}

// FromGray builds the tensor from single-channel pixels that are already at the configured
// size, row-major.
func (p *Preprocessor) FromGray(gray []uint8) (*tensor.Dense, error) {
	c, h, w := p.config.InputChannels, p.config.InputHeight, p.config.InputWidth
	plane := h * w
	if len(gray) != plane {
		return nil, fmt.Errorf("expected %d pixels, got %d", plane, len(gray))
	}

	data := make([]float32, c*plane)
	for ch := 0; ch < c; ch++ {
		for i, px := range gray {
			v := p.normalize(float32(px), ch)
			if p.config.ChannelOrder == ChannelOrderHWC {
				data[i*c+ch] = v
			} else {
				data[ch*plane+i] = v
			}
		}
	}

	return tensor.New(tensor.WithShape(p.config.Shape()...), tensor.WithBacking(data)), nil
}

func (p *Preprocessor) normalize(v float32, ch int) float32 {
	switch p.config.NormalizationType {
	case NormalizeZeroToOne:
		return v / 255
	case NormalizeStandardize:
		return (v/255 - p.config.MeanValues[ch]) / p.config.StdValues[ch]
	default:
		return v
	}
}
