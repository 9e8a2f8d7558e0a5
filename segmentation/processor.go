package segmentation

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/nfnt/resize"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-bodymeasure/errs"
	"github.com/nvr-ai/go-bodymeasure/images"
)

// CanonicalSize is the silhouette size the regressor expects: 384 wide, 512 high.
var CanonicalSize = image.Point{X: 384, Y: 512}

var overlayGreen = color.RGBA{G: 255}

// Config tunes the processor.
type Config struct {
	Thresholds Thresholds `json:"thresholds" yaml:"thresholds"`
	// MaxSide bounds the longest side of a photo before segmentation.
	MaxSide int `json:"max_side" yaml:"max_side"`
	// AlphaCutoff is the alpha value above which a cutout pixel is foreground.
	AlphaCutoff uint8 `json:"alpha_cutoff" yaml:"alpha_cutoff"`
}

// DefaultConfig returns the processor settings the service ships with.
func DefaultConfig() Config {
	return Config{Thresholds: DefaultThresholds(), MaxSide: 1024, AlphaCutoff: 10}
}

// Processor produces silhouette masks and previews. A nil segmenter is allowed: inputs
// classified as masks still work, color photos fail with errs.ErrSegmentationFailed.
type Processor struct {
	segmenter Segmenter
	config    Config
	logger    *zap.Logger
}

// NewProcessor creates a processor around an optional segmenter.
func NewProcessor(segmenter Segmenter, config Config, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxSide <= 0 {
		config.MaxSide = DefaultConfig().MaxSide
	}
	return &Processor{segmenter: segmenter, config: config, logger: logger.Named("segmentation")}
}

// SegmenterName returns the loaded network, or "" when running without one.
func (p *Processor) SegmenterName() string {
	if p.segmenter == nil {
		return ""
	}
	return p.segmenter.Name()
}

// Close releases the segmenter.
func (p *Processor) Close() error {
	if p.segmenter == nil {
		return nil
	}
	return p.segmenter.Close()
}

// Process converts raw image bytes into a PNG silhouette of size (X width, Y height).
//
// Arguments:
//   - raw: The encoded photo or mask.
//   - size: The output size, normally CanonicalSize.
//
// Returns:
//   - []byte: A single-channel PNG with values in {0, 255}.
//   - error: errs.ErrInvalidImage or errs.ErrSegmentationFailed.
func (p *Processor) Process(raw []byte, size image.Point) ([]byte, error) {
	s, err := p.silhouette(raw)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	mask := gocv.NewMat()
	defer mask.Close()
	if err := resizeMask(s.mask, &mask, size); err != nil {
		return nil, err
	}
	return encodePNG(mask)
}

// Preview is a silhouette with a visual check of it.
type Preview struct {
	Kind Kind
	// Mask is the same PNG Process returns.
	Mask []byte
	// Overlay is a BGR PNG: 0.6*source + 0.4*green(mask) with the outline drawn in green.
	Overlay []byte
}

// Preview produces the silhouette plus an overlay of it on the source. When the input is
// already a mask the source shown is the binarized mask itself.
func (p *Processor) Preview(raw []byte, size image.Point) (*Preview, error) {
	s, err := p.silhouette(raw)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	source := gocv.NewMat()
	defer source.Close()
	mask := gocv.NewMat()
	defer mask.Close()
	if err := gocv.Resize(s.source, &source, size, 0, 0, gocv.InterpolationLinear); err != nil {
		return nil, fmt.Errorf("resize source: %w", err)
	}
	if err := resizeMask(s.mask, &mask, size); err != nil {
		return nil, err
	}

	overlay, err := blendOverlay(source, mask)
	if err != nil {
		return nil, err
	}
	defer overlay.Close()

	maskPNG, err := encodePNG(mask)
	if err != nil {
		return nil, err
	}
	overlayPNG, err := encodePNG(overlay)
	if err != nil {
		return nil, err
	}
	return &Preview{Kind: s.kind, Mask: maskPNG, Overlay: overlayPNG}, nil
}

// silhouette is the native-resolution result shared by Process and Preview.
type silhouette struct {
	kind   Kind
	mask   gocv.Mat // CV8UC1, {0,255}
	source gocv.Mat // CV8UC3 BGR
}

func (s *silhouette) Close() {
	s.mask.Close()
	s.source.Close()
}

func (p *Processor) silhouette(raw []byte) (*silhouette, error) {
	src, err := images.DecodeMat(raw)
	if err != nil {
		src.Close()
		return nil, err
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if err := gocv.CvtColor(src, &gray, gocv.ColorBGRToGray); err != nil {
		src.Close()
		return nil, errs.InvalidImage(err.Error())
	}

	kind := Classify(gray.ToBytes(), p.config.Thresholds)
	p.logger.Debug("input classified",
		zap.Stringer("kind", kind), zap.Int("width", src.Cols()), zap.Int("height", src.Rows()))

	if kind == KindAlreadyMask {
		src.Close()
		mask := gocv.NewMat()
		binarize(gray, &mask)
		source := gocv.NewMat()
		if err := gocv.CvtColor(mask, &source, gocv.ColorGrayToBGR); err != nil {
			mask.Close()
			source.Close()
			return nil, fmt.Errorf("mask to bgr: %w", err)
		}
		return &silhouette{kind: kind, mask: mask, source: source}, nil
	}

	mask, err := p.segment(src)
	if err != nil {
		src.Close()
		return nil, err
	}
	return &silhouette{kind: kind, mask: mask, source: src}, nil
}

// segment runs the network on a color photo and returns the refined mask at the
// (possibly downscaled) segmentation resolution.
func (p *Processor) segment(src gocv.Mat) (gocv.Mat, error) {
	if p.segmenter == nil {
		return gocv.NewMat(), errs.SegmentationFailed(errors.New("segmentation model not loaded"))
	}

	img, err := src.ToImage()
	if err != nil {
		return gocv.NewMat(), errs.InvalidImage(err.Error())
	}
	img = limitSize(img, p.config.MaxSide)

	cut, err := p.segmenter.Cutout(img)
	if err != nil {
		return gocv.NewMat(), errs.SegmentationFailed(err)
	}

	mask, err := alphaMask(cut, p.config.AlphaCutoff)
	if err != nil {
		return gocv.NewMat(), errs.SegmentationFailed(err)
	}
	if err := refine(&mask); err != nil {
		mask.Close()
		return gocv.NewMat(), errs.SegmentationFailed(err)
	}
	return mask, nil
}

// resizeMask resizes with linear interpolation (size.X is the width) and re-binarizes the
// interpolated edge pixels so the output keeps exactly the values 0 and 255.
func resizeMask(src gocv.Mat, dst *gocv.Mat, size image.Point) error {
	if size.X <= 0 || size.Y <= 0 {
		return fmt.Errorf("invalid mask size %v", size)
	}
	if err := gocv.Resize(src, dst, size, 0, 0, gocv.InterpolationLinear); err != nil {
		return fmt.Errorf("resize mask: %w", err)
	}
	binarize(*dst, dst)
	return nil
}

// limitSize downscales img with Lanczos3 so its longest side is at most maxSide.
func limitSize(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	longest := b.Dx()
	if b.Dy() > longest {
		longest = b.Dy()
	}
	if longest <= maxSide {
		return img
	}
	ratio := float64(maxSide) / float64(longest)
	return resize.Resize(uint(float64(b.Dx())*ratio), uint(float64(b.Dy())*ratio), img, resize.Lanczos3)
}

func blendOverlay(source, mask gocv.Mat) (gocv.Mat, error) {
	zeros := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), mask.Rows(), mask.Cols(), gocv.MatTypeCV8UC1)
	defer zeros.Close()

	green := gocv.NewMat()
	defer green.Close()
	if err := gocv.Merge([]gocv.Mat{zeros, mask, zeros}, &green); err != nil {
		return gocv.NewMat(), fmt.Errorf("merge overlay: %w", err)
	}

	overlay := gocv.NewMat()
	if err := gocv.AddWeighted(source, 0.6, green, 0.4, 0, &overlay); err != nil {
		overlay.Close()
		return gocv.NewMat(), fmt.Errorf("blend overlay: %w", err)
	}

	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()
	if contours.Size() > 0 {
		if err := gocv.DrawContours(&overlay, contours, -1, overlayGreen, 2); err != nil {
			overlay.Close()
			return gocv.NewMat(), fmt.Errorf("draw contours: %w", err)
		}
	}
	return overlay, nil
}

func encodePNG(m gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.PNGFileExt, m)
	if err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}
