package segmentation

import (
	"context"
	stderrors "errors"
	"fmt"
	"image"

	"go.uber.org/zap"
)

// Segmentation networks, in preference order.
const (
	ModelHumanSeg = "u2net_human_seg"
	ModelGeneral  = "u2net"
)

// Segmenter separates a person from the background.
type Segmenter interface {
	// Cutout returns img with the background made transparent. The alpha channel carries the
	// foreground probability scaled to 0-255.
	Cutout(img image.Image) (*image.NRGBA, error)
	Name() string
	Close() error
}

// Opener creates the segmenter for a network name.
type Opener func(ctx context.Context, name string) (Segmenter, error)

// NewSegmenterWithFallback opens the first network that loads, trying names in order
// (ModelHumanSeg then ModelGeneral when names is empty).
//
// Returns:
//   - Segmenter: The first segmenter that opened.
//   - error: The joined failures when no network could be opened.
func NewSegmenterWithFallback(ctx context.Context, logger *zap.Logger, open Opener, names ...string) (Segmenter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(names) == 0 {
		names = []string{ModelHumanSeg, ModelGeneral}
	}

	var failures []error
	for _, name := range names {
		seg, err := open(ctx, name)
		if err == nil {
			logger.Info("segmentation model loaded", zap.String("model", name))
			return seg, nil
		}
		logger.Warn("segmentation model failed to load", zap.String("model", name), zap.Error(err))
		failures = append(failures, fmt.Errorf("%s: %w", name, err))
	}
	return nil, stderrors.Join(failures...)
}
