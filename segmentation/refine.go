package segmentation

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// binarize thresholds src at 127 into dst, giving values in {0, 255}.
func binarize(src gocv.Mat, dst *gocv.Mat) {
	gocv.Threshold(src, dst, 127, 255, gocv.ThresholdBinary)
}

// alphaMask builds a {0,255} mask from the alpha channel of a cutout: alpha above cutoff is
// foreground.
func alphaMask(cutout *image.NRGBA, cutoff uint8) (gocv.Mat, error) {
	b := cutout.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return gocv.NewMat(), fmt.Errorf("empty cutout")
	}

	data := make([]byte, w*h)
	for y := 0; y < h; y++ {
		row := cutout.Pix[y*cutout.Stride : y*cutout.Stride+4*w]
		for x := 0; x < w; x++ {
			if row[4*x+3] > cutoff {
				data[y*w+x] = 255
			}
		}
	}

	m, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC1, data)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer m.Close()
	return m.Clone(), nil
}

// refine removes speckles, fills small holes and smooths edges of a binary mask in place:
// open 3x3 once, close 5x5 twice (two dilations then two erosions), 3x3 Gaussian blur,
// threshold at 127.
func refine(mask *gocv.Mat) error {
	small := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	defer small.Close()
	medium := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(5, 5))
	defer medium.Close()

	if err := gocv.MorphologyEx(*mask, mask, gocv.MorphOpen, small); err != nil {
		return fmt.Errorf("open: %w", err)
	}
	for i := 0; i < 2; i++ {
		if err := gocv.Dilate(*mask, mask, medium); err != nil {
			return fmt.Errorf("close: %w", err)
		}
	}
	for i := 0; i < 2; i++ {
		if err := gocv.Erode(*mask, mask, medium); err != nil {
			return fmt.Errorf("close: %w", err)
		}
	}
	if err := gocv.GaussianBlur(*mask, mask, image.Pt(3, 3), 0, 0, gocv.BorderDefault); err != nil {
		return fmt.Errorf("blur: %w", err)
	}
	binarize(*mask, mask)
	return nil
}
