// Package segmentation - Turns uploaded photos into clean binary body silhouettes.
//
// Inputs that already look like a mask take a fast path (grayscale threshold). Color photos
// go through a person segmentation network, and the resulting alpha is binarized and
// morphologically refined. Every output is resized to the canonical 384x512 size.
package segmentation

// Kind is the classifier's verdict on an input image.
type Kind int

const (
	// KindColorPhoto needs the segmentation network.
	KindColorPhoto Kind = iota
	// KindAlreadyMask is binarized directly.
	KindAlreadyMask
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k == KindAlreadyMask {
		return "already_mask"
	}
	return "color_photo"
}

// Thresholds tune the mask detector.
type Thresholds struct {
	// MaxDistinctLevels is the most gray levels an image may use and still count as a mask.
	MaxDistinctLevels int `json:"max_distinct_levels" yaml:"max_distinct_levels"`
	// TailBins is the width of each histogram tail (darkest and brightest bins).
	TailBins int `json:"tail_bins" yaml:"tail_bins"`
	// TailMassRatio is the share of pixels in both tails above which an image is a mask.
	TailMassRatio float64 `json:"tail_mass_ratio" yaml:"tail_mass_ratio"`
}

// DefaultThresholds returns the detector settings the service ships with.
func DefaultThresholds() Thresholds {
	return Thresholds{MaxDistinctLevels: 5, TailBins: 30, TailMassRatio: 0.85}
}

// Classify decides whether grayscale pixels are already a silhouette mask. It is a pure
// function of its inputs.
//
// Arguments:
//   - gray: 8-bit luminance values in any order.
//   - th: The detector thresholds.
//
// Returns:
//   - Kind: KindAlreadyMask when at most th.MaxDistinctLevels gray levels are used or when
//     more than th.TailMassRatio of the pixels fall in the darkest or brightest
//     th.TailBins bins; KindColorPhoto otherwise.
func Classify(gray []uint8, th Thresholds) Kind {
	if len(gray) == 0 {
		return KindColorPhoto
	}

	var hist [256]int
	for _, v := range gray {
		hist[v]++
	}

	distinct := 0
	for _, n := range hist {
		if n > 0 {
			distinct++
		}
	}
	if distinct <= th.MaxDistinctLevels {
		return KindAlreadyMask
	}

	bins := th.TailBins
	if bins > 128 {
		bins = 128
	}
	tail := 0
	for i := 0; i < bins; i++ {
		tail += hist[i] + hist[255-i]
	}
	if float64(tail)/float64(len(gray)) > th.TailMassRatio {
		return KindAlreadyMask
	}
	return KindColorPhoto
}
