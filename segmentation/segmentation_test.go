package segmentation

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-bodymeasure/errs"
)

// encodeGray draws a w x h image whose pixels come from fn.
func encodeGray(t *testing.T, w, h int, fn func(x, y int) uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: fn(x, y)})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// encodePhoto draws a colorful gradient with far more than five gray levels.
func encodePhoto(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(60 + x%120), G: uint8(70 + y%110), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// rectangleMask is a centered white body on black.
func rectangleMask(t *testing.T, w, h int) []byte {
	return encodeGray(t, w, h, func(x, y int) uint8 {
		if x > w/4 && x < 3*w/4 && y > h/8 && y < 7*h/8 {
			return 255
		}
		return 0
	})
}

func decodeMask(t *testing.T, data []byte) gocv.Mat {
	t.Helper()
	m, err := gocv.IMDecode(data, gocv.IMReadUnchanged)
	require.NoError(t, err)
	require.False(t, m.Empty(), "mask PNG should decode")
	return m
}

func distinctValues(m gocv.Mat) map[uint8]int {
	out := map[uint8]int{}
	for _, v := range m.ToBytes() {
		out[v]++
	}
	return out
}

type fakeSegmenter struct {
	name   string
	calls  int
	err    error
	closed bool
}

func (f *fakeSegmenter) Cutout(img image.Image) (*image.NRGBA, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			a := uint8(0)
			if x > b.Dx()/3 && x < 2*b.Dx()/3 && y > b.Dy()/6 && y < 5*b.Dy()/6 {
				a = 230
			}
			out.SetNRGBA(x, y, color.NRGBA{R: 10, G: 20, B: 30, A: a})
		}
	}
	return out, nil
}

func (f *fakeSegmenter) Name() string { return f.name }

func (f *fakeSegmenter) Close() error {
	f.closed = true
	return nil
}

func TestClassify(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		name string
		gray []uint8
		want Kind
	}{
		{name: "empty", gray: nil, want: KindColorPhoto},
		{name: "two levels", gray: []uint8{0, 255, 0, 255, 0, 255}, want: KindAlreadyMask},
		{name: "five levels", gray: []uint8{0, 50, 100, 150, 200, 0}, want: KindAlreadyMask},
		{name: "single level", gray: []uint8{128, 128, 128}, want: KindAlreadyMask},
	}

	// Tail heavy: 90 of 100 pixels in the tails, the rest spread over mid grays.
	tailHeavy := make([]uint8, 0, 100)
	for i := 0; i < 45; i++ {
		tailHeavy = append(tailHeavy, uint8(i%10), uint8(250+i%5))
	}
	for i := 0; i < 10; i++ {
		tailHeavy = append(tailHeavy, uint8(100+i))
	}
	tests = append(tests, struct {
		name string
		gray []uint8
		want Kind
	}{name: "tail heavy", gray: tailHeavy, want: KindAlreadyMask})

	// A mid-gray gradient has almost no tail mass.
	gradient := make([]uint8, 0, 200)
	for i := 0; i < 200; i++ {
		gradient = append(gradient, uint8(40+i%170))
	}
	tests = append(tests, struct {
		name string
		gray []uint8
		want Kind
	}{name: "gradient", gray: gradient, want: KindColorPhoto})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.gray, th), "Classify(%s)", tt.name)
		})
	}
}

func TestClassifyThresholdsConfigurable(t *testing.T) {
	gray := []uint8{10, 60, 110, 160, 210, 240}
	assert.Equal(t, KindColorPhoto, Classify(gray, Thresholds{MaxDistinctLevels: 5, TailBins: 5, TailMassRatio: 0.85}))
	assert.Equal(t, KindAlreadyMask, Classify(gray, Thresholds{MaxDistinctLevels: 6, TailBins: 5, TailMassRatio: 0.85}))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "color_photo", KindColorPhoto.String())
	assert.Equal(t, "already_mask", KindAlreadyMask.String())
}

func TestProcessMaskFastPath(t *testing.T) {
	p := NewProcessor(nil, DefaultConfig(), nil)
	assert.Empty(t, p.SegmenterName(), "no segmenter is loaded")

	out, err := p.Process(rectangleMask(t, 300, 600), CanonicalSize)
	require.NoError(t, err)

	m := decodeMask(t, out)
	defer m.Close()
	assert.Equal(t, 512, m.Rows(), "height")
	assert.Equal(t, 384, m.Cols(), "width")
	assert.Equal(t, 1, m.Channels(), "mask should be single channel")

	values := distinctValues(m)
	for v := range values {
		assert.Contains(t, []uint8{0, 255}, v, "mask values must be binary")
	}
	assert.Positive(t, values[255], "body should survive")
	assert.Positive(t, values[0], "background should survive")
}

func TestProcessHonorsWidthHeightOrder(t *testing.T) {
	p := NewProcessor(nil, DefaultConfig(), nil)

	out, err := p.Process(rectangleMask(t, 100, 100), image.Pt(200, 50))
	require.NoError(t, err)

	m := decodeMask(t, out)
	defer m.Close()
	assert.Equal(t, 50, m.Rows())
	assert.Equal(t, 200, m.Cols())
}

func TestProcessNoisyMaskIsBinarized(t *testing.T) {
	// Tail-heavy input with a few mid values still counts as a mask and is thresholded.
	raw := encodeGray(t, 64, 64, func(x, y int) uint8 {
		switch {
		case x == 0 && y < 8:
			return uint8(90 + y*10)
		case x > 16 && x < 48:
			return 250
		default:
			return 3
		}
	})
	p := NewProcessor(nil, DefaultConfig(), nil)
	out, err := p.Process(raw, image.Pt(64, 64))
	require.NoError(t, err)

	m := decodeMask(t, out)
	defer m.Close()
	for v := range distinctValues(m) {
		assert.Contains(t, []uint8{0, 255}, v)
	}
}

func TestProcessColorPhotoUsesSegmenter(t *testing.T) {
	seg := &fakeSegmenter{name: ModelHumanSeg}
	p := NewProcessor(seg, DefaultConfig(), nil)
	assert.Equal(t, ModelHumanSeg, p.SegmenterName())

	out, err := p.Process(encodePhoto(t, 240, 320), CanonicalSize)
	require.NoError(t, err)
	assert.Equal(t, 1, seg.calls, "segmenter should run once")

	m := decodeMask(t, out)
	defer m.Close()
	assert.Equal(t, 512, m.Rows())
	assert.Equal(t, 384, m.Cols())

	values := distinctValues(m)
	for v := range values {
		assert.Contains(t, []uint8{0, 255}, v)
	}
	assert.Positive(t, values[255], "cutout region should be foreground")

	require.NoError(t, p.Close())
	assert.True(t, seg.closed)
}

func TestProcessMaskSkipsSegmenter(t *testing.T) {
	seg := &fakeSegmenter{name: ModelGeneral}
	p := NewProcessor(seg, DefaultConfig(), nil)

	_, err := p.Process(rectangleMask(t, 120, 160), CanonicalSize)
	require.NoError(t, err)
	assert.Zero(t, seg.calls, "masks should not be segmented")
}

func TestProcessLimitsSegmentationSize(t *testing.T) {
	seg := &recordingSegmenter{}
	cfg := DefaultConfig()
	cfg.MaxSide = 100
	p := NewProcessor(seg, cfg, nil)

	_, err := p.Process(encodePhoto(t, 400, 200), CanonicalSize)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(100, 50), seg.size, "longest side should be capped")
}

type recordingSegmenter struct {
	fakeSegmenter
	size image.Point
}

func (r *recordingSegmenter) Cutout(img image.Image) (*image.NRGBA, error) {
	r.size = img.Bounds().Size()
	return r.fakeSegmenter.Cutout(img)
}

func TestProcessErrors(t *testing.T) {
	t.Run("no segmenter", func(t *testing.T) {
		p := NewProcessor(nil, DefaultConfig(), nil)
		_, err := p.Process(encodePhoto(t, 80, 80), CanonicalSize)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errs.ErrSegmentationFailed), "got %v", err)
	})

	t.Run("segmenter failure", func(t *testing.T) {
		p := NewProcessor(&fakeSegmenter{err: errors.New("boom")}, DefaultConfig(), nil)
		_, err := p.Process(encodePhoto(t, 80, 80), CanonicalSize)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errs.ErrSegmentationFailed), "got %v", err)
	})

	t.Run("invalid bytes", func(t *testing.T) {
		p := NewProcessor(nil, DefaultConfig(), nil)
		_, err := p.Process([]byte("not an image"), CanonicalSize)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errs.ErrInvalidImage), "got %v", err)
	})

	t.Run("empty bytes", func(t *testing.T) {
		p := NewProcessor(nil, DefaultConfig(), nil)
		_, err := p.Process(nil, CanonicalSize)
		assert.True(t, errors.Is(err, errs.ErrInvalidImage), "got %v", err)
	})

	t.Run("bad size", func(t *testing.T) {
		p := NewProcessor(nil, DefaultConfig(), nil)
		_, err := p.Process(rectangleMask(t, 40, 40), image.Pt(0, 10))
		assert.Error(t, err)
	})
}

func TestPreview(t *testing.T) {
	p := NewProcessor(&fakeSegmenter{name: ModelHumanSeg}, DefaultConfig(), nil)

	t.Run("mask input", func(t *testing.T) {
		preview, err := p.Preview(rectangleMask(t, 200, 300), CanonicalSize)
		require.NoError(t, err)
		assert.Equal(t, KindAlreadyMask, preview.Kind)

		mask := decodeMask(t, preview.Mask)
		defer mask.Close()
		assert.Equal(t, 1, mask.Channels())
		assert.Equal(t, 512, mask.Rows())

		overlay := decodeMask(t, preview.Overlay)
		defer overlay.Close()
		assert.Equal(t, 3, overlay.Channels(), "overlay should be color")
		assert.Equal(t, 512, overlay.Rows())
		assert.Equal(t, 384, overlay.Cols())
	})

	t.Run("photo input", func(t *testing.T) {
		preview, err := p.Preview(encodePhoto(t, 120, 160), CanonicalSize)
		require.NoError(t, err)
		assert.Equal(t, KindColorPhoto, preview.Kind)
		assert.NotEmpty(t, preview.Mask)
		assert.NotEmpty(t, preview.Overlay)
	})
}

func TestMaskMatchesPreviewMask(t *testing.T) {
	p := NewProcessor(nil, DefaultConfig(), nil)
	raw := rectangleMask(t, 90, 120)

	out, err := p.Process(raw, CanonicalSize)
	require.NoError(t, err)
	preview, err := p.Preview(raw, CanonicalSize)
	require.NoError(t, err)
	assert.Equal(t, out, preview.Mask, "Process and Preview should agree on the mask")
}

func TestNewSegmenterWithFallback(t *testing.T) {
	ctx := context.Background()

	t.Run("first loads", func(t *testing.T) {
		var tried []string
		open := func(_ context.Context, name string) (Segmenter, error) {
			tried = append(tried, name)
			return &fakeSegmenter{name: name}, nil
		}
		seg, err := NewSegmenterWithFallback(ctx, nil, open)
		require.NoError(t, err)
		assert.Equal(t, ModelHumanSeg, seg.Name())
		assert.Equal(t, []string{ModelHumanSeg}, tried)
	})

	t.Run("falls back", func(t *testing.T) {
		var tried []string
		open := func(_ context.Context, name string) (Segmenter, error) {
			tried = append(tried, name)
			if name == ModelHumanSeg {
				return nil, errors.New("download failed")
			}
			return &fakeSegmenter{name: name}, nil
		}
		seg, err := NewSegmenterWithFallback(ctx, nil, open)
		require.NoError(t, err)
		assert.Equal(t, ModelGeneral, seg.Name())
		assert.Equal(t, []string{ModelHumanSeg, ModelGeneral}, tried)
	})

	t.Run("all fail", func(t *testing.T) {
		open := func(_ context.Context, name string) (Segmenter, error) {
			return nil, errors.New(name + " missing")
		}
		seg, err := NewSegmenterWithFallback(ctx, nil, open, "a", "b")
		assert.Nil(t, seg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "a missing")
		assert.Contains(t, err.Error(), "b missing")
	})
}

func TestLimitSize(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 50, 20))
	assert.Same(t, img, limitSize(img, 100), "small images are untouched")

	out := limitSize(image.NewRGBA(image.Rect(0, 0, 300, 600)), 150)
	assert.Equal(t, image.Pt(75, 150), out.Bounds().Size())
}

func TestU2NetHelpers(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	in := u2netInput(img)
	assert.Len(t, in, 3*U2NetInputSize*U2NetInputSize)
}
