package segmentation

import (
	"context"
	"fmt"
	"image"

	"github.com/chewxy/math32"
	"github.com/nfnt/resize"
	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-bodymeasure/inference/providers"
)

// U2NetInputSize is the square input resolution of the u2net family.
const U2NetInputSize = 320

var (
	u2netMean = [3]float32{0.485, 0.456, 0.406}
	u2netStd  = [3]float32{0.229, 0.224, 0.225}
)

// ArtifactResolver fetches a model file to a local path.
type ArtifactResolver interface {
	Resolve(ctx context.Context, keyOrFilename string) (string, error)
}

// U2NetSegmenter runs a u2net saliency network on ONNX Runtime.
type U2NetSegmenter struct {
	name        string
	session     *providers.ProfiledSession
	postProcess bool
}

// OpenU2Net loads the network at path.
//
// Arguments:
//   - name: The network name used in logs.
//   - path: The local ONNX path.
//   - cfg: The runtime configuration.
//
// Returns:
//   - *U2NetSegmenter: The segmenter; the caller must Close it.
//   - error: An error if the model cannot be loaded.
func OpenU2Net(name, path string, cfg providers.Config) (*U2NetSegmenter, error) {
	info, err := providers.Inspect(cfg, path)
	if err != nil {
		return nil, err
	}
	if len(info.Inputs) == 0 || len(info.Outputs) == 0 {
		return nil, fmt.Errorf("%s declares no inputs or outputs", path)
	}

	session, err := providers.NewProfiledSession(cfg, providers.SessionArgs{
		ModelPath:    path,
		InputNames:   []string{info.Inputs[0].Name},
		InputShapes:  []ort.Shape{ort.NewShape(1, 3, U2NetInputSize, U2NetInputSize)},
		OutputNames:  []string{info.Outputs[0].Name},
		OutputShapes: []ort.Shape{ort.NewShape(1, 1, U2NetInputSize, U2NetInputSize)},
	})
	if err != nil {
		return nil, err
	}
	return &U2NetSegmenter{name: name, session: session, postProcess: true}, nil
}

// U2NetOpener resolves "<name>.onnx" through resolver and opens it.
func U2NetOpener(resolver ArtifactResolver, cfg providers.Config) Opener {
	return func(ctx context.Context, name string) (Segmenter, error) {
		path, err := resolver.Resolve(ctx, name+".onnx")
		if err != nil {
			return nil, err
		}
		return OpenU2Net(name, path, cfg)
	}
}

// Name implements Segmenter.
func (u *U2NetSegmenter) Name() string {
	return u.name
}

// Cutout implements Segmenter.
func (u *U2NetSegmenter) Cutout(img image.Image) (*image.NRGBA, error) {
	outs, err := u.session.Run(u2netInput(img))
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	alpha := u2netAlpha(outs[0], b.Dx(), b.Dy())
	if u.postProcess {
		if alpha, err = smoothAlpha(alpha); err != nil {
			return nil, err
		}
	}
	return cutout(img, alpha), nil
}

// Close implements Segmenter.
func (u *U2NetSegmenter) Close() error {
	return u.session.Close()
}

// u2netInput resizes img to 320x320 (Lanczos3), scales by the brightest component and
// standardizes each channel, returning CHW data.
func u2netInput(img image.Image) []float32 {
	small := resize.Resize(U2NetInputSize, U2NetInputSize, img, resize.Lanczos3)
	plane := U2NetInputSize * U2NetInputSize
	data := make([]float32, 3*plane)

	var peak float32
	i := 0
	for y := 0; y < U2NetInputSize; y++ {
		for x := 0; x < U2NetInputSize; x++ {
			r, g, b, _ := small.At(small.Bounds().Min.X+x, small.Bounds().Min.Y+y).RGBA()
			data[i] = float32(r >> 8)
			data[plane+i] = float32(g >> 8)
			data[2*plane+i] = float32(b >> 8)
			peak = math32.Max(peak, math32.Max(data[i], math32.Max(data[plane+i], data[2*plane+i])))
			i++
		}
	}
	peak = math32.Max(peak, 1e-6)

	for c := 0; c < 3; c++ {
		ch := data[c*plane : (c+1)*plane]
		for j, v := range ch {
			ch[j] = (v/peak - u2netMean[c]) / u2netStd[c]
		}
	}
	return data
}

// u2netAlpha min-max normalizes the saliency map to 0-255 and resizes it to w x h with
// Lanczos3.
func u2netAlpha(pred []float32, w, h int) *image.Gray {
	lo, hi := math32.Inf(1), math32.Inf(-1)
	for _, v := range pred {
		lo = math32.Min(lo, v)
		hi = math32.Max(hi, v)
	}
	span := hi - lo

	small := image.NewGray(image.Rect(0, 0, U2NetInputSize, U2NetInputSize))
	for i, v := range pred {
		if span > 0 {
			small.Pix[i] = uint8((v - lo) / span * 255)
		}
	}

	out := resize.Resize(uint(w), uint(h), small, resize.Lanczos3)
	if g, ok := out.(*image.Gray); ok {
		return g
	}
	g := image.NewGray(out.Bounds())
	for y := out.Bounds().Min.Y; y < out.Bounds().Max.Y; y++ {
		for x := out.Bounds().Min.X; x < out.Bounds().Max.X; x++ {
			g.Set(x, y, out.At(x, y))
		}
	}
	return g
}

// smoothAlpha opens with a 3x3 ellipse, blurs 5x5 (sigma 2) and thresholds at 127.
func smoothAlpha(alpha *image.Gray) (*image.Gray, error) {
	m, err := gocv.ImageGrayToMatGray(alpha)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(3, 3))
	defer kernel.Close()
	if err := gocv.MorphologyEx(m, &m, gocv.MorphOpen, kernel); err != nil {
		return nil, err
	}
	if err := gocv.GaussianBlur(m, &m, image.Pt(5, 5), 2, 2, gocv.BorderDefault); err != nil {
		return nil, err
	}
	binarize(m, &m)

	out, err := m.ToImage()
	if err != nil {
		return nil, err
	}
	g, ok := out.(*image.Gray)
	if !ok {
		return nil, fmt.Errorf("unexpected mask image type %T", out)
	}
	return g, nil
}

// cutout combines the colors of img with alpha.
func cutout(img image.Image, alpha *image.Gray) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			o := out.PixOffset(x, y)
			out.Pix[o] = uint8(r >> 8)
			out.Pix[o+1] = uint8(g >> 8)
			out.Pix[o+2] = uint8(bl >> 8)
			out.Pix[o+3] = alpha.GrayAt(alpha.Bounds().Min.X+x, alpha.Bounds().Min.Y+y).Y
		}
	}
	return out
}
