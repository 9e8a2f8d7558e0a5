package images

import (
	"bytes"
	"encoding/base64"
	"strings"

	"github.com/chai2010/webp"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-bodymeasure/errs"
)

// DecodeBase64 decodes a base64 image, stripping an optional data-URI prefix such as
// "data:image/png;base64,".
//
// Arguments:
//   - s: The encoded image.
//
// Returns:
//   - []byte: The raw image bytes.
//   - error: errs.ErrInvalidImage if s is empty or not valid base64.
func DecodeBase64(s string) ([]byte, error) {
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errs.InvalidImage("empty base64 image")
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(s)
	}
	if err != nil {
		return nil, errs.InvalidImage("invalid base64: " + err.Error())
	}
	if len(data) == 0 {
		return nil, errs.InvalidImage("empty image")
	}
	return data, nil
}

// DecodeMat decodes raw bytes into a 3-channel BGR Mat. Grayscale and alpha inputs are
// collapsed to BGR. WebP is decoded in Go when the OpenCV build lacks a WebP codec.
//
// Arguments:
//   - raw: The encoded image.
//
// Returns:
//   - gocv.Mat: The decoded image; the caller must Close it.
//   - error: errs.ErrInvalidImage if the bytes cannot be decoded.
func DecodeMat(raw []byte) (gocv.Mat, error) {
	if len(raw) == 0 {
		return gocv.NewMat(), errs.InvalidImage("empty image")
	}

	mat, err := gocv.IMDecode(raw, gocv.IMReadColor)
	if err == nil && !mat.Empty() {
		return mat, nil
	}
	mat.Close()

	if DetectFormat(raw) == FormatWebP {
		img, werr := webp.Decode(bytes.NewReader(raw))
		if werr != nil {
			return gocv.NewMat(), errs.InvalidImage("cannot decode webp: " + werr.Error())
		}
		m, cerr := gocv.ImageToMatRGB(img)
		if cerr != nil {
			return gocv.NewMat(), errs.InvalidImage(cerr.Error())
		}
		return m, nil
	}

	return gocv.NewMat(), errs.InvalidImage("cannot decode image")
}
