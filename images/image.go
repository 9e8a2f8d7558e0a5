// Package images - Upload decoding and image file helpers shared by the HTTP surface and
// the CLI.
package images

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Format represents a supported image format.
type Format string

const (
	// FormatJPEG is the JPEG image format.
	FormatJPEG Format = "jpeg"
	// FormatPNG is the PNG image format.
	FormatPNG Format = "png"
	// FormatWebP is the WebP image format.
	FormatWebP Format = "webp"
	// FormatUnknown is anything else.
	FormatUnknown Format = ""
)

// MaxUploadSize bounds a single uploaded image.
const MaxUploadSize = 10 << 20

// AllowedExtensions are the upload file extensions accepted, without the dot.
var AllowedExtensions = map[string]Format{
	"png":  FormatPNG,
	"jpg":  FormatJPEG,
	"jpeg": FormatJPEG,
	"webp": FormatWebP,
}

// Image is raw image bytes with the format sniffed from their content.
type Image struct {
	Name   string `json:"name"   yaml:"name"`
	Format Format `json:"format" yaml:"format"`
	Data   []byte `json:"-"      yaml:"-"`
}

// DetectFormat sniffs the format from the leading bytes.
func DetectFormat(data []byte) Format {
	mt := mimetype.Detect(data)
	switch {
	case mt.Is("image/png"):
		return FormatPNG
	case mt.Is("image/jpeg"):
		return FormatJPEG
	case mt.Is("image/webp"):
		return FormatWebP
	default:
		return FormatUnknown
	}
}

// AllowedFile reports whether a filename has an accepted image extension.
func AllowedFile(name string) bool {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return false
	}
	_, ok := AllowedExtensions[strings.ToLower(name[i+1:])]
	return ok
}
