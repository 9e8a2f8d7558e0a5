// Package errs - Failure taxonomy shared by the measurement pipeline.
//
// Every failure surfaced by the pipeline wraps exactly one of the sentinels below, so callers
// can branch with errors.Is while the wrapped message carries the human-readable reason.
package errs

import (
	stderrors "errors"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidImage is returned when image bytes cannot be decoded.
	ErrInvalidImage = stderrors.New("invalid image")
	// ErrSegmentationFailed is returned when the segmentation model fails or is unavailable.
	ErrSegmentationFailed = stderrors.New("segmentation failed")
	// ErrArtifactUnavailable is returned when a required artifact cannot be obtained.
	ErrArtifactUnavailable = stderrors.New("artifact unavailable")
	// ErrUnknownModel is returned when a model key is not in the catalog.
	ErrUnknownModel = stderrors.New("unknown model")
	// ErrStatsUnavailable marks a stats source that produced nothing. It is never returned from
	// a prediction; the service degrades to identity normalization instead.
	ErrStatsUnavailable = stderrors.New("normalization stats unavailable")
	// ErrModelNotLoaded is returned when a prediction is requested before any model is active.
	ErrModelNotLoaded = stderrors.New("model not loaded")
)

// InvalidImage wraps err (or creates a new error) as an ErrInvalidImage with a reason.
func InvalidImage(reason string) error {
	return errors.Wrap(ErrInvalidImage, reason)
}

// SegmentationFailed wraps cause as an ErrSegmentationFailed.
func SegmentationFailed(cause error) error {
	if cause == nil {
		return ErrSegmentationFailed
	}
	return &wrapped{sentinel: ErrSegmentationFailed, cause: cause}
}

// ArtifactUnavailable wraps cause as an ErrArtifactUnavailable for the named artifact.
func ArtifactUnavailable(name string, cause error) error {
	return errors.WithMessagef(&wrapped{sentinel: ErrArtifactUnavailable, cause: cause}, "artifact %q", name)
}

// UnknownModel reports a key that is not in the catalog, listing the available keys.
func UnknownModel(key string, available []string) error {
	return errors.Wrapf(ErrUnknownModel, "model %q not found, available: %v", key, available)
}

// wrapped ties a sentinel to an underlying cause so that both are reachable through errors.Is.
type wrapped struct {
	sentinel error
	cause    error
}

func (w *wrapped) Error() string {
	if w.cause == nil {
		return w.sentinel.Error()
	}
	return w.sentinel.Error() + ": " + w.cause.Error()
}

func (w *wrapped) Is(target error) bool {
	return target == w.sentinel
}

func (w *wrapped) Unwrap() error {
	return w.cause
}
