// Package artifacts - Resolves model weights and calibration files to local paths, pulling
// them from a remote artifact repository on first use.
package artifacts

import (
	"context"
	"io"
)

// StatsFilename is the calibration file published next to the weights.
const StatsFilename = "normalization_stats.json"

// Store is a remote artifact repository.
type Store interface {
	// Fetch streams the named artifact into dst starting at offset zero and returns the
	// number of bytes written.
	Fetch(ctx context.Context, name string, dst io.WriterAt) (int64, error)
	// Location identifies the repository in logs and errors.
	Location() string
}
