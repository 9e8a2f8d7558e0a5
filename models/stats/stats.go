// Package stats - Target normalization statistics and the ordered sources they are loaded
// from.
package stats

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/floats"

	"github.com/nvr-ai/go-bodymeasure/measurements"
)

// Stats holds the per-measurement mean and standard deviation the regressor's targets were
// normalized with. Denormalization is value*Std + Mean.
type Stats struct {
	Mean []float64 `json:"target_mean"`
	Std  []float64 `json:"target_std"`
}

// Identity returns zero mean and unit std, which leaves model outputs unchanged.
func Identity() *Stats {
	s := &Stats{
		Mean: make([]float64, measurements.Count),
		Std:  make([]float64, measurements.Count),
	}
	for i := range s.Std {
		s.Std[i] = 1
	}
	return s
}

// IsIdentity reports whether s leaves outputs unchanged.
func (s *Stats) IsIdentity() bool {
	for i := range s.Mean {
		if s.Mean[i] != 0 || s.Std[i] != 1 {
			return false
		}
	}
	return true
}

// Validate checks both vectors have one finite entry per measurement.
func (s *Stats) Validate() error {
	if len(s.Mean) != measurements.Count || len(s.Std) != measurements.Count {
		return fmt.Errorf("expected %d mean and std values, got %d and %d",
			measurements.Count, len(s.Mean), len(s.Std))
	}
	for i := range s.Mean {
		if math.IsNaN(s.Mean[i]) || math.IsInf(s.Mean[i], 0) ||
			math.IsNaN(s.Std[i]) || math.IsInf(s.Std[i], 0) {
			return fmt.Errorf("non-finite statistic at index %d", i)
		}
	}
	return nil
}

// Denormalize maps raw model outputs back to centimeters.
//
// Arguments:
//   - out: The normalized model outputs in measurements.Names order.
//
// Returns:
//   - []float64: out*Std + Mean.
//   - error: An error if out has the wrong length.
func (s *Stats) Denormalize(out []float32) ([]float64, error) {
	if len(out) != len(s.Mean) {
		return nil, fmt.Errorf("expected %d outputs, got %d", len(s.Mean), len(out))
	}
	values := make([]float64, len(out))
	for i, v := range out {
		values[i] = float64(v)
	}
	floats.Mul(values, s.Std)
	floats.Add(values, s.Mean)
	return values, nil
}

// Parse decodes the calibration JSON format: {"target_mean": [...], "target_std": [...]}.
func Parse(data []byte) (*Stats, error) {
	var s Stats
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode normalization stats: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadFile reads and parses a calibration file.
func LoadFile(path string) (*Stats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}
