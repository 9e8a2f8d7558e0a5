// Package measurements - The 14 body measurements produced by the pipeline, their plausible
// ranges, and presentation helpers.
package measurements

import (
	"fmt"
	"math"
)

// Names is the fixed output schema. The index of a name is the index of its value in the
// model's output vector.
var Names = []string{
	"ankle",
	"arm-length",
	"bicep",
	"calf",
	"chest",
	"forearm",
	"height",
	"hip",
	"leg-length",
	"shoulder-breadth",
	"shoulder-to-crotch",
	"thigh",
	"waist",
	"wrist",
}

// Count is the length of every measurement and statistics vector.
const Count = 14

// Unit is the physical unit of every denormalized measurement.
const Unit = "cm"

// Vector maps a measurement name to its value in centimeters.
type Vector map[string]float64

// FromValues builds a Vector from denormalized values ordered like Names.
//
// Arguments:
//   - values: The values in Names order.
//
// Returns:
//   - Vector: The named measurements.
//   - error: An error if the length does not match the schema.
func FromValues(values []float64) (Vector, error) {
	if len(values) != Count {
		return nil, fmt.Errorf("expected %d measurement values, got %d", Count, len(values))
	}
	v := make(Vector, Count)
	for i, name := range Names {
		v[name] = values[i]
	}
	return v, nil
}

// Formatted is the presentation form of a single measurement.
type Formatted struct {
	Value   float64 `json:"value"`
	Unit    string  `json:"unit"`
	Display string  `json:"display"`
}

// Format rounds every measurement to two decimals and renders a one-decimal display string.
func Format(v Vector) map[string]Formatted {
	out := make(map[string]Formatted, len(v))
	for name, value := range v {
		out[name] = Formatted{
			Value:   round(value, 2),
			Unit:    Unit,
			Display: fmt.Sprintf("%.1f %s", round(value, 1), Unit),
		}
	}
	return out
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
