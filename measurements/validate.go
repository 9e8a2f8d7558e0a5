package measurements

import "fmt"

// Range is an inclusive physiologically plausible interval in centimeters.
type Range struct {
	Min float64
	Max float64
}

// Contains reports whether value lies within the range.
func (r Range) Contains(value float64) bool {
	return value >= r.Min && value <= r.Max
}

// Ranges are the adult ranges used to flag likely misfits. Values outside a range are
// advisory only.
var Ranges = map[string]Range{
	"ankle":              {15, 35},
	"arm-length":         {40, 70},
	"bicep":              {20, 50},
	"calf":               {25, 55},
	"chest":              {70, 140},
	"forearm":            {15, 40},
	"height":             {140, 210},
	"hip":                {70, 140},
	"leg-length":         {60, 110},
	"shoulder-breadth":   {30, 60},
	"shoulder-to-crotch": {40, 90},
	"thigh":              {35, 80},
	"waist":              {50, 140},
	"wrist":              {12, 25},
}

// Validate returns one human-readable warning per out-of-range measurement, in Names order.
// An empty (nil) slice means every value is plausible. Names without a range are ignored.
func Validate(v Vector) []string {
	var warnings []string
	for _, name := range Names {
		value, ok := v[name]
		if !ok {
			continue
		}
		r := Ranges[name]
		if !r.Contains(value) {
			warnings = append(warnings, fmt.Sprintf(
				"%s: %.1fcm seems unusual (normal range: %g-%gcm)", name, value, r.Min, r.Max))
		}
	}
	return warnings
}
