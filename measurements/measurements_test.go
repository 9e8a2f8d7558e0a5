package measurements

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// midpoints returns a vector where every value sits in the middle of its range.
func midpoints() Vector {
	v := make(Vector, Count)
	for name, r := range Ranges {
		v[name] = (r.Min + r.Max) / 2
	}
	return v
}

func TestSchema(t *testing.T) {
	require.Len(t, Names, Count)
	for _, name := range Names {
		_, ok := Ranges[name]
		assert.Truef(t, ok, "every measurement needs a range: %s", name)
	}
}

func TestValidateInRange(t *testing.T) {
	assert.Empty(t, Validate(midpoints()), "in-range vector should produce no warnings")
}

func TestValidateFlagsChest(t *testing.T) {
	v := midpoints()
	v["chest"] = 200

	warnings := Validate(v)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "chest")
	assert.Contains(t, warnings[0], "200.0cm")
	assert.Contains(t, warnings[0], "70-140cm")
}

func TestValidateBoundsAreInclusive(t *testing.T) {
	v := midpoints()
	v["wrist"] = 12
	v["height"] = 210
	assert.Empty(t, Validate(v))

	v["wrist"] = 11.9
	v["height"] = 210.1
	warnings := Validate(v)
	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0], "height", "warnings follow schema order")
	assert.Contains(t, warnings[1], "wrist")
}

func TestFromValues(t *testing.T) {
	values := make([]float64, Count)
	for i := range values {
		values[i] = float64(i)
	}

	v, err := FromValues(values)
	require.NoError(t, err)
	assert.Len(t, v, Count)
	assert.Equal(t, 0.0, v["ankle"])
	assert.Equal(t, 13.0, v["wrist"])

	_, err = FromValues(values[:3])
	assert.Error(t, err)
}

func TestFormat(t *testing.T) {
	out := Format(Vector{"chest": 95.4567})
	require.Contains(t, out, "chest")
	assert.Equal(t, 95.46, out["chest"].Value)
	assert.Equal(t, "cm", out["chest"].Unit)
	assert.Equal(t, "95.5 cm", out["chest"].Display)
}
