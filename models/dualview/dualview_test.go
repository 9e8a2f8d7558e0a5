package dualview

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-bodymeasure/models"
)

func TestCheckShape(t *testing.T) {
	want := []int{3, 512, 384}
	assert.NoError(t, checkShape(tensor.Shape{3, 512, 384}, want))
	assert.NoError(t, checkShape(tensor.Shape{1, 3, 512, 384}, want), "batch of one is accepted")
	assert.Error(t, checkShape(tensor.Shape{2, 3, 512, 384}, want), "larger batches are rejected")
	assert.Error(t, checkShape(tensor.Shape{3, 384, 512}, want), "width and height must not be swapped")
	assert.Error(t, checkShape(tensor.Shape{512, 384}, want))
}

func TestParameterCount(t *testing.T) {
	arch, err := models.ArchitectureFor(models.BackboneEfficientNetB3)
	require.NoError(t, err)

	assert.Equal(t, int64(21_000_000), parameterCount(map[string]string{MetadataParameterCount: "21000000"}, arch))
	assert.Equal(t, arch.TotalParameters(), parameterCount(map[string]string{}, arch))
	assert.Equal(t, arch.TotalParameters(), parameterCount(map[string]string{MetadataParameterCount: "n/a"}, arch))
}

func TestInputData(t *testing.T) {
	m := &Model{inputShape: []int{3, 2, 2}}

	data := make([]float32, 12)
	got, err := m.inputData("front", tensor.New(tensor.WithShape(3, 2, 2), tensor.WithBacking(data)))
	require.NoError(t, err)
	assert.Len(t, got, 12)

	_, err = m.inputData("side", tensor.New(tensor.WithShape(3, 2, 2), tensor.WithBacking(make([]float64, 12))))
	assert.ErrorContains(t, err, "float32")

	_, err = m.inputData("side", nil)
	assert.Error(t, err)
}

func TestLookupMetadata(t *testing.T) {
	m := &Model{metadata: map[string]string{"target_mean": "[1]"}}
	v, ok, err := m.LookupMetadata("target_mean")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "[1]", v)

	_, ok, _ = m.LookupMetadata("target_std")
	assert.False(t, ok)
}
