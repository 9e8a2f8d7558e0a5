package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-bodymeasure/artifacts"
	"github.com/nvr-ai/go-bodymeasure/config"
	"github.com/nvr-ai/go-bodymeasure/errs"
	"github.com/nvr-ai/go-bodymeasure/images"
	"github.com/nvr-ai/go-bodymeasure/inference"
	"github.com/nvr-ai/go-bodymeasure/measurements"
	"github.com/nvr-ai/go-bodymeasure/models"
	"github.com/nvr-ai/go-bodymeasure/models/stats"
	"github.com/nvr-ai/go-bodymeasure/segmentation"
)

type fakeMeasurer struct {
	opts     []inference.PredictOptions
	previews int
}

func (f *fakeMeasurer) Predict(_ context.Context, front, _ []byte, opts inference.PredictOptions) (*inference.Prediction, error) {
	f.opts = append(f.opts, opts)
	if string(front) == "unreadable" {
		return nil, errs.InvalidImage("cannot decode")
	}
	vec := measurements.Vector{}
	for _, name := range measurements.Names {
		vec[name] = 30
	}
	vec["height"] = 175.456
	return &inference.Prediction{
		Measurements: vec,
		Warnings:     []string{stats.DegradedWarning},
		Model:        models.DefaultKey,
		StatsOrigin:  stats.OriginLocal,
		Degraded:     true,
	}, nil
}

func (f *fakeMeasurer) Preview([]byte) (*segmentation.Preview, error) {
	f.previews++
	return &segmentation.Preview{Kind: segmentation.KindAlreadyMask, Mask: []byte("mask"), Overlay: []byte("overlay")}, nil
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, data := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(data), 0o644))
	}
}

func TestParseFlags(t *testing.T) {
	opts := parseFlags([]string{"-front", "a.png", "-side", "b.png", "-masks", "-model", "resnet50", "-preview", "out"})
	assert.Equal(t, "a.png", opts.Front)
	assert.Equal(t, "b.png", opts.Side)
	assert.True(t, opts.Masks)
	assert.Equal(t, "resnet50", opts.Model)
	assert.Equal(t, "out", opts.PreviewDir)
	assert.False(t, opts.Status)
}

func TestCollectPairs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"alice_front.png", "alice_side.jpg", "bob_front.png", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	tests := []struct {
		name     string
		opts     Options
		subjects []string
		wantErr  bool
	}{
		{name: "single pair", opts: Options{Front: "/tmp/carol_front.png", Side: "/tmp/carol_side.png"}, subjects: []string{"carol_front"}},
		{name: "directory", opts: Options{Dir: dir}, subjects: []string{"alice"}},
		{name: "missing side", opts: Options{Front: "a.png"}, wantErr: true},
		{name: "both modes", opts: Options{Dir: dir, Front: "a.png"}, wantErr: true},
		{name: "empty directory", opts: Options{Dir: t.TempDir()}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pairs, err := collectPairs(tt.opts)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			var subjects []string
			for _, p := range pairs {
				subjects = append(subjects, p.Subject)
			}
			assert.Equal(t, tt.subjects, subjects)
		})
	}
}

func TestWritePNGs(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "previews")
	paths, err := writePNGs(dir, "alice_front", []byte("mask"), []byte("overlay"))
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(dir, "alice_front_mask.png"),
		filepath.Join(dir, "alice_front_overlay.png"),
	}, paths)

	data, err := os.ReadFile(paths[1])
	require.NoError(t, err)
	assert.Equal(t, "overlay", string(data))
}

func TestManageArtifactsStatus(t *testing.T) {
	cfg := config.Default()
	cfg.Models.Dir = t.TempDir()
	catalog := models.DefaultCatalog()
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Models.Dir, catalog[0].Filename), []byte("onnx"), 0o644))

	var out bytes.Buffer
	err := manageArtifacts(context.Background(), &cfg, Options{Status: true}, zap.NewNop(), &out)
	require.NoError(t, err)

	var statuses []artifacts.Status
	require.NoError(t, json.Unmarshal(out.Bytes(), &statuses))
	require.Len(t, statuses, len(catalog))
	assert.True(t, statuses[0].Downloaded)
	for _, s := range statuses[1:] {
		assert.False(t, s.Downloaded, s.Key)
	}
}

func TestManageArtifactsUnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Artifacts.Backend = "ftp"
	err := manageArtifacts(context.Background(), &cfg, Options{Status: true}, zap.NewNop(), &bytes.Buffer{})
	assert.Error(t, err)
}

func TestMeasureAllWritesOneResultPerSubject(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"alice_front.png": "front", "alice_side.png": "side",
		"bob_front.png": "unreadable", "bob_side.png": "side",
	})
	pairs, err := images.LoadDirectoryPairs(dir)
	require.NoError(t, err)

	previewDir := filepath.Join(t.TempDir(), "previews")
	m := &fakeMeasurer{}
	var out bytes.Buffer
	failed, err := measureAll(context.Background(), m, pairs, Options{Masks: true, PreviewDir: previewDir}, zap.NewNop(), &out)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	var alice Result
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &alice))
	assert.Equal(t, "alice", alice.Subject)
	assert.Equal(t, models.DefaultKey, alice.Model)
	assert.Equal(t, "local_file", alice.StatsOrigin)
	assert.True(t, alice.Degraded)
	assert.Equal(t, []string{stats.DegradedWarning}, alice.Warnings)
	assert.Equal(t, 175.46, alice.Measurements["height"].Value)
	assert.Equal(t, "175.5 cm", alice.Measurements["height"].Display)
	assert.Empty(t, alice.Error)
	assert.Len(t, alice.Previews, 4)
	assert.FileExists(t, filepath.Join(previewDir, "alice_side_overlay.png"))

	var bob Result
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &bob))
	assert.Equal(t, "bob", bob.Subject)
	assert.Contains(t, bob.Error, "invalid image")
	assert.Empty(t, bob.Measurements)

	require.Len(t, m.opts, 2)
	assert.True(t, m.opts[0].AlreadyMasks)
	assert.Equal(t, 4, m.previews)
}

func TestMeasureReportsUnreadableFile(t *testing.T) {
	res := measure(context.Background(), &fakeMeasurer{},
		images.ViewPair{Subject: "carol", Front: filepath.Join(t.TempDir(), "missing.png"), Side: "x.png"}, Options{})
	assert.Equal(t, "carol", res.Subject)
	assert.NotEmpty(t, res.Error)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed pipe") }

func TestMeasureAllOutputError(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"dan_front.png": "front", "dan_side.png": "side"})
	pairs, err := images.LoadDirectoryPairs(dir)
	require.NoError(t, err)

	_, err = measureAll(context.Background(), &fakeMeasurer{}, pairs, Options{}, zap.NewNop(), failingWriter{})
	assert.ErrorContains(t, err, "output")
}

func TestRunRejectsBadConfig(t *testing.T) {
	_, err := run([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml"), "-status"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "config")
}
