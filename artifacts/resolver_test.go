package artifacts

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-bodymeasure/errs"
	"github.com/nvr-ai/go-bodymeasure/models"
)

// fakeStore serves artifacts from memory and counts fetches.
type fakeStore struct {
	files   map[string][]byte
	fail    error
	partial bool
	calls   atomic.Int32
}

func (f *fakeStore) Location() string { return "fake/repo" }

func (f *fakeStore) Fetch(_ context.Context, name string, dst io.WriterAt) (int64, error) {
	f.calls.Add(1)
	if f.partial {
		n, _ := dst.WriteAt([]byte("trunc"), 0)
		return int64(n), errors.New("connection reset")
	}
	if f.fail != nil {
		return 0, f.fail
	}
	data, ok := f.files[name]
	if !ok {
		return 0, errors.New("404 Not Found")
	}
	n, err := dst.WriteAt(data, 0)
	return int64(n), err
}

func newResolver(t *testing.T, store Store) (*Resolver, string) {
	t.Helper()
	dir := t.TempDir()
	r, err := NewResolver(dir, store, models.DefaultCatalog(), zap.NewNop())
	require.NoError(t, err)
	return r, dir
}

func TestResolveCacheHitMakesNoStoreCall(t *testing.T) {
	store := &fakeStore{}
	r, dir := newResolver(t, store)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "resnet50_model.onnx"), []byte("weights"), 0o644))

	path, err := r.Resolve(context.Background(), "model_v3")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "resnet50_model.onnx"), path)
	assert.Zero(t, store.calls.Load(), "a cached artifact must not be fetched")
}

func TestResolveDownloadsOnMiss(t *testing.T) {
	store := &fakeStore{files: map[string][]byte{"mobilenetv3_model.onnx": []byte("onnx bytes")}}
	r, _ := newResolver(t, store)

	path, err := r.Resolve(context.Background(), "model_v2")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "onnx bytes", string(data))

	_, err = r.Resolve(context.Background(), "mobilenetv3_model.onnx")
	require.NoError(t, err, "filenames resolve like keys")
	assert.Equal(t, int32(1), store.calls.Load(), "second resolve is a cache hit")
}

func TestResolveFailureLeavesNoFile(t *testing.T) {
	for name, store := range map[string]*fakeStore{
		"missing": {files: map[string][]byte{}},
		"partial": {partial: true},
	} {
		t.Run(name, func(t *testing.T) {
			r, dir := newResolver(t, store)

			_, err := r.Resolve(context.Background(), "model_v1")
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrArtifactUnavailable)
			assert.Contains(t, err.Error(), "efficientnet-b3_model.onnx")
			assert.Contains(t, err.Error(), "fake/repo")

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Empty(t, entries, "no partial or temporary file may remain")
		})
	}
}

func TestResolveRejectsPathTraversal(t *testing.T) {
	store := &fakeStore{}
	r, _ := newResolver(t, store)

	for _, name := range []string{"../etc/passwd", "a/b.onnx", ""} {
		_, err := r.Resolve(context.Background(), name)
		assert.ErrorIsf(t, err, errs.ErrArtifactUnavailable, "name %q", name)
	}
	assert.Zero(t, store.calls.Load())
}

func TestResolveConcurrentDownloadsOnce(t *testing.T) {
	store := &fakeStore{files: map[string][]byte{StatsFilename: []byte(`{}`)}}
	r, _ := newResolver(t, store)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.ResolveStats(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), store.calls.Load())
}

func TestStatusIsStatOnly(t *testing.T) {
	store := &fakeStore{}
	r, dir := newResolver(t, store)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "efficientnet-b3_model.onnx"), []byte("x"), 0o644))

	status := r.Status()
	require.Len(t, status, 3)
	assert.Equal(t, "model_v1", status[0].Key)
	assert.True(t, status[0].Downloaded)
	assert.False(t, status[1].Downloaded)
	assert.Equal(t, 20, status[1].SizeMB)
	assert.Zero(t, store.calls.Load())
}

func TestDownloadAllCollectsFailures(t *testing.T) {
	store := &fakeStore{files: map[string][]byte{
		"efficientnet-b3_model.onnx": []byte("a"),
		"resnet50_model.onnx":        []byte("c"),
	}}
	r, _ := newResolver(t, store)

	paths, err := r.DownloadAll(context.Background())
	assert.Len(t, paths, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrArtifactUnavailable)
	assert.Contains(t, err.Error(), "model_v2")
}
