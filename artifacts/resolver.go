package artifacts

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-bodymeasure/errs"
	"github.com/nvr-ai/go-bodymeasure/models"
)

// Resolver maps catalog keys and filenames to local files, downloading on a cache miss.
// A file present in the model directory is a cache hit and never touches the network.
type Resolver struct {
	dir     string
	store   Store
	catalog models.Catalog
	logger  *zap.Logger

	// mu serializes downloads so concurrent resolves of one file fetch it once.
	mu sync.Mutex
}

// Status describes whether a catalog variant is available locally.
type Status struct {
	Key         string `json:"key"`
	Filename    string `json:"filename"`
	Description string `json:"description"`
	SizeMB      int    `json:"size_mb"`
	Downloaded  bool   `json:"downloaded"`
	Path        string `json:"path"`
}

// NewResolver creates a resolver rooted at dir, creating the directory when missing.
//
// Arguments:
//   - dir: The local model directory.
//   - store: The remote repository used on cache misses.
//   - catalog: The variants whose keys may be resolved.
//   - logger: The logger; nil disables logging.
//
// Returns:
//   - *Resolver: The resolver.
//   - error: An error if the directory cannot be created.
func NewResolver(dir string, store Store, catalog models.Catalog, logger *zap.Logger) (*Resolver, error) {
	if store == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create model directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		dir:     dir,
		store:   store,
		catalog: catalog,
		logger:  logger.Named("artifacts"),
	}, nil
}

// Path returns where an artifact lives locally, whether or not it exists yet.
func (r *Resolver) Path(keyOrFilename string) string {
	return filepath.Join(r.dir, r.catalog.Filename(keyOrFilename))
}

// Resolve returns the local path of a variant (by catalog key) or of any artifact (by
// filename), downloading it if it is not cached.
//
// Returns:
//   - string: The local path.
//   - error: errs.ErrArtifactUnavailable naming the file and repository.
func (r *Resolver) Resolve(ctx context.Context, keyOrFilename string) (string, error) {
	filename := r.catalog.Filename(keyOrFilename)
	if err := validName(filename); err != nil {
		return "", errs.ArtifactUnavailable(filename, err)
	}

	path := filepath.Join(r.dir, filename)
	if exists(path) {
		r.logger.Debug("using cached artifact", zap.String("filename", filename))
		return path, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if exists(path) {
		return path, nil
	}

	fields := []zap.Field{zap.String("filename", filename), zap.String("repository", r.store.Location())}
	if v, err := r.catalog.Lookup(keyOrFilename); err == nil {
		fields = append(fields, zap.String("description", v.Description), zap.Int("size_mb", v.SizeMB))
	}
	r.logger.Info("downloading artifact", fields...)

	n, err := r.download(ctx, filename, path)
	if err != nil {
		r.logger.Error("artifact download failed", append(fields, zap.Error(err))...)
		return "", errs.ArtifactUnavailable(filename,
			errors.Wrapf(err, "repository %s", r.store.Location()))
	}

	r.logger.Info("downloaded artifact", append(fields, zap.Int64("bytes", n))...)
	return path, nil
}

// ResolveStats resolves the calibration file.
func (r *Resolver) ResolveStats(ctx context.Context) (string, error) {
	return r.Resolve(ctx, StatsFilename)
}

// download streams into a temporary file in the model directory and renames it into place,
// so a failed or partial download never becomes a cache hit.
func (r *Resolver) download(ctx context.Context, filename, path string) (int64, error) {
	tmp, err := os.CreateTemp(r.dir, "."+filename+".*.part")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()

	n, err := r.store.Fetch(ctx, filename, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmpName, path)
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return n, err
	}
	return n, nil
}

// Status reports, for every catalog variant, whether it is present locally. It never
// downloads.
func (r *Resolver) Status() []Status {
	out := make([]Status, 0, len(r.catalog))
	for _, v := range r.catalog {
		path := filepath.Join(r.dir, v.Filename)
		out = append(out, Status{
			Key:         v.Key,
			Filename:    v.Filename,
			Description: v.Description,
			SizeMB:      v.SizeMB,
			Downloaded:  exists(path),
			Path:        path,
		})
	}
	return out
}

// DownloadAll resolves every catalog variant. Failures are logged and collected; the paths
// of the variants that resolved are returned alongside the joined errors.
func (r *Resolver) DownloadAll(ctx context.Context) ([]string, error) {
	var (
		paths    []string
		failures []error
	)
	for _, v := range r.catalog {
		path, err := r.Resolve(ctx, v.Key)
		if err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", v.Key, err))
			continue
		}
		paths = append(paths, path)
	}
	r.logger.Info("artifact download complete",
		zap.Int("resolved", len(paths)), zap.Int("total", len(r.catalog)))
	return paths, stderrors.Join(failures...)
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return fmt.Errorf("invalid artifact name %q", name)
	}
	return nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
