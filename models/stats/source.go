package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-bodymeasure/errs"
)

// Origin records where the active stats came from.
type Origin string

const (
	OriginEmbedded Origin = "embedded"
	OriginLocal    Origin = "local_file"
	OriginRemote   Origin = "remote"
	OriginIdentity Origin = "identity"
)

// Metadata keys read from model artifacts.
const (
	MetadataMean = "target_mean"
	MetadataStd  = "target_std"
)

// DegradedWarning is reported when no source produced stats.
const DegradedWarning = "Using default normalization (may affect accuracy)"

// Source is one strategy for obtaining stats.
type Source interface {
	Origin() Origin
	Load(ctx context.Context) (*Stats, error)
}

// MetadataReader exposes custom metadata stored in a model artifact.
type MetadataReader interface {
	LookupMetadata(key string) (string, bool, error)
}

// StatsResolver fetches the calibration file to a local path.
type StatsResolver interface {
	ResolveStats(ctx context.Context) (string, error)
}

// Embedded reads stats stored in the model artifact itself.
type Embedded struct {
	Model MetadataReader
}

// Origin implements Source.
func (Embedded) Origin() Origin { return OriginEmbedded }

// Load implements Source.
func (e Embedded) Load(context.Context) (*Stats, error) {
	if e.Model == nil {
		return nil, errs.ErrStatsUnavailable
	}
	var s Stats
	for key, dst := range map[string]*[]float64{MetadataMean: &s.Mean, MetadataStd: &s.Std} {
		raw, ok, err := e.Model.LookupMetadata(key)
		if err != nil {
			return nil, errors.Wrapf(err, "read metadata %s", key)
		}
		if !ok {
			return nil, errors.Wrapf(errs.ErrStatsUnavailable, "metadata %s missing", key)
		}
		if err := json.Unmarshal([]byte(raw), dst); err != nil {
			return nil, errors.Wrapf(err, "decode metadata %s", key)
		}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LocalFile reads an existing calibration file without downloading.
type LocalFile struct {
	Path string
}

// Origin implements Source.
func (LocalFile) Origin() Origin { return OriginLocal }

// Load implements Source.
func (l LocalFile) Load(context.Context) (*Stats, error) {
	if _, err := os.Stat(l.Path); err != nil {
		return nil, errors.Wrapf(errs.ErrStatsUnavailable, "%s: %v", l.Path, err)
	}
	return LoadFile(l.Path)
}

// Remote downloads the calibration file through the artifact resolver.
type Remote struct {
	Resolver StatsResolver
}

// Origin implements Source.
func (Remote) Origin() Origin { return OriginRemote }

// Load implements Source.
func (r Remote) Load(ctx context.Context) (*Stats, error) {
	if r.Resolver == nil {
		return nil, errs.ErrStatsUnavailable
	}
	path, err := r.Resolver.ResolveStats(ctx)
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// Result is the outcome of a chain load.
type Result struct {
	Stats    *Stats
	Origin   Origin
	Degraded bool
	Warning  string
}

// Chain tries sources in order and falls back to identity stats. It never fails.
type Chain struct {
	sources []Source
	logger  *zap.Logger
}

// NewChain builds a chain over sources in priority order.
func NewChain(logger *zap.Logger, sources ...Source) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{sources: sources, logger: logger.Named("stats")}
}

// Load returns the first stats any source produces, or identity stats marked degraded.
func (c *Chain) Load(ctx context.Context) Result {
	for _, src := range c.sources {
		s, err := src.Load(ctx)
		if err == nil {
			if s.IsIdentity() {
				c.logger.Warn(DegradedWarning, zap.String("origin", string(src.Origin())))
				return Result{Stats: s, Origin: src.Origin(), Degraded: true, Warning: DegradedWarning}
			}
			c.logger.Info("normalization stats loaded", zap.String("origin", string(src.Origin())))
			return Result{Stats: s, Origin: src.Origin()}
		}
		c.logger.Debug("normalization stats source skipped",
			zap.String("origin", string(src.Origin())), zap.Error(err))
	}

	c.logger.Warn(DegradedWarning, zap.String("origin", string(OriginIdentity)))
	return Result{
		Stats:    Identity(),
		Origin:   OriginIdentity,
		Degraded: true,
		Warning:  DegradedWarning,
	}
}

// String implements fmt.Stringer.
func (r Result) String() string {
	return fmt.Sprintf("%s (degraded=%t)", r.Origin, r.Degraded)
}
