// Package inference - The measurement service: owns the active model variant, runs the
// two-view prediction pipeline and hot-swaps variants without interrupting requests.
package inference

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-bodymeasure/artifacts"
	"github.com/nvr-ai/go-bodymeasure/errs"
	"github.com/nvr-ai/go-bodymeasure/inference/preprocess"
	"github.com/nvr-ai/go-bodymeasure/inference/providers"
	"github.com/nvr-ai/go-bodymeasure/logging"
	"github.com/nvr-ai/go-bodymeasure/measurements"
	"github.com/nvr-ai/go-bodymeasure/models"
	"github.com/nvr-ai/go-bodymeasure/models/stats"
	"github.com/nvr-ai/go-bodymeasure/segmentation"
)

// Switch outcomes reported by SwitchModel.
const (
	StatusSuccess       = "success"
	StatusAlreadyLoaded = "already_loaded"
)

// ArtifactResolver provides local paths for model weights and the calibration file.
type ArtifactResolver interface {
	Resolve(ctx context.Context, keyOrFilename string) (string, error)
	ResolveStats(ctx context.Context) (string, error)
	// Path is where an artifact lives locally, whether or not it has been downloaded.
	Path(keyOrFilename string) string
}

// MaskProcessor turns raw uploads into canonical silhouettes.
type MaskProcessor interface {
	Process(raw []byte, size image.Point) ([]byte, error)
	Preview(raw []byte, size image.Point) (*segmentation.Preview, error)
	SegmenterName() string
}

// ModelLoader opens the weights of a variant.
type ModelLoader func(variant models.Variant, path string) (models.Model, error)

// PredictOptions alter a single prediction.
type PredictOptions struct {
	// AlreadyMasks skips segmentation; the inputs are used as silhouettes directly.
	AlreadyMasks bool
}

// Prediction is the result of one front/side inference.
type Prediction struct {
	Measurements measurements.Vector `json:"measurements"`
	Warnings     []string            `json:"warnings"`
	Model        string              `json:"model"`
	ModelName    string              `json:"model_name"`
	StatsOrigin  stats.Origin        `json:"stats_origin"`
	Degraded     bool                `json:"degraded"`
	Duration     time.Duration       `json:"-"`
}

// SwitchStatus is the outcome of SwitchModel.
type SwitchStatus struct {
	Status  string     `json:"status"`
	Model   string     `json:"model"`
	Message string     `json:"message"`
	Info    *ModelInfo `json:"model_info,omitempty"`
}

// ModelInfo describes the active variant.
type ModelInfo struct {
	Key             string                     `json:"key"`
	Name            string                     `json:"name"`
	Backbone        models.Backbone            `json:"backbone"`
	Description     string                     `json:"description"`
	Speed           string                     `json:"speed"`
	Accuracy        string                     `json:"accuracy"`
	Device          string                     `json:"device"`
	Provider        providers.Backend          `json:"provider"`
	Parameters      int64                      `json:"parameters"`
	Measurements    []string                   `json:"measurements"`
	InputSize       [2]int                     `json:"input_size"`
	StatsOrigin     stats.Origin               `json:"stats_origin"`
	Degraded        bool                       `json:"degraded"`
	Segmenter       string                     `json:"segmenter,omitempty"`
	Performance     *models.PerformanceMetrics `json:"performance,omitempty"`
	AvailableModels []string                   `json:"available_models"`
}

// state is one fully loaded {variant, model, stats} triple. It is immutable once published.
type state struct {
	variant models.Variant
	model   models.Model
	stats   stats.Result

	// refs counts predictions still using this state.
	refs sync.WaitGroup
}

// Service runs predictions against the active model variant.
//
// Predictions take a snapshot of the active state, so a concurrent SwitchModel never mixes
// the weights of one variant with the stats of another. The previous model is closed only
// after the predictions that hold it have finished.
type Service struct {
	catalog      models.Catalog
	resolver     ArtifactResolver
	processor    MaskProcessor
	preprocessor *preprocess.Preprocessor
	loader       ModelLoader
	provider     providers.Config
	logger       *zap.Logger

	active atomic.Pointer[state]
	// gate orders snapshot acquisition against the drain in SwitchModel.
	gate sync.RWMutex
	// switchMu serializes model switches.
	switchMu sync.Mutex
}

// Predict estimates the measurements of the person shown in the front and side images.
//
// Arguments:
//   - ctx: Checked before work starts; inference itself is not cancellable.
//   - front: The encoded front view (photo or mask).
//   - side: The encoded side view (photo or mask).
//   - opts: Per-call options.
//
// Returns:
//   - *Prediction: The 14 named measurements with plausibility warnings.
//   - error: errs.ErrModelNotLoaded, errs.ErrInvalidImage, errs.ErrSegmentationFailed or an
//     inference error.
//
// @example
//
//	pred, err := svc.Predict(ctx, frontJPEG, sideJPEG, inference.PredictOptions{})
//	if err != nil {
//	    return err
//	}
//	fmt.Println(pred.Measurements["chest"])
func (s *Service) Predict(ctx context.Context, front, side []byte, opts PredictOptions) (*Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st, release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	logger := s.logger.With(zap.String("model", st.variant.Key))

	scope := logging.OperationError{Operation: logging.OpPredict, Model: st.variant.Key}
	inputs := make([]*tensor.Dense, 2)
	for i, raw := range [][]byte{front, side} {
		view := scope
		view.View = viewNames[i]
		mask := raw
		if !opts.AlreadyMasks {
			if mask, err = s.processor.Process(raw, segmentation.CanonicalSize); err != nil {
				return nil, logging.WrapOperation(err, view)
			}
		}
		if inputs[i], err = s.preprocessor.Prepare(mask); err != nil {
			return nil, logging.WrapOperation(err, view)
		}
	}

	out, err := st.model.Forward(inputs[0], inputs[1])
	if err != nil {
		return nil, logging.WrapOperation(fmt.Errorf("forward: %w", err), scope)
	}
	values, err := st.stats.Stats.Denormalize(out)
	if err != nil {
		return nil, logging.WrapOperation(fmt.Errorf("denormalize: %w", err), scope)
	}
	vec, err := measurements.FromValues(values)
	if err != nil {
		return nil, logging.WrapOperation(err, scope)
	}

	warnings := measurements.Validate(vec)
	if len(warnings) > 0 {
		logger.Warn("measurements outside normal range", zap.Strings("warnings", warnings))
	}
	if st.stats.Degraded {
		warnings = append(warnings, st.stats.Warning)
	}
	if warnings == nil {
		warnings = []string{}
	}

	elapsed := time.Since(start)
	logger.Debug("prediction complete",
		zap.Duration("elapsed", elapsed), zap.Bool("already_masks", opts.AlreadyMasks))

	return &Prediction{
		Measurements: vec,
		Warnings:     warnings,
		Model:        st.variant.Key,
		ModelName:    st.variant.Name,
		StatsOrigin:  st.stats.Origin,
		Degraded:     st.stats.Degraded,
		Duration:     elapsed,
	}, nil
}

var viewNames = [2]string{"front", "side"}

// SwitchModel makes the variant registered under key the active one.
//
// The new variant is resolved, loaded and given its stats before it is published; any
// failure leaves the previous variant serving. Switching to the active key is a no-op.
//
// Arguments:
//   - ctx: Bounds artifact downloads.
//   - key: The catalog key to activate.
//
// Returns:
//   - *SwitchStatus: StatusAlreadyLoaded or StatusSuccess with the new model info.
//   - error: errs.ErrUnknownModel, errs.ErrArtifactUnavailable or a load error.
func (s *Service) SwitchModel(ctx context.Context, key string) (*SwitchStatus, error) {
	variant, err := s.catalog.Lookup(key)
	if err != nil {
		return nil, err
	}

	s.switchMu.Lock()
	defer s.switchMu.Unlock()

	if cur := s.active.Load(); cur != nil && cur.variant.Key == key {
		info := s.info(cur)
		return &SwitchStatus{
			Status:  StatusAlreadyLoaded,
			Model:   key,
			Message: fmt.Sprintf("Model %s is already loaded", key),
			Info:    info,
		}, nil
	}

	logger := s.logger.With(zap.String("model", key), zap.String("backbone", string(variant.Backbone)))
	logger.Info("loading model")
	start := time.Now()

	next, err := s.load(ctx, variant)
	if err != nil {
		logger.Error("model load failed, keeping the active model", zap.Error(err))
		return nil, logging.WrapOperation(err, logging.OperationError{Operation: logging.OpSwitchModel, Model: key})
	}

	prev := s.active.Swap(next)
	logger.Info("model activated",
		zap.Duration("elapsed", time.Since(start)),
		zap.String("stats_origin", string(next.stats.Origin)),
		zap.Int64("parameters", next.model.Parameters()))

	if prev != nil {
		s.retire(prev)
	}

	return &SwitchStatus{
		Status:  StatusSuccess,
		Model:   key,
		Message: fmt.Sprintf("Switched to %s", variant.Name),
		Info:    s.info(next),
	}, nil
}

// load resolves and opens a variant together with its stats.
func (s *Service) load(ctx context.Context, variant models.Variant) (*state, error) {
	path, err := s.resolver.Resolve(ctx, variant.Key)
	if err != nil {
		return nil, err
	}
	model, err := s.loader(variant, path)
	if err != nil {
		return nil, err
	}

	sources := make([]stats.Source, 0, 3)
	if reader, ok := model.(stats.MetadataReader); ok {
		sources = append(sources, stats.Embedded{Model: reader})
	}
	sources = append(sources,
		stats.LocalFile{Path: s.resolver.Path(artifacts.StatsFilename)},
		stats.Remote{Resolver: s.resolver},
	)
	result := stats.NewChain(s.logger, sources...).Load(ctx)

	return &state{variant: variant, model: model, stats: result}, nil
}

// retire waits for predictions holding prev to finish, then closes its model.
func (s *Service) retire(prev *state) {
	// Every prediction that loaded prev has registered itself once the gate is free.
	s.gate.Lock()
	s.gate.Unlock() //nolint:staticcheck

	prev.refs.Wait()
	if err := prev.model.Close(); err != nil {
		s.logger.Warn("failed to close previous model", zap.String("model", prev.variant.Key), zap.Error(err))
		return
	}
	s.logger.Debug("previous model closed", zap.String("model", prev.variant.Key))
}

// acquire pins the active state for the duration of a prediction.
func (s *Service) acquire() (*state, func(), error) {
	s.gate.RLock()
	st := s.active.Load()
	if st == nil {
		s.gate.RUnlock()
		return nil, nil, errs.ErrModelNotLoaded
	}
	st.refs.Add(1)
	s.gate.RUnlock()
	return st, st.refs.Done, nil
}

// ModelInfo describes the active variant.
//
// Returns:
//   - *ModelInfo: The active variant's identity, parameter count and schema.
//   - error: errs.ErrModelNotLoaded before the first successful switch.
func (s *Service) ModelInfo() (*ModelInfo, error) {
	st := s.active.Load()
	if st == nil {
		return nil, errs.ErrModelNotLoaded
	}
	return s.info(st), nil
}

func (s *Service) info(st *state) *ModelInfo {
	size := s.preprocessor.Config()
	info := &ModelInfo{
		Key:             st.variant.Key,
		Name:            st.variant.Name,
		Backbone:        st.variant.Backbone,
		Description:     st.variant.Description,
		Speed:           st.variant.Speed,
		Accuracy:        st.variant.Accuracy,
		Device:          s.provider.Backend.Device(),
		Provider:        s.provider.Backend,
		Parameters:      st.model.Parameters(),
		Measurements:    append([]string(nil), measurements.Names...),
		InputSize:       [2]int{size.InputHeight, size.InputWidth},
		StatsOrigin:     st.stats.Origin,
		Degraded:        st.stats.Degraded,
		Segmenter:       s.processor.SegmenterName(),
		AvailableModels: s.catalog.Keys(),
	}
	if m, ok := st.model.(models.Metrics); ok {
		perf := m.Metrics()
		info.Performance = &perf
	}
	return info
}

// ActiveKey returns the active variant key, or "" when nothing is loaded.
func (s *Service) ActiveKey() string {
	if st := s.active.Load(); st != nil {
		return st.variant.Key
	}
	return ""
}

// AvailableModels lists the catalog.
func (s *Service) AvailableModels() models.Catalog {
	return append(models.Catalog(nil), s.catalog...)
}

// Preview runs segmentation alone and returns the canonical mask with its overlay.
func (s *Service) Preview(raw []byte) (*segmentation.Preview, error) {
	return s.processor.Preview(raw, segmentation.CanonicalSize)
}

// Close releases the active model.
func (s *Service) Close() error {
	s.switchMu.Lock()
	defer s.switchMu.Unlock()

	st := s.active.Swap(nil)
	if st == nil {
		return nil
	}
	s.gate.Lock()
	s.gate.Unlock() //nolint:staticcheck
	st.refs.Wait()
	return st.model.Close()
}
