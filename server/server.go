// Package server - gin HTTP surface of the measurement service.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-bodymeasure/artifacts"
	"github.com/nvr-ai/go-bodymeasure/cache"
	"github.com/nvr-ai/go-bodymeasure/errs"
	"github.com/nvr-ai/go-bodymeasure/images"
	"github.com/nvr-ai/go-bodymeasure/inference"
	"github.com/nvr-ai/go-bodymeasure/logging"
	"github.com/nvr-ai/go-bodymeasure/models"
	"github.com/nvr-ai/go-bodymeasure/repository"
	"github.com/nvr-ai/go-bodymeasure/segmentation"
)

// API identity reported by the index route.
const (
	APITitle   = "Body Measurement API"
	APIVersion = "1.0.0"
)

// Predictor is the inference surface the handlers use.
type Predictor interface {
	Predict(ctx context.Context, front, side []byte, opts inference.PredictOptions) (*inference.Prediction, error)
	SwitchModel(ctx context.Context, key string) (*inference.SwitchStatus, error)
	ModelInfo() (*inference.ModelInfo, error)
	AvailableModels() models.Catalog
	Preview(raw []byte) (*segmentation.Preview, error)
	ActiveKey() string
}

// ArtifactStatus reports which variants are downloaded.
type ArtifactStatus interface {
	Status() []artifacts.Status
}

// AnalysisStore records served predictions.
type AnalysisStore interface {
	SaveLog(ctx context.Context, log *repository.AnalysisLog) error
}

// Options configure the optional collaborators of a Server.
type Options struct {
	// Artifacts backs GET /models/status when set.
	Artifacts ArtifactStatus
	// Cache short-circuits repeated predictions when set.
	Cache *cache.PredictionCache
	// History persists every successful prediction when set.
	History AnalysisStore
	// MaxUploadBytes bounds each uploaded file. Zero means images.MaxUploadSize.
	MaxUploadBytes int64
	// CORSOrigins lists the allowed browser origins; "*" allows any.
	CORSOrigins []string
	Logger      *zap.Logger
}

// Server holds the handler dependencies.
type Server struct {
	predictor Predictor
	opts      Options
	logger    *zap.Logger
}

// New creates a server around a predictor.
func New(predictor Predictor, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = images.MaxUploadSize
	}
	return &Server{predictor: predictor, opts: opts, logger: opts.Logger.Named("http")}
}

// Router builds a gin engine with middleware and every route registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.MaxMultipartMemory = 2 * s.opts.MaxUploadBytes
	router.Use(gin.Recovery(), requestID(), accessLog(s.logger), cors(s.opts.CORSOrigins))
	s.RegisterRoutes(router)
	router.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, "Endpoint not found")
	})
	return router
}

// RegisterRoutes wires the HTTP handlers to the gin router.
func (s *Server) RegisterRoutes(router gin.IRoutes) {
	router.GET("/", s.index)
	router.GET("/health", s.health)
	router.GET("/model-info", s.modelInfo)
	router.GET("/models", s.models)
	router.GET("/models/status", s.modelsStatus)
	router.POST("/switch-model", s.switchModel)
	router.POST("/predict", s.predict)
	router.POST("/complete-analysis", s.completeAnalysis)
	router.POST("/preview-mask", s.previewMask)
}

func (s *Server) index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"api":     APITitle,
		"version": APIVersion,
		"status":  "running",
		"endpoints": gin.H{
			"predict":           "/predict [POST]",
			"preview_mask":      "/preview-mask [POST]",
			"complete_analysis": "/complete-analysis [POST]",
			"model_info":        "/model-info [GET]",
			"models":            "/models [GET]",
			"models_status":     "/models/status [GET]",
			"switch_model":      "/switch-model [POST]",
			"health_check":      "/health [GET]",
		},
	})
}

func (s *Server) health(c *gin.Context) {
	active := s.predictor.ActiveKey()
	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"model_loaded": active != "",
		"model":        active,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) modelInfo(c *gin.Context) {
	info, err := s.predictor.ModelInfo()
	if err != nil {
		s.fail(c, "model_info", err)
		return
	}
	succeed(c, gin.H{
		"model":            info,
		"current_model":    info.Key,
		"available_models": s.predictor.AvailableModels(),
	}, "Model information retrieved")
}

func (s *Server) models(c *gin.Context) {
	succeed(c, gin.H{
		"current_model":    s.predictor.ActiveKey(),
		"available_models": s.predictor.AvailableModels(),
	}, "Available models retrieved")
}

func (s *Server) modelsStatus(c *gin.Context) {
	if s.opts.Artifacts == nil {
		fail(c, http.StatusNotImplemented, "Artifact status is not available")
		return
	}
	succeed(c, gin.H{
		"current_model": s.predictor.ActiveKey(),
		"models":        s.opts.Artifacts.Status(),
	}, "Model status retrieved")
}

type switchRequest struct {
	ModelName string `json:"model_name"`
}

func (s *Server) switchModel(c *gin.Context) {
	var req switchRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ModelName == "" {
		fail(c, http.StatusBadRequest, "model_name is required")
		return
	}

	status, err := s.predictor.SwitchModel(c.Request.Context(), req.ModelName)
	if err != nil {
		s.fail(c, "switch_model", err)
		return
	}
	s.logger.Info("model switch", zap.String("model", req.ModelName), zap.String("status", status.Status),
		zap.String("request_id", RequestID(c)))
	succeed(c, status, status.Message)
}

// fail maps a pipeline error onto an HTTP status and logs it.
func (s *Server) fail(c *gin.Context, operation string, err error) {
	status := StatusFor(err)
	logger := s.logger.With(zap.String("operation", operation), zap.String("request_id", RequestID(c)))
	if fields := logging.OperationFields(err); fields != nil {
		logger = logger.With(append([]zap.Field{zap.Namespace("cause")}, fields...)...)
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
	} else {
		logger.Info("request rejected", zap.Error(err))
	}
	fail(c, status, err.Error())
}

// StatusFor maps the errs taxonomy onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrInvalidImage), errors.Is(err, errs.ErrUnknownModel):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrArtifactUnavailable), errors.Is(err, errs.ErrModelNotLoaded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func succeed(c *gin.Context, data any, message string) {
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   message,
		"data":      data,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success":     false,
		"error":       message,
		"status_code": status,
	})
}
