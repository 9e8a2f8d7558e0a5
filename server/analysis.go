package server

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-bodymeasure/cache"
	"github.com/nvr-ai/go-bodymeasure/images"
	"github.com/nvr-ai/go-bodymeasure/inference"
	"github.com/nvr-ai/go-bodymeasure/logging"
	"github.com/nvr-ai/go-bodymeasure/measurements"
	"github.com/nvr-ai/go-bodymeasure/repository"
)

// Upload field names.
const (
	FieldFront        = "front_image"
	FieldSide         = "side_image"
	FieldImage        = "image"
	FieldAlreadyMasks = "already_masks"
)

// predictRequest is the JSON form of /predict. Images are base64, optionally data URIs.
type predictRequest struct {
	FrontImage string `json:"front_image"`
	SideImage  string `json:"side_image"`
	// AlreadyMasks defaults to true: JSON clients send pre-made silhouettes.
	AlreadyMasks *bool `json:"already_masks"`
}

// httpError is a rejection decided before the pipeline runs.
type httpError struct {
	status  int
	message string
}

func (s *Server) predict(c *gin.Context) {
	var (
		front, side []byte
		opts        inference.PredictOptions
		herr        *httpError
	)
	if c.ContentType() == gin.MIMEJSON {
		front, side, opts, herr = s.readJSONPair(c)
	} else {
		front, side, opts, herr = s.readMultipartPair(c)
	}
	if herr != nil {
		fail(c, herr.status, herr.message)
		return
	}
	s.runPrediction(c, "predict", front, side, opts, "Measurements predicted successfully")
}

func (s *Server) completeAnalysis(c *gin.Context) {
	front, side, opts, herr := s.readMultipartPair(c)
	if herr != nil {
		fail(c, herr.status, herr.message)
		return
	}
	s.runPrediction(c, "complete_analysis", front, side, opts, "Complete analysis generated")
}

func (s *Server) previewMask(c *gin.Context) {
	raw, herr := s.readUpload(c, FieldImage)
	if herr != nil {
		fail(c, herr.status, herr.message)
		return
	}

	preview, err := s.predictor.Preview(raw)
	if err != nil {
		s.fail(c, "preview_mask", err)
		return
	}
	succeed(c, gin.H{
		"preview": dataURI(preview.Overlay),
		"mask":    dataURI(preview.Mask),
		"kind":    preview.Kind.String(),
	}, "Preview generated")
}

func (s *Server) runPrediction(c *gin.Context, operation string, front, side []byte, opts inference.PredictOptions, message string) {
	ctx := c.Request.Context()
	reqID := RequestID(c)
	logger := logging.WithOperation(s.logger, operation, reqID)

	cached := false
	var pred *inference.Prediction
	if s.opts.Cache != nil {
		pred, cached = s.opts.Cache.Get(ctx, cache.Key(s.predictor.ActiveKey(), opts.AlreadyMasks, front, side))
	}
	if !cached {
		var err error
		pred, err = s.predictor.Predict(ctx, front, side, opts)
		if err != nil {
			s.fail(c, operation, err)
			return
		}
		if s.opts.Cache != nil {
			s.opts.Cache.Put(ctx, cache.Key(pred.Model, opts.AlreadyMasks, front, side), pred)
		}
	}

	if s.opts.History != nil {
		entry, err := repository.NewAnalysisLog(reqID, operation, images.Fingerprint(front, side), pred)
		if err == nil {
			err = s.opts.History.SaveLog(ctx, entry)
		}
		if err != nil {
			logger.Warn("analysis history not recorded", zap.Error(err))
		}
	}

	logger.Info("prediction served",
		zap.String("model", pred.Model), zap.Bool("cached", cached), zap.Int("warnings", len(pred.Warnings)))

	var warnings []string
	if len(pred.Warnings) > 0 {
		warnings = pred.Warnings
	}
	succeed(c, gin.H{
		"request_id":   reqID,
		"measurements": measurements.Format(pred.Measurements),
		"model":        pred.ModelName,
		"model_key":    pred.Model,
		"warnings":     warnings,
		"stats_origin": pred.StatsOrigin,
		"degraded":     pred.Degraded,
		"cached":       cached,
	}, message)
}

func (s *Server) readJSONPair(c *gin.Context) ([]byte, []byte, inference.PredictOptions, *httpError) {
	var req predictRequest
	opts := inference.PredictOptions{AlreadyMasks: true}
	if err := c.ShouldBindJSON(&req); err != nil || req.FrontImage == "" || req.SideImage == "" {
		return nil, nil, opts, &httpError{http.StatusBadRequest, "Missing front_image or side_image"}
	}
	if req.AlreadyMasks != nil {
		opts.AlreadyMasks = *req.AlreadyMasks
	}

	decoded := make([][]byte, 2)
	for i, encoded := range []string{req.FrontImage, req.SideImage} {
		data, err := images.DecodeBase64(encoded)
		if err != nil {
			return nil, nil, opts, &httpError{http.StatusBadRequest, fmt.Sprintf("Invalid image format: %v", err)}
		}
		if int64(len(data)) > s.opts.MaxUploadBytes {
			return nil, nil, opts, tooLarge(s.opts.MaxUploadBytes)
		}
		decoded[i] = data
	}
	return decoded[0], decoded[1], opts, nil
}

func (s *Server) readMultipartPair(c *gin.Context) ([]byte, []byte, inference.PredictOptions, *httpError) {
	var opts inference.PredictOptions
	if v := c.PostForm(FieldAlreadyMasks); v != "" {
		already, err := strconv.ParseBool(v)
		if err != nil {
			return nil, nil, opts, &httpError{http.StatusBadRequest, "already_masks must be a boolean"}
		}
		opts.AlreadyMasks = already
	}

	front, herr := s.readUpload(c, FieldFront)
	if herr != nil {
		return nil, nil, opts, herr
	}
	side, herr := s.readUpload(c, FieldSide)
	if herr != nil {
		return nil, nil, opts, herr
	}
	return front, side, opts, nil
}

// readUpload reads one multipart file after checking its name and size.
func (s *Server) readUpload(c *gin.Context, field string) ([]byte, *httpError) {
	file, err := c.FormFile(field)
	if err != nil {
		msg := "Missing front_image or side_image files"
		if field == FieldImage {
			msg = "Missing image file"
		}
		return nil, &httpError{http.StatusBadRequest, msg}
	}
	if !images.AllowedFile(file.Filename) {
		return nil, &httpError{http.StatusBadRequest, "Invalid file type. Allowed: png, jpg, jpeg, webp"}
	}
	if file.Size > s.opts.MaxUploadBytes {
		return nil, tooLarge(s.opts.MaxUploadBytes)
	}

	src, err := file.Open()
	if err != nil {
		return nil, &httpError{http.StatusBadRequest, "unable to open image"}
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, s.opts.MaxUploadBytes+1))
	if err != nil {
		return nil, &httpError{http.StatusInternalServerError, "failed to read image"}
	}
	if int64(len(data)) > s.opts.MaxUploadBytes {
		return nil, tooLarge(s.opts.MaxUploadBytes)
	}
	return data, nil
}

func tooLarge(limit int64) *httpError {
	return &httpError{http.StatusRequestEntityTooLarge, fmt.Sprintf("File too large (max %d MB)", limit>>20)}
}

func dataURI(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}
