// Package repository - Optional Postgres history of analyses served by the API.
package repository

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/nvr-ai/go-bodymeasure/inference"
	"github.com/nvr-ai/go-bodymeasure/logging"
)

// AnalysisLog represents one persisted prediction request.
type AnalysisLog struct {
	ID           uint      `gorm:"primaryKey"`
	RequestID    string    `gorm:"column:request_id;uniqueIndex;size:64"`
	Operation    string    `gorm:"column:operation;size:32"`
	Model        string    `gorm:"column:model;size:32;index"`
	Fingerprint  string    `gorm:"column:fingerprint;size:64;index"`
	Measurements string    `gorm:"column:measurements;type:text"`
	Warnings     string    `gorm:"column:warnings;type:text"`
	StatsOrigin  string    `gorm:"column:stats_origin;size:16"`
	Degraded     bool      `gorm:"column:degraded"`
	DurationMS   float64   `gorm:"column:duration_ms"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (AnalysisLog) TableName() string {
	return "analysis_logs"
}

// NewAnalysisLog builds the row recorded for a successful prediction.
func NewAnalysisLog(requestID, operation, fingerprint string, pred *inference.Prediction) (*AnalysisLog, error) {
	values, err := json.Marshal(pred.Measurements)
	if err != nil {
		return nil, err
	}
	warnings, err := json.Marshal(pred.Warnings)
	if err != nil {
		return nil, err
	}
	return &AnalysisLog{
		RequestID:    requestID,
		Operation:    operation,
		Model:        pred.Model,
		Fingerprint:  fingerprint,
		Measurements: string(values),
		Warnings:     string(warnings),
		StatsOrigin:  string(pred.StatsOrigin),
		Degraded:     pred.Degraded,
		DurationMS:   float64(pred.Duration.Microseconds()) / 1000,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// AnalysisRepository provides persistence APIs for analysis logs.
type AnalysisRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects to Postgres with a small connection pool and pings it.
func Open(ctx context.Context, dsn string, debug bool) (*gorm.DB, error) {
	level := gormlogger.Warn
	if debug {
		level = gormlogger.Info
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(level)})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

// NewAnalysisRepository creates a new repository instance.
func NewAnalysisRepository(db *gorm.DB, logger *zap.Logger) *AnalysisRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalysisRepository{db: db, logger: logger.Named("analysis_repository")}
}

// AutoMigrate ensures the schema is available.
func (r *AnalysisRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&AnalysisLog{})
}

// SaveLog persists an analysis log entry.
func (r *AnalysisRepository) SaveLog(ctx context.Context, log *AnalysisLog) error {
	if err := r.db.WithContext(ctx).Create(log).Error; err != nil {
		wrapped := logging.WrapOperation(err, logging.OperationError{
			Operation: logging.OpSaveLog,
			Model:     log.Model,
			RequestID: log.RequestID,
		})
		r.logger.Error("failed to persist analysis log", zap.Error(wrapped))
		return wrapped
	}
	return nil
}

// FindByRequestID retrieves the analysis recorded for a request.
func (r *AnalysisRepository) FindByRequestID(ctx context.Context, requestID string) (*AnalysisLog, error) {
	var log AnalysisLog
	if err := r.db.WithContext(ctx).First(&log, "request_id = ?", requestID).Error; err != nil {
		return nil, err
	}
	return &log, nil
}

// Recent returns up to limit analyses, newest first.
func (r *AnalysisRepository) Recent(ctx context.Context, limit int) ([]*AnalysisLog, error) {
	var logs []*AnalysisLog
	if err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
