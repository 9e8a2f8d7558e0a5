// Package config - Service configuration: YAML file, then environment overrides, then
// validation.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-bodymeasure/images"
	"github.com/nvr-ai/go-bodymeasure/inference/providers"
	"github.com/nvr-ai/go-bodymeasure/models"
	"github.com/nvr-ai/go-bodymeasure/segmentation"
)

// Artifact store backends.
const (
	BackendHub = "hub"
	BackendS3  = "s3"
)

// Config is the complete service configuration.
type Config struct {
	Server       ServerConfig       `json:"server"       yaml:"server"`
	Models       ModelsConfig       `json:"models"       yaml:"models"`
	Artifacts    ArtifactsConfig    `json:"artifacts"    yaml:"artifacts"`
	Provider     providers.Config   `json:"provider"     yaml:"provider"`
	Segmentation SegmentationConfig `json:"segmentation" yaml:"segmentation"`
	Cache        CacheConfig        `json:"cache"        yaml:"cache"`
	Database     DatabaseConfig     `json:"database"     yaml:"database"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host            string        `json:"host"             yaml:"host"`
	Port            int           `json:"port"             yaml:"port"`
	Debug           bool          `json:"debug"            yaml:"debug"`
	LogLevel        string        `json:"log_level"        yaml:"log_level"`
	CORSOrigins     []string      `json:"cors_origins"     yaml:"cors_origins"`
	MaxUploadBytes  int64         `json:"max_upload_bytes" yaml:"max_upload_bytes"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ModelsConfig selects the local model directory and the startup variant.
type ModelsConfig struct {
	Dir     string `json:"dir"     yaml:"dir"`
	Default string `json:"default" yaml:"default"`
}

// ArtifactsConfig selects the remote repository weights are downloaded from.
type ArtifactsConfig struct {
	Backend     string `json:"backend"      yaml:"backend"`
	HubRepo     string `json:"hub_repo"     yaml:"hub_repo"`
	HubRevision string `json:"hub_revision" yaml:"hub_revision"`
	HubEndpoint string `json:"hub_endpoint" yaml:"hub_endpoint"`
	HubToken    string `json:"-"            yaml:"hub_token"`
	S3Bucket    string `json:"s3_bucket"    yaml:"s3_bucket"`
	S3Prefix    string `json:"s3_prefix"    yaml:"s3_prefix"`
	S3Region    string `json:"s3_region"    yaml:"s3_region"`
}

// SegmentationConfig tunes the silhouette preprocessor.
type SegmentationConfig struct {
	segmentation.Config `yaml:",inline"`
	// Models lists the segmentation networks in preference order.
	Models []string `json:"models" yaml:"models"`
}

// CacheConfig enables the Redis prediction cache when Addr is set.
type CacheConfig struct {
	RedisAddr string        `json:"redis_addr" yaml:"redis_addr"`
	TTL       time.Duration `json:"ttl"        yaml:"ttl"`
}

// DatabaseConfig enables analysis history when DSN is set.
type DatabaseConfig struct {
	DSN string `json:"-" yaml:"dsn"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			LogLevel:        "info",
			CORSOrigins:     []string{"*"},
			MaxUploadBytes:  images.MaxUploadSize,
			ShutdownTimeout: 15 * time.Second,
		},
		Models: ModelsConfig{
			Dir:     "models",
			Default: models.DefaultKey,
		},
		Artifacts: ArtifactsConfig{
			Backend:     BackendHub,
			HubRepo:     "manamendra/body-measurement-ai",
			HubRevision: "main",
			HubEndpoint: "https://huggingface.co",
			S3Region:    "us-east-1",
		},
		Provider: providers.DefaultConfig(),
		Segmentation: SegmentationConfig{
			Config: segmentation.DefaultConfig(),
			Models: []string{segmentation.ModelHumanSeg, segmentation.ModelGeneral},
		},
		Cache: CacheConfig{TTL: 10 * time.Minute},
	}
}

// Load reads the YAML file at path (skipped when empty), applies environment overrides and
// validates the result.
//
// Arguments:
//   - path: The YAML file, or "" for defaults plus environment.
//
// Returns:
//   - *Config: The validated configuration.
//   - error: An error if the file cannot be read or parsed, or validation fails.
//
// @example
//
//	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
//	if err != nil {
//	    log.Fatalf("config: %v", err)
//	}
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.Decode(bytes.NewReader(data)); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Decode overlays YAML from r onto c. Unknown keys are rejected.
func (c *Config) Decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from environment variables.
//
// Arguments:
//   - lookup: The environment accessor, normally os.LookupEnv.
//
// Returns:
//   - error: An error naming the variable that failed to parse.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("HOST", &c.Server.Host)
	str("LOG_LEVEL", &c.Server.LogLevel)
	str("MODEL_DIR", &c.Models.Dir)
	str("DEFAULT_MODEL", &c.Models.Default)
	str("ARTIFACT_BACKEND", &c.Artifacts.Backend)
	str("HF_REPO_ID", &c.Artifacts.HubRepo)
	str("HF_REVISION", &c.Artifacts.HubRevision)
	str("HF_ENDPOINT", &c.Artifacts.HubEndpoint)
	str("HF_TOKEN", &c.Artifacts.HubToken)
	str("S3_BUCKET", &c.Artifacts.S3Bucket)
	str("S3_PREFIX", &c.Artifacts.S3Prefix)
	str("AWS_REGION", &c.Artifacts.S3Region)
	str(providers.LibraryPathEnv, &c.Provider.LibraryPath)
	str("REDIS_ADDR", &c.Cache.RedisAddr)
	str("DATABASE_DSN", &c.Database.DSN)

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("DEBUG"); ok && v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DEBUG: %w", err)
		}
		c.Server.Debug = debug
	}
	if v, ok := lookup("EXECUTION_PROVIDER"); ok && v != "" {
		backend, err := providers.ParseBackend(v)
		if err != nil {
			return fmt.Errorf("EXECUTION_PROVIDER: %w", err)
		}
		c.Provider.Backend = backend
	}
	if v, ok := lookup("CORS_ORIGINS"); ok && v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.Server.CORSOrigins = origins
	}
	if v, ok := lookup("CACHE_TTL"); ok && v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CACHE_TTL: %w", err)
		}
		c.Cache.TTL = ttl
	}
	return nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload size must be positive, got %d", c.Server.MaxUploadBytes)
	}
	if c.Models.Dir == "" {
		return errors.New("model directory is required")
	}
	if _, err := models.DefaultCatalog().Lookup(c.Models.Default); err != nil {
		return fmt.Errorf("default model: %w", err)
	}
	switch c.Artifacts.Backend {
	case BackendHub:
		if c.Artifacts.HubRepo == "" {
			return errors.New("hub repository is required")
		}
	case BackendS3:
		if c.Artifacts.S3Bucket == "" {
			return errors.New("s3 bucket is required for the s3 artifact backend")
		}
	default:
		return fmt.Errorf("unknown artifact backend: %q", c.Artifacts.Backend)
	}
	if err := c.Provider.Validate(); err != nil {
		return err
	}

	seg := c.Segmentation
	if seg.MaxSide <= 0 {
		return fmt.Errorf("segmentation max side must be positive, got %d", seg.MaxSide)
	}
	th := seg.Thresholds
	if th.MaxDistinctLevels < 1 || th.TailBins < 1 || th.TailBins > 128 {
		return fmt.Errorf("invalid mask thresholds: %+v", th)
	}
	if th.TailMassRatio <= 0 || th.TailMassRatio > 1 {
		return fmt.Errorf("tail mass ratio must be in (0, 1], got %g", th.TailMassRatio)
	}
	if len(seg.Models) == 0 {
		return errors.New("at least one segmentation model is required")
	}
	if c.Cache.RedisAddr != "" && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive, got %s", c.Cache.TTL)
	}
	return nil
}
