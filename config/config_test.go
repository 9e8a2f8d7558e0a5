package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-bodymeasure/errs"
	"github.com/nvr-ai/go-bodymeasure/inference/providers"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "0.0.0.0:8000", cfg.Server.Addr())
	assert.Equal(t, "model_v1", cfg.Models.Default)
	assert.EqualValues(t, 10<<20, cfg.Server.MaxUploadBytes)
	assert.Equal(t, 5, cfg.Segmentation.Thresholds.MaxDistinctLevels)
	assert.Equal(t, []string{"u2net_human_seg", "u2net"}, cfg.Segmentation.Models)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
}

func TestDecodeYAML(t *testing.T) {
	cfg := Default()
	doc := `
server:
  port: 9000
  shutdown_timeout: 30s
models:
  default: model_v3
artifacts:
  backend: s3
  s3_bucket: weights
  s3_prefix: body/
provider:
  backend: cuda
  cuda:
    device_id: 1
segmentation:
  max_side: 800
  thresholds:
    max_distinct_levels: 3
    tail_bins: 20
    tail_mass_ratio: 0.9
cache:
  redis_addr: localhost:6379
  ttl: 1m
`
	require.NoError(t, cfg.Decode(strings.NewReader(doc)))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "model_v3", cfg.Models.Default)
	assert.Equal(t, BackendS3, cfg.Artifacts.Backend)
	assert.Equal(t, "weights", cfg.Artifacts.S3Bucket)
	assert.Equal(t, providers.CUDABackend, cfg.Provider.Backend)
	assert.Equal(t, 1, cfg.Provider.CUDA.DeviceID)
	assert.Equal(t, 800, cfg.Segmentation.MaxSide)
	assert.Equal(t, 3, cfg.Segmentation.Thresholds.MaxDistinctLevels)
	assert.InDelta(t, 0.9, cfg.Segmentation.Thresholds.TailMassRatio, 1e-9)
	assert.Equal(t, time.Minute, cfg.Cache.TTL)

	assert.Equal(t, "models", cfg.Models.Dir, "unset keys keep defaults")
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	cfg := Default()
	err := cfg.Decode(strings.NewReader("server:\n  prot: 1\n"))
	assert.Error(t, err)
}

func TestDecodeEmpty(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Decode(strings.NewReader("")))
	assert.Equal(t, Default().Server.Port, cfg.Server.Port)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"PORT":               "8080",
		"DEBUG":              "true",
		"MODEL_DIR":          "/var/lib/models",
		"DEFAULT_MODEL":      "model_v2",
		"HF_TOKEN":           "secret",
		"EXECUTION_PROVIDER": "CoreML",
		"CORS_ORIGINS":       "https://a.example, https://b.example,",
		"REDIS_ADDR":         "redis:6379",
		"CACHE_TTL":          "2m",
		"ORT_LIB_PATH":       "/opt/ort/libonnxruntime.so",
	}))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Server.Debug)
	assert.Equal(t, "/var/lib/models", cfg.Models.Dir)
	assert.Equal(t, "model_v2", cfg.Models.Default)
	assert.Equal(t, "secret", cfg.Artifacts.HubToken)
	assert.Equal(t, providers.CoreMLBackend, cfg.Provider.Backend)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "redis:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, 2*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "/opt/ort/libonnxruntime.so", cfg.Provider.LibraryPath)
}

func TestApplyEnvErrors(t *testing.T) {
	for key, value := range map[string]string{
		"PORT":               "eighty",
		"DEBUG":              "maybe",
		"EXECUTION_PROVIDER": "tpu",
		"CACHE_TTL":          "forever",
	} {
		cfg := Default()
		err := cfg.ApplyEnv(env(map[string]string{key: value}))
		require.Error(t, err, key)
		assert.Contains(t, err.Error(), key)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }},
		{"upload size", func(c *Config) { c.Server.MaxUploadBytes = 0 }},
		{"model dir", func(c *Config) { c.Models.Dir = "" }},
		{"unknown backend", func(c *Config) { c.Artifacts.Backend = "ftp" }},
		{"s3 without bucket", func(c *Config) { c.Artifacts.Backend = BackendS3 }},
		{"hub without repo", func(c *Config) { c.Artifacts.HubRepo = "" }},
		{"provider", func(c *Config) { c.Provider.Backend = "tpu" }},
		{"max side", func(c *Config) { c.Segmentation.MaxSide = 0 }},
		{"levels", func(c *Config) { c.Segmentation.Thresholds.MaxDistinctLevels = 0 }},
		{"tail bins", func(c *Config) { c.Segmentation.Thresholds.TailBins = 200 }},
		{"tail ratio", func(c *Config) { c.Segmentation.Thresholds.TailMassRatio = 1.5 }},
		{"segmentation models", func(c *Config) { c.Segmentation.Models = nil }},
		{"cache ttl", func(c *Config) { c.Cache.RedisAddr = "x:1"; c.Cache.TTL = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateUnknownDefaultModel(t *testing.T) {
	cfg := Default()
	cfg.Models.Default = "model_v7"
	err := cfg.Validate()
	assert.ErrorIs(t, err, errs.ErrUnknownModel)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models:\n  default: model_v2\n"), 0o644))

	t.Setenv("PORT", "9100")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "model_v2", cfg.Models.Default)
	assert.Equal(t, 9100, cfg.Server.Port)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
