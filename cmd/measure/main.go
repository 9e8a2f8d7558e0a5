package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/nvr-ai/go-bodymeasure/app"
	"github.com/nvr-ai/go-bodymeasure/artifacts"
	"github.com/nvr-ai/go-bodymeasure/config"
	"github.com/nvr-ai/go-bodymeasure/images"
	"github.com/nvr-ai/go-bodymeasure/inference"
	"github.com/nvr-ai/go-bodymeasure/logging"
	"github.com/nvr-ai/go-bodymeasure/measurements"
	"github.com/nvr-ai/go-bodymeasure/models"
	"github.com/nvr-ai/go-bodymeasure/segmentation"
)

// Options holds the parsed command line.
type Options struct {
	ConfigPath  string
	Front       string
	Side        string
	Dir         string
	Model       string
	Masks       bool
	PreviewDir  string
	Status      bool
	DownloadAll bool
}

// measurer is the part of inference.Service the CLI drives.
type measurer interface {
	Predict(ctx context.Context, front, side []byte, opts inference.PredictOptions) (*inference.Prediction, error)
	Preview(raw []byte) (*segmentation.Preview, error)
}

// Result is one line of output for a subject.
type Result struct {
	Subject      string                            `json:"subject"`
	Measurements map[string]measurements.Formatted `json:"measurements,omitempty"`
	Model        string                            `json:"model,omitempty"`
	Warnings     []string                          `json:"warnings,omitempty"`
	StatsOrigin  string                            `json:"stats_origin,omitempty"`
	Degraded     bool                              `json:"degraded,omitempty"`
	ElapsedMS    int64                             `json:"elapsed_ms,omitempty"`
	Previews     []string                          `json:"previews,omitempty"`
	Error        string                            `json:"error,omitempty"`
}

func main() {
	failed, err := run(os.Args[1:], os.Stdout)
	if err != nil {
		log.Fatalf("measure: %v", err)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// run executes the command line and returns how many subjects failed.
func run(args []string, out io.Writer) (int, error) {
	opts := parseFlags(args)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return 0, fmt.Errorf("config: %w", err)
	}
	if opts.Model != "" {
		cfg.Models.Default = opts.Model
	}

	logger, err := logging.NewLogger(cfg.Server.LogLevel, cfg.Server.Debug)
	if err != nil {
		return 0, fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx := context.Background()

	if opts.Status || opts.DownloadAll {
		if err := manageArtifacts(ctx, cfg, opts, logger, out); err != nil {
			return 0, fmt.Errorf("artifacts: %w", err)
		}
		return 0, nil
	}

	pairs, err := collectPairs(opts)
	if err != nil {
		return 0, fmt.Errorf("input: %w", err)
	}

	bundle, err := app.New(ctx, cfg, logger)
	if err != nil {
		return 0, fmt.Errorf("startup: %w", err)
	}
	defer bundle.Close() //nolint:errcheck

	return measureAll(ctx, bundle.Service, pairs, opts, logger, out)
}

// measureAll writes one JSON Result per pair to out.
func measureAll(ctx context.Context, svc measurer, pairs []images.ViewPair, opts Options, logger *zap.Logger, out io.Writer) (int, error) {
	failed := 0
	enc := json.NewEncoder(out)
	for _, pair := range pairs {
		res := measure(ctx, svc, pair, opts)
		if res.Error != "" {
			failed++
			logger.Error("measurement failed", zap.String("subject", pair.Subject), zap.String("error", res.Error))
		}
		if err := enc.Encode(res); err != nil {
			return failed, fmt.Errorf("output: %w", err)
		}
	}
	return failed, nil
}

// parseFlags parses args into Options, exiting on usage errors.
func parseFlags(args []string) Options {
	var opts Options
	fs := flag.NewFlagSet("measure", flag.ExitOnError)
	fs.StringVar(&opts.ConfigPath, "config", os.Getenv("CONFIG_FILE"), "Path to a YAML configuration file")
	fs.StringVar(&opts.Front, "front", "", "Path to the front view image")
	fs.StringVar(&opts.Side, "side", "", "Path to the side view image")
	fs.StringVar(&opts.Dir, "dir", "", "Directory of <subject>_front.<ext> and <subject>_side.<ext> pairs")
	fs.StringVar(&opts.Model, "model", "", "Model variant key to load instead of the configured default")
	fs.BoolVar(&opts.Masks, "masks", false, "Treat the inputs as ready-made silhouette masks")
	fs.StringVar(&opts.PreviewDir, "preview", "", "Write mask and overlay PNGs for every input into this directory")
	fs.BoolVar(&opts.Status, "status", false, "Print which model artifacts are downloaded and exit")
	fs.BoolVar(&opts.DownloadAll, "download-all", false, "Download every catalog model and exit")
	_ = fs.Parse(args)
	return opts
}

// collectPairs turns -front/-side or -dir into the list of subjects to measure.
func collectPairs(opts Options) ([]images.ViewPair, error) {
	switch {
	case opts.Dir != "" && (opts.Front != "" || opts.Side != ""):
		return nil, errors.New("use either -dir or -front/-side, not both")
	case opts.Dir != "":
		pairs, err := images.LoadDirectoryPairs(opts.Dir)
		if err != nil {
			return nil, err
		}
		if len(pairs) == 0 {
			return nil, fmt.Errorf("no <subject>_front/<subject>_side pairs found in %s", opts.Dir)
		}
		return pairs, nil
	case opts.Front != "" && opts.Side != "":
		return []images.ViewPair{{Subject: subjectName(opts.Front), Front: opts.Front, Side: opts.Side}}, nil
	default:
		return nil, errors.New("both -front and -side are required (or -dir)")
	}
}

func subjectName(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}

// measure runs one subject through the pipeline. Failures are reported in Result.Error.
func measure(ctx context.Context, svc measurer, pair images.ViewPair, opts Options) Result {
	res := Result{Subject: pair.Subject}

	front, err := images.LoadImageFile(pair.Front)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	side, err := images.LoadImageFile(pair.Side)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	if opts.PreviewDir != "" {
		for _, view := range []struct {
			name string
			img  *images.Image
		}{{"front", front}, {"side", side}} {
			paths, err := writePreview(svc, opts.PreviewDir, pair.Subject+"_"+view.name, view.img.Data)
			if err != nil {
				res.Error = err.Error()
				return res
			}
			res.Previews = append(res.Previews, paths...)
		}
	}

	start := time.Now()
	pred, err := svc.Predict(ctx, front.Data, side.Data, inference.PredictOptions{AlreadyMasks: opts.Masks})
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Measurements = measurements.Format(pred.Measurements)
	res.Model = pred.Model
	res.Warnings = pred.Warnings
	res.StatsOrigin = string(pred.StatsOrigin)
	res.Degraded = pred.Degraded
	res.ElapsedMS = time.Since(start).Milliseconds()
	return res
}

// writePreview stores <name>_mask.png and <name>_overlay.png under dir.
func writePreview(svc measurer, dir, name string, raw []byte) ([]string, error) {
	preview, err := svc.Preview(raw)
	if err != nil {
		return nil, fmt.Errorf("%s preview: %w", name, err)
	}
	return writePNGs(dir, name, preview.Mask, preview.Overlay)
}

func writePNGs(dir, name string, mask, overlay []byte) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	paths := []string{
		filepath.Join(dir, name+"_mask.png"),
		filepath.Join(dir, name+"_overlay.png"),
	}
	for i, data := range [][]byte{mask, overlay} {
		if err := os.WriteFile(paths[i], data, 0o644); err != nil {
			return nil, err
		}
	}
	return paths, nil
}

// manageArtifacts implements -status and -download-all without starting ONNX Runtime.
func manageArtifacts(ctx context.Context, cfg *config.Config, opts Options, logger *zap.Logger, out io.Writer) error {
	store, err := app.NewStore(cfg.Artifacts)
	if err != nil {
		return err
	}
	resolver, err := artifacts.NewResolver(cfg.Models.Dir, store, models.DefaultCatalog(), logger)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if opts.DownloadAll {
		paths, err := resolver.DownloadAll(ctx)
		if encErr := enc.Encode(map[string]any{"downloaded": paths}); encErr != nil {
			return encErr
		}
		if err != nil {
			return err
		}
	}
	if opts.Status {
		return enc.Encode(resolver.Status())
	}
	return nil
}
