// shrink downscales one image file to a target width and re-encodes it as
// JPEG. Files that are not images, or are already narrow enough, are
// copied to the output unchanged.
//
// Usage:
//
//	shrink --width 500 [--config DIR] [--filter box] [--quality 90] [--force] [--report] IN OUT
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/leeforge/shrink/config"
	apperrors "github.com/leeforge/shrink/errors"
	"github.com/leeforge/shrink/json"
	"github.com/leeforge/shrink/logging"
	"github.com/leeforge/shrink/media/host"
	"github.com/leeforge/shrink/media/processor"
	"github.com/leeforge/shrink/media/storage"
	"github.com/leeforge/shrink/metrics"
	"github.com/leeforge/shrink/tracing"
	"github.com/leeforge/shrink/utils"
	"go.uber.org/zap"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps error types to process exit statuses.
func exitCode(err error) int {
	switch apperrors.TypeOf(err) {
	case apperrors.ErrorTypeValidation, apperrors.ErrorTypeInvalid:
		return 2
	case apperrors.ErrorTypeAllocation:
		return 3
	default:
		return 1
	}
}

type options struct {
	width      int
	configDir  string
	filter     string
	quality    int
	maxBytes   int
	autoOrient bool
	logLevel   string
	report     bool
	force      bool
}

// Report is what --report prints.
type Report struct {
	Input     string             `json:"input"`
	Output    string             `json:"output"`
	RequestID string             `json:"request_id"`
	Filter    string             `json:"filter" default:"box"`
	Quality   int                `json:"quality" default:"90"`
	Result    processor.Result   `json:"result"`
	Written   int                `json:"written"`
	Stages    []Stage            `json:"stages,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	Config    []string           `json:"config_files,omitempty"`
}

// Stage is the timing of one traced pipeline stage.
type Stage struct {
	Name       string  `json:"name"`
	DurationMS float64 `json:"duration_ms"`
	Status     string  `json:"status"`
}

func run(args []string, stdout, stderr io.Writer) error {
	var opts options

	flagSet := pflag.NewFlagSet("shrink", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.IntVarP(&opts.width, "width", "w", 0, "target width in pixels (required)")
	flagSet.StringVarP(&opts.configDir, "config", "c", "", "directory holding shrink.yaml (default: $CONFIG_PATH or ./config)")
	flagSet.StringVar(&opts.filter, "filter", "", "resampling filter, overrides resize.filter")
	flagSet.IntVarP(&opts.quality, "quality", "q", 0, "JPEG quality 1-100, overrides resize.quality")
	flagSet.IntVar(&opts.maxBytes, "max-bytes", 0, "image buffer ceiling in bytes, overrides buffer.max-bytes")
	flagSet.BoolVar(&opts.autoOrient, "auto-orient", false, "apply EXIF orientation before resizing")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "log level, overrides logging.level")
	flagSet.BoolVar(&opts.report, "report", false, "print a JSON report to stdout")
	flagSet.BoolVarP(&opts.force, "force", "f", false, "overwrite OUT if it already exists")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			printHelp(stderr, flagSet)
			return nil
		}
		return apperrors.WrapWithType(err, apperrors.ErrorTypeValidation, "invalid flags")
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(stderr, flagSet)
		return nil
	}

	rest := flagSet.Args()
	if len(rest) != 2 {
		return apperrors.NewValidation(fmt.Sprintf("expected IN and OUT paths, got %d arguments", len(rest)))
	}
	if opts.width < 1 {
		return apperrors.NewInvalid("width", opts.width, "--width must be at least 1")
	}

	settings, files, err := loadSettings(opts, flagSet)
	if err != nil {
		return err
	}

	logger := logging.Init(settings.Logging)
	defer logging.Sync()
	defer logging.CloseAllWriters()
	logger.Debug("settings loaded", zap.Strings("files", files))

	inPath, outPath := rest[0], rest[1]

	data, err := os.ReadFile(inPath)
	if err != nil {
		return apperrors.WrapWithType(err, apperrors.ErrorTypeValidation, "read input")
	}

	ctx := context.Background()
	store, err := storage.NewProvider(storage.ProviderConfig{Type: "local", BasePath: filepath.Dir(outPath)})
	if err != nil {
		return err
	}
	target := storage.GetURLInput{Filename: filepath.Base(outPath)}
	if !opts.force {
		exists, err := store.Exists(ctx, target)
		if err != nil {
			return err
		}
		if exists {
			return apperrors.NewValidation(fmt.Sprintf("%s already exists, pass --force to overwrite", outPath))
		}
	}

	recorder := tracing.NewRecorder(0)
	tracer := tracing.NewTracer(tracing.Config{
		ServiceName: "shrink",
		Processor:   tracing.MultiProcessor{recorder, tracing.NewLogProcessor(logger)},
	})
	defer tracer.Shutdown(ctx)

	h, err := host.New(settings, logger, host.WithTracer(tracer))
	if err != nil {
		return err
	}
	res, err := resizeFile(h, data, opts.width)
	if err != nil {
		return err
	}

	out := h.Output()
	if _, err := store.Upload(ctx, storage.UploadInput{Data: out, Filename: target.Filename}); err != nil {
		return err
	}
	logger.Info("image written",
		zap.String("request_id", h.RequestID()),
		zap.String("status", res.Status.String()),
		zap.Int("input_bytes", len(data)),
		zap.Int("output_bytes", len(out)),
	)

	if !opts.report {
		return nil
	}

	report := Report{
		Input:     inPath,
		Output:    outPath,
		RequestID: h.RequestID(),
		Filter:    settings.Resize.Filter,
		Quality:   settings.Resize.Quality,
		Result:    res,
		Written:   len(out),
		Stages:    stages(recorder.Trace(h.RequestID())),
		Metrics:   collectorValues(h.Metrics()),
		Config:    files,
	}
	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(&report)
}

// loadSettings layers flags that were set explicitly over file and env
// configuration, then validates the result.
func loadSettings(opts options, flagSet *pflag.FlagSet) (config.Settings, []string, error) {
	cfgOpts := config.DefaultConfigOptions()
	if opts.configDir != "" {
		cfgOpts.BasePath = opts.configDir
	}

	settings, files, err := config.LoadSettings(cfgOpts)
	if err != nil {
		return config.Settings{}, nil, apperrors.WrapWithType(err, apperrors.ErrorTypeValidation, "load config")
	}

	if flagSet.Changed("filter") {
		settings.Resize.Filter = utils.NormalizeName(opts.filter)
	}
	if flagSet.Changed("quality") {
		settings.Resize.Quality = opts.quality
	}
	if flagSet.Changed("max-bytes") {
		settings.Buffer.MaxBytes = opts.maxBytes
	}
	if flagSet.Changed("auto-orient") {
		settings.Codec.AutoOrient = opts.autoOrient
	}
	if flagSet.Changed("log-level") {
		settings.Logging.Level = opts.logLevel
	}

	if err := settings.Validate(); err != nil {
		return config.Settings{}, nil, apperrors.WrapWithType(err, apperrors.ErrorTypeValidation, "invalid settings")
	}
	return settings, files, nil
}

// resizeFile drives the allocate, fill, resize handshake for one file.
func resizeFile(h *host.Host, data []byte, width int) (processor.Result, error) {
	window, err := h.Allocate(len(data))
	if err != nil {
		return processor.Result{}, err
	}
	copy(window, data)
	return h.Process(len(data), width)
}

func stages(spans []*tracing.Span) []Stage {
	out := make([]Stage, 0, len(spans))
	for _, span := range spans {
		out = append(out, Stage{
			Name:       span.Name,
			DurationMS: float64(span.Duration().Microseconds()) / 1000,
			Status:     span.Status.Code.String(),
		})
	}
	return out
}

func collectorValues(collector *metrics.Collector) map[string]float64 {
	if collector == nil {
		return nil
	}
	values := make(map[string]float64)
	for key, metric := range collector.GetMetrics() {
		values[key] = metric.Value
	}
	return values
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `shrink downscales an image to a target width and re-encodes it as JPEG.

Inputs that are not images, or are no wider than --width, are copied to
OUT unchanged. Settings come from shrink.yaml in the config directory,
then SHRINK_* environment variables, then flags.

Usage:
  shrink --width N [flags] IN OUT

Flags:
%s`, flagSet.FlagUsages())
}
