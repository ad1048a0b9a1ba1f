// Package host implements the two-call handshake a caller drives: allocate
// a region, fill it with encoded bytes, then resize it in place.
package host

import (
	"context"

	"github.com/google/uuid"
	"github.com/leeforge/shrink/config"
	apperrors "github.com/leeforge/shrink/errors"
	"github.com/leeforge/shrink/logging"
	"github.com/leeforge/shrink/media/buffer"
	"github.com/leeforge/shrink/media/processor"
	"github.com/leeforge/shrink/metrics"
	"github.com/leeforge/shrink/tracing"
	"go.uber.org/zap"
)

// Host owns one buffer manager and one pipeline. The current region is the
// only state carried from Allocate to Resize, so a Host serves one request
// at a time.
type Host struct {
	manager  *buffer.Manager
	pipeline *processor.Pipeline
	logger   logging.Logger
	metrics  *metrics.Collector
	tracer   *tracing.Tracer

	pinned bool

	window    []byte
	moved     bool
	requestID string
	fileSize  int
	result    *processor.Result
}

// Option customises a Host.
type Option func(*Host)

// WithMetrics makes New record into collector, which several hosts may share.
func WithMetrics(collector *metrics.Collector) Option {
	return func(h *Host) {
		h.metrics = collector
	}
}

// WithTracer makes New trace every request with tracer.
func WithTracer(tracer *tracing.Tracer) Option {
	return func(h *Host) {
		h.tracer = tracer
	}
}

// WithPinnedOutput requires a resized image to start at the first byte of
// the slice Allocate returned. Callers that hold on to that address, such
// as a WebAssembly embedder, need this.
func WithPinnedOutput() Option {
	return func(h *Host) {
		h.pinned = true
	}
}

// OutputHeadroom is how many times the input size a pinned host reserves
// behind each window for the encoded result.
const OutputHeadroom = 2

// New builds a host from loaded settings.
func New(settings config.Settings, logger logging.Logger, opts ...Option) (*Host, error) {
	if logger == nil {
		logger = logging.Global()
	}
	h := NewHost(nil, nil, logger, opts...)
	var managerOpts []buffer.ManagerOption
	if h.pinned {
		managerOpts = append(managerOpts, buffer.WithOutputHeadroom(OutputHeadroom))
	}
	h.manager = buffer.NewManager(settings.Buffer.MaxBytes, managerOpts...)
	if h.metrics == nil {
		h.metrics = metrics.NewCollector()
	}

	pipeline, err := processor.NewPipeline(processor.Config{
		Quality:       settings.Resize.Quality,
		Filter:        settings.Resize.Filter,
		AutoOrient:    settings.Codec.AutoOrient,
		MaxPixelBytes: h.manager.MaxBytes(),
	}, processor.WithLogger(logger.Named("pipeline")),
		processor.WithMetrics(h.metrics),
		processor.WithTracer(h.tracer),
	)
	if err != nil {
		return nil, err
	}
	h.pipeline = pipeline
	return h, nil
}

// NewHost wires a host from existing parts.
func NewHost(manager *buffer.Manager, pipeline *processor.Pipeline, logger logging.Logger, opts ...Option) *Host {
	if logger == nil {
		logger = logging.Global()
	}
	h := &Host{
		manager:  manager,
		pipeline: pipeline,
		logger:   logger.Named("host"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Metrics returns the collector the pipeline records into, or nil.
func (h *Host) Metrics() *metrics.Collector {
	return h.metrics
}

// RequestID identifies the request started by the last Allocate.
func (h *Host) RequestID() string {
	return h.requestID
}

func (h *Host) context() context.Context {
	return logging.SetRequestID(context.Background(), h.requestID)
}

// Allocate starts a request and returns size writable bytes. Any earlier
// region is invalidated. On failure no region is live and nothing may be
// written.
func (h *Host) Allocate(size int) ([]byte, error) {
	h.requestID = uuid.NewString()
	h.window, h.result, h.fileSize, h.moved = nil, nil, 0, false
	logger := logging.WithContext(h.logger, h.context())

	region, err := h.manager.Allocate(size)
	if err != nil {
		logger.Error("allocation failed", zap.Int("size", size), zap.Error(err))
		return nil, err
	}
	h.window = region.Window()
	logger.Debug("region allocated", zap.Int("size", size), zap.Int("capacity", cap(h.window)))
	return region.Bytes(), nil
}

// Resize processes the current region and returns the result size, zero
// meaning the caller keeps its original bytes.
func (h *Host) Resize(fileSize, targetWidth int) (int, error) {
	res, err := h.Process(fileSize, targetWidth)
	if err != nil {
		return 0, err
	}
	return res.Size, nil
}

// Process is Resize with the full result.
func (h *Host) Process(fileSize, targetWidth int) (processor.Result, error) {
	ctx := h.context()
	logger := logging.WithContext(h.logger, ctx)

	region := h.manager.Current()
	if region == nil {
		err := apperrors.NewValidation("resize called without a successful allocate")
		logger.Error("resize failed", zap.Error(err))
		return processor.Result{}, err
	}

	res, err := h.pipeline.Process(ctx, region, fileSize, targetWidth)
	if err == nil && res.Status == processor.StatusResized && !h.settleWindow(region) {
		logger.Warn("resized image does not fit the allocation window, keeping the input",
			zap.Int("output_bytes", res.Size),
			zap.Int("window_capacity", cap(h.window)),
		)
		if h.metrics != nil {
			h.metrics.IncCounter(metrics.NoRoomTotal, nil)
		}
		res.Status, res.Size, res.Width, res.Height = processor.StatusNoRoom, 0, 0, 0
	}
	if err != nil {
		appErr := apperrors.FromError(err)
		logger.Error("resize failed",
			zap.String("type", string(appErr.Type)),
			zap.String("code", appErr.Code),
			zap.Int("file_size", fileSize),
			zap.Int("target_width", targetWidth),
			zap.Error(err),
		)
		return processor.Result{}, err
	}

	h.fileSize = fileSize
	h.result = &res
	return res, nil
}

// settleWindow places the output at the start of the allocation window
// when pixel storage forced the region onto new memory during decode. It
// reports false when a pinned host cannot do so; the window then still
// holds the input, since the region left it before encoding.
func (h *Host) settleWindow(region *buffer.Region) bool {
	out := region.Output()
	if len(out) == 0 || len(h.window) == 0 || &out[0] == &h.window[0] {
		return true
	}
	if len(out) <= cap(h.window) {
		copy(h.window[:len(out)], out)
		h.moved = true
		return true
	}
	return !h.pinned
}

// Output returns the artifact of the last successful Resize: the re-encoded
// image, or the caller's original bytes when the result was zero.
func (h *Host) Output() []byte {
	if h.result == nil {
		return nil
	}
	if h.result.Status.PassThrough() {
		return h.window[:h.fileSize:h.fileSize]
	}
	if h.moved {
		return h.window[:h.result.Size:h.result.Size]
	}
	if region := h.manager.Current(); region != nil {
		return region.Output()
	}
	return nil
}

// Result returns the last successful result, if any.
func (h *Host) Result() (processor.Result, bool) {
	if h.result == nil {
		return processor.Result{}, false
	}
	return *h.result, true
}
