package processor

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/leeforge/shrink/errors"
	"github.com/leeforge/shrink/logging"
	"github.com/leeforge/shrink/media/buffer"
	"github.com/leeforge/shrink/media/codec"
	"github.com/leeforge/shrink/metrics"
	"github.com/leeforge/shrink/tracing"
	"go.uber.org/zap"
)

// Config selects the codec behaviour of a Pipeline.
type Config struct {
	Quality    int    `json:"quality"`
	Filter     string `json:"filter"`
	AutoOrient bool   `json:"auto_orient"`
	// MaxPixelBytes rejects oversized images before decoding. Zero
	// leaves the limit to the buffer manager.
	MaxPixelBytes int `json:"max_pixel_bytes"`
}

// DefaultConfig returns JPEG quality 90 with the box filter.
func DefaultConfig() Config {
	return Config{
		Quality: codec.DefaultQuality,
		Filter:  codec.DefaultFilter,
	}
}

// Pipeline decodes, shrinks and re-encodes the image held in a buffer
// region, reusing the region's memory for every stage.
type Pipeline struct {
	decoder   codec.Decoder
	resampler codec.Resampler
	encoder   codec.Encoder
	logger    logging.Logger
	metrics   *metrics.Collector
	tracer    *tracing.Tracer
}

// Option customises a Pipeline.
type Option func(*Pipeline)

func WithLogger(logger logging.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithMetrics(collector *metrics.Collector) Option {
	return func(p *Pipeline) {
		p.metrics = collector
	}
}

// WithTracer records a span per request with child spans for decode,
// resample and encode.
func WithTracer(tracer *tracing.Tracer) Option {
	return func(p *Pipeline) {
		p.tracer = tracer
	}
}

func WithDecoder(d codec.Decoder) Option {
	return func(p *Pipeline) {
		if d != nil {
			p.decoder = d
		}
	}
}

func WithResampler(r codec.Resampler) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.resampler = r
		}
	}
}

func WithEncoder(e codec.Encoder) Option {
	return func(p *Pipeline) {
		if e != nil {
			p.encoder = e
		}
	}
}

// NewPipeline builds a pipeline from cfg. An unknown filter is an error.
func NewPipeline(cfg Config, opts ...Option) (*Pipeline, error) {
	resampler, err := codec.NewResampler(cfg.Filter)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		decoder:   codec.StdDecoder{AutoOrient: cfg.AutoOrient, MaxPixelBytes: cfg.MaxPixelBytes},
		resampler: resampler,
		encoder:   codec.NewJPEGEncoder(cfg.Quality),
		logger:    logging.Global().Named("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Resize runs the pipeline and returns the host-visible result size:
// the output length, or zero when the caller should keep its original
// bytes. Any returned error is fatal to the request.
func (p *Pipeline) Resize(ctx context.Context, region *buffer.Region, fileSize, targetWidth int) (int, error) {
	res, err := p.Process(ctx, region, fileSize, targetWidth)
	if err != nil {
		return 0, err
	}
	return res.Size, nil
}

// Process runs one request against region, whose first fileSize bytes
// hold the encoded input.
//
// Input that does not decode, and images no wider than targetWidth, end
// in a pass-through status with the region back in its allocated phase
// and its input untouched. Otherwise the image is shrunk to targetWidth,
// keeping its aspect ratio, and re-encoded over the input starting at
// offset 0.
func (p *Pipeline) Process(ctx context.Context, region *buffer.Region, fileSize, targetWidth int) (res Result, err error) {
	start := time.Now()
	res.InputSize = fileSize
	defer func() {
		p.record(res, err, time.Since(start))
	}()
	ctx, span := p.tracer.Start(ctx, "resize")
	defer func() {
		p.tracer.SetAttributes(span, map[string]any{
			"status":       res.Status.String(),
			"input_bytes":  res.InputSize,
			"output_bytes": res.Size,
			"target_width": targetWidth,
		})
		p.tracer.End(span, err)
	}()
	defer apperrors.ErrorRecover(&err)

	if err := ctx.Err(); err != nil {
		return res, apperrors.WrapWithType(err, apperrors.ErrorTypeValidation, "request cancelled before resize")
	}
	if region == nil {
		return res, apperrors.NewValidation("no region allocated")
	}
	if targetWidth < 1 {
		return res, apperrors.NewInvalid("target_width", targetWidth, "must be at least 1")
	}
	if fileSize < 1 {
		return res, apperrors.NewInvalid("file_size", fileSize, "must be at least 1")
	}
	if region.Phase() != buffer.PhaseAllocated {
		return res, apperrors.NewInternal(fmt.Sprintf("region is %s, expected %s", region.Phase(), buffer.PhaseAllocated)).
			WithCode(apperrors.CodePhaseViolation)
	}
	input, err := region.Input(fileSize)
	if err != nil {
		return res, err
	}

	var px codec.Pixels
	err = p.stage(ctx, "decode", func() (err error) {
		px, err = p.decoder.Decode(input, region.PixelView)
		return err
	})
	if err != nil {
		if apperrors.IsType(err, apperrors.ErrorTypeDecode) {
			res.Status = StatusNotImage
			return res, region.Release()
		}
		return res, err
	}
	res.SourceWidth, res.SourceHeight, res.Channels = px.Width, px.Height, px.Channels
	if err := region.Advance(buffer.PhaseAllocated, buffer.PhaseDecoded); err != nil {
		return res, err
	}

	if px.Width <= targetWidth {
		res.Status = StatusTooSmall
		return res, region.Release()
	}

	targetHeight := px.Height * targetWidth / px.Width
	if targetHeight == 0 {
		_ = region.Release()
		return res, apperrors.NewInvalid("target_height", targetHeight,
			fmt.Sprintf("%dx%d scaled to width %d has no rows", px.Width, px.Height, targetWidth))
	}

	var out codec.Pixels
	err = p.stage(ctx, "resample", func() (err error) {
		out, err = p.resampler.Resample(px, targetWidth, targetHeight)
		return err
	})
	if err != nil {
		return res, err
	}
	if view := region.Pixels(); out.Len() == 0 || out.Len() > len(view) || &out.Pix[0] != &view[0] {
		return res, apperrors.NewInternal("resampled pixels are not at the start of the pixel view").
			WithCode(apperrors.CodePhaseViolation).
			WithDetail("filter", p.resampler.Name())
	}
	region.ShrinkPixels(out.Len())
	if err := region.Advance(buffer.PhaseDecoded, buffer.PhaseResized); err != nil {
		return res, err
	}

	err = p.stage(ctx, "encode", func() error {
		if err := p.encoder.Encode(region.Sink(), out); err != nil {
			return err
		}
		return region.Settle()
	})
	if err != nil {
		return res, err
	}
	if err := region.Advance(buffer.PhaseResized, buffer.PhaseEncoded); err != nil {
		return res, err
	}

	res.Status = StatusResized
	res.Size = region.Cursor()
	res.Width, res.Height = out.Width, out.Height
	res.Spilled = region.Spilled()

	logging.WithContext(p.logger, ctx).Debug("image resized",
		zap.Int("input_bytes", fileSize),
		zap.Int("output_bytes", res.Size),
		zap.Int("source_width", res.SourceWidth),
		zap.Int("source_height", res.SourceHeight),
		zap.Int("width", res.Width),
		zap.Int("height", res.Height),
		zap.String("filter", p.resampler.Name()),
		zap.Bool("spilled", res.Spilled),
	)
	return res, nil
}

func (p *Pipeline) stage(ctx context.Context, name string, fn func() error) error {
	_, span := p.tracer.Start(ctx, name)
	err := fn()
	p.tracer.End(span, err)
	return err
}

func (p *Pipeline) record(res Result, err error, elapsed time.Duration) {
	if p.metrics == nil {
		return
	}
	status := res.Status.String()
	if err != nil {
		status = "error"
	}
	p.metrics.RecordResize(status, res.InputSize, res.Size, elapsed)
}
