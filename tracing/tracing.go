// Package tracing records timed spans for the stages of a request. Spans
// of one request share its request ID as their trace ID.
package tracing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/leeforge/shrink/logging"
	"go.uber.org/zap"
)

// Span represents a single operation within a trace
type Span struct {
	TraceID    string         `json:"trace_id"`
	SpanID     string         `json:"span_id"`
	ParentID   string         `json:"parent_id,omitempty"`
	Name       string         `json:"name"`
	StartTime  time.Time      `json:"start_time"`
	EndTime    time.Time      `json:"end_time"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Status     SpanStatus     `json:"status"`
}

// Duration is the time between start and end, or zero for a running span.
func (s *Span) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// SpanStatus represents the status of a span
type SpanStatus struct {
	Code    SpanStatusCode `json:"code"`
	Message string         `json:"message,omitempty"`
}

// SpanStatusCode represents the status code of a span
type SpanStatusCode int

const (
	StatusCodeUnset SpanStatusCode = 0
	StatusCodeOK    SpanStatusCode = 1
	StatusCodeError SpanStatusCode = 2
)

func (c SpanStatusCode) String() string {
	switch c {
	case StatusCodeOK:
		return "ok"
	case StatusCodeError:
		return "error"
	default:
		return "unset"
	}
}

// MarshalText implements encoding.TextMarshaler
func (c SpanStatusCode) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (c *SpanStatusCode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "ok":
		*c = StatusCodeOK
	case "error":
		*c = StatusCodeError
	default:
		*c = StatusCodeUnset
	}
	return nil
}

// SpanProcessor receives every span when it ends.
type SpanProcessor interface {
	OnEnd(span *Span)
	Shutdown(ctx context.Context) error
}

// Tracer starts and ends spans. A nil *Tracer is valid and records nothing.
type Tracer struct {
	name      string
	processor SpanProcessor
}

// Config represents the configuration for a tracer
type Config struct {
	ServiceName string
	Processor   SpanProcessor
}

// NewTracer creates a new tracer. Without a processor spans are dropped.
func NewTracer(config Config) *Tracer {
	if config.Processor == nil {
		config.Processor = discard{}
	}
	return &Tracer{name: config.ServiceName, processor: config.Processor}
}

// Name returns the service name.
func (t *Tracer) Name() string {
	if t == nil {
		return ""
	}
	return t.name
}

type spanKey struct{}

// Start starts a span as a child of the span carried by ctx, if any.
func (t *Tracer) Start(ctx context.Context, name string) (context.Context, *Span) {
	if t == nil {
		return ctx, nil
	}

	span := &Span{
		SpanID:     uuid.NewString(),
		Name:       name,
		StartTime:  time.Now(),
		Attributes: make(map[string]any),
	}
	if parent := SpanFromContext(ctx); parent != nil {
		span.TraceID = parent.TraceID
		span.ParentID = parent.SpanID
	} else if id := logging.GetRequestID(ctx); id != "" {
		span.TraceID = id
	} else {
		span.TraceID = uuid.NewString()
	}

	return context.WithValue(ctx, spanKey{}, span), span
}

// End ends a span
func (t *Tracer) End(span *Span, err error) {
	if t == nil || span == nil {
		return
	}

	span.EndTime = time.Now()
	if err != nil {
		span.Status = SpanStatus{Code: StatusCodeError, Message: err.Error()}
	} else if span.Status.Code == StatusCodeUnset {
		span.Status.Code = StatusCodeOK
	}
	t.processor.OnEnd(span)
}

// SetAttributes sets attributes on a span
func (t *Tracer) SetAttributes(span *Span, attrs map[string]any) {
	if t == nil || span == nil {
		return
	}
	for k, v := range attrs {
		span.Attributes[k] = v
	}
}

// Shutdown shuts down the tracer
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	return t.processor.Shutdown(ctx)
}

// SpanFromContext returns the span stored by Start, or nil.
func SpanFromContext(ctx context.Context) *Span {
	span, _ := ctx.Value(spanKey{}).(*Span)
	return span
}

type discard struct{}

func (discard) OnEnd(*Span)                    {}
func (discard) Shutdown(context.Context) error { return nil }

// Recorder keeps the most recent finished spans in memory.
type Recorder struct {
	mu    sync.Mutex
	spans []*Span
	limit int
}

// NewRecorder keeps up to limit spans; limit < 1 keeps 256.
func NewRecorder(limit int) *Recorder {
	if limit < 1 {
		limit = 256
	}
	return &Recorder{limit: limit}
}

func (r *Recorder) OnEnd(span *Span) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.spans = append(r.spans, span)
	if len(r.spans) > r.limit {
		r.spans = r.spans[len(r.spans)-r.limit:]
	}
}

func (r *Recorder) Shutdown(context.Context) error {
	return nil
}

// Spans returns the recorded spans in end order.
func (r *Recorder) Spans() []*Span {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Span, len(r.spans))
	copy(out, r.spans)
	return out
}

// Trace returns the recorded spans of one trace in end order.
func (r *Recorder) Trace(traceID string) []*Span {
	var out []*Span
	for _, span := range r.Spans() {
		if span.TraceID == traceID {
			out = append(out, span)
		}
	}
	return out
}

// Reset drops every recorded span.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.spans = nil
	r.mu.Unlock()
}

// LogProcessor writes each finished span as a debug entry.
type LogProcessor struct {
	logger logging.Logger
}

func NewLogProcessor(logger logging.Logger) *LogProcessor {
	if logger == nil {
		logger = logging.Global()
	}
	return &LogProcessor{logger: logger.Named("trace")}
}

func (p *LogProcessor) OnEnd(span *Span) {
	fields := []zap.Field{
		zap.String("request_id", span.TraceID),
		zap.String("span", span.Name),
		zap.Duration("duration", span.Duration()),
		zap.String("status", span.Status.Code.String()),
	}
	if span.Status.Message != "" {
		fields = append(fields, zap.String("error", span.Status.Message))
	}
	p.logger.Debug("span finished", fields...)
}

// Shutdown flushes the logger. Sync errors from terminal outputs are ignored.
func (p *LogProcessor) Shutdown(context.Context) error {
	_ = p.logger.Sync()
	return nil
}

// MultiProcessor fans a span out to several processors.
type MultiProcessor []SpanProcessor

func (m MultiProcessor) OnEnd(span *Span) {
	for _, p := range m {
		p.OnEnd(span)
	}
}

func (m MultiProcessor) Shutdown(ctx context.Context) error {
	var first error
	for _, p := range m {
		if err := p.Shutdown(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
