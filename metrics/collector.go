package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Metric names recorded by the pipeline and its hosts.
const (
	RequestsTotal  = "shrink_requests_total"
	BytesInTotal   = "shrink_bytes_in_total"
	BytesOutTotal  = "shrink_bytes_out_total"
	LastRatio      = "shrink_last_ratio"
	ResizeDuration = "shrink_resize_duration_seconds"
	NoRoomTotal    = "shrink_no_room_total"
)

const historyLimit = 100

// Collector 指标收集器
type Collector struct {
	metrics map[string]*Metric
	mu      sync.RWMutex
}

// Metric 指标
type Metric struct {
	Name      string            `json:"name"`
	Type      string            `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	History   []float64         `json:"history,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// NewCollector 创建指标收集器
func NewCollector() *Collector {
	return &Collector{
		metrics: make(map[string]*Metric),
	}
}

// IncCounter 增加计数器
func (c *Collector) IncCounter(name string, labels map[string]string) {
	c.AddCounter(name, 1, labels)
}

// AddCounter 增加计数器值
func (c *Collector) AddCounter(name string, value float64, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := buildKey(name, labels)
	if metric, exists := c.metrics[key]; exists {
		metric.Value += value
		metric.Timestamp = time.Now().Unix()
		return
	}
	c.metrics[key] = &Metric{
		Name:      name,
		Type:      "counter",
		Value:     value,
		Labels:    copyLabels(labels),
		Timestamp: time.Now().Unix(),
	}
}

// SetGauge 设置仪表值
func (c *Collector) SetGauge(name string, value float64, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics[buildKey(name, labels)] = &Metric{
		Name:      name,
		Type:      "gauge",
		Value:     value,
		Labels:    copyLabels(labels),
		Timestamp: time.Now().Unix(),
	}
}

// ObserveHistogram 观察直方图
func (c *Collector) ObserveHistogram(name string, value float64, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := buildKey(name, labels)
	if metric, exists := c.metrics[key]; exists {
		metric.Value = value
		metric.History = append(metric.History, value)
		if len(metric.History) > historyLimit {
			metric.History = metric.History[1:]
		}
		metric.Timestamp = time.Now().Unix()
		return
	}
	c.metrics[key] = &Metric{
		Name:      name,
		Type:      "histogram",
		Value:     value,
		Labels:    copyLabels(labels),
		History:   []float64{value},
		Timestamp: time.Now().Unix(),
	}
}

// RecordResize records one pipeline run. status is the outcome name;
// bytesOut is zero when the input passed through unchanged.
func (c *Collector) RecordResize(status string, bytesIn, bytesOut int, duration time.Duration) {
	c.IncCounter(RequestsTotal, map[string]string{"status": status})
	c.AddCounter(BytesInTotal, float64(bytesIn), nil)
	c.AddCounter(BytesOutTotal, float64(bytesOut), nil)
	c.ObserveHistogram(ResizeDuration, duration.Seconds(), nil)
	if bytesOut > 0 && bytesIn > 0 {
		c.SetGauge(LastRatio, float64(bytesOut)/float64(bytesIn), nil)
	}
}

// buildKey 构建指标键，标签按名称排序
func buildKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	return name + "{" + formatLabels(labels) + "}"
}

func formatLabels(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%q", k, labels[k]))
	}
	return strings.Join(pairs, ",")
}

func copyLabels(labels map[string]string) map[string]string {
	if len(labels) == 0 {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

// GetMetrics 获取所有指标
func (c *Collector) GetMetrics() map[string]*Metric {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]*Metric, len(c.metrics))
	for k, v := range c.metrics {
		m := *v
		m.History = append([]float64(nil), v.History...)
		result[k] = &m
	}
	return result
}

// GetMetric 获取单个指标
func (c *Collector) GetMetric(name string, labels map[string]string) *Metric {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.metrics[buildKey(name, labels)]
}

// Value returns the current value of a metric, or zero when unrecorded.
func (c *Collector) Value(name string, labels map[string]string) float64 {
	if m := c.GetMetric(name, labels); m != nil {
		return m.Value
	}
	return 0
}

// Reset 重置指标
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = make(map[string]*Metric)
}

// Snapshot 指标快照
type Snapshot struct {
	Timestamp time.Time          `json:"timestamp"`
	Metrics   map[string]*Metric `json:"metrics"`
}

// TakeSnapshot copies the collector's current state.
func TakeSnapshot(c *Collector) Snapshot {
	return Snapshot{
		Timestamp: time.Now(),
		Metrics:   c.GetMetrics(),
	}
}

// PrometheusFormat renders every metric in the Prometheus text exposition
// format, sorted by key. Histograms are reported as _sum and _count over
// the retained history.
func (c *Collector) PrometheusFormat() string {
	metrics := c.GetMetrics()
	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, key := range keys {
		metric := metrics[key]
		labels := ""
		if len(metric.Labels) > 0 {
			labels = "{" + formatLabels(metric.Labels) + "}"
		}

		switch metric.Type {
		case "counter", "gauge":
			fmt.Fprintf(&sb, "%s%s %g\n", metric.Name, labels, metric.Value)
		case "histogram":
			var sum float64
			for _, v := range metric.History {
				sum += v
			}
			fmt.Fprintf(&sb, "%s_sum%s %g\n", metric.Name, labels, sum)
			fmt.Fprintf(&sb, "%s_count%s %d\n", metric.Name, labels, len(metric.History))
		}
	}
	return sb.String()
}
