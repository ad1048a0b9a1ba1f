package host

import (
	"bytes"
	"image"
	"image/jpeg"
	"runtime"
	"testing"
	"unsafe"

	"github.com/google/uuid"
	"github.com/leeforge/shrink/config"
	apperrors "github.com/leeforge/shrink/errors"
	"github.com/leeforge/shrink/logging"
	"github.com/leeforge/shrink/media/buffer"
	"github.com/leeforge/shrink/media/processor"
	"github.com/leeforge/shrink/metrics"
	fixtures "github.com/leeforge/shrink/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func encodePNG(t *testing.T, w, h int, flat bool) []byte {
	t.Helper()
	if flat {
		return fixtures.PNG(t, fixtures.Flat(w, h))
	}
	return fixtures.PNG(t, fixtures.Gradient(w, h))
}

func newTestHost(t *testing.T, opts ...Option) *Host {
	t.Helper()
	settings := config.DefaultSettings()
	h, err := New(settings, logging.Nop(), opts...)
	require.NoError(t, err)
	return h
}

// run performs the whole handshake the way an embedder does.
func run(t *testing.T, h *Host, data []byte, width int) int {
	t.Helper()
	window, err := h.Allocate(len(data))
	require.NoError(t, err)
	copy(window, data)
	size, err := h.Resize(len(data), width)
	require.NoError(t, err)
	return size
}

func TestHost_Handshake(t *testing.T) {
	h := newTestHost(t)
	data := encodePNG(t, 300, 200, false)

	size := run(t, h, data, 150)
	require.Positive(t, size)

	out := h.Output()
	require.Len(t, out, size)
	w, hgt := fixtures.JPEGSize(t, out)
	assert.Equal(t, 150, w)
	assert.Equal(t, 100, hgt)

	res, ok := h.Result()
	require.True(t, ok)
	assert.Equal(t, processor.StatusResized, res.Status)
	_, err := uuid.Parse(h.RequestID())
	assert.NoError(t, err)
}

func TestHost_PassThroughOutputIsOriginal(t *testing.T) {
	h := newTestHost(t)

	small := encodePNG(t, 40, 40, false)
	assert.Zero(t, run(t, h, small, 100))
	assert.Equal(t, small, h.Output())

	junk := []byte("plain text, not pixels")
	assert.Zero(t, run(t, h, junk, 100))
	assert.Equal(t, junk, h.Output())
}

func TestHost_ResizeWithoutAllocate(t *testing.T) {
	h := newTestHost(t)
	_, err := h.Resize(10, 10)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
	assert.Nil(t, h.Output())
}

func TestHost_FailedAllocateBlocksResize(t *testing.T) {
	settings := config.DefaultSettings()
	settings.Buffer.MaxBytes = 1024
	h, err := New(settings, logging.Nop())
	require.NoError(t, err)

	window, err := h.Allocate(4096)
	require.Error(t, err)
	assert.Nil(t, window)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeAllocation))

	_, err = h.Resize(10, 10)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestHost_PinnedOutputStartsAtWindow(t *testing.T) {
	h := newTestHost(t, WithPinnedOutput())
	data := encodePNG(t, 200, 100, false)

	window, err := h.Allocate(len(data))
	require.NoError(t, err)
	copy(window, data)

	size, err := h.Resize(len(data), 50)
	require.NoError(t, err)
	require.Positive(t, size)
	require.LessOrEqual(t, size, len(window))

	fixtures.JPEGSize(t, window[:size])
	assert.Equal(t, window[:size], h.Output())
}

// noisyJPEG encodes random noise at a low quality, which re-encodes at
// quality 90 into more bytes than it started with.
func noisyJPEG(t *testing.T, w, h, quality int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	x := uint32(2463534242)
	for i := range img.Pix {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		img.Pix[i] = uint8(x)
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}))
	return buf.Bytes()
}

func TestHost_PinnedOutputGrowsIntoHeadroom(t *testing.T) {
	h := newTestHost(t, WithPinnedOutput())
	data := noisyJPEG(t, 800, 600, 60)

	window, err := h.Allocate(len(data))
	require.NoError(t, err)
	copy(window, data)

	size, err := h.Resize(len(data), 780)
	require.NoError(t, err, "a valid image never traps a pinned host")

	res, ok := h.Result()
	require.True(t, ok)
	if size == 0 {
		assert.Equal(t, processor.StatusNoRoom, res.Status)
		assert.Equal(t, data, h.Output())
		return
	}
	out := unsafe.Slice(&window[0], size)
	assert.Equal(t, out, h.Output(), "output starts at the window's first byte")
	w, hgt := fixtures.JPEGSize(t, out)
	assert.Equal(t, 780, w)
	assert.Equal(t, 585, hgt)
}

func TestHost_PinnedOutputWithoutRoomPassesThrough(t *testing.T) {
	pipeline, err := processor.NewPipeline(processor.DefaultConfig(), processor.WithLogger(logging.Nop()))
	require.NoError(t, err)
	logger, logs := fixtures.ObservedLogger(zapcore.WarnLevel)
	collector := metrics.NewCollector()
	h := NewHost(buffer.NewManager(0), pipeline, logger, WithPinnedOutput(), WithMetrics(collector))

	// A flat PNG is smaller than the JPEG it becomes, and a manager without
	// headroom has to move the region to fit the pixels.
	data := encodePNG(t, 400, 200, true)
	window, err := h.Allocate(len(data))
	require.NoError(t, err)
	copy(window, data)

	size, err := h.Resize(len(data), 200)
	require.NoError(t, err)
	assert.Zero(t, size)

	res, ok := h.Result()
	require.True(t, ok)
	assert.Equal(t, processor.StatusNoRoom, res.Status)
	assert.Equal(t, data, h.Output())
	assert.Equal(t, data, window, "the window still holds the input")
	assert.Equal(t, 1, logs.FilterMessage("resized image does not fit the allocation window, keeping the input").Len())
	assert.Equal(t, 1.0, collector.Value(metrics.NoRoomTotal, nil))
}

func TestHost_RejectsHugeImageBeforeDecoding(t *testing.T) {
	settings := config.DefaultSettings()
	settings.Buffer.MaxBytes = 1 << 20
	h, err := New(settings, logging.Nop())
	require.NoError(t, err)

	data := fixtures.PNG(t, image.NewGray(image.Rect(0, 0, 6000, 6000)))
	window, err := h.Allocate(len(data))
	require.NoError(t, err)
	copy(window, data)

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	_, err = h.Resize(len(data), 100)
	runtime.ReadMemStats(&after)

	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeAllocation))
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(settings.Buffer.MaxBytes),
		"pixels must not be decoded past the ceiling")
}

func TestHost_UnpinnedOutputMayGrow(t *testing.T) {
	h := newTestHost(t)
	data := encodePNG(t, 400, 200, true)

	size := run(t, h, data, 200)
	assert.Greater(t, size, len(data))

	w, _ := fixtures.JPEGSize(t, h.Output())
	assert.Equal(t, 200, w)
}

func TestHost_ReusesBuffer(t *testing.T) {
	h := newTestHost(t)
	first := encodePNG(t, 120, 80, false)
	second := encodePNG(t, 90, 60, false)

	require.Positive(t, run(t, h, first, 60))
	require.Positive(t, run(t, h, second, 30))

	w, hgt := fixtures.JPEGSize(t, h.Output())
	assert.Equal(t, 30, w)
	assert.Equal(t, 20, hgt)

	m := h.Metrics()
	require.NotNil(t, m)
	assert.Equal(t, 2.0, m.Value(metrics.RequestsTotal, map[string]string{"status": "resized"}))
}

func TestHost_LogsFatalErrors(t *testing.T) {
	logger, logs := fixtures.ObservedLogger(zapcore.DebugLevel)
	pipeline, err := processor.NewPipeline(processor.DefaultConfig(), processor.WithLogger(logger))
	require.NoError(t, err)
	h := NewHost(buffer.NewManager(0), pipeline, logger)

	window, err := h.Allocate(8)
	require.NoError(t, err)
	copy(window, "12345678")
	_, err = h.Resize(9, 4)
	require.Error(t, err)

	entries := logs.FilterMessage("resize failed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, string(apperrors.ErrorTypeInvalid), fields["type"])
	assert.Equal(t, h.RequestID(), fields["request_id"])
}
