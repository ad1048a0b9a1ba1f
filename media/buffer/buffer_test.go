package buffer

import (
	"bytes"
	"testing"

	apperrors "github.com/leeforge/shrink/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocate(t *testing.T) {
	m := NewManager(1024)

	r, err := m.Allocate(100)
	require.NoError(t, err)
	assert.Len(t, r.Bytes(), 100)
	assert.Equal(t, 100, r.Size())
	assert.Equal(t, PhaseAllocated, r.Phase())
	assert.Same(t, r, m.Current())

	r0, err := m.Allocate(0)
	require.NoError(t, err)
	assert.Empty(t, r0.Bytes())
}

func TestAllocateFailures(t *testing.T) {
	m := NewManager(1024)
	prev, err := m.Allocate(10)
	require.NoError(t, err)

	r, err := m.Allocate(2048)
	require.Error(t, err)
	assert.Nil(t, r)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeAllocation))
	assert.Nil(t, m.Current(), "a failed allocation leaves no live region")
	assert.False(t, prev.Valid())

	_, err = m.Allocate(-1)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalid))
}

func TestAllocateWithOutputHeadroom(t *testing.T) {
	m := NewManager(1<<20, WithOutputHeadroom(2))

	r, err := m.Allocate(1000)
	require.NoError(t, err)
	assert.Len(t, r.Bytes(), 1000)
	assert.Equal(t, 1000, cap(r.Bytes()), "the host-facing view stops at size")
	window := r.Window()
	assert.Len(t, window, 1000)
	assert.Equal(t, 2*1000+HeaderSlack, cap(window))
	assert.Same(t, &r.Bytes()[0], &window[0])

	big, err := m.Allocate(900 << 10)
	require.NoError(t, err)
	assert.Equal(t, 1<<20, cap(big.Window()), "headroom stops at the ceiling")

	small := NewManager(100, WithOutputHeadroom(2))
	r, err = small.Allocate(10)
	require.NoError(t, err)
	assert.Equal(t, 100, cap(r.Window()))
}

func TestWindowSurvivesPixelGrowth(t *testing.T) {
	m := NewManager(0)
	r, err := m.Allocate(4)
	require.NoError(t, err)
	copy(r.Bytes(), "jpeg")
	window := r.Window()

	_, err = r.PixelView(64)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(window), "the old window keeps the input after the region moves")
	assert.Nil(t, (&Region{}).Window())
}

func TestAllocateSupersedes(t *testing.T) {
	m := NewManager(0)
	assert.Equal(t, DefaultMaxBytes, m.MaxBytes())

	first, err := m.Allocate(8)
	require.NoError(t, err)
	copy(first.Bytes(), "abcdefgh")

	second, err := m.Allocate(4)
	require.NoError(t, err)

	assert.False(t, first.Valid())
	assert.True(t, second.Valid())
	assert.Nil(t, first.Bytes())

	_, err = first.Input(4)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeStaleRegion, apperrors.FromError(err).Code)

	err = first.Advance(PhaseAllocated, PhaseDecoded)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestAllocateReusesBacking(t *testing.T) {
	m := NewManager(0)
	first, err := m.Allocate(64)
	require.NoError(t, err)
	second, err := m.Allocate(32)
	require.NoError(t, err)

	assert.Equal(t, &first.buf[0], &second.buf[0])
}

func TestInput(t *testing.T) {
	m := NewManager(0)
	r, err := m.Allocate(4)
	require.NoError(t, err)
	copy(r.Bytes(), "wxyz")

	in, err := r.Input(3)
	require.NoError(t, err)
	assert.Equal(t, []byte("wxy"), in)

	_, err = r.Input(5)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalid))
}

func TestPixelViewPreservesInput(t *testing.T) {
	m := NewManager(1 << 20)
	r, err := m.Allocate(5)
	require.NoError(t, err)
	copy(r.Bytes(), "hello")

	pix, err := r.PixelView(1000)
	require.NoError(t, err)
	require.Len(t, pix, 1000)
	for i := range pix {
		pix[i] = 0xAB
	}

	assert.Equal(t, []byte("hello"), r.Bytes())
	assert.Equal(t, pix, r.Pixels())

	r.ShrinkPixels(10)
	assert.Len(t, r.Pixels(), 10)
	r.ShrinkPixels(500)
	assert.Len(t, r.Pixels(), 10, "pixel view never grows back")
}

func TestPixelViewCeiling(t *testing.T) {
	m := NewManager(100)
	r, err := m.Allocate(50)
	require.NoError(t, err)

	_, err = r.PixelView(51)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeAllocation))
}

func TestPixelViewOutsideDecode(t *testing.T) {
	m := NewManager(0)
	r, err := m.Allocate(1)
	require.NoError(t, err)
	require.NoError(t, r.Advance(PhaseAllocated, PhaseDecoded))

	_, err = r.PixelView(1)
	assert.Equal(t, apperrors.CodePhaseViolation, apperrors.FromError(err).Code)
}

func TestAdvance(t *testing.T) {
	m := NewManager(0)
	r, err := m.Allocate(1)
	require.NoError(t, err)

	require.NoError(t, r.Advance(PhaseAllocated, PhaseDecoded))
	require.NoError(t, r.Advance(PhaseDecoded, PhaseResized))

	err = r.Advance(PhaseDecoded, PhaseResized)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInternal))

	require.NoError(t, r.Advance(PhaseResized, PhaseEncoded))
	assert.Error(t, r.Release(), "an encoded region has lost its input")
}

func TestReleaseRestoresAllocated(t *testing.T) {
	m := NewManager(0)
	r, err := m.Allocate(3)
	require.NoError(t, err)
	copy(r.Bytes(), "abc")

	_, err = r.PixelView(12)
	require.NoError(t, err)
	require.NoError(t, r.Advance(PhaseAllocated, PhaseDecoded))

	require.NoError(t, r.Release())
	assert.Equal(t, PhaseAllocated, r.Phase())
	assert.Empty(t, r.Pixels())
	assert.Equal(t, []byte("abc"), r.Bytes())
}

func TestSinkWritesFromOffsetZero(t *testing.T) {
	m := NewManager(0)
	r, err := m.Allocate(16)
	require.NoError(t, err)
	copy(r.Bytes(), "0123456789abcdef")

	pix, err := r.PixelView(8)
	require.NoError(t, err)
	copy(pix, "PIXELS!!")

	w := r.Sink()
	_, err = w.Write([]byte("out"))
	require.NoError(t, err)
	_, err = w.Write([]byte("put"))
	require.NoError(t, err)

	assert.Equal(t, 6, r.Cursor())
	assert.Equal(t, []byte("output"), r.Output())
	assert.Equal(t, []byte("PIXELS!!"), r.Pixels(), "sink must not touch the pixel view")
	assert.False(t, r.Spilled())

	require.NoError(t, r.Settle())
	assert.Equal(t, []byte("output"), r.Output())
}

func TestSinkSpillsInsteadOfOverwritingPixels(t *testing.T) {
	m := NewManager(0)
	r, err := m.Allocate(4)
	require.NoError(t, err)

	pix, err := r.PixelView(8)
	require.NoError(t, err)
	copy(pix, "PIXELS!!")

	w := r.Sink()
	payload := []byte("0123456789")
	_, err = w.Write(payload[:3])
	require.NoError(t, err)
	_, err = w.Write(payload[3:])
	require.NoError(t, err)

	assert.True(t, r.Spilled())
	assert.Equal(t, []byte("PIXELS!!"), r.Pixels(), "pixels intact while the encoder may still read them")
	assert.Equal(t, payload, r.Output())

	require.NoError(t, r.Settle())
	assert.Equal(t, payload, r.Output())
	assert.Equal(t, payload, r.buf[:10], "settled output lives at offset 0 of the region")
}

func TestSinkOverflowFailsSettle(t *testing.T) {
	m := NewManager(1 << 10)
	r, err := m.Allocate(2)
	require.NoError(t, err)
	_, err = r.PixelView(2)
	require.NoError(t, err)

	w := r.Sink()
	_, err = w.Write(bytes.Repeat([]byte{1}, 64))
	require.NoError(t, err)

	err = r.Settle()
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeOutputOverflow, apperrors.FromError(err).Code)
}

func TestSinkCeiling(t *testing.T) {
	m := NewManager(16)
	r, err := m.Allocate(2)
	require.NoError(t, err)
	_, err = r.PixelView(2)
	require.NoError(t, err)

	_, err = r.Sink().Write(make([]byte, 17))
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeAllocation))
}
