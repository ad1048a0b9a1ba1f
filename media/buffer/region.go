package buffer

import (
	"fmt"
	"io"

	apperrors "github.com/leeforge/shrink/errors"
)

// Phase is the lifecycle position of a Region within one request.
type Phase int

const (
	PhaseAllocated Phase = iota
	PhaseDecoded
	PhaseResized
	PhaseEncoded
)

func (p Phase) String() string {
	switch p {
	case PhaseAllocated:
		return "allocated"
	case PhaseDecoded:
		return "decoded"
	case PhaseResized:
		return "resized"
	case PhaseEncoded:
		return "encoded"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Region is the single byte area one request works in. Its layout is
//
//	[0, size)              input view: encoded bytes written by the host
//	[size, size+pixels)    pixel view: decoded, then resized pixels
//	[0, cursor)            output view: re-encoded bytes, written last
//
// The input and pixel views never overlap. The output view overlaps the
// input view only, which is dead once decoding has finished.
type Region struct {
	mgr  *Manager
	gen  uint64
	buf  []byte
	size int

	phase    Phase
	pixelLen int
	cursor   int
	spill    []byte
	spilled  bool
}

// Size returns the byte count the region was allocated for.
func (r *Region) Size() int {
	return r.size
}

// Phase returns the current lifecycle phase.
func (r *Region) Phase() Phase {
	return r.phase
}

// Valid reports whether r is still the manager's live region.
func (r *Region) Valid() bool {
	return r != nil && r.mgr != nil && r.mgr.live(r)
}

func (r *Region) check() error {
	if !r.Valid() {
		return apperrors.New(apperrors.ErrorTypeValidation, "region superseded by a later allocation").
			WithCode(apperrors.CodeStaleRegion)
	}
	return nil
}

// Advance moves the region from one phase to the next, failing when the
// region is not in the expected phase.
func (r *Region) Advance(from, to Phase) error {
	if err := r.check(); err != nil {
		return err
	}
	if r.phase != from {
		return apperrors.NewInternal(fmt.Sprintf("region is %s, expected %s", r.phase, from)).
			WithCode(apperrors.CodePhaseViolation).
			WithDetail("target", to.String())
	}
	r.phase = to
	return nil
}

// Bytes returns the whole input view for the host to fill.
func (r *Region) Bytes() []byte {
	if r.check() != nil {
		return nil
	}
	return r.buf[:r.size:r.size]
}

// Window returns the input view together with the capacity reserved behind
// it. It shares its first byte with Bytes. Output written at its start lands
// at the address the host filled, even after the region moved for pixels.
func (r *Region) Window() []byte {
	if r.check() != nil {
		return nil
	}
	return r.buf[:r.size]
}

// Input returns the first n bytes of the input view.
func (r *Region) Input(n int) ([]byte, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	if n < 0 || n > r.size {
		return nil, apperrors.NewInvalid("file_size", n, fmt.Sprintf("must be within [0, %d]", r.size))
	}
	return r.buf[:n:n], nil
}

// PixelView grows the region so that n bytes of pixel storage follow the
// input view and returns that storage. Input bytes are preserved.
func (r *Region) PixelView(n int) ([]byte, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	if r.phase != PhaseAllocated {
		return nil, apperrors.NewInternal("pixel view requested outside decode").
			WithCode(apperrors.CodePhaseViolation)
	}
	if n < 0 {
		return nil, apperrors.NewInvalid("pixel_bytes", n, "must not be negative")
	}

	need := r.size + n
	if need < r.size {
		return nil, apperrors.NewAllocation(need, r.mgr.maxBytes)
	}
	if err := r.mgr.grow(r, need); err != nil {
		return nil, err
	}
	r.pixelLen = n
	return r.buf[r.size:need:need], nil
}

// Pixels returns the live part of the pixel view.
func (r *Region) Pixels() []byte {
	return r.buf[r.size : r.size+r.pixelLen : r.size+r.pixelLen]
}

// ShrinkPixels records that only the first n pixel bytes are still live.
func (r *Region) ShrinkPixels(n int) {
	if n >= 0 && n < r.pixelLen {
		r.pixelLen = n
	}
}

// Release drops the pixel view and returns a decoded region to the
// allocated phase with its input untouched.
func (r *Region) Release() error {
	if err := r.check(); err != nil {
		return err
	}
	switch r.phase {
	case PhaseAllocated, PhaseDecoded, PhaseResized:
	default:
		return apperrors.NewInternal(fmt.Sprintf("cannot release a %s region", r.phase)).
			WithCode(apperrors.CodePhaseViolation)
	}
	r.pixelLen = 0
	r.phase = PhaseAllocated
	return nil
}

// Sink resets the write cursor and returns the writer the encoder emits into.
func (r *Region) Sink() io.Writer {
	r.cursor = 0
	r.spill = nil
	r.spilled = false
	return (*sink)(r)
}

// Cursor returns the number of bytes emitted into the output view.
func (r *Region) Cursor() int {
	return r.cursor
}

// Settle finishes an encode. Output that spilled past the pixel view is
// copied back to offset 0 now that no pixel reader remains.
func (r *Region) Settle() error {
	if err := r.check(); err != nil {
		return err
	}
	if r.spill != nil {
		if r.cursor > cap(r.buf) {
			return apperrors.New(apperrors.ErrorTypeAllocation, "encoded output exceeds image buffer").
				WithCode(apperrors.CodeOutputOverflow).
				WithDetail("output", r.cursor).
				WithDetail("capacity", cap(r.buf))
		}
		if r.cursor > len(r.buf) {
			r.buf = r.buf[:r.cursor]
		}
		copy(r.buf, r.spill[:r.cursor])
		r.spill = nil
	}
	r.pixelLen = 0
	return nil
}

// Spilled reports whether the last encode overflowed into scratch memory.
func (r *Region) Spilled() bool {
	return r.spilled
}

// Output returns the encoded result, [0, cursor).
func (r *Region) Output() []byte {
	if r.check() != nil {
		return nil
	}
	if r.spill != nil {
		return r.spill[:r.cursor:r.cursor]
	}
	return r.buf[:r.cursor:r.cursor]
}

type sink Region

// Write appends p at the cursor. Writes stay below the live pixel view;
// once they would reach it, output continues in a scratch copy.
func (s *sink) Write(p []byte) (int, error) {
	r := (*Region)(s)
	if err := r.check(); err != nil {
		return 0, err
	}

	end := r.cursor + len(p)
	if r.spill == nil {
		limit := r.size
		if r.pixelLen == 0 {
			limit = cap(r.buf)
		}
		if end <= limit {
			if end > len(r.buf) {
				r.buf = r.buf[:end]
			}
			copy(r.buf[r.cursor:end], p)
			r.cursor = end
			return len(p), nil
		}
		r.spill = make([]byte, r.cursor, max(2*r.cursor, end))
		copy(r.spill, r.buf[:r.cursor])
		r.spilled = true
	}

	if end > r.mgr.maxBytes {
		return 0, apperrors.NewAllocation(end, r.mgr.maxBytes)
	}
	r.spill = append(r.spill, p...)
	r.cursor = end
	return len(p), nil
}
