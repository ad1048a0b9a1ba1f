// Package buffer owns the one growable byte region a shrink request runs in.
//
// A host asks the Manager for a region sized to its encoded input, writes
// the input into Region.Bytes, and hands the region to the pipeline. Each
// Allocate supersedes the previous region: its views become invalid and
// every method on it reports a stale-region error.
package buffer

import (
	apperrors "github.com/leeforge/shrink/errors"
)

// DefaultMaxBytes bounds a region, pixel storage included.
const DefaultMaxBytes = 256 << 20

// HeaderSlack is the fixed headroom WithOutputHeadroom adds on top of the
// scaled input size. It covers JPEG headers and tables on tiny inputs.
const HeaderSlack = 64 << 10

// Manager hands out regions backed by one reusable allocation.
// It is not safe for concurrent use.
type Manager struct {
	maxBytes int
	backing  []byte
	gen      uint64
	current  *Region

	headroom func(size int) int
}

// ManagerOption customises a Manager.
type ManagerOption func(*Manager)

// WithOutputHeadroom makes Allocate reserve capacity for an output of
// multiple times the input size plus HeaderSlack behind every region, so
// the encoded result can start at the address the host was given even
// when it is larger than the input. The reserve never exceeds the ceiling.
func WithOutputHeadroom(multiple int) ManagerOption {
	return func(m *Manager) {
		if multiple < 1 {
			multiple = 1
		}
		m.headroom = func(size int) int {
			if size > (m.maxBytes-HeaderSlack)/multiple {
				return m.maxBytes
			}
			return size*multiple + HeaderSlack
		}
	}
}

// NewManager creates a Manager whose regions never exceed maxBytes.
// A non-positive maxBytes selects DefaultMaxBytes.
func NewManager(maxBytes int, opts ...ManagerOption) *Manager {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	m := &Manager{maxBytes: maxBytes}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MaxBytes returns the region ceiling.
func (m *Manager) MaxBytes() int {
	return m.maxBytes
}

// Allocate establishes a new region of size bytes, invalidating the
// previous one. On failure no region is live.
func (m *Manager) Allocate(size int) (*Region, error) {
	m.gen++
	m.current = nil

	if size < 0 {
		return nil, apperrors.NewInvalid("size", size, "must not be negative")
	}
	if size > m.maxBytes {
		return nil, apperrors.NewAllocation(size, m.maxBytes)
	}

	reserve := size
	if m.headroom != nil {
		reserve = min(max(m.headroom(size), size), m.maxBytes)
	}
	if cap(m.backing) < reserve {
		m.backing = make([]byte, size, reserve)
	}

	r := &Region{
		mgr:   m,
		gen:   m.gen,
		buf:   m.backing[:size],
		size:  size,
		phase: PhaseAllocated,
	}
	m.current = r
	return r, nil
}

// Current returns the live region, or nil when the last Allocate failed
// or none was made.
func (m *Manager) Current() *Region {
	return m.current
}

func (m *Manager) live(r *Region) bool {
	return m.current == r && r.gen == m.gen
}

// grow makes r.buf at least need bytes long, keeping its input view.
func (m *Manager) grow(r *Region, need int) error {
	if need > m.maxBytes {
		return apperrors.NewAllocation(need, m.maxBytes)
	}
	if need <= cap(r.buf) {
		r.buf = r.buf[:need]
		return nil
	}

	newCap := min(max(need, 2*cap(r.buf)), m.maxBytes)
	grown := make([]byte, need, newCap)
	copy(grown, r.buf[:r.size])
	r.buf = grown
	m.backing = grown
	return nil
}
