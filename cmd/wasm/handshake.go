package main

import (
	"unsafe"

	"github.com/leeforge/shrink/config"
	"github.com/leeforge/shrink/logging"
	"github.com/leeforge/shrink/media/host"
)

func newHost(settings config.Settings, logger logging.Logger) (*host.Host, error) {
	return host.New(settings, logger, host.WithPinnedOutput())
}

// emptyWindow gives a zero-byte allocation a non-null address, since a
// null pointer is the failure signal.
var emptyWindow [1]byte

// allocateWindow returns the address of a fresh size-byte window, or nil
// when no window could be obtained. The host keeps the window reachable
// until the next allocation. A zero size is a valid request.
func allocateWindow(h *host.Host, size uint32) unsafe.Pointer {
	window, err := h.Allocate(int(size))
	if err != nil {
		return nil
	}
	if ptr := unsafe.SliceData(window); ptr != nil {
		return unsafe.Pointer(ptr)
	}
	return unsafe.Pointer(&emptyWindow[0])
}

// mustResize panics on fatal errors, which traps the calling module.
func mustResize(h *host.Host, fileSize, targetWidth uint32) uint32 {
	n, err := h.Resize(int(fileSize), int(targetWidth))
	if err != nil {
		panic(err)
	}
	return uint32(n)
}
