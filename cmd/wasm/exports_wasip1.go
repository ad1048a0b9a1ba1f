//go:build wasip1

package main

import (
	"unsafe"

	"github.com/leeforge/shrink/config"
	"github.com/leeforge/shrink/logging"
	"github.com/leeforge/shrink/media/host"
)

var shrinkHost *host.Host

func init() {
	settings, _, err := config.LoadSettings(config.DefaultConfigOptions())
	if err != nil {
		settings = config.DefaultSettings()
	}
	shrinkHost, err = newHost(settings, logging.Init(settings.Logging))
	if err != nil {
		panic(err)
	}
}

//go:wasmexport allocate
func allocate(size uint32) unsafe.Pointer {
	return allocateWindow(shrinkHost, size)
}

//go:wasmexport resize
func resize(fileSize, targetWidth uint32) uint32 {
	return mustResize(shrinkHost, fileSize, targetWidth)
}
