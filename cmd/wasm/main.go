// Command wasm builds a WASI reactor exposing the shrink handshake to an
// embedder:
//
//	ptr := allocate(size)           // 0 on failure
//	... embedder writes size bytes at ptr ...
//	n := resize(size, width)        // 0: keep the original bytes
//	... embedder reads n bytes at ptr ...
//
// Build with GOOS=wasip1 GOARCH=wasm go build -buildmode=c-shared. Other
// targets build an empty program.
package main

func main() {}
