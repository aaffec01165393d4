//go:build !opencv

package main

import tileimage "patch-tiler/internal/image"

// resolveBackend serves the pure-Go backend only. Build with -tags opencv
// for the OpenCV one.
func resolveBackend(name string) (tileimage.Ops, error) {
	return tileimage.NativeOnly(name)
}
