//go:build opencv

package main

import (
	tileimage "patch-tiler/internal/image"
	"patch-tiler/internal/image/opencv"
)

// resolveBackend adds the OpenCV backend to the pure-Go one.
func resolveBackend(name string) (tileimage.Ops, error) {
	if name == tileimage.BackendOpenCV {
		return opencv.New(), nil
	}
	return tileimage.NativeOnly(name)
}
