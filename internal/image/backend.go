package image

import (
	"fmt"

	"patch-tiler/pkg/dataset"
)

// Backend names accepted in configuration.
const (
	BackendGo     = "go"
	BackendOpenCV = "opencv"
)

// IsBackend reports whether name is a known backend.
func IsBackend(name string) bool {
	return name == BackendGo || name == BackendOpenCV
}

// Resolver returns the Ops for a backend name.
type Resolver func(name string) (Ops, error)

// NativeOnly resolves BackendGo and rejects everything else. Binaries
// built with -tags opencv wrap it to add BackendOpenCV.
func NativeOnly(name string) (Ops, error) {
	if name == BackendGo {
		return NewNative(), nil
	}
	return nil, fmt.Errorf("%w: backend %q is not available", dataset.ErrConfiguration, name)
}
