package patch

import (
	"fmt"

	"patch-tiler/pkg/dataset"
)

// Params controls how patches are cut from an image.
type Params struct {
	// TilesPerShortSide sets the stride: short side / TilesPerShortSide.
	TilesPerShortSide int `json:"tiles_per_short_side"`

	// MinPatchSize is the smallest side length drawn for a window. Every
	// image's short side must be larger.
	MinPatchSize int `json:"min_patch_size"`

	// VarianceThreshold is the pixel std-dev a patch must exceed. Nil
	// derives it per image as short side / VarianceDivisor.
	VarianceThreshold *float64 `json:"variance_threshold,omitempty"`
	VarianceDivisor   int      `json:"variance_divisor"`

	// OutputSide is the square resize target; 0 keeps native pixels and
	// fixes every window at MinPatchSize.
	OutputSide int `json:"output_side"`

	// Angle in degrees for the alternating rotated crops; 0 disables.
	Angle float64 `json:"angle"`

	// LabelMarker marks the negative class when found in an image name.
	LabelMarker string `json:"label_marker"`

	// LegacyRotationEdge tests the x-edge flag in place of the y-edge flag
	// when deciding whether a window is interior, reproducing datasets
	// generated before the check was corrected.
	LegacyRotationEdge bool `json:"legacy_rotation_edge,omitempty"`
}

// DefaultParams returns the parameters tuned for photographs a few
// thousand pixels across.
func DefaultParams() Params {
	return Params{
		TilesPerShortSide: 100, // more tiles, more overlapping patches
		MinPatchSize:      250, // smaller makes a noisier classification problem
		VarianceDivisor:   60,
		OutputSide:        25,
		Angle:             5,
		LabelMarker:       "not",
	}
}

// WithVarianceThreshold returns a copy of p with a fixed threshold.
func (p Params) WithVarianceThreshold(v float64) Params {
	p.VarianceThreshold = &v
	return p
}

// Validate checks parameter ranges that do not depend on the image.
func (p Params) Validate() error {
	switch {
	case p.TilesPerShortSide <= 0:
		return fmt.Errorf("%w: tiles per short side must be positive, got %d", dataset.ErrConfiguration, p.TilesPerShortSide)
	case p.MinPatchSize <= 0:
		return fmt.Errorf("%w: min patch size must be positive, got %d", dataset.ErrConfiguration, p.MinPatchSize)
	case p.VarianceThreshold == nil && p.VarianceDivisor <= 0:
		return fmt.Errorf("%w: variance divisor must be positive, got %d", dataset.ErrConfiguration, p.VarianceDivisor)
	case p.VarianceThreshold != nil && *p.VarianceThreshold < 0:
		return fmt.Errorf("%w: variance threshold must not be negative, got %g", dataset.ErrConfiguration, *p.VarianceThreshold)
	case p.OutputSide < 0:
		return fmt.Errorf("%w: output side must not be negative, got %d", dataset.ErrConfiguration, p.OutputSide)
	case p.LabelMarker == "":
		return fmt.Errorf("%w: label marker must not be empty", dataset.ErrConfiguration)
	}
	return nil
}

// PixelSide is the side of every emitted pixel block.
func (p Params) PixelSide() int {
	if p.OutputSide > 0 {
		return p.OutputSide
	}
	return p.MinPatchSize
}

// Schema returns the header layout of a dataset built with p.
func (p Params) Schema() dataset.Schema {
	return dataset.PatchSchema(p.PixelSide())
}

// threshold returns the variance gate for an image with the given short side.
func (p Params) threshold(short int) float64 {
	if p.VarianceThreshold != nil {
		return *p.VarianceThreshold
	}
	return float64(short / p.VarianceDivisor)
}
