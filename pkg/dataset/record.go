// Package dataset defines the row shapes written to intermediate sinks and
// the final CSV, plus the error classes used across a run.
package dataset

import (
	"strconv"

	"github.com/samber/lo"
)

// PatchColumns are the metadata columns appended after the pixels of every
// patch record, in write order.
var PatchColumns = []string{"source_image_id", "x", "y", "size", "angle", "label"}

// Row is anything that can be written as one CSV line.
type Row interface {
	Fields() []string
}

// Record is one accepted patch.
type Record struct {
	Pixels   []uint8 // row-major greyscale intensities
	SourceID string  // image file name
	X        int     // window origin in the source image
	Y        int
	Size     int     // side length before resize
	Angle    float64 // rotation applied, 0 for the unrotated crop
	Label    int
}

// Fields flattens the record: pixels first, then PatchColumns.
func (r Record) Fields() []string {
	out := PixelFields(r.Pixels, len(PatchColumns))
	return append(out,
		r.SourceID,
		strconv.Itoa(r.X),
		strconv.Itoa(r.Y),
		strconv.Itoa(r.Size),
		FormatAngle(r.Angle),
		strconv.Itoa(r.Label),
	)
}

// PixelFields converts pixels to decimal strings, reserving room for extra
// trailing fields.
func PixelFields(pixels []uint8, extra int) []string {
	out := make([]string, 0, len(pixels)+extra)
	for _, p := range pixels {
		out = append(out, strconv.Itoa(int(p)))
	}
	return out
}

// FormatAngle writes an angle in its shortest decimal form ("5", "-5", "2.5").
func FormatAngle(a float64) string {
	return strconv.FormatFloat(a, 'f', -1, 64)
}

// Schema describes the header of a final dataset.
type Schema struct {
	PixelCount int
	Columns    []string
}

// PatchSchema returns the schema of a patch dataset whose pixel vectors
// hold side*side values.
func PatchSchema(side int) Schema {
	return Schema{PixelCount: side * side, Columns: PatchColumns}
}

// Header returns pixel_0 … pixel_{k-1} followed by the metadata columns.
func (s Schema) Header() []string {
	header := lo.Times(s.PixelCount, func(i int) string {
		return "pixel_" + strconv.Itoa(i)
	})
	return append(header, s.Columns...)
}

// Width is the number of fields in every row.
func (s Schema) Width() int {
	return s.PixelCount + len(s.Columns)
}
