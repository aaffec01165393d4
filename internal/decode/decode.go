// Package decode flattens whole images into fixed-size greyscale rows,
// optionally tagged with a label from a CSV file and a random fold number.
package decode

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	tileimage "patch-tiler/internal/image"
	"patch-tiler/internal/patch"
	"patch-tiler/pkg/dataset"
)

// Params controls whole-image decoding. Folds is the number of
// cross-validation folds assigned at random. Labels maps image file name
// to label; nil means unlabeled (test) data.
type Params struct {
	Width  int               `json:"width"`
	Height int               `json:"height"`
	Folds  int               `json:"folds"`
	Labels map[string]string `json:"labels,omitempty"`
}

// DefaultParams returns a 40x30 target with five folds.
func DefaultParams() Params {
	return Params{Width: 40, Height: 30, Folds: 5}
}

// Train reports whether rows carry label and fold columns.
func (p Params) Train() bool { return p.Labels != nil }

// Validate checks the target size and fold count.
func (p Params) Validate() error {
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("%w: decode size must be positive, got %dx%d", dataset.ErrConfiguration, p.Width, p.Height)
	}
	if p.Folds <= 0 {
		return fmt.Errorf("%w: fold count must be positive, got %d", dataset.ErrConfiguration, p.Folds)
	}
	return nil
}

// Schema returns the header layout for p.
func (p Params) Schema() dataset.Schema {
	s := dataset.Schema{PixelCount: p.Width * p.Height}
	if p.Train() {
		s.Columns = []string{"label", "fold"}
	}
	return s
}

// Record is one decoded image.
type Record struct {
	Pixels []uint8
	Label  string
	Fold   int
	Train  bool
}

// Fields implements dataset.Row.
func (r Record) Fields() []string {
	out := dataset.PixelFields(r.Pixels, 2)
	if r.Train {
		out = append(out, r.Label, strconv.Itoa(r.Fold))
	}
	return out
}

// Decoder converts images one at a time.
type Decoder struct {
	params Params
	ops    tileimage.Ops
	folds  patch.Sizer
}

// NewDecoder returns a decoder drawing folds from folds.
func NewDecoder(params Params, ops tileimage.Ops, folds patch.Sizer) *Decoder {
	return &Decoder{params: params, ops: ops, folds: folds}
}

// Decode loads, greyscales, resizes and flattens the image at path.
func (d *Decoder) Decode(path string) (Record, error) {
	img, err := d.ops.Load(path)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %w", dataset.ErrExtraction, err)
	}
	resized, err := d.ops.Resize(img, d.params.Width, d.params.Height)
	if err != nil {
		return Record{}, fmt.Errorf("%w: resize %s: %w", dataset.ErrExtraction, path, err)
	}

	rec := Record{Pixels: tileimage.Crop(resized, resized.Bounds()).Pix, Train: d.params.Train()}
	if rec.Train {
		name := filepath.Base(path)
		label, ok := d.params.Labels[name]
		if !ok {
			return Record{}, fmt.Errorf("%w: no label for %s", dataset.ErrExtraction, name)
		}
		rec.Label = label
		rec.Fold = 1 + d.folds.Intn(d.params.Folds)
	}
	return rec, nil
}

// LabelColumns locates the image name and label in a label CSV.
type LabelColumns struct {
	Name  int
	Label int
}

// DefaultLabelColumns matches the subject,classname,img layout.
func DefaultLabelColumns() LabelColumns {
	return LabelColumns{Name: 2, Label: 1}
}

// ReadLabels reads a label CSV, skipping its header row, into a map from
// image name to label. Later rows win on duplicate names.
func ReadLabels(path string, cols LabelColumns) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot open label file: %w", dataset.ErrConfiguration, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	if _, err := r.Read(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: label file %s: %w", dataset.ErrConfiguration, path, err)
	}

	need := max(cols.Name, cols.Label) + 1
	labels := make(map[string]string)
	for line := 2; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: label file %s: %w", dataset.ErrConfiguration, path, err)
		}
		if len(row) < need {
			return nil, fmt.Errorf("%w: label file %s line %d has %d fields, need %d",
				dataset.ErrConfiguration, path, line, len(row), need)
		}
		labels[row[cols.Name]] = row[cols.Label]
	}
	return labels, nil
}
