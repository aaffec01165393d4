// Package patch cuts labeled, variance-filtered square patches out of a
// greyscale image with a sliding window of randomly varying size.
package patch

import (
	"fmt"
	"image"
	"strings"

	tileimage "patch-tiler/internal/image"
	"patch-tiler/pkg/dataset"
)

// Sizer yields uniform integers in [0, n). *rand.Rand satisfies it.
type Sizer interface {
	Intn(n int) int
}

// Window is one position of the sliding window over an image.
type Window struct {
	X, Y  int // origin of the square, clamped inside the image
	Size  int
	LoopX int // unclamped loop coordinates
	LoopY int
	XEdge bool // window was pulled back flush with the right edge
	YEdge bool // row was pulled back flush with the bottom edge
	Index int  // running per-image window counter
}

// Rect returns the window's pixel rectangle.
func (w Window) Rect() image.Rectangle {
	return image.Rect(w.X, w.Y, w.X+w.Size, w.Y+w.Size)
}

// Patch is an accepted window: its record and the pixels after resize.
type Patch struct {
	dataset.Record
	Tile *image.Gray
}

// Stats counts what happened to the windows of one image.
type Stats struct {
	Windows int
	Kept    int
}

// Extractor turns images into patches. It is not safe for concurrent use:
// the size stream advances with every window.
type Extractor struct {
	params Params
	ops    tileimage.Ops
	sizer  Sizer
}

// NewExtractor returns an extractor drawing window sizes from sizer.
func NewExtractor(params Params, ops tileimage.Ops, sizer Sizer) *Extractor {
	return &Extractor{params: params, ops: ops, sizer: sizer}
}

// Label returns 0 when id contains marker (case-insensitive), 1 otherwise.
func Label(id, marker string) int {
	if strings.Contains(strings.ToUpper(id), strings.ToUpper(marker)) {
		return 0
	}
	return 1
}

// Walk visits every window over a w x h image in row-major order. Each
// axis advances by the stride until a window touches the far edge; that
// window is pulled back flush with the edge and is the last on its axis.
// A new size is drawn after every window.
func (e *Extractor) Walk(w, h int, visit func(Window) error) error {
	short := min(w, h)
	if short <= e.params.MinPatchSize {
		return fmt.Errorf("%w: short side %d is not larger than min patch size %d",
			dataset.ErrExtraction, short, e.params.MinPatchSize)
	}
	stride := max(short/e.params.TilesPerShortSide, 1)

	size := e.nextSize(short)
	index := 0
	for y := 0; y < h; y += stride {
		rowY, yEdge := y, false
		if y+size >= h {
			rowY, yEdge = h-size, true
		}
		for x := 0; x < w; x += stride {
			win := Window{
				X:     x,
				Y:     min(rowY, h-size),
				Size:  size,
				LoopX: x,
				LoopY: y,
				YEdge: yEdge,
				Index: index,
			}
			if x+size >= w {
				win.X, win.XEdge = w-size, true
			}
			if err := visit(win); err != nil {
				return err
			}
			index++
			size = e.nextSize(short)
			if win.XEdge {
				break
			}
		}
		if yEdge {
			break
		}
	}
	return nil
}

// Extract runs the window over img and calls emit for every patch that
// passes the variance gate, in window order.
func (e *Extractor) Extract(img *image.Gray, id string, emit func(Patch) error) (Stats, error) {
	var stats Stats
	img = tileimage.ToGray(img)
	b := img.Bounds()
	short := min(b.Dx(), b.Dy())
	label := Label(id, e.params.LabelMarker)
	threshold := e.params.threshold(short)

	var plus, minus *image.Gray
	if e.params.Angle != 0 {
		var err error
		if plus, err = e.ops.Rotate(img, e.params.Angle); err != nil {
			return stats, fmt.Errorf("%w: rotate %s: %w", dataset.ErrExtraction, id, err)
		}
		if minus, err = e.ops.Rotate(img, -e.params.Angle); err != nil {
			return stats, fmt.Errorf("%w: rotate %s: %w", dataset.ErrExtraction, id, err)
		}
	}

	err := e.Walk(b.Dx(), b.Dy(), func(win Window) error {
		stats.Windows++

		src, angle := img, 0.0
		if plus != nil && e.rotates(win) {
			if win.Index%4 == 0 {
				src, angle = plus, e.params.Angle
			} else {
				src, angle = minus, -e.params.Angle
			}
		}
		tile := tileimage.Crop(src, win.Rect())

		std, err := e.ops.StdDev(tile)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", dataset.ErrExtraction, id, err)
		}
		if std <= threshold {
			return nil
		}

		if side := e.params.OutputSide; side > 0 {
			if tile, err = e.ops.Resize(tile, side, side); err != nil {
				return fmt.Errorf("%w: resize %s: %w", dataset.ErrExtraction, id, err)
			}
		}
		stats.Kept++

		return emit(Patch{
			Record: dataset.Record{
				Pixels:   tile.Pix,
				SourceID: id,
				X:        win.X,
				Y:        win.Y,
				Size:     win.Size,
				Angle:    angle,
				Label:    label,
			},
			Tile: tile,
		})
	})
	return stats, err
}

// rotates reports whether win takes a rotated crop: interior windows with
// an even counter.
func (e *Extractor) rotates(win Window) bool {
	yEdge := win.YEdge
	if e.params.LegacyRotationEdge {
		yEdge = win.XEdge
	}
	interior := win.LoopX > 0 && !win.XEdge && win.LoopY > 0 && !yEdge
	return interior && win.Index%2 == 0
}

func (e *Extractor) nextSize(short int) int {
	if e.params.OutputSide == 0 {
		return e.params.MinPatchSize
	}
	return e.params.MinPatchSize + e.sizer.Intn(short-e.params.MinPatchSize)
}
