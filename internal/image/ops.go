package image

import (
	"fmt"
	"image"
	"image/png"
	"math"
	"os"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
	"gonum.org/v1/gonum/stat"
)

// Ops is the set of primitives a backend provides. Implementations must be
// safe for use by a single worker; they are not shared across processes.
type Ops interface {
	// Load reads an image file as greyscale.
	Load(path string) (*image.Gray, error)
	// Rotate turns src counter-clockwise by degrees about its centre,
	// keeping the canvas size and filling uncovered pixels with black.
	Rotate(src *image.Gray, degrees float64) (*image.Gray, error)
	// Resize resamples src to width x height with an antialiasing filter.
	Resize(src *image.Gray, width, height int) (*image.Gray, error)
	// StdDev returns the population standard deviation of the pixels.
	StdDev(src *image.Gray) (float64, error)
}

// Native implements Ops in pure Go with x/image and gonum.
type Native struct{}

// NewNative returns the pure-Go backend.
func NewNative() Native { return Native{} }

// Load implements Ops.
func (Native) Load(path string) (*image.Gray, error) {
	return LoadGray(path)
}

// Rotate implements Ops with nearest-neighbour sampling.
func (Native) Rotate(src *image.Gray, degrees float64) (*image.Gray, error) {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	if degrees == 0 {
		draw.Copy(dst, image.Point{}, src, b, draw.Src, nil)
		return dst, nil
	}

	rad := degrees * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	cx := float64(b.Min.X) + float64(b.Dx())/2
	cy := float64(b.Min.Y) + float64(b.Dy())/2
	dcx, dcy := float64(b.Dx())/2, float64(b.Dy())/2

	// Image y grows downward, so a visually counter-clockwise turn is
	// [cos sin; -sin cos] around the centre.
	s2d := f64.Aff3{
		cos, sin, dcx - cos*cx - sin*cy,
		-sin, cos, dcy + sin*cx - cos*cy,
	}
	draw.NearestNeighbor.Transform(dst, s2d, src, b, draw.Src, nil)
	return dst, nil
}

// Resize implements Ops with the Catmull-Rom kernel, which low-pass filters
// when shrinking.
func (Native) Resize(src *image.Gray, width, height int) (*image.Gray, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid resize target %dx%d", width, height)
	}
	dst := image.NewGray(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst, nil
}

// StdDev implements Ops.
func (Native) StdDev(src *image.Gray) (float64, error) {
	return PixelStdDev(src), nil
}

// PixelStdDev returns the population standard deviation of the pixels of g.
func PixelStdDev(g *image.Gray) float64 {
	b := g.Bounds()
	if b.Empty() {
		return 0
	}
	values := make([]float64, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := g.Pix[g.PixOffset(b.Min.X, y):g.PixOffset(b.Max.X, y)]
		for _, p := range row {
			values = append(values, float64(p))
		}
	}
	return stat.PopStdDev(values, nil)
}

// Crop copies r out of g into a new image whose Pix is exactly the
// row-major pixel vector of the rectangle. r is clipped to g's bounds.
func Crop(g *image.Gray, r image.Rectangle) *image.Gray {
	r = r.Intersect(g.Bounds())
	dst := image.NewGray(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := 0; y < r.Dy(); y++ {
		srcOff := g.PixOffset(r.Min.X, r.Min.Y+y)
		copy(dst.Pix[y*dst.Stride:(y+1)*dst.Stride], g.Pix[srcOff:srcOff+r.Dx()])
	}
	return dst
}

// SavePNG writes g to path.
func SavePNG(path string, g *image.Gray) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := png.Encode(f, g); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}
