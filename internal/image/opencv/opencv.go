//go:build opencv

// Package opencv implements the image primitives on top of gocv. It needs
// the OpenCV libraries and is only built with -tags opencv.
package opencv

import (
	"fmt"
	"image"
	"image/color"
	"math"

	tileimage "patch-tiler/internal/image"

	"gocv.io/x/gocv"
)

// Ops is the OpenCV backend. The zero value is ready to use.
type Ops struct{}

// New returns the OpenCV backend.
func New() Ops { return Ops{} }

// Load reads path as an 8-bit single channel image.
func (Ops) Load(path string) (*image.Gray, error) {
	mat := gocv.IMRead(path, gocv.IMReadGrayScale)
	defer mat.Close()
	if mat.Empty() {
		return nil, fmt.Errorf("failed to decode image %s", path)
	}
	return matToGray(mat)
}

// Rotate turns src counter-clockwise about its centre on a canvas of the
// same size with nearest-neighbour sampling. Uncovered pixels are black.
//
// OpenCV puts pixel centres on integers, so the centre of a w-wide image
// is (w-1)/2. GetRotationMatrix2D only takes an integer point, hence the
// matrix is built here.
func (Ops) Rotate(src *image.Gray, degrees float64) (*image.Gray, error) {
	mat, err := grayToMat(src)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	rotMat := rotationMatrix(float64(mat.Cols()-1)/2, float64(mat.Rows()-1)/2, degrees)
	defer rotMat.Close()

	rotated := gocv.NewMat()
	defer rotated.Close()
	gocv.WarpAffineWithParams(mat, &rotated, rotMat, image.Point{X: mat.Cols(), Y: mat.Rows()},
		gocv.InterpolationNearestNeighbor, gocv.BorderConstant, color.RGBA{})

	return matToGray(rotated)
}

// rotationMatrix is the 2x3 affine matrix getRotationMatrix2D would
// return for a unit scale.
func rotationMatrix(cx, cy, degrees float64) gocv.Mat {
	rad := degrees * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	m := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	for i, v := range []float64{
		cos, sin, (1-cos)*cx - sin*cy,
		-sin, cos, sin*cx + (1-cos)*cy,
	} {
		m.SetDoubleAt(i/3, i%3, v)
	}
	return m
}

// Resize uses area interpolation, OpenCV's antialiasing choice for shrinking.
func (Ops) Resize(src *image.Gray, width, height int) (*image.Gray, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid resize target %dx%d", width, height)
	}
	mat, err := grayToMat(src)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(mat, &resized, image.Point{X: width, Y: height}, 0, 0, gocv.InterpolationArea)

	return matToGray(resized)
}

// StdDev returns the population standard deviation reported by MeanStdDev.
func (Ops) StdDev(src *image.Gray) (float64, error) {
	mat, err := grayToMat(src)
	if err != nil {
		return 0, err
	}
	defer mat.Close()

	mean := gocv.NewMat()
	defer mean.Close()
	stddev := gocv.NewMat()
	defer stddev.Close()
	gocv.MeanStdDev(mat, &mean, &stddev)

	if stddev.Empty() {
		return 0, nil
	}
	return stddev.GetDoubleAt(0, 0), nil
}

// grayToMat needs a compact image: gocv reads Pix as one contiguous block.
func grayToMat(g *image.Gray) (gocv.Mat, error) {
	compact := tileimage.Crop(g, g.Bounds())
	mat, err := gocv.ImageGrayToMatGray(compact)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("failed to convert image to Mat: %w", err)
	}
	return mat, nil
}

func matToGray(mat gocv.Mat) (*image.Gray, error) {
	img, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert Mat to image: %w", err)
	}
	return tileimage.ToGray(img), nil
}
