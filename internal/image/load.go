// Package image provides greyscale image loading and the primitive
// operations the patch extractor needs: crop, rotate, resize and pixel
// statistics.
package image

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
)

// LoadGray decodes the image at path and converts it to 8-bit greyscale
// with its origin at (0,0).
func LoadGray(path string) (*image.Gray, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", filepath.Base(path), err)
	}
	return ToGray(img), nil
}

// ToGray converts any image to *image.Gray using the ITU-R 601 luma weights
// of color.GrayModel. The result always starts at (0,0).
func ToGray(img image.Image) *image.Gray {
	b := img.Bounds()
	if g, ok := img.(*image.Gray); ok && b.Min == (image.Point{}) && g.Stride == b.Dx() {
		return g
	}
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}

// SupportedFormats returns the accepted file extensions, upper-cased and
// without the leading dot.
func SupportedFormats() []string {
	return []string{"JPG", "JPEG", "PNG", "BMP", "TIFF"}
}

// IsSupportedFormat reports whether the text after the last '.' of name is
// one of SupportedFormats, ignoring case.
func IsSupportedFormat(name string) bool {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return false
	}
	ext := strings.ToUpper(name[i+1:])
	for _, format := range SupportedFormats() {
		if ext == format {
			return true
		}
	}
	return false
}
