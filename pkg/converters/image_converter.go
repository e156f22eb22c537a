package converters

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	"github.com/feichai0017/timechange/internal/transform"
)

// ImageConverter turns feature maps into 8-bit RGB rasters and back.
type ImageConverter interface {
	Encode(fm *transform.FeatureMap) (*image.NRGBA, error)
	Save(fm *transform.FeatureMap, path string) error
}

// RasterConverter lays a feature map out as one row per (channel, chunk)
// and one column per bin; plane p becomes colour channel p.
type RasterConverter struct{}

func NewRasterConverter() *RasterConverter {
	return &RasterConverter{}
}

// Encode quantizes every value with round(v*255). Values outside [0,1]
// are clamped first.
func (c *RasterConverter) Encode(fm *transform.FeatureMap) (*image.NRGBA, error) {
	if fm == nil {
		return nil, fmt.Errorf("feature map is nil")
	}
	w, h := fm.Width(), fm.Height()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("feature map has an empty %dx%d raster", w, h)
	}

	img := imaging.New(w, h, color.NRGBA{A: 255})
	for ch := 0; ch < fm.Channels; ch++ {
		for k := 0; k < fm.Chunks; k++ {
			y := ch*fm.Chunks + k
			for b := 0; b < fm.Bins; b++ {
				i := img.PixOffset(b, y)
				img.Pix[i+0] = Quantize(fm.At(ch, k, b, 0))
				img.Pix[i+1] = Quantize(fm.At(ch, k, b, 1))
				img.Pix[i+2] = Quantize(fm.At(ch, k, b, 2))
			}
		}
	}
	return img, nil
}

// Save encodes fm and writes it to path; the format follows the extension.
func (c *RasterConverter) Save(fm *transform.FeatureMap, path string) error {
	img, err := c.Encode(fm)
	if err != nil {
		return err
	}
	if err := imaging.Save(img, path); err != nil {
		return fmt.Errorf("failed to save image %s: %w", path, err)
	}
	return nil
}

// Quantize maps a normalized value onto 0..255.
func Quantize(v float64) uint8 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(math.Round(v * 255))
}

// Pixels decodes an image into a channels-first float slice scaled to
// [0,1]: all red values, then green, then blue.
func Pixels(img image.Image) []float64 {
	nrgba := imaging.Clone(img)
	b := nrgba.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]float64, 3*w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := nrgba.PixOffset(x, y)
			p := y*w + x
			out[p] = float64(nrgba.Pix[i]) / 255
			out[w*h+p] = float64(nrgba.Pix[i+1]) / 255
			out[2*w*h+p] = float64(nrgba.Pix[i+2]) / 255
		}
	}
	return out
}

// Load reads an image file and returns its pixels and geometry.
func Load(path string) (pixels []float64, height, width int, err error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to open image %s: %w", path, err)
	}
	b := img.Bounds()
	return Pixels(img), b.Dy(), b.Dx(), nil
}

// Size returns the height and width of an image file.
func Size(path string) (height, width int, err error) {
	img, err := imaging.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open image %s: %w", path, err)
	}
	b := img.Bounds()
	return b.Dy(), b.Dx(), nil
}
