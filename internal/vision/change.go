// Package vision measures visual change between frames and encodes frames
// for the model and the trace.
package vision

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

const (
	DefaultNoiseThreshold = 20
	DefaultCompareWidth   = 320
	DefaultCompareHeight  = 180
)

// ChangeDetector scores how different two frames are, as the percentage
// (0..100) of pixels whose grayscale value moved by more than Noise.
// Frames of different sizes are resized to the comparison size first.
type ChangeDetector struct {
	Width  int
	Height int
	Noise  uint8
}

func NewChangeDetector() *ChangeDetector {
	return &ChangeDetector{
		Width:  DefaultCompareWidth,
		Height: DefaultCompareHeight,
		Noise:  DefaultNoiseThreshold,
	}
}

// Score is deterministic for identical inputs. A nil frame scores 0.
func (d *ChangeDetector) Score(before, after image.Image) float64 {
	if before == nil || after == nil {
		return 0
	}
	a := d.gray(before)
	b := d.gray(after)

	changed := 0
	for i := range a.Pix {
		diff := int(a.Pix[i]) - int(b.Pix[i])
		if diff < 0 {
			diff = -diff
		}
		if diff > int(d.Noise) {
			changed++
		}
	}
	return 100 * float64(changed) / float64(len(a.Pix))
}

// gray resamples img to the comparison size in grayscale.
func (d *ChangeDetector) gray(img image.Image) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, d.Width, d.Height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// Resize scales img to fit within maxW x maxH, preserving aspect ratio.
// Images already within bounds are returned unchanged.
func Resize(img image.Image, maxW, maxH int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxW && h <= maxH {
		return img
	}
	scale := min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	nw, nh := max(1, int(float64(w)*scale)), max(1, int(float64(h)*scale))
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// Solid returns a uniform image, used by demos and tests.
func Solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}
