// Package raster holds the small image primitives the recognition pipeline
// works on: 8-bit grayscale pages, integral images, adaptive binarization and
// connected-component extraction.
package raster

import (
	"image"
	"image/color"
)

// Grayscale is an 8-bit luminance raster with a flat pixel buffer.
// It implements image.Image so pages can be handed to encoders and decoders
// without conversion.
type Grayscale struct {
	W, H int
	Pix  []uint8
}

// NewGrayscale allocates a w by h raster filled with white.
func NewGrayscale(w, h int) *Grayscale {
	pix := make([]uint8, w*h)
	for i := range pix {
		pix[i] = 0xff
	}
	return &Grayscale{W: w, H: h, Pix: pix}
}

// FromImage converts any image to grayscale using BT.601 luma weights.
// *image.Gray sources are copied row by row without per-pixel conversion.
func FromImage(img image.Image) *Grayscale {
	b := img.Bounds()
	g := &Grayscale{W: b.Dx(), H: b.Dy(), Pix: make([]uint8, b.Dx()*b.Dy())}

	if src, ok := img.(*image.Gray); ok {
		for y := 0; y < g.H; y++ {
			srcRow := src.Pix[(y+b.Min.Y-src.Rect.Min.Y)*src.Stride+(b.Min.X-src.Rect.Min.X):]
			copy(g.Pix[y*g.W:(y+1)*g.W], srcRow[:g.W])
		}
		return g
	}

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, gr, bl, _ := img.At(x, y).RGBA()
			r, gr, bl = r>>8, gr>>8, bl>>8
			g.Pix[i] = uint8((299*r + 587*gr + 114*bl) / 1000)
			i++
		}
	}
	return g
}

// Gray returns the luminance at (x, y). Coordinates outside the raster read
// as white so callers can sample near edges without bounds juggling.
func (g *Grayscale) Gray(x, y int) uint8 {
	if x < 0 || y < 0 || x >= g.W || y >= g.H {
		return 0xff
	}
	return g.Pix[y*g.W+x]
}

// Set writes the luminance at (x, y). Out-of-range writes are dropped.
func (g *Grayscale) Set(x, y int, v uint8) {
	if x < 0 || y < 0 || x >= g.W || y >= g.H {
		return
	}
	g.Pix[y*g.W+x] = v
}

// Crop copies the given rectangle, clamped to the raster, into a new raster.
func (g *Grayscale) Crop(r image.Rectangle) *Grayscale {
	r = r.Intersect(image.Rect(0, 0, g.W, g.H))
	if r.Empty() {
		return NewGrayscale(0, 0)
	}
	out := &Grayscale{W: r.Dx(), H: r.Dy(), Pix: make([]uint8, r.Dx()*r.Dy())}
	for y := 0; y < out.H; y++ {
		copy(out.Pix[y*out.W:(y+1)*out.W], g.Pix[(r.Min.Y+y)*g.W+r.Min.X:(r.Min.Y+y)*g.W+r.Max.X])
	}
	return out
}

// ColorModel implements image.Image.
func (g *Grayscale) ColorModel() color.Model { return color.GrayModel }

// Bounds implements image.Image.
func (g *Grayscale) Bounds() image.Rectangle { return image.Rect(0, 0, g.W, g.H) }

// At implements image.Image.
func (g *Grayscale) At(x, y int) color.Color { return color.Gray{Y: g.Gray(x, y)} }

// Integral is a summed-area table over a grayscale raster. Window sums and
// means are O(1) regardless of window size.
type Integral struct {
	w, h int
	sum  []uint64
}

// NewIntegral builds the summed-area table for g.
func NewIntegral(g *Grayscale) *Integral {
	it := &Integral{w: g.W, h: g.H, sum: make([]uint64, (g.W+1)*(g.H+1))}
	stride := g.W + 1
	for y := 0; y < g.H; y++ {
		var row uint64
		for x := 0; x < g.W; x++ {
			row += uint64(g.Pix[y*g.W+x])
			it.sum[(y+1)*stride+(x+1)] = it.sum[y*stride+(x+1)] + row
		}
	}
	return it
}

// Sum returns the pixel sum over the half-open box [x0,x1) x [y0,y1),
// clamped to the raster.
func (it *Integral) Sum(x0, y0, x1, y1 int) uint64 {
	x0, y0 = max(x0, 0), max(y0, 0)
	x1, y1 = min(x1, it.w), min(y1, it.h)
	if x0 >= x1 || y0 >= y1 {
		return 0
	}
	stride := it.w + 1
	return it.sum[y1*stride+x1] - it.sum[y0*stride+x1] - it.sum[y1*stride+x0] + it.sum[y0*stride+x0]
}

// Mean returns the mean luminance over the half-open box [x0,x1) x [y0,y1).
// An empty clamped box reads as white.
func (it *Integral) Mean(x0, y0, x1, y1 int) float64 {
	x0, y0 = max(x0, 0), max(y0, 0)
	x1, y1 = min(x1, it.w), min(y1, it.h)
	n := (x1 - x0) * (y1 - y0)
	if n <= 0 {
		return 255
	}
	return float64(it.Sum(x0, y0, x1, y1)) / float64(n)
}

// Bitmap is a binarized raster. Set bits are dark (ink).
type Bitmap struct {
	W, H int
	bits []bool
}

// NewBitmap allocates an all-light bitmap.
func NewBitmap(w, h int) *Bitmap {
	return &Bitmap{W: w, H: h, bits: make([]bool, w*h)}
}

// Get reports whether (x, y) is dark. Out-of-range reads are light.
func (b *Bitmap) Get(x, y int) bool {
	if x < 0 || y < 0 || x >= b.W || y >= b.H {
		return false
	}
	return b.bits[y*b.W+x]
}

// Set marks (x, y) dark or light.
func (b *Bitmap) Set(x, y int, dark bool) {
	if x < 0 || y < 0 || x >= b.W || y >= b.H {
		return
	}
	b.bits[y*b.W+x] = dark
}

// Binarize applies Bradley adaptive thresholding: a pixel is dark when it is
// more than sensitivity below the mean of the window around it. The window
// edge is windowFrac of the shorter raster side, floored so tiny crops still
// threshold sanely. Scanner shading and uneven lighting cancel out because
// every pixel is compared against its own neighborhood.
func Binarize(g *Grayscale, windowFrac, sensitivity float64) *Bitmap {
	it := NewIntegral(g)
	half := int(float64(min(g.W, g.H)) * windowFrac / 2)
	if half < 8 {
		half = 8
	}
	out := NewBitmap(g.W, g.H)
	for y := 0; y < g.H; y++ {
		for x := 0; x < g.W; x++ {
			mean := it.Mean(x-half, y-half, x+half+1, y+half+1)
			if float64(g.Pix[y*g.W+x]) < mean*(1-sensitivity) {
				out.bits[y*out.W+x] = true
			}
		}
	}
	return out
}
