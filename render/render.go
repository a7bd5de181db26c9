// Package render turns source document pages into rasters sized for
// recognition. Scale requests are capped adaptively so pathological page
// geometry cannot balloon memory; callers must position text using the
// actual scale reported back, never the one they asked for.
package render

import (
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"

	"github.com/scandoc/pdfocr/docio"
)

const (
	// DefaultMaxPixels caps the total pixel count of one rendered page.
	DefaultMaxPixels = 100_000_000
	// DefaultMaxSide caps either raster dimension.
	DefaultMaxSide = 3800

	// DefaultBlankThreshold is the mean adjacent-pixel difference (on the
	// 0..255 grayscale) below which a page counts as blank. Deliberately
	// low: misclassifying a faint page as blank loses its text, while
	// running OCR on a truly blank page only costs time.
	DefaultBlankThreshold = 0.5

	// resampleFastPixels is the target size above which rendering trades
	// filter quality for speed.
	resampleFastPixels = 4_000_000
)

// Page is one rendered page with the geometry needed to map recognition
// coordinates back into document space.
type Page struct {
	Index int
	Image image.Image
	Box   docio.PageBox
	// ActualScale is output pixels per PDF point after capping.
	ActualScale float64
}

// Renderer renders pages through a Source with adaptive scale capping.
type Renderer struct {
	maxPixels int
	maxSide   int
}

type Option func(*Renderer)

// WithPixelLimits overrides the total and per-side pixel caps.
func WithPixelLimits(total, side int) Option {
	return func(r *Renderer) {
		if total > 0 {
			r.maxPixels = total
		}
		if side > 0 {
			r.maxSide = side
		}
	}
}

func New(opts ...Option) *Renderer {
	r := &Renderer{maxPixels: DefaultMaxPixels, maxSide: DefaultMaxSide}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render produces the raster for one page at the requested scale (output
// pixels per PDF point), reduced as needed to honor the pixel caps.
func (r *Renderer) Render(src docio.Source, index int, requestedScale float64) (*Page, error) {
	if requestedScale <= 0 {
		return nil, fmt.Errorf("render page %d: non-positive scale %g", index+1, requestedScale)
	}
	box, err := src.PageBox(index)
	if err != nil {
		return nil, fmt.Errorf("render page %d: %w", index+1, err)
	}
	if box.Width <= 0 || box.Height <= 0 {
		return nil, fmt.Errorf("render page %d: degenerate page box %gx%g", index+1, box.Width, box.Height)
	}

	scale := r.capScale(box, requestedScale)
	targetW := int(box.Width*scale + 0.5)
	targetH := int(box.Height*scale + 0.5)
	if targetW < 1 {
		targetW = 1
	}
	if targetH < 1 {
		targetH = 1
	}

	native, err := src.PageImage(index)
	if err != nil {
		return nil, fmt.Errorf("render page %d: %w", index+1, err)
	}

	out := resample(native, targetW, targetH)
	return &Page{
		Index:       index,
		Image:       out,
		Box:         box,
		ActualScale: float64(targetW) / box.Width,
	}, nil
}

// capScale shrinks the requested scale until both caps hold.
func (r *Renderer) capScale(box docio.PageBox, scale float64) float64 {
	longSide := box.Width
	if box.Height > longSide {
		longSide = box.Height
	}
	if longSide*scale > float64(r.maxSide) {
		scale = float64(r.maxSide) / longSide
	}
	if box.Width*scale*box.Height*scale > float64(r.maxPixels) {
		scale = math.Sqrt(float64(r.maxPixels) / (box.Width * box.Height))
	}
	return scale
}

func resample(src image.Image, w, h int) image.Image {
	b := src.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	var kernel draw.Interpolator = draw.CatmullRom
	if w*h > resampleFastPixels {
		kernel = draw.ApproxBiLinear
	}
	kernel.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}
