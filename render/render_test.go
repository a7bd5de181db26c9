package render

import (
	"fmt"
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/scandoc/pdfocr/docio"
)

// fakeSource serves a fixed raster for every page.
type fakeSource struct {
	box   docio.PageBox
	img   image.Image
	pages int
}

func (f *fakeSource) Path() string   { return "fake.pdf" }
func (f *fakeSource) PageCount() int { return f.pages }
func (f *fakeSource) Close() error   { return nil }

func (f *fakeSource) PageBox(index int) (docio.PageBox, error) {
	if index < 0 || index >= f.pages {
		return docio.PageBox{}, fmt.Errorf("page %d out of range", index)
	}
	return f.box, nil
}

func (f *fakeSource) PageImage(index int) (image.Image, error) {
	if index < 0 || index >= f.pages {
		return nil, fmt.Errorf("page %d out of range", index)
	}
	return f.img, nil
}

func (f *fakeSource) PageText(index int) (string, error) { return "", nil }

func newFakeSource(boxW, boxH float64, imgW, imgH int) *fakeSource {
	return &fakeSource{
		box:   docio.PageBox{Width: boxW, Height: boxH},
		img:   image.NewGray(image.Rect(0, 0, imgW, imgH)),
		pages: 3,
	}
}

func TestRenderHonorsRequestedScale(t *testing.T) {
	src := newFakeSource(612, 792, 1275, 1650)
	r := New()

	p, err := r.Render(src, 1, 300.0/72.0)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if p.Index != 1 {
		t.Fatalf("Index = %d", p.Index)
	}
	w, h := p.Image.Bounds().Dx(), p.Image.Bounds().Dy()
	if w != 2550 || h != 3300 {
		t.Fatalf("rendered %dx%d, want 2550x3300", w, h)
	}
	if got := float64(w) / p.Box.Width; p.ActualScale != got {
		t.Fatalf("ActualScale = %g, want %g", p.ActualScale, got)
	}
}

func TestRenderCapsScale(t *testing.T) {
	tests := []struct {
		name      string
		maxPixels int
		maxSide   int
		scale     float64
	}{
		{"side cap", DefaultMaxPixels, 80, 10},
		{"pixel cap", 10_000, DefaultMaxSide, 10},
		{"both caps", 5_000, 60, 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFakeSource(612, 792, 200, 260)
			r := New(WithPixelLimits(tt.maxPixels, tt.maxSide))
			p, err := r.Render(src, 0, tt.scale)
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			w, h := p.Image.Bounds().Dx(), p.Image.Bounds().Dy()
			if w > tt.maxSide || h > tt.maxSide {
				t.Fatalf("rendered %dx%d exceeds side cap %d", w, h, tt.maxSide)
			}
			// Rounding may overshoot the area cap by at most one row or
			// column.
			if w*h > tt.maxPixels+w+h {
				t.Fatalf("rendered %dx%d exceeds pixel cap %d", w, h, tt.maxPixels)
			}
			if p.ActualScale >= tt.scale {
				t.Fatalf("ActualScale = %g not reduced from %g", p.ActualScale, tt.scale)
			}
			if wantW := int(p.Box.Width*p.ActualScale + 0.5); wantW != w {
				t.Fatalf("ActualScale inconsistent with raster width: %d vs %d", wantW, w)
			}
		})
	}
}

func TestRenderRejectsBadArguments(t *testing.T) {
	src := newFakeSource(612, 792, 100, 130)
	r := New()
	if _, err := r.Render(src, 0, 0); err == nil {
		t.Fatalf("expected error for zero scale")
	}
	if _, err := r.Render(src, 99, 1); err == nil {
		t.Fatalf("expected error for out-of-range page")
	}
}

func TestIsBlank(t *testing.T) {
	uniform := image.NewGray(image.Rect(0, 0, 200, 200))
	for i := range uniform.Pix {
		uniform.Pix[i] = 245
	}
	if !IsBlank(uniform, DefaultBlankThreshold) {
		t.Fatalf("uniform page not classified blank")
	}

	noisy := image.NewGray(image.Rect(0, 0, 200, 200))
	rng := rand.New(rand.NewSource(1))
	for i := range noisy.Pix {
		noisy.Pix[i] = uint8(rng.Intn(256))
	}
	if IsBlank(noisy, DefaultBlankThreshold) {
		t.Fatalf("noise page misclassified as blank")
	}

	text := image.NewGray(image.Rect(0, 0, 200, 200))
	for i := range text.Pix {
		text.Pix[i] = 255
	}
	for y := 40; y < 160; y += 12 {
		for x := 20; x < 180; x++ {
			text.SetGray(x, y, color.Gray{Y: 0})
		}
	}
	if IsBlank(text, DefaultBlankThreshold) {
		t.Fatalf("page with line content misclassified as blank")
	}
}

func TestIsBlankFaintContentSurvives(t *testing.T) {
	// A single faint line should still register above the conservative
	// default threshold on a small raster.
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for i := range img.Pix {
		img.Pix[i] = 250
	}
	for x := 0; x < 64; x++ {
		img.SetGray(x, 32, color.Gray{Y: 120})
	}
	if IsBlank(img, DefaultBlankThreshold) {
		t.Fatalf("faint line misclassified as blank")
	}
}
