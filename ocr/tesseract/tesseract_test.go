package tesseract

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"os/exec"
	"strings"
	"testing"

	"github.com/scandoc/pdfocr/ocr"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ensureTesseractAvailable checks that the tesseract binary is reachable.
func ensureTesseractAvailable(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tesseract"); err != nil {
		t.Skip("tesseract not installed in PATH")
	}
}

func TestEngineRecognize(t *testing.T) {
	ensureTesseractAvailable(t)

	img := image.NewRGBA(image.Rect(0, 0, 200, 80))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.Black,
		Face: basicfont.Face7x13,
		Dot:  fixed.P(10, 50),
	}
	d.DrawString("Hello PDF")

	in, err := ocr.InputFromRaster(0, img, ocr.WithLanguages("eng"), ocr.WithDPI(300))
	if err != nil {
		t.Fatalf("InputFromRaster() error = %v", err)
	}

	e := NewEngine()
	defer e.Close()

	regions, err := e.Recognize(context.Background(), in)
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if len(regions) == 0 {
		t.Fatalf("expected at least one text region")
	}
	var all strings.Builder
	for _, r := range regions {
		all.WriteString(r.Text)
		all.WriteString(" ")
		if b := r.Bounds(); b.IsEmpty() {
			t.Fatalf("region %q has empty bounds", r.Text)
		}
	}
	got := strings.ToLower(all.String())
	if !strings.Contains(got, "hello") || !strings.Contains(got, "pdf") {
		t.Fatalf("unexpected OCR output: %q", got)
	}
}

func TestEngineReusesClientAcrossCalls(t *testing.T) {
	ensureTesseractAvailable(t)

	img := image.NewRGBA(image.Rect(0, 0, 60, 30))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	in, err := ocr.InputFromRaster(0, img, ocr.WithLanguages("eng"))
	if err != nil {
		t.Fatalf("InputFromRaster() error = %v", err)
	}

	e := NewEngine()
	defer e.Close()
	if _, err := e.Recognize(context.Background(), in); err != nil {
		t.Fatalf("first Recognize() error = %v", err)
	}
	first := e.client
	if _, err := e.Recognize(context.Background(), in); err != nil {
		t.Fatalf("second Recognize() error = %v", err)
	}
	if e.client != first {
		t.Fatalf("client was not reused between calls")
	}
}
