package ocr

import "context"

// ImageFormat identifies the content type of an OCR input image.
type ImageFormat string

const (
	ImageFormatPNG  ImageFormat = "image/png"
	ImageFormatJPEG ImageFormat = "image/jpeg"
)

// Point is a 2-D coordinate in image-pixel space with the origin in the
// upper-left corner.
type Point struct {
	X float64
	Y float64
}

// Quad is the quadrilateral around a detected text region, in reading order
// starting at the upper-left corner. Engines that only report axis-aligned
// boxes emit degenerate quads with right-angled corners.
type Quad [4]Point

// QuadFromRect builds an axis-aligned quad from box edges.
func QuadFromRect(x0, y0, x1, y1 float64) Quad {
	return Quad{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}}
}

// Region is the axis-aligned bounding box of a quad.
type Region struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// IsEmpty reports whether the region has non-positive dimensions.
func (r Region) IsEmpty() bool { return r.Width <= 0 || r.Height <= 0 }

// Bounds derives the axis-aligned bounding box. Downstream layout (font
// sizing, writing direction) always works from this box, never from the raw
// quad corners.
func (q Quad) Bounds() Region {
	minX, minY := q[0].X, q[0].Y
	maxX, maxY := minX, minY
	for _, p := range q[1:] {
		if p.X < minX {
			minX = p.X
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}
	return Region{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// TextRegion is a single recognition observation: one detected run of text,
// its quadrilateral in image-pixel space, and the engine's confidence in
// [0,1].
type TextRegion struct {
	Text       string
	Quad       Quad
	Confidence float64
}

// Bounds returns the axis-aligned bounding box of the region's quad.
func (t TextRegion) Bounds() Region { return t.Quad.Bounds() }

// Input encapsulates a single image submitted for OCR.
type Input struct {
	// ID is an optional caller-provided identifier that is echoed back in
	// errors for correlation.
	ID string
	// Image is the encoded image payload in the format specified by Format.
	Image []byte
	// Format declares the image content type (e.g., image/jpeg).
	Format ImageFormat
	// PageIndex links the input back to the zero-based source page index.
	PageIndex int
	// DPI carries the effective dots-per-inch for the image. Providers use
	// this for scaling and layout heuristics; zero means unknown.
	DPI int
	// Languages is a list of language hints (e.g., "eng", "chi_sim") that
	// providers can use to select trained data.
	Languages []string
	// Metadata allows callers to pass through engine-specific knobs (e.g.,
	// "psm" for Tesseract) without hard-coding them into the API surface.
	Metadata map[string]string
}

// Engine is the simplest OCR provider contract: one image in, a list of
// positioned text regions out. Implementations must be safe to reuse across
// many calls within one process lifetime.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, input Input) ([]TextRegion, error)
}

// BatchEngine handles multiple images in a single call, enabling providers
// that amortize setup costs or remote round-trips.
type BatchEngine interface {
	Engine
	RecognizeBatch(ctx context.Context, inputs []Input) ([][]TextRegion, error)
}
