// Package docio is the document I/O boundary of the conversion pipeline:
// reading pages out of a source PDF and assembling the dual-layer (page
// raster plus invisible text) output document.
package docio

import (
	"fmt"
	"image"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// PageBox is a page's media box size in PDF points.
type PageBox struct {
	Width  float64
	Height float64
}

// TextSpan is one positioned run of recognized text destined for the
// invisible layer. Coordinates are PDF points with the origin at the
// bottom-left corner of the page; X and Y place the text origin.
type TextSpan struct {
	Text     string
	X        float64
	Y        float64
	Width    float64
	Height   float64
	FontSize float64
	Vertical bool
}

// Source reads pages from an existing PDF document.
type Source interface {
	Path() string
	PageCount() int
	PageBox(index int) (PageBox, error)
	// PageImage returns the page's dominant embedded raster at native
	// resolution.
	PageImage(index int) (image.Image, error)
	// PageText returns the page's extractable text. Callers use it to
	// decide whether a page already carries a usable text layer.
	PageText(index int) (string, error)
	Close() error
}

// Output assembles the converted document. Pages accumulate in memory in
// append order; Reorder fixes the sequence before the final save.
type Output interface {
	// AppendImagePage adds a page displaying a JPEG raster with invisible
	// text spans layered over it. The raster is embedded as-is.
	AppendImagePage(box PageBox, jpegData []byte, spans []TextSpan) error
	// CopyPage carries a source page over without recognition, preserving
	// its raster and whatever text the source exposes.
	CopyPage(src Source, index int) error
	PageCount() int
	// Reorder rearranges pages; order must be a permutation of the
	// current page indices.
	Reorder(order []int) error
	// Save writes the document to path. Compact saves route the result
	// through a full optimization pass; fast saves write the structure
	// as-is.
	Save(path string, compact bool) error
}

// Validate checks that the file at path is a structurally sound PDF.
func Validate(path string) error {
	if err := api.ValidateFile(path, nil); err != nil {
		return fmt.Errorf("validate %s: %w", path, err)
	}
	return nil
}
