// Package export renders recognized text into supplemental formats: plain
// text, Markdown, an HTML preview, and hOCR. Exporters consume pages
// collected either from a document with positioned spans or from any PDF
// source's extractable text.
package export

import (
	"fmt"
	"strings"

	"github.com/scandoc/pdfocr/docio"
)

// Page is one page's exportable text. Spans carry positions (PDF points,
// bottom-left origin) when the collection source had them; text-only
// collection yields a single unpositioned span per page.
type Page struct {
	Index int
	Box   docio.PageBox
	Spans []docio.TextSpan
}

// Text joins the page's span texts with newlines.
func (p Page) Text() string {
	parts := make([]string, 0, len(p.Spans))
	for _, s := range p.Spans {
		if s.Text != "" {
			parts = append(parts, s.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Collect extracts page text from any PDF source. Positions are not
// available on this path; each page becomes one unpositioned span.
func Collect(src docio.Source) ([]Page, error) {
	pages := make([]Page, 0, src.PageCount())
	for i := 0; i < src.PageCount(); i++ {
		box, err := src.PageBox(i)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i+1, err)
		}
		text, err := src.PageText(i)
		if err != nil {
			return nil, fmt.Errorf("page %d text: %w", i+1, err)
		}
		p := Page{Index: i, Box: box}
		if t := strings.TrimSpace(text); t != "" {
			p.Spans = []docio.TextSpan{{Text: t}}
		}
		pages = append(pages, p)
	}
	return pages, nil
}

// CollectDocument reads positioned spans back out of a document, typically
// one reloaded from a fast-save artifact.
func CollectDocument(d *docio.Document) ([]Page, error) {
	pages := make([]Page, 0, d.PageCount())
	for i := 0; i < d.PageCount(); i++ {
		box, spans, err := d.PageSpans(i)
		if err != nil {
			return nil, err
		}
		pages = append(pages, Page{Index: i, Box: box, Spans: spans})
	}
	return pages, nil
}
