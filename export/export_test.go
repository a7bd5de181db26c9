package export

import (
	"bytes"
	"image"
	"image/jpeg"
	"math"
	"strings"
	"testing"

	"github.com/scandoc/pdfocr/docio"
)

func grayJPEG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 20, 30)), nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func samplePages() []Page {
	return []Page{
		{
			Index: 0,
			Box:   docio.PageBox{Width: 600, Height: 800},
			Spans: []docio.TextSpan{
				{Text: "First line of page one", X: 50, Y: 730, Width: 200, Height: 20, FontSize: 12},
				{Text: "第二行", X: 50, Y: 700, Width: 60, Height: 20, FontSize: 12},
				{Text: "竖排文本", X: 560, Y: 760, Width: 20, Height: 120, FontSize: 14, Vertical: true},
			},
		},
		{
			Index: 1,
			Box:   docio.PageBox{Width: 600, Height: 800},
		},
	}
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteText(&buf, samplePages()); err != nil {
		t.Fatalf("WriteText() error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "First line of page one") || !strings.Contains(out, "第二行") {
		t.Fatalf("text missing content:\n%s", out)
	}
	if !strings.Contains(out, "\f") {
		t.Fatal("pages not separated by form feed")
	}
}

func TestWriteMarkdownAndPreview(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMarkdown(&buf, "Quarterly Report", samplePages()); err != nil {
		t.Fatalf("WriteMarkdown() error = %v", err)
	}
	md := buf.String()
	for _, want := range []string{"# Quarterly Report", "## Page 1", "## Page 2", "*(no text)*"} {
		if !strings.Contains(md, want) {
			t.Fatalf("markdown missing %q:\n%s", want, md)
		}
	}

	htmlOut, err := HTMLPreview("Quarterly Report", samplePages())
	if err != nil {
		t.Fatalf("HTMLPreview() error = %v", err)
	}
	for _, want := range []string{"<h1", "Quarterly Report", "<h2", "First line of page one"} {
		if !strings.Contains(string(htmlOut), want) {
			t.Fatalf("preview missing %q:\n%s", want, htmlOut)
		}
	}
}

func TestHOCRRoundTrip(t *testing.T) {
	pages := samplePages()
	var buf bytes.Buffer
	if err := WriteHOCR(&buf, "scan.pdf", pages); err != nil {
		t.Fatalf("WriteHOCR() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"ocr_page", "ocr_line", "ocr-system", "ppageno 0", "textangle 90"} {
		if !strings.Contains(out, want) {
			t.Fatalf("hocr missing %q:\n%s", want, out)
		}
	}

	parsed, err := ReadHOCR(strings.NewReader(out))
	if err != nil {
		t.Fatalf("ReadHOCR() error = %v", err)
	}
	if len(parsed) != 2 {
		t.Fatalf("parsed %d pages, want 2", len(parsed))
	}
	if parsed[0].Box.Width != 600 || parsed[0].Box.Height != 800 {
		t.Fatalf("page box lost: %+v", parsed[0].Box)
	}
	if len(parsed[0].Spans) != 3 {
		t.Fatalf("parsed %d spans, want 3: %+v", len(parsed[0].Spans), parsed[0].Spans)
	}
	for i, want := range pages[0].Spans {
		got := parsed[0].Spans[i]
		if got.Text != want.Text || got.Vertical != want.Vertical {
			t.Fatalf("span %d = %+v, want %+v", i, got, want)
		}
		// Coordinates survive up to hOCR integer rounding.
		for name, pair := range map[string][2]float64{
			"x": {got.X, want.X}, "y": {got.Y, want.Y},
			"w": {got.Width, want.Width}, "h": {got.Height, want.Height},
		} {
			if math.Abs(pair[0]-pair[1]) > 1 {
				t.Fatalf("span %d %s = %g, want %g", i, name, pair[0], pair[1])
			}
		}
	}
	if len(parsed[1].Spans) != 0 {
		t.Fatalf("empty page gained spans: %+v", parsed[1].Spans)
	}
}

func TestCollectDocument(t *testing.T) {
	d := docio.NewDocument()
	jpeg := grayJPEG(t)
	spans := []docio.TextSpan{{Text: "hello", X: 10, Y: 20, Width: 50, Height: 12, FontSize: 10}}
	if err := d.AppendImagePage(docio.PageBox{Width: 200, Height: 300}, jpeg, spans); err != nil {
		t.Fatalf("AppendImagePage() error = %v", err)
	}

	pages, err := CollectDocument(d)
	if err != nil {
		t.Fatalf("CollectDocument() error = %v", err)
	}
	if len(pages) != 1 || len(pages[0].Spans) != 1 || pages[0].Spans[0].Text != "hello" {
		t.Fatalf("pages = %+v", pages)
	}
	if pages[0].Text() != "hello" {
		t.Fatalf("Text() = %q", pages[0].Text())
	}
}
