package export

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/scandoc/pdfocr/docio"
)

// WriteHOCR writes an hOCR document: one ocr_page div per page, one
// ocr_line span per text span. Coordinates are PDF points converted to a
// top-left origin, rounded to integers as the format requires. Vertical
// spans carry the standard "textangle 90" property.
func WriteHOCR(w io.Writer, title string, pages []Page) error {
	doc := &html.Node{Type: html.DocumentNode}
	doc.AppendChild(&html.Node{Type: html.DoctypeNode, Data: "html"})

	root := elem(atom.Html, "")
	doc.AppendChild(root)

	head := elem(atom.Head, "")
	root.AppendChild(head)
	meta := elem(atom.Meta, "")
	meta.Attr = []html.Attribute{{Key: "charset", Val: "utf-8"}}
	head.AppendChild(meta)
	titleNode := elem(atom.Title, "")
	titleNode.AppendChild(textNode(title))
	head.AppendChild(titleNode)
	head.AppendChild(metaName("ocr-system", "pdfocr"))
	head.AppendChild(metaName("ocr-capabilities", "ocr_page ocr_line"))

	body := elem(atom.Body, "")
	root.AppendChild(body)

	for _, p := range pages {
		pw := roundInt(p.Box.Width)
		ph := roundInt(p.Box.Height)
		div := elem(atom.Div, "ocr_page")
		div.Attr = append(div.Attr,
			html.Attribute{Key: "id", Val: fmt.Sprintf("page_%d", p.Index+1)},
			html.Attribute{Key: "title", Val: fmt.Sprintf("bbox 0 0 %d %d; ppageno %d", pw, ph, p.Index)},
		)
		for i, s := range p.Spans {
			if s.Text == "" {
				continue
			}
			span := elem(atom.Span, "ocr_line")
			span.Attr = append(span.Attr,
				html.Attribute{Key: "id", Val: fmt.Sprintf("line_%d_%d", p.Index+1, i+1)},
				html.Attribute{Key: "title", Val: lineTitle(p.Box, s)},
			)
			span.AppendChild(textNode(s.Text))
			div.AppendChild(span)
			div.AppendChild(textNode("\n"))
		}
		body.AppendChild(div)
		body.AppendChild(textNode("\n"))
	}

	return html.Render(w, doc)
}

// lineTitle formats the hOCR title property for a span.
func lineTitle(box docio.PageBox, s docio.TextSpan) string {
	x1, y1, x2, y2 := spanBBox(box, s)
	title := fmt.Sprintf("bbox %d %d %d %d", x1, y1, x2, y2)
	if s.Vertical {
		title += "; textangle 90"
	}
	return title
}

// spanBBox converts a span's bottom-left-origin anchor into a top-left
// bounding box. A span with no recorded extent covers the whole page.
func spanBBox(box docio.PageBox, s docio.TextSpan) (x1, y1, x2, y2 int) {
	if s.Width <= 0 || s.Height <= 0 {
		return 0, 0, roundInt(box.Width), roundInt(box.Height)
	}
	var left, top float64
	if s.Vertical {
		// Vertical spans anchor at their top-right corner.
		left = s.X - s.Width
		top = box.Height - s.Y
	} else {
		// Horizontal spans anchor at the baseline, bottom-left.
		left = s.X
		top = box.Height - s.Y - s.Height
	}
	return roundInt(left), roundInt(top), roundInt(left + s.Width), roundInt(top + s.Height)
}

// ReadHOCR parses an hOCR document produced by WriteHOCR (or a compatible
// generator) back into pages. Only ocr_page and ocr_line elements are
// consulted.
func ReadHOCR(r io.Reader) ([]Page, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse hocr: %w", err)
	}
	var pages []Page
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && hasClass(n, "ocr_page") {
			pages = append(pages, parsePage(n))
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if len(pages) == 0 {
		return nil, fmt.Errorf("parse hocr: no ocr_page elements")
	}
	return pages, nil
}

func parsePage(n *html.Node) Page {
	props := titleProps(attrVal(n, "title"))
	var p Page
	if v, ok := props["ppageno"]; ok && len(v) >= 1 {
		p.Index, _ = strconv.Atoi(v[0])
	}
	if v, ok := props["bbox"]; ok && len(v) == 4 {
		w, _ := strconv.ParseFloat(v[2], 64)
		h, _ := strconv.ParseFloat(v[3], 64)
		p.Box = docio.PageBox{Width: w, Height: h}
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && hasClass(n, "ocr_line") {
			if s, ok := parseLine(n, p.Box); ok {
				p.Spans = append(p.Spans, s)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c)
	}
	return p
}

func parseLine(n *html.Node, box docio.PageBox) (docio.TextSpan, bool) {
	text := strings.TrimSpace(nodeText(n))
	if text == "" {
		return docio.TextSpan{}, false
	}
	s := docio.TextSpan{Text: text}
	props := titleProps(attrVal(n, "title"))
	if _, ok := props["textangle"]; ok {
		s.Vertical = true
	}
	if v, ok := props["bbox"]; ok && len(v) == 4 {
		x1, _ := strconv.ParseFloat(v[0], 64)
		y1, _ := strconv.ParseFloat(v[1], 64)
		x2, _ := strconv.ParseFloat(v[2], 64)
		y2, _ := strconv.ParseFloat(v[3], 64)
		s.Width = x2 - x1
		s.Height = y2 - y1
		if s.Vertical {
			s.X = x2
			s.Y = box.Height - y1
		} else {
			s.X = x1
			s.Y = box.Height - y1 - s.Height
		}
	}
	return s, true
}

// titleProps splits an hOCR title attribute into property name to value
// fields, e.g. "bbox 1 2 3 4; ppageno 0".
func titleProps(title string) map[string][]string {
	props := make(map[string][]string)
	for _, part := range strings.Split(title, ";") {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		props[fields[0]] = fields[1:]
	}
	return props
}

func elem(a atom.Atom, class string) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
	if class != "" {
		n.Attr = []html.Attribute{{Key: "class", Val: class}}
	}
	return n
}

func textNode(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

func metaName(name, content string) *html.Node {
	n := elem(atom.Meta, "")
	n.Attr = []html.Attribute{
		{Key: "name", Val: name},
		{Key: "content", Val: content},
	}
	return n
}

func hasClass(n *html.Node, class string) bool {
	for _, f := range strings.Fields(attrVal(n, "class")) {
		if f == class {
			return true
		}
	}
	return false
}

func attrVal(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func roundInt(v float64) int {
	if v < 0 {
		return -int(-v + 0.5)
	}
	return int(v + 0.5)
}
