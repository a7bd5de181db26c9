package docio

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// copyQuality is the JPEG quality used when CopyPage has to re-encode a
// source raster whose native encoding is not JPEG.
const copyQuality = 95

type pageEntry struct {
	box   PageBox
	jpeg  []byte
	pxW   int
	pxH   int
	comps int
	spans []TextSpan
}

// Document is an in-memory dual-layer PDF under assembly. Each page shows a
// full-bleed JPEG with an invisible (render mode 3) text layer on top. Latin
// text uses a core Helvetica; anything wider goes through a predefined
// UCS-2 CMap font so CJK output stays searchable without embedding a font
// program.
type Document struct {
	pages []*pageEntry
}

func NewDocument() *Document { return &Document{} }

func (d *Document) PageCount() int { return len(d.pages) }

// PageSpans returns one page's geometry and a copy of its text spans.
// Exporters read recognized text back out of a document through this.
func (d *Document) PageSpans(index int) (PageBox, []TextSpan, error) {
	if index < 0 || index >= len(d.pages) {
		return PageBox{}, nil, fmt.Errorf("page %d out of range", index)
	}
	p := d.pages[index]
	return p.box, append([]TextSpan(nil), p.spans...), nil
}

// AppendImagePage adds a page. The JPEG data is embedded verbatim as a
// DCTDecode XObject; its dimensions and channel count are read from the
// stream's own header.
func (d *Document) AppendImagePage(box PageBox, jpegData []byte, spans []TextSpan) error {
	if box.Width <= 0 || box.Height <= 0 {
		return fmt.Errorf("invalid page box %gx%g", box.Width, box.Height)
	}
	w, h, comps, err := jpegInfo(jpegData)
	if err != nil {
		return fmt.Errorf("inspect page raster: %w", err)
	}
	d.pages = append(d.pages, &pageEntry{
		box:   box,
		jpeg:  append([]byte(nil), jpegData...),
		pxW:   w,
		pxH:   h,
		comps: comps,
		spans: append([]TextSpan(nil), spans...),
	})
	return nil
}

// CopyPage carries a source page over without recognition. The native
// raster is re-embedded; any text the source exposes is preserved as an
// unpositioned invisible span so the page stays searchable.
func (d *Document) CopyPage(src Source, index int) error {
	box, err := src.PageBox(index)
	if err != nil {
		return err
	}
	img, err := src.PageImage(index)
	if err != nil {
		return fmt.Errorf("copy page %d: %w", index+1, err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: copyQuality}); err != nil {
		return fmt.Errorf("copy page %d: %w", index+1, err)
	}
	var spans []TextSpan
	if text, err := src.PageText(index); err == nil && text != "" {
		spans = []TextSpan{{Text: text, X: 2, Y: 2, FontSize: 2}}
	}
	return d.AppendImagePage(box, buf.Bytes(), spans)
}

// Reorder rearranges the pages. order must be a permutation of
// [0, PageCount).
func (d *Document) Reorder(order []int) error {
	if len(order) != len(d.pages) {
		return fmt.Errorf("reorder: got %d indices for %d pages", len(order), len(d.pages))
	}
	seen := make([]bool, len(d.pages))
	next := make([]*pageEntry, len(d.pages))
	for pos, idx := range order {
		if idx < 0 || idx >= len(d.pages) || seen[idx] {
			return fmt.Errorf("reorder: index %d is out of range or repeated", idx)
		}
		seen[idx] = true
		next[pos] = d.pages[idx]
	}
	d.pages = next
	return nil
}

// Save writes the document to path atomically. A compact save additionally
// runs the result through an optimization pass that deduplicates resources
// and compresses streams; fast saves skip it, which is what the periodic
// temp snapshots during a long run want.
func (d *Document) Save(path string, compact bool) error {
	if len(d.pages) == 0 {
		return fmt.Errorf("save: document has no pages")
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("save: %w", err)
	}
	if err := d.writeTo(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("save: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("save: %w", err)
	}
	if !compact {
		if err := os.Rename(tmp, path); err != nil {
			os.Remove(tmp)
			return fmt.Errorf("save: %w", err)
		}
		return nil
	}
	defer os.Remove(tmp)
	if err := api.OptimizeFile(tmp, path, nil); err != nil {
		return fmt.Errorf("compact save: %w", err)
	}
	return nil
}

// Object layout: fixed objects first (catalog, page tree, the three fonts,
// their CID descendants with a shared font descriptor, info), then three
// objects per page in page order (image XObject, content stream, page
// dict). Everything is numbered before writing so forward references
// resolve.
func (d *Document) writeTo(w io.Writer) error {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")

	next := 1
	alloc := func() int { n := next; next++; return n }

	catalog := alloc()
	pagesRoot := alloc()
	helv := alloc()
	cidH := alloc()
	cidHDesc := alloc()
	cidV := alloc()
	cidVDesc := alloc()
	cidFD := alloc()
	info := alloc()

	type pageRefs struct{ img, content, page int }
	refs := make([]pageRefs, len(d.pages))
	for i := range d.pages {
		refs[i] = pageRefs{img: alloc(), content: alloc(), page: alloc()}
	}

	offsets := make([]int, next)
	writeObj := func(num int, body func(*bytes.Buffer)) {
		offsets[num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n", num)
		body(&buf)
		buf.WriteString("endobj\n")
	}

	writeObj(catalog, func(b *bytes.Buffer) {
		fmt.Fprintf(b, "<</Type/Catalog/Pages %d 0 R>>\n", pagesRoot)
	})
	writeObj(pagesRoot, func(b *bytes.Buffer) {
		b.WriteString("<</Type/Pages/Count ")
		b.WriteString(strconv.Itoa(len(d.pages)))
		b.WriteString("/Kids[")
		for i, r := range refs {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(b, "%d 0 R", r.page)
		}
		b.WriteString("]>>\n")
	})
	writeObj(helv, func(b *bytes.Buffer) {
		b.WriteString("<</Type/Font/Subtype/Type1/BaseFont/Helvetica/Encoding/WinAnsiEncoding>>\n")
	})
	writeObj(cidH, func(b *bytes.Buffer) {
		fmt.Fprintf(b, "<</Type/Font/Subtype/Type0/BaseFont/STSong-Light/Encoding/UniGB-UCS2-H/DescendantFonts[%d 0 R]>>\n", cidHDesc)
	})
	writeObj(cidHDesc, func(b *bytes.Buffer) { writeCIDDescendant(b, cidFD) })
	writeObj(cidV, func(b *bytes.Buffer) {
		fmt.Fprintf(b, "<</Type/Font/Subtype/Type0/BaseFont/STSong-Light/Encoding/UniGB-UCS2-V/DescendantFonts[%d 0 R]>>\n", cidVDesc)
	})
	writeObj(cidVDesc, func(b *bytes.Buffer) { writeCIDDescendant(b, cidFD) })
	writeObj(cidFD, func(b *bytes.Buffer) {
		b.WriteString("<</Type/FontDescriptor/FontName/STSong-Light/Flags 4/FontBBox[-25 -254 1000 880]/ItalicAngle 0/Ascent 880/Descent -120/CapHeight 880/StemV 93>>\n")
	})
	writeObj(info, func(b *bytes.Buffer) {
		b.WriteString("<</Producer(pdfocr)>>\n")
	})

	for i, p := range d.pages {
		r := refs[i]
		writeObj(r.img, func(b *bytes.Buffer) {
			fmt.Fprintf(b, "<</Type/XObject/Subtype/Image/Width %d/Height %d/ColorSpace%s/BitsPerComponent 8/Filter/DCTDecode/Length %d>>\nstream\n",
				p.pxW, p.pxH, colorSpaceName(p.comps), len(p.jpeg))
			b.Write(p.jpeg)
			b.WriteString("\nendstream\n")
		})
		content := pageContent(p)
		writeObj(r.content, func(b *bytes.Buffer) {
			fmt.Fprintf(b, "<</Length %d>>\nstream\n", len(content))
			b.Write(content)
			b.WriteString("\nendstream\n")
		})
		writeObj(r.page, func(b *bytes.Buffer) {
			fmt.Fprintf(b, "<</Type/Page/Parent %d 0 R/MediaBox[0 0 %s %s]/Resources<</XObject<</Im0 %d 0 R>>/Font<</F1 %d 0 R/F2 %d 0 R/F3 %d 0 R>>>>/Contents %d 0 R>>\n",
				pagesRoot, num(p.box.Width), num(p.box.Height), r.img, helv, cidH, cidV, r.content)
		})
	}

	xrefOffset := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", next)
	buf.WriteString("0000000000 65535 f \n")
	for n := 1; n < next; n++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[n])
	}
	fmt.Fprintf(&buf, "trailer\n<</Size %d/Root %d 0 R/Info %d 0 R>>\nstartxref\n%d\n%%%%EOF\n",
		next, catalog, info, xrefOffset)

	_, err := w.Write(buf.Bytes())
	return err
}

func writeCIDDescendant(b *bytes.Buffer, fontDescriptor int) {
	fmt.Fprintf(b, "<</Type/Font/Subtype/CIDFontType0/BaseFont/STSong-Light/CIDSystemInfo<</Registry(Adobe)/Ordering(GB1)/Supplement 5>>/FontDescriptor %d 0 R/DW 1000>>\n", fontDescriptor)
}

func colorSpaceName(comps int) string {
	switch comps {
	case 1:
		return "/DeviceGray"
	case 4:
		return "/DeviceCMYK"
	default:
		return "/DeviceRGB"
	}
}

// pageContent paints the raster across the full media box, then the
// invisible text layer.
func pageContent(p *pageEntry) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "q\n%s 0 0 %s 0 0 cm\n/Im0 Do\nQ\n", num(p.box.Width), num(p.box.Height))
	for _, span := range p.spans {
		text := sanitizeSpanText(span.Text)
		if text == "" {
			continue
		}
		size := span.FontSize
		if size <= 0 {
			size = 8
		}
		b.WriteString("BT\n3 Tr\n")
		if needsCID(text) {
			font := "/F2"
			if span.Vertical {
				font = "/F3"
			}
			fmt.Fprintf(&b, "%s %s Tf\n1 0 0 1 %s %s Tm\n", font, num(size), num(span.X), num(span.Y))
			b.WriteByte('<')
			for _, u := range utf16.Encode([]rune(text)) {
				fmt.Fprintf(&b, "%04X", u)
			}
			b.WriteString("> Tj\n")
		} else {
			fmt.Fprintf(&b, "/F1 %s Tf\n1 0 0 1 %s %s Tm\n(", num(size), num(span.X), num(span.Y))
			b.Write(escapeLiteral(text))
			b.WriteString(") Tj\n")
		}
		b.WriteString("ET\n")
	}
	return b.Bytes()
}

// sanitizeSpanText collapses control characters to spaces so a span is
// always a single text-show operation.
func sanitizeSpanText(s string) string {
	var b bytes.Buffer
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			b.WriteByte(' ')
		} else {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

func needsCID(s string) bool {
	for _, r := range s {
		if r > 0x7E || r < 0x20 {
			return true
		}
	}
	return false
}

func escapeLiteral(s string) []byte {
	var b bytes.Buffer
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '(', ')', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.Bytes()
}

func num(f float64) string {
	s := strconv.FormatFloat(f, 'f', 4, 64)
	for len(s) > 0 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	if len(s) > 0 && s[len(s)-1] == '.' {
		s = s[:len(s)-1]
	}
	return s
}

// jpegInfo reads width, height and component count out of a JPEG stream's
// start-of-frame marker without decoding the image.
func jpegInfo(data []byte) (w, h, comps int, err error) {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return 0, 0, 0, fmt.Errorf("not a JPEG stream")
	}
	i := 2
	for i+3 < len(data) {
		if data[i] != 0xFF {
			i++
			continue
		}
		marker := data[i+1]
		if marker == 0xD8 || (marker >= 0xD0 && marker <= 0xD7) || marker == 0x01 {
			i += 2
			continue
		}
		length := int(data[i+2])<<8 | int(data[i+3])
		if marker >= 0xC0 && marker <= 0xCF && marker != 0xC4 && marker != 0xC8 && marker != 0xCC {
			if i+9 >= len(data) {
				break
			}
			h = int(data[i+5])<<8 | int(data[i+6])
			w = int(data[i+7])<<8 | int(data[i+8])
			comps = int(data[i+9])
			if w <= 0 || h <= 0 || comps == 0 {
				return 0, 0, 0, fmt.Errorf("malformed JPEG frame header")
			}
			return w, h, comps, nil
		}
		i += 2 + length
	}
	return 0, 0, 0, fmt.Errorf("JPEG frame header not found")
}
