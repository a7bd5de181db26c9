package docio

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// FileSource reads a PDF from disk through pdfcpu. It keeps the parsed
// context and the file handle open across calls; image extraction seeks
// back to the start on each use.
type FileSource struct {
	path  string
	ctx   *model.Context
	file  *os.File
	boxes []PageBox
}

// OpenSource opens a PDF for page-wise reading.
func OpenSource(path string) (*FileSource, error) {
	ctx, err := api.ReadContextFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	dims, err := ctx.PageDims()
	if err != nil {
		return nil, fmt.Errorf("read page dimensions of %s: %w", path, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	boxes := make([]PageBox, len(dims))
	for i, d := range dims {
		boxes[i] = PageBox{Width: d.Width, Height: d.Height}
	}
	return &FileSource{path: path, ctx: ctx, file: f, boxes: boxes}, nil
}

func (s *FileSource) Path() string   { return s.path }
func (s *FileSource) PageCount() int { return len(s.boxes) }
func (s *FileSource) Close() error   { return s.file.Close() }

func (s *FileSource) PageBox(index int) (PageBox, error) {
	if index < 0 || index >= len(s.boxes) {
		return PageBox{}, fmt.Errorf("page %d out of range [0,%d)", index, len(s.boxes))
	}
	return s.boxes[index], nil
}

// PageImage extracts the embedded image XObjects of one page and returns
// the largest decodable one. Scanned documents carry exactly one full-page
// raster; the size rule guards against stray logos or separation masks.
func (s *FileSource) PageImage(index int) (image.Image, error) {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	pages := []string{strconv.Itoa(index + 1)}
	extracted, err := api.ExtractImagesRaw(s.file, pages, nil)
	if err != nil {
		return nil, fmt.Errorf("extract images of page %d: %w", index+1, err)
	}
	var best image.Image
	var bestPixels int
	for _, byObj := range extracted {
		for _, im := range byObj {
			data, err := io.ReadAll(im)
			if err != nil {
				continue
			}
			img, _, err := image.Decode(bytes.NewReader(data))
			if err != nil {
				continue
			}
			if px := img.Bounds().Dx() * img.Bounds().Dy(); px > bestPixels {
				best, bestPixels = img, px
			}
		}
	}
	if best == nil {
		return nil, fmt.Errorf("page %d carries no decodable raster", index+1)
	}
	return best, nil
}

// PageText scans the page's decoded content stream for text-showing
// operators and returns the strings they paint. It is a probe, not a layout
// engine: good enough to tell a page with a real text layer from a bare
// scan.
func (s *FileSource) PageText(index int) (string, error) {
	r, err := pdfcpu.ExtractPageContent(s.ctx, index+1)
	if err != nil {
		return "", fmt.Errorf("extract content of page %d: %w", index+1, err)
	}
	if r == nil {
		return "", nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return textFromContent(data), nil
}

// textFromContent walks a content stream token-wise, buffering string
// operands and committing them when a show operator (Tj, TJ, ' or ")
// consumes them. Strings consumed by any other operator are discarded.
func textFromContent(data []byte) string {
	var out strings.Builder
	var pending strings.Builder

	commit := func() {
		if pending.Len() == 0 {
			return
		}
		if out.Len() > 0 {
			out.WriteByte(' ')
		}
		out.WriteString(pending.String())
		pending.Reset()
	}

	i := 0
	for i < len(data) {
		c := data[i]
		switch {
		case c == '(':
			s, n := parseLiteralString(data[i:])
			pending.WriteString(s)
			i += n
		case c == '<' && i+1 < len(data) && data[i+1] != '<':
			s, n := parseHexString(data[i:])
			pending.WriteString(s)
			i += n
		case c == '\'' || c == '"':
			commit()
			i++
		case c == '%':
			for i < len(data) && data[i] != '\n' {
				i++
			}
		case isRegular(c):
			j := i
			for j < len(data) && isRegular(data[j]) {
				j++
			}
			switch word := string(data[i:j]); word {
			case "Tj", "TJ":
				commit()
			case "Tf", "Td", "TD", "Tm", "Tc", "Tw", "Tz", "TL", "Ts":
				// Positioning operators may interleave with TJ pieces.
			default:
				// Numbers appear between TJ array pieces as kerning
				// adjustments and must not discard buffered text.
				if !isNumberToken(word) {
					pending.Reset()
				}
			}
			i = j
		default:
			i++
		}
	}
	return out.String()
}

func isNumberToken(s string) bool {
	digits := 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c >= '0' && c <= '9':
			digits++
		case c == '+' || c == '-' || c == '.':
		default:
			return false
		}
	}
	return digits > 0
}

func isRegular(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\f', 0, '(', ')', '<', '>', '[', ']', '{', '}', '/', '%', '\'', '"':
		return false
	}
	return true
}

// parseLiteralString consumes a ( ... ) string starting at data[0] and
// returns its unescaped content plus the number of bytes consumed.
func parseLiteralString(data []byte) (string, int) {
	var b strings.Builder
	depth := 0
	i := 0
	for i < len(data) {
		c := data[i]
		switch c {
		case '\\':
			if i+1 < len(data) {
				switch data[i+1] {
				case 'n':
					b.WriteByte('\n')
				case 'r':
					b.WriteByte('\r')
				case 't':
					b.WriteByte('\t')
				case '(', ')', '\\':
					b.WriteByte(data[i+1])
				}
				i += 2
				continue
			}
			i++
		case '(':
			depth++
			if depth > 1 {
				b.WriteByte(c)
			}
			i++
		case ')':
			depth--
			if depth == 0 {
				return b.String(), i + 1
			}
			b.WriteByte(c)
			i++
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), i
}

// parseHexString consumes a < ... > string and decodes it, interpreting the
// bytes as UTF-16BE when they look like it (even length with a BMP-range
// pattern), otherwise as raw bytes.
func parseHexString(data []byte) (string, int) {
	i := 1
	var nibbles []byte
	for i < len(data) && data[i] != '>' {
		c := data[i]
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') {
			nibbles = append(nibbles, c)
		}
		i++
	}
	if i < len(data) {
		i++ // consume '>'
	}
	if len(nibbles)%2 == 1 {
		nibbles = append(nibbles, '0')
	}
	raw := make([]byte, len(nibbles)/2)
	for j := range raw {
		raw[j] = hexVal(nibbles[2*j])<<4 | hexVal(nibbles[2*j+1])
	}
	return decodeStringBytes(raw), i
}

func hexVal(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

// decodeStringBytes treats the bytes as UTF-16BE when they plausibly are:
// a BOM, all-zero high bytes (2-byte Latin), or mostly beyond the Latin
// range (CJK through a UCS-2 CMap). Anything else passes through raw.
func decodeStringBytes(raw []byte) string {
	if len(raw) >= 2 && raw[0] == 0xFE && raw[1] == 0xFF {
		raw = raw[2:]
	} else if len(raw)%2 != 0 || !looksUTF16BE(raw) {
		return string(raw)
	}
	if len(raw)%2 != 0 {
		return string(raw)
	}
	units := make([]uint16, len(raw)/2)
	for j := range units {
		units[j] = uint16(raw[2*j])<<8 | uint16(raw[2*j+1])
	}
	s := string(utf16.Decode(units))
	if !utf8.ValidString(s) || strings.ContainsRune(s, utf8.RuneError) {
		return string(raw)
	}
	return s
}

func looksUTF16BE(raw []byte) bool {
	if len(raw) == 0 || len(raw)%2 != 0 {
		return false
	}
	zeroHigh, wide := 0, 0
	for j := 0; j+1 < len(raw); j += 2 {
		u := uint16(raw[j])<<8 | uint16(raw[j+1])
		if raw[j] == 0 {
			zeroHigh++
		}
		if u >= 0x2000 {
			wide++
		}
	}
	n := len(raw) / 2
	return zeroHigh == n || wide*2 >= n
}
