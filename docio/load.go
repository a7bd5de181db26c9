package docio

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadDocument restores a Document from a fast (non-compacted) save made by
// this package. It exists for resume: an interrupted run's temp artifact is
// read back into memory with its rasters and text spans intact, then
// assembly continues. It understands only this writer's own output; a
// compacted or foreign PDF is rejected.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return nil, fmt.Errorf("load %s: not a PDF", path)
	}

	objects := indexObjects(data)
	root, ok := trailerRoot(data)
	if !ok {
		return nil, fmt.Errorf("load %s: trailer root not found", path)
	}
	catalog, ok := objects[root]
	if !ok {
		return nil, fmt.Errorf("load %s: catalog object missing", path)
	}
	pagesNum, ok := dictRef(catalog, "/Pages")
	if !ok {
		return nil, fmt.Errorf("load %s: page tree missing", path)
	}
	kids, ok := kidsRefs(objects[pagesNum])
	if !ok {
		return nil, fmt.Errorf("load %s: page list missing", path)
	}

	d := NewDocument()
	for _, kid := range kids {
		page, err := loadPage(objects, kid)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		d.pages = append(d.pages, page)
	}
	if len(d.pages) == 0 {
		return nil, fmt.Errorf("load %s: no pages", path)
	}
	return d, nil
}

func loadPage(objects map[int][]byte, pageNum int) (*pageEntry, error) {
	body, ok := objects[pageNum]
	if !ok {
		return nil, fmt.Errorf("page object %d missing", pageNum)
	}
	box, ok := mediaBox(body)
	if !ok {
		return nil, fmt.Errorf("page object %d has no media box", pageNum)
	}
	imgNum, ok := dictRef(body, "/Im0")
	if !ok {
		return nil, fmt.Errorf("page object %d has no raster", pageNum)
	}
	contentNum, ok := dictRef(body, "/Contents")
	if !ok {
		return nil, fmt.Errorf("page object %d has no content", pageNum)
	}

	jpegData, err := streamPayload(objects[imgNum])
	if err != nil {
		return nil, fmt.Errorf("page object %d raster: %w", pageNum, err)
	}
	w, h, comps, err := jpegInfo(jpegData)
	if err != nil {
		return nil, fmt.Errorf("page object %d raster: %w", pageNum, err)
	}
	content, err := streamPayload(objects[contentNum])
	if err != nil {
		return nil, fmt.Errorf("page object %d content: %w", pageNum, err)
	}

	return &pageEntry{
		box:   box,
		jpeg:  jpegData,
		pxW:   w,
		pxH:   h,
		comps: comps,
		spans: parseSpans(content),
	}, nil
}

// indexObjects maps object numbers to their body bytes (between "N 0 obj"
// and "endobj").
func indexObjects(data []byte) map[int][]byte {
	objects := make(map[int][]byte)
	rest := data
	offset := 0
	for {
		i := bytes.Index(rest, []byte(" 0 obj\n"))
		if i < 0 {
			break
		}
		numStart := i
		for numStart > 0 && rest[numStart-1] >= '0' && rest[numStart-1] <= '9' {
			numStart--
		}
		num, err := strconv.Atoi(string(rest[numStart:i]))
		bodyStart := i + len(" 0 obj\n")
		segment := rest[bodyStart:]
		end := objectEnd(segment)
		if err != nil || numStart == i || end < 0 {
			rest = segment
			offset += bodyStart
			continue
		}
		objects[num] = segment[:end]
		rest = segment[end:]
		offset += bodyStart + end
	}
	return objects
}

// objectEnd finds the "endobj" terminating an object body. Stream payloads
// are skipped via their declared /Length first, since raw JPEG bytes can
// contain anything, including the terminator itself.
func objectEnd(segment []byte) int {
	end := bytes.Index(segment, []byte("endobj"))
	sIdx := bytes.Index(segment, []byte("stream\n"))
	if sIdx < 0 || (end >= 0 && end < sIdx) {
		return end
	}
	if n, ok := dictInt(segment[:sIdx], "/Length"); ok {
		tail := sIdx + len("stream\n") + n
		if tail < len(segment) {
			if rel := bytes.Index(segment[tail:], []byte("endobj")); rel >= 0 {
				return tail + rel
			}
		}
		return -1
	}
	return end
}

func trailerRoot(data []byte) (int, bool) {
	i := bytes.LastIndex(data, []byte("trailer"))
	if i < 0 {
		return 0, false
	}
	return dictRef(data[i:], "/Root")
}

// dictRef finds "key N 0 R" inside a dict body and returns N.
func dictRef(body []byte, key string) (int, bool) {
	i := bytes.Index(body, []byte(key))
	if i < 0 {
		return 0, false
	}
	rest := body[i+len(key):]
	var num int
	var matched bool
	for len(rest) > 0 && (rest[0] == ' ' || rest[0] == '\n') {
		rest = rest[1:]
	}
	j := 0
	for j < len(rest) && rest[j] >= '0' && rest[j] <= '9' {
		num = num*10 + int(rest[j]-'0')
		matched = true
		j++
	}
	if !matched || !bytes.HasPrefix(rest[j:], []byte(" 0 R")) {
		return 0, false
	}
	return num, true
}

func kidsRefs(body []byte) ([]int, bool) {
	i := bytes.Index(body, []byte("/Kids["))
	if i < 0 {
		return nil, false
	}
	end := bytes.IndexByte(body[i:], ']')
	if end < 0 {
		return nil, false
	}
	var kids []int
	for _, field := range strings.Fields(string(body[i+len("/Kids[") : i+end])) {
		if field == "0" || field == "R" {
			continue
		}
		n, err := strconv.Atoi(field)
		if err != nil {
			return nil, false
		}
		kids = append(kids, n)
	}
	return kids, len(kids) > 0
}

func mediaBox(body []byte) (PageBox, bool) {
	i := bytes.Index(body, []byte("/MediaBox[0 0 "))
	if i < 0 {
		return PageBox{}, false
	}
	end := bytes.IndexByte(body[i:], ']')
	if end < 0 {
		return PageBox{}, false
	}
	fields := strings.Fields(string(body[i+len("/MediaBox[0 0 ") : i+end]))
	if len(fields) != 2 {
		return PageBox{}, false
	}
	w, err1 := strconv.ParseFloat(fields[0], 64)
	h, err2 := strconv.ParseFloat(fields[1], 64)
	if err1 != nil || err2 != nil {
		return PageBox{}, false
	}
	return PageBox{Width: w, Height: h}, true
}

// streamPayload returns the bytes between "stream\n" and the final
// "\nendstream", honoring the declared /Length when present.
func streamPayload(body []byte) ([]byte, error) {
	i := bytes.Index(body, []byte("stream\n"))
	if i < 0 {
		return nil, fmt.Errorf("no stream section")
	}
	start := i + len("stream\n")
	if n, ok := dictInt(body[:i], "/Length"); ok && start+n <= len(body) {
		return append([]byte(nil), body[start:start+n]...), nil
	}
	end := bytes.LastIndex(body, []byte("\nendstream"))
	if end < start {
		return nil, fmt.Errorf("unterminated stream section")
	}
	return append([]byte(nil), body[start:end]...), nil
}

func dictInt(body []byte, key string) (int, bool) {
	i := bytes.Index(body, []byte(key+" "))
	if i < 0 {
		return 0, false
	}
	rest := body[i+len(key)+1:]
	j := 0
	n := 0
	for j < len(rest) && rest[j] >= '0' && rest[j] <= '9' {
		n = n*10 + int(rest[j]-'0')
		j++
	}
	return n, j > 0
}

// parseSpans recovers text spans from a content stream this writer emitted.
// The emitted shape per span is fixed: BT, 3 Tr, font select, Tm position,
// one show, ET.
func parseSpans(content []byte) []TextSpan {
	var spans []TextSpan
	var cur *TextSpan
	for _, line := range strings.Split(string(content), "\n") {
		switch {
		case line == "BT":
			cur = &TextSpan{}
		case cur == nil:
			continue
		case strings.HasSuffix(line, " Tf"):
			fields := strings.Fields(line)
			if len(fields) != 3 {
				cur = nil
				continue
			}
			cur.Vertical = fields[0] == "/F3"
			if size, err := strconv.ParseFloat(fields[1], 64); err == nil {
				cur.FontSize = size
			}
		case strings.HasSuffix(line, " Tm"):
			fields := strings.Fields(line)
			if len(fields) != 7 {
				cur = nil
				continue
			}
			x, err1 := strconv.ParseFloat(fields[4], 64)
			y, err2 := strconv.ParseFloat(fields[5], 64)
			if err1 != nil || err2 != nil {
				cur = nil
				continue
			}
			cur.X, cur.Y = x, y
		case strings.HasSuffix(line, " Tj"):
			payload := strings.TrimSuffix(line, " Tj")
			if strings.HasPrefix(payload, "(") {
				text, _ := parseLiteralString([]byte(payload))
				cur.Text = text
			} else if strings.HasPrefix(payload, "<") {
				text, _ := parseHexString([]byte(payload))
				cur.Text = text
			}
			if cur.Text != "" {
				spans = append(spans, *cur)
			}
			cur = nil
		}
	}
	return spans
}
