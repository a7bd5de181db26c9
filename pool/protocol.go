// Package pool runs recognition in a fixed set of worker OS processes. The
// parent talks to each worker over its stdin/stdout with length-prefixed
// frames; page rasters cross the boundary as JPEG. Process isolation exists
// because the recognition engine links a C library whose crashes must not
// take the coordinator down with them.
package pool

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/scandoc/pdfocr/ocr"
)

// maxFrame bounds any single frame section. A length prefix beyond it means
// the stream is corrupt, not that a page is that large.
const maxFrame = 256 << 20

// taskHeader is the JSON half of a task frame; the raster follows as a raw
// binary section.
type taskHeader struct {
	ID        string            `json:"id"`
	PageIndex int               `json:"page_index"`
	DPI       int               `json:"dpi"`
	Languages []string          `json:"languages"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// resultFrame carries one recognition result back to the parent.
type resultFrame struct {
	ID      string           `json:"id"`
	Regions []ocr.TextRegion `json:"regions"`
	Err     string           `json:"error,omitempty"`
}

func writeSection(w io.Writer, data []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readSection(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrame {
		return nil, fmt.Errorf("frame section of %d bytes exceeds limit", n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

// writeTask sends one recognition input as a header section plus a raster
// section.
func writeTask(w io.Writer, in ocr.Input) error {
	header, err := json.Marshal(taskHeader{
		ID:        in.ID,
		PageIndex: in.PageIndex,
		DPI:       in.DPI,
		Languages: in.Languages,
		Metadata:  in.Metadata,
	})
	if err != nil {
		return fmt.Errorf("encode task header: %w", err)
	}
	if err := writeSection(w, header); err != nil {
		return fmt.Errorf("write task header: %w", err)
	}
	if err := writeSection(w, in.Image); err != nil {
		return fmt.Errorf("write task raster: %w", err)
	}
	return nil
}

// readTask reads one task. io.EOF before the first byte of a header means a
// clean end of stream.
func readTask(r io.Reader) (ocr.Input, error) {
	header, err := readSection(r)
	if err != nil {
		return ocr.Input{}, err
	}
	var h taskHeader
	if err := json.Unmarshal(header, &h); err != nil {
		return ocr.Input{}, fmt.Errorf("decode task header: %w", err)
	}
	img, err := readSection(r)
	if err != nil {
		return ocr.Input{}, fmt.Errorf("read task raster: %w", err)
	}
	return ocr.Input{
		ID:        h.ID,
		Image:     img,
		Format:    ocr.ImageFormatJPEG,
		PageIndex: h.PageIndex,
		DPI:       h.DPI,
		Languages: h.Languages,
		Metadata:  h.Metadata,
	}, nil
}

func writeResult(w io.Writer, res resultFrame) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return writeSection(w, data)
}

func readResult(r io.Reader) (resultFrame, error) {
	data, err := readSection(r)
	if err != nil {
		return resultFrame{}, err
	}
	var res resultFrame
	if err := json.Unmarshal(data, &res); err != nil {
		return resultFrame{}, fmt.Errorf("decode result: %w", err)
	}
	return res, nil
}
