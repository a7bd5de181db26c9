package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"strconv"
)

// InputOption mutates an OCR input before submission.
type InputOption func(*Input)

// WithLanguages sets language hints on the OCR input.
func WithLanguages(langs ...string) InputOption {
	return func(in *Input) { in.Languages = append([]string(nil), langs...) }
}

// WithDPI overrides the DPI value on the OCR input.
func WithDPI(dpi int) InputOption {
	return func(in *Input) { in.DPI = dpi }
}

// WithMetadata sets provider-specific metadata for the input.
func WithMetadata(metadata map[string]string) InputOption {
	return func(in *Input) {
		if len(metadata) == 0 {
			in.Metadata = nil
			return
		}
		in.Metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			in.Metadata[k] = v
		}
	}
}

// WithTesseractPSM sets Tesseract's page segmentation mode. Scanned book
// and report pages usually want mode 6 (assume a single uniform block).
func WithTesseractPSM(mode int) InputOption {
	return func(in *Input) {
		if in.Metadata == nil {
			in.Metadata = make(map[string]string)
		}
		in.Metadata["tessedit_pageseg_mode"] = strconv.Itoa(mode)
	}
}

// WithTesseractWhitelist limits recognition to the given characters, for
// inputs known to be numeric or otherwise constrained.
func WithTesseractWhitelist(chars string) InputOption {
	return func(in *Input) {
		if in.Metadata == nil {
			in.Metadata = make(map[string]string)
		}
		in.Metadata["tessedit_char_whitelist"] = chars
	}
}

// TransferQuality is the JPEG quality used when encoding rasters for OCR
// submission. Lossy encoding cuts payload size roughly tenfold against raw
// pixels, which matters when inputs cross a process boundary.
const TransferQuality = 95

// InputFromRaster JPEG-encodes a rendered page raster into an OCR input.
// The generated ID is stable for a page index to simplify correlation with
// downstream results.
func InputFromRaster(pageIndex int, img image.Image, opts ...InputOption) (Input, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: TransferQuality}); err != nil {
		return Input{}, fmt.Errorf("encode page raster: %w", err)
	}
	in := Input{
		ID:        fmt.Sprintf("page-%d", pageIndex),
		Image:     buf.Bytes(),
		Format:    ImageFormatJPEG,
		PageIndex: pageIndex,
	}
	for _, opt := range opts {
		opt(&in)
	}
	return in, nil
}
