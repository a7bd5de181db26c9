package pipeline

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/scandoc/pdfocr/docio"
	"github.com/scandoc/pdfocr/ocr"
	"github.com/scandoc/pdfocr/render"
)

const (
	minFontSize = 4
	maxFontSize = 72
)

// buildSpans converts recognition regions (image-pixel space, top-left
// origin) into positioned invisible text spans (PDF points, bottom-left
// origin). Text is NFKC-normalized so fullwidth forms and compatibility
// characters match ordinary search queries. Regions below the confidence
// floor are dropped.
func buildSpans(regions []ocr.TextRegion, page *render.Page, minConfidence float64) []docio.TextSpan {
	scale := page.ActualScale
	if scale <= 0 {
		return nil
	}
	spans := make([]docio.TextSpan, 0, len(regions))
	for _, region := range regions {
		if region.Confidence < minConfidence {
			continue
		}
		text := norm.NFKC.String(strings.TrimSpace(region.Text))
		if text == "" {
			continue
		}

		b := region.Bounds()
		w := b.Width / scale
		h := b.Height / scale
		x := b.X / scale
		yTop := b.Y / scale

		// Height more than twice the width reads as a vertical column.
		vertical := h > w*2

		chars := float64(len([]rune(text)))
		if chars == 0 {
			chars = 1
		}
		var size float64
		if vertical {
			size = min2(w*0.9, h/chars*0.9)
		} else {
			size = min2(h*0.9, w/chars*1.5)
		}
		if size < minFontSize {
			size = minFontSize
		}
		if size > maxFontSize {
			size = maxFontSize
		}

		span := docio.TextSpan{
			Text:     text,
			Width:    w,
			Height:   h,
			FontSize: size,
			Vertical: vertical,
		}
		if vertical {
			// Columns hang from their top-right corner.
			span.X = x + w
			span.Y = page.Box.Height - yTop
		} else {
			// Baseline sits roughly at the bottom of the region box.
			span.X = x
			span.Y = page.Box.Height - yTop - h
		}
		spans = append(spans, span)
	}
	return spans
}

func min2(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
