// Package tesseract provides the gosseract-backed default OCR engine. One
// engine instance holds one warmed client; worker processes construct the
// engine once at startup and reuse it for every page they recognize.
package tesseract

import (
	"context"
	"fmt"
	"sync"

	"github.com/otiai10/gosseract/v2"
	"github.com/scandoc/pdfocr/ocr"
)

func init() {
	ocr.SetDefaultEngine(NewEngine())
}

// Engine implements ocr.Engine using a persistent gosseract client. The
// client is created on first use and reused for every subsequent call, which
// amortizes trained-data loading across a worker's lifetime. Engine is safe
// for concurrent use; calls are serialized on the single client.
type Engine struct {
	clientFactory func() *gosseract.Client

	mu     sync.Mutex
	client *gosseract.Client
	langs  string
}

// NewEngine constructs a Tesseract-backed OCR engine.
func NewEngine() *Engine {
	return &Engine{clientFactory: gosseract.NewClient}
}

func (e *Engine) Name() string { return "tesseract" }

// Close releases the underlying client. The engine may be reused afterwards;
// a fresh client is created on the next call.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	e.langs = ""
	return err
}

// Recognize performs OCR on a single image input and returns positioned
// text regions in image-pixel coordinates.
func (e *Engine) Recognize(ctx context.Context, in ocr.Input) ([]ocr.TextRegion, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.acquireClient(in.Languages)
	if err != nil {
		return nil, err
	}
	if err := c.SetImageFromBytes(in.Image); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	if in.DPI > 0 {
		if err := c.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(in.DPI)); err != nil {
			return nil, fmt.Errorf("set dpi: %w", err)
		}
	}
	for k, v := range in.Metadata {
		if err := c.SetVariable(gosseract.SettableVariable(k), v); err != nil {
			return nil, fmt.Errorf("set variable %s: %w", k, err)
		}
	}

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("recognize %s: %w", in.ID, err)
	}

	regions := make([]ocr.TextRegion, 0, len(boxes))
	for _, b := range boxes {
		if b.Word == "" {
			continue
		}
		regions = append(regions, ocr.TextRegion{
			Text: b.Word,
			Quad: ocr.QuadFromRect(
				float64(b.Box.Min.X), float64(b.Box.Min.Y),
				float64(b.Box.Max.X), float64(b.Box.Max.Y),
			),
			Confidence: b.Confidence / 100.0,
		})
	}
	return regions, nil
}

// acquireClient returns the persistent client, recreating it only when the
// requested language set changed.
func (e *Engine) acquireClient(langs []string) (*gosseract.Client, error) {
	key := langKey(langs)
	if e.client != nil && e.langs == key {
		return e.client, nil
	}
	if e.client != nil {
		e.client.Close()
		e.client = nil
	}
	c := e.clientFactory()
	if len(langs) > 0 {
		if err := c.SetLanguage(langs...); err != nil {
			c.Close()
			return nil, fmt.Errorf("set languages: %w", err)
		}
	}
	e.client = c
	e.langs = key
	return c, nil
}

func langKey(langs []string) string {
	key := ""
	for i, l := range langs {
		if i > 0 {
			key += "+"
		}
		key += l
	}
	return key
}
