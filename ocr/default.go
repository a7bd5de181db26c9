package ocr

import "context"

var defaultEngine Engine = noopEngine{}

// DefaultEngine returns the registered default OCR engine. The tesseract
// subpackage installs itself here on import.
func DefaultEngine() Engine {
	return defaultEngine
}

// SetDefaultEngine sets the library's default OCR engine.
func SetDefaultEngine(engine Engine) {
	defaultEngine = engine
}

type noopEngine struct{}

func (noopEngine) Name() string { return "noop" }

func (noopEngine) Recognize(ctx context.Context, input Input) ([]TextRegion, error) {
	return nil, nil
}
