package task

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/scandoc/pdfocr/pipeline"
)

// ErrTimeout reports that one document attempt exceeded its wall-clock
// budget.
var ErrTimeout = errors.New("document processing timed out")

// FailureClass decides what happens after a failed document attempt.
type FailureClass int

const (
	// Cancelled stops everything; the checkpoint survives for resume.
	Cancelled FailureClass = iota
	// NonRetryable aborts the document; another attempt would hit the
	// same wall (missing file, permissions, structural corruption).
	NonRetryable
	// Retryable is worth another attempt under a lighter profile, since
	// resource-exhaustion failures often pass with fewer workers or a
	// lower resolution.
	Retryable
)

func (c FailureClass) String() string {
	switch c {
	case Cancelled:
		return "cancelled"
	case NonRetryable:
		return "non-retryable"
	case Retryable:
		return "retryable"
	default:
		return "unknown"
	}
}

// nonRetryableMarkers are substrings of error text that indicate input
// problems no amount of retrying fixes. Matching on text is a last resort
// for errors that cross the pdfcpu and tesseract boundaries untyped.
var nonRetryableMarkers = []string{
	"no such file",
	"permission denied",
	"not a PDF",
	"corrupt",
	"encrypted",
	"password",
	"invalid cross reference",
	"document has no pages",
}

// Classify maps a document attempt error to its failure class.
func Classify(err error) FailureClass {
	if err == nil {
		return Retryable
	}
	if errors.Is(err, pipeline.ErrCancelled) || errors.Is(err, context.Canceled) {
		return Cancelled
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return Retryable
	}
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
		return NonRetryable
	}
	if errors.Is(err, pipeline.ErrIntegrity) {
		return Retryable
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range nonRetryableMarkers {
		if strings.Contains(msg, strings.ToLower(marker)) {
			return NonRetryable
		}
	}
	return Retryable
}
