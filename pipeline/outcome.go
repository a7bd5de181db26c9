package pipeline

import (
	"sort"
	"time"
)

// Status is the terminal state of one conversion run. Cancelled is distinct
// from Failed: a cancelled run keeps its checkpoint and temp artifact for
// resume, a failed run reports what broke.
type Status int

const (
	StatusSucceeded Status = iota
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Outcome summarizes one conversion run. It is immutable once Run returns.
// Page numbers in FallbackPages and PageRetries are 1-based, matching what
// operators see in logs and viewers.
type Outcome struct {
	InputPath  string `json:"input_path"`
	OutputPath string `json:"output_path"`

	Status       Status `json:"-"`
	StatusText   string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`

	TotalPages     int `json:"total_pages"`
	ProcessedPages int `json:"processed_pages"`
	SkippedPages   int `json:"skipped_pages"`

	Errors []string `json:"errors,omitempty"`

	Resumed    bool `json:"resumed,omitempty"`
	ResumePage int  `json:"resume_page,omitempty"`

	FallbackPages []int       `json:"fallback_pages,omitempty"`
	PageRetries   map[int]int `json:"page_retries,omitempty"`
	QueueStalls   int         `json:"queue_stalls,omitempty"`

	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"-"`
	ElapsedS  float64       `json:"elapsed_seconds"`
}

// finalize freezes derived fields.
func (o *Outcome) finalize(status Status, errMsg string) *Outcome {
	o.Status = status
	o.StatusText = status.String()
	o.ErrorMessage = errMsg
	o.Elapsed = time.Since(o.StartedAt)
	o.ElapsedS = o.Elapsed.Seconds()
	sort.Ints(o.FallbackPages)
	return o
}
