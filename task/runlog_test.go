package task

import (
	"testing"

	"github.com/scandoc/pdfocr/pipeline"
)

func TestRunLogAppendAndTodayStats(t *testing.T) {
	log, err := NewRunLog(t.TempDir())
	if err != nil {
		t.Fatalf("NewRunLog() error = %v", err)
	}

	entries := []*pipeline.Outcome{
		{
			InputPath:      "/a.pdf",
			StatusText:     pipeline.StatusSucceeded.String(),
			ProcessedPages: 12,
			ElapsedS:       4.5,
		},
		{
			InputPath:      "/b.pdf",
			StatusText:     pipeline.StatusSucceeded.String(),
			ProcessedPages: 3,
			ElapsedS:       1.5,
		},
		{
			InputPath:    "/c.pdf",
			StatusText:   pipeline.StatusFailed.String(),
			ErrorMessage: "boom",
		},
	}
	for _, e := range entries {
		if err := log.Append(e); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	stats, err := log.TodayStats()
	if err != nil {
		t.Fatalf("TodayStats() error = %v", err)
	}
	if stats.TotalFiles != 2 {
		t.Fatalf("files = %d, want 2 (failures excluded)", stats.TotalFiles)
	}
	if stats.TotalPages != 15 {
		t.Fatalf("pages = %d, want 15", stats.TotalPages)
	}
	if stats.TotalSeconds != 6 {
		t.Fatalf("seconds = %g, want 6", stats.TotalSeconds)
	}
}

func TestTodayStatsEmptyWithoutLog(t *testing.T) {
	log, err := NewRunLog(t.TempDir())
	if err != nil {
		t.Fatalf("NewRunLog() error = %v", err)
	}
	stats, err := log.TodayStats()
	if err != nil {
		t.Fatalf("TodayStats() error = %v", err)
	}
	if stats != (Stats{}) {
		t.Fatalf("stats = %+v, want zero", stats)
	}
}
