package task

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/scandoc/pdfocr/pipeline"
)

// RunLog appends finalized outcomes to daily JSONL files, one object per
// line. The files double as the data source for today's statistics.
type RunLog struct {
	dir string
}

// NewRunLog opens (creating if needed) a run log directory. An empty dir
// selects ~/.pdfocr/logs.
func NewRunLog(dir string) (*RunLog, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		dir = filepath.Join(home, ".pdfocr", "logs")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return &RunLog{dir: dir}, nil
}

// Dir returns the backing directory.
func (l *RunLog) Dir() string { return l.dir }

type runEntry struct {
	Timestamp string `json:"timestamp"`
	*pipeline.Outcome
}

func (l *RunLog) fileFor(day time.Time) string {
	return filepath.Join(l.dir, "ocr_"+day.Format("20060102")+".jsonl")
}

// Append writes one outcome to today's log file.
func (l *RunLog) Append(outcome *pipeline.Outcome) error {
	entry := runEntry{
		Timestamp: time.Now().Format(time.RFC3339),
		Outcome:   outcome,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode run entry: %w", err)
	}
	f, err := os.OpenFile(l.fileFor(time.Now()), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open run log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write run log: %w", err)
	}
	return nil
}

// Stats aggregates successful runs.
type Stats struct {
	TotalFiles   int     `json:"total_files"`
	TotalPages   int     `json:"total_pages"`
	TotalSeconds float64 `json:"total_seconds"`
}

// TodayStats sums today's successful conversions. Unparseable lines are
// skipped.
func (l *RunLog) TodayStats() (Stats, error) {
	var stats Stats
	f, err := os.Open(l.fileFor(time.Now()))
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return stats, fmt.Errorf("open run log: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var entry struct {
			Status         string  `json:"status"`
			ProcessedPages int     `json:"processed_pages"`
			ElapsedSeconds float64 `json:"elapsed_seconds"`
		}
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			continue
		}
		if entry.Status != pipeline.StatusSucceeded.String() {
			continue
		}
		stats.TotalFiles++
		stats.TotalPages += entry.ProcessedPages
		stats.TotalSeconds += entry.ElapsedSeconds
	}
	if err := sc.Err(); err != nil {
		return stats, fmt.Errorf("scan run log: %w", err)
	}
	return stats, nil
}
