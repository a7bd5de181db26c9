// Package checkpoint persists per-document conversion progress so an
// interrupted run can resume exactly where it stopped. One checkpoint record
// tracks which pages of one input document are already completed, skipped,
// or failed, plus the parameters the run was started with; a checkpoint
// created under different parameters is invalid and discarded.
package checkpoint

import (
	"encoding/json"
	"sort"
	"time"
)

// PageOutcome is the terminal state recorded for a processed page.
type PageOutcome int

const (
	PageCompleted PageOutcome = iota
	PageSkipped
	PageFailed
)

func (o PageOutcome) String() string {
	switch o {
	case PageCompleted:
		return "completed"
	case PageSkipped:
		return "skipped"
	case PageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PageSet is a set of zero-based page indices. It marshals as a sorted JSON
// array for a stable on-disk representation.
type PageSet map[int]struct{}

func NewPageSet(pages ...int) PageSet {
	s := make(PageSet, len(pages))
	for _, p := range pages {
		s[p] = struct{}{}
	}
	return s
}

func (s PageSet) Add(page int)      { s[page] = struct{}{} }
func (s PageSet) Remove(page int)   { delete(s, page) }
func (s PageSet) Has(page int) bool { _, ok := s[page]; return ok }
func (s PageSet) Len() int          { return len(s) }

// Sorted returns the members in ascending order.
func (s PageSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

func (s PageSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *PageSet) UnmarshalJSON(data []byte) error {
	var pages []int
	if err := json.Unmarshal(data, &pages); err != nil {
		return err
	}
	*s = NewPageSet(pages...)
	return nil
}

// Params are the processing parameters a checkpoint was created with. A
// resume attempt whose parameters differ must discard the checkpoint, since
// pages produced under different settings cannot be mixed in one output.
type Params struct {
	DPI       int
	Languages []string
}

// Checkpoint is the durable progress record for one document conversion.
// The three page sets are pairwise disjoint; Mark on the owning Store
// maintains that invariant.
type Checkpoint struct {
	InputPath      string    `json:"input_path"`
	OutputPath     string    `json:"output_path"`
	TempOutputPath string    `json:"temp_output_path"`
	TotalPages     int       `json:"total_pages"`
	Completed      PageSet   `json:"completed_pages"`
	Skipped        PageSet   `json:"skipped_pages"`
	Failed         PageSet   `json:"failed_pages"`
	StartedAt      time.Time `json:"started_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	DPI            int       `json:"dpi"`
	Languages      []string  `json:"languages"`
	InputHash      string    `json:"input_hash"`
}

// Seen reports whether the page already has a terminal outcome.
func (c *Checkpoint) Seen(page int) bool {
	return c.Completed.Has(page) || c.Skipped.Has(page) || c.Failed.Has(page)
}

// NextPage returns the smallest unprocessed page index, or -1 when every
// index in [0, TotalPages) is covered by one of the three sets.
func (c *Checkpoint) NextPage() int {
	for i := 0; i < c.TotalPages; i++ {
		if !c.Seen(i) {
			return i
		}
	}
	return -1
}

// IsComplete reports whether all pages have a terminal outcome.
func (c *Checkpoint) IsComplete() bool { return c.NextPage() == -1 }

// DonePages is the number of pages with any terminal outcome.
func (c *Checkpoint) DonePages() int {
	return c.Completed.Len() + c.Skipped.Len() + c.Failed.Len()
}

// ProgressPercent returns rounded-down completion in [0,100].
func (c *Checkpoint) ProgressPercent() int {
	if c.TotalPages == 0 {
		return 0
	}
	return c.DonePages() * 100 / c.TotalPages
}

// MatchesParams reports whether a prior checkpoint is reusable for a run
// with the given page count and parameters.
func (c *Checkpoint) MatchesParams(totalPages int, p Params) bool {
	if c.TotalPages != totalPages || c.DPI != p.DPI {
		return false
	}
	if len(c.Languages) != len(p.Languages) {
		return false
	}
	for i, l := range c.Languages {
		if p.Languages[i] != l {
			return false
		}
	}
	return true
}

// Snapshot returns a deep copy. Progress readers outside the assembly stage
// (a polling UI, for example) must work from a snapshot, never the live
// record the writer is mutating.
func (c *Checkpoint) Snapshot() *Checkpoint {
	cp := *c
	cp.Completed = NewPageSet(c.Completed.Sorted()...)
	cp.Skipped = NewPageSet(c.Skipped.Sorted()...)
	cp.Failed = NewPageSet(c.Failed.Sorted()...)
	cp.Languages = append([]string(nil), c.Languages...)
	return &cp
}
