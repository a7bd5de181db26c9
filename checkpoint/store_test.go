package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return s
}

func writeInput(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.pdf")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return path
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("partial"), 0o644); err != nil {
		t.Fatalf("touch %s: %v", path, err)
	}
}

func TestNextPage(t *testing.T) {
	c := &Checkpoint{
		TotalPages: 5,
		Completed:  NewPageSet(0, 1),
		Skipped:    NewPageSet(2),
		Failed:     NewPageSet(),
	}
	if got := c.NextPage(); got != 3 {
		t.Fatalf("NextPage() = %d, want 3", got)
	}
	c.Failed.Add(3)
	c.Completed.Add(4)
	if got := c.NextPage(); got != -1 {
		t.Fatalf("NextPage() = %d, want -1", got)
	}
	if !c.IsComplete() {
		t.Fatalf("expected complete checkpoint")
	}
}

func TestMarkKeepsSetsDisjoint(t *testing.T) {
	s := newTestStore(t)
	input := writeInput(t, "content")
	c, err := s.Create(input, filepath.Join(t.TempDir(), "out.pdf"), 10, Params{DPI: 300, Languages: []string{"eng"}})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	outcomes := []PageOutcome{PageFailed, PageSkipped, PageCompleted, PageCompleted}
	for _, o := range outcomes {
		if err := s.Mark(c, 4, o); err != nil {
			t.Fatalf("Mark(%v) error = %v", o, err)
		}
		inSets := 0
		for _, set := range []PageSet{c.Completed, c.Skipped, c.Failed} {
			if set.Has(4) {
				inSets++
			}
		}
		if inSets != 1 {
			t.Fatalf("page present in %d sets after Mark(%v)", inSets, o)
		}
	}
	if !c.Completed.Has(4) {
		t.Fatalf("final outcome not completed: %+v", c)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	input := writeInput(t, "same bytes")
	out := filepath.Join(t.TempDir(), "out.pdf")

	c, err := s.Create(input, out, 12, Params{DPI: 240, Languages: []string{"eng", "chi_sim"}})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	touch(t, c.TempOutputPath)

	for _, page := range []int{0, 5, 7} {
		if err := s.Mark(c, page, PageCompleted); err != nil {
			t.Fatalf("Mark() error = %v", err)
		}
	}
	if err := s.Mark(c, 2, PageSkipped); err != nil {
		t.Fatalf("Mark() error = %v", err)
	}
	if err := s.Mark(c, 9, PageFailed); err != nil {
		t.Fatalf("Mark() error = %v", err)
	}

	loaded, err := s.Load(input)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded == nil {
		t.Fatalf("Load() returned nil for valid checkpoint")
	}
	if !reflect.DeepEqual(loaded.Completed.Sorted(), []int{0, 5, 7}) {
		t.Fatalf("completed pages = %v", loaded.Completed.Sorted())
	}
	if !reflect.DeepEqual(loaded.Skipped.Sorted(), []int{2}) {
		t.Fatalf("skipped pages = %v", loaded.Skipped.Sorted())
	}
	if !reflect.DeepEqual(loaded.Failed.Sorted(), []int{9}) {
		t.Fatalf("failed pages = %v", loaded.Failed.Sorted())
	}
	if loaded.TotalPages != 12 || loaded.DPI != 240 {
		t.Fatalf("parameters lost: %+v", loaded)
	}
	if !loaded.MatchesParams(12, Params{DPI: 240, Languages: []string{"eng", "chi_sim"}}) {
		t.Fatalf("MatchesParams() = false for identical params")
	}
	if loaded.MatchesParams(12, Params{DPI: 300, Languages: []string{"eng", "chi_sim"}}) {
		t.Fatalf("MatchesParams() = true for different dpi")
	}
}

func TestLoadRejectsChangedInput(t *testing.T) {
	s := newTestStore(t)
	input := writeInput(t, "original content")
	c, err := s.Create(input, filepath.Join(t.TempDir(), "out.pdf"), 3, Params{DPI: 300})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	touch(t, c.TempOutputPath)

	if err := os.WriteFile(input, []byte("entirely different content"), 0o644); err != nil {
		t.Fatalf("rewrite input: %v", err)
	}
	loaded, err := s.Load(input)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded != nil {
		t.Fatalf("expected changed input to invalidate checkpoint")
	}
	if again, _ := s.Load(input); again != nil {
		t.Fatalf("stale checkpoint file should have been deleted")
	}
}

func TestLoadRejectsMissingTempArtifact(t *testing.T) {
	s := newTestStore(t)
	input := writeInput(t, "content")
	if _, err := s.Create(input, filepath.Join(t.TempDir(), "out.pdf"), 3, Params{DPI: 300}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	// Temp artifact was never written.
	loaded, err := s.Load(input)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded != nil {
		t.Fatalf("expected missing temp artifact to invalidate checkpoint")
	}
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	s := newTestStore(t)
	input := writeInput(t, "content")
	c, err := s.Create(input, filepath.Join(t.TempDir(), "out.pdf"), 3, Params{DPI: 300})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	touch(t, c.TempOutputPath)
	if err := os.WriteFile(s.pathFor(input), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("corrupt checkpoint: %v", err)
	}
	loaded, err := s.Load(input)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded != nil {
		t.Fatalf("expected corrupt checkpoint to be discarded")
	}
}

func TestCleanupRemovesRecordAndArtifact(t *testing.T) {
	s := newTestStore(t)
	input := writeInput(t, "content")
	c, err := s.Create(input, filepath.Join(t.TempDir(), "out.pdf"), 3, Params{DPI: 300})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	touch(t, c.TempOutputPath)

	if err := s.Cleanup(c); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if _, err := os.Stat(c.TempOutputPath); !os.IsNotExist(err) {
		t.Fatalf("temp artifact still present")
	}
	if loaded, _ := s.Load(input); loaded != nil {
		t.Fatalf("checkpoint still present after cleanup")
	}
}

func TestSweepRemovesStaleAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	fresh := writeInput(t, "fresh")
	stale := writeInput(t, "stale")
	fc, err := s.Create(fresh, filepath.Join(t.TempDir(), "fresh_out.pdf"), 2, Params{DPI: 300})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	touch(t, fc.TempOutputPath)

	sc, err := s.Create(stale, filepath.Join(t.TempDir(), "stale_out.pdf"), 2, Params{DPI: 300})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	touch(t, sc.TempOutputPath)
	sc.UpdatedAt = time.Now().Add(-48 * time.Hour)
	data, _ := json.Marshal(sc)
	if err := os.WriteFile(s.pathFor(stale), data, 0o644); err != nil {
		t.Fatalf("backdate checkpoint: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "junk.checkpoint.json"), []byte("junk"), 0o644); err != nil {
		t.Fatalf("write junk: %v", err)
	}

	cleaned, err := s.Sweep(24 * time.Hour)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if cleaned != 2 {
		t.Fatalf("Sweep() cleaned %d, want 2", cleaned)
	}
	if _, err := os.Stat(sc.TempOutputPath); !os.IsNotExist(err) {
		t.Fatalf("stale temp artifact survived sweep")
	}
	if loaded, _ := s.Load(fresh); loaded == nil {
		t.Fatalf("fresh checkpoint should survive sweep")
	}
}

func TestFingerprintChangesWithContent(t *testing.T) {
	a := writeInput(t, "first contents")
	h1, err := Fingerprint(a)
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	h2, err := Fingerprint(a)
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	if h1 != h2 {
		t.Fatalf("fingerprint not stable: %s vs %s", h1, h2)
	}
	if err := os.WriteFile(a, []byte("second contents"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	h3, err := Fingerprint(a)
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	if h3 == h1 {
		t.Fatalf("fingerprint unchanged after content change")
	}
}

func TestTempOutputPathIsHiddenSibling(t *testing.T) {
	got := TempOutputPath("/data/scans/report.pdf")
	if got != "/data/scans/.report_tmp.pdf" {
		t.Fatalf("TempOutputPath() = %s", got)
	}
}

func TestIncompleteListsOnlyUnfinished(t *testing.T) {
	s := newTestStore(t)
	input := writeInput(t, "content")
	c, err := s.Create(input, filepath.Join(t.TempDir(), "out.pdf"), 2, Params{DPI: 300})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	touch(t, c.TempOutputPath)

	list, err := s.Incomplete()
	if err != nil {
		t.Fatalf("Incomplete() error = %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("Incomplete() = %d entries, want 1", len(list))
	}

	s.Mark(c, 0, PageCompleted)
	s.Mark(c, 1, PageSkipped)
	list, err = s.Incomplete()
	if err != nil {
		t.Fatalf("Incomplete() error = %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("Incomplete() = %d entries after completion, want 0", len(list))
	}
}
