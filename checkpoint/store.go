package checkpoint

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

const (
	fileSuffix = ".checkpoint.json"

	// fingerprintChunk bounds how much of the input file the content
	// fingerprint reads from each end. Hashing whole multi-gigabyte scans on
	// every resume check is unacceptable; a changed file still almost always
	// changes its head, tail, or size.
	fingerprintChunk = 1 << 20
)

// Store manages checkpoint files in a single directory.
type Store struct {
	dir string
}

// NewStore opens (creating if needed) a checkpoint directory. An empty dir
// selects ~/.pdfocr/checkpoints.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		dir = filepath.Join(home, ".pdfocr", "checkpoints")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the backing directory.
func (s *Store) Dir() string { return s.dir }

// Create builds a fresh checkpoint with empty page sets and persists it.
// The temporary output artifact lives next to the final output as a hidden
// file so directory scans for new inputs ignore it.
func (s *Store) Create(inputPath, outputPath string, totalPages int, p Params) (*Checkpoint, error) {
	hash, err := Fingerprint(inputPath)
	if err != nil {
		return nil, fmt.Errorf("fingerprint input: %w", err)
	}
	now := time.Now()
	c := &Checkpoint{
		InputPath:      inputPath,
		OutputPath:     outputPath,
		TempOutputPath: TempOutputPath(outputPath),
		TotalPages:     totalPages,
		Completed:      NewPageSet(),
		Skipped:        NewPageSet(),
		Failed:         NewPageSet(),
		StartedAt:      now,
		UpdatedAt:      now,
		DPI:            p.DPI,
		Languages:      append([]string(nil), p.Languages...),
		InputHash:      hash,
	}
	if err := s.Save(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Load returns the checkpoint for an input file, or nil when no usable
// checkpoint exists. A checkpoint that is corrupt, refers to a changed input
// file, or whose temporary output artifact has vanished is deleted and
// treated as absent. Parameter validation is the caller's job via
// MatchesParams, since only the caller knows the current run's settings.
func (s *Store) Load(inputPath string) (*Checkpoint, error) {
	path := s.pathFor(inputPath)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		s.Delete(inputPath)
		return nil, nil
	}

	if hash, err := Fingerprint(inputPath); err != nil || (hash != "" && c.InputHash != "" && hash != c.InputHash) {
		s.Delete(inputPath)
		return nil, nil
	}

	if _, err := os.Stat(c.TempOutputPath); err != nil {
		// Without the partial output there is nothing to resume into.
		s.Delete(inputPath)
		return nil, nil
	}

	return &c, nil
}

// Save persists the checkpoint atomically: write to a temp file in the same
// directory, then rename over the target. A crash mid-save never leaves a
// half-written checkpoint visible.
func (s *Store) Save(c *Checkpoint) error {
	c.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	path := s.pathFor(c.InputPath)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// Mark records a terminal outcome for a page and re-persists the record.
// Insertion is idempotent and keeps the three sets pairwise disjoint.
func (s *Store) Mark(c *Checkpoint, page int, outcome PageOutcome) error {
	c.Completed.Remove(page)
	c.Skipped.Remove(page)
	c.Failed.Remove(page)
	switch outcome {
	case PageCompleted:
		c.Completed.Add(page)
	case PageSkipped:
		c.Skipped.Add(page)
	case PageFailed:
		c.Failed.Add(page)
	default:
		return fmt.Errorf("unknown page outcome %d", outcome)
	}
	return s.Save(c)
}

// Delete removes the checkpoint file for an input path, if present.
func (s *Store) Delete(inputPath string) error {
	err := os.Remove(s.pathFor(inputPath))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Cleanup removes the checkpoint record and its temporary output artifact
// after a fully successful run.
func (s *Store) Cleanup(c *Checkpoint) error {
	if err := os.Remove(c.TempOutputPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return s.Delete(c.InputPath)
}

// Incomplete lists checkpoints whose page sets do not yet cover the whole
// document. Unparseable files are skipped.
func (s *Store) Incomplete() ([]*Checkpoint, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("scan checkpoint directory: %w", err)
	}
	var out []*Checkpoint
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileSuffix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		var c Checkpoint
		if err := json.Unmarshal(data, &c); err != nil {
			continue
		}
		if !c.IsComplete() {
			out = append(out, &c)
		}
	}
	return out, nil
}

// Sweep deletes checkpoints (and their temp artifacts) whose last update is
// older than maxAge, plus anything unparseable. Run it at startup to reclaim
// state orphaned by a crash that never reached a clean exit.
func (s *Store) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("scan checkpoint directory: %w", err)
	}
	cutoff := time.Now().Add(-maxAge)
	cleaned := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileSuffix) {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var c Checkpoint
		if err := json.Unmarshal(data, &c); err != nil {
			if os.Remove(path) == nil {
				cleaned++
			}
			continue
		}
		if c.UpdatedAt.Before(cutoff) {
			os.Remove(c.TempOutputPath)
			if os.Remove(path) == nil {
				cleaned++
			}
		}
	}
	return cleaned, nil
}

// pathFor derives a stable checkpoint filename from the input path: a
// truncated stem for operator readability plus a path-hash suffix for
// uniqueness.
func (s *Store) pathFor(inputPath string) string {
	sum := blake2b.Sum256([]byte(inputPath))
	stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	if len(stem) > 20 {
		stem = stem[:20]
	}
	name := fmt.Sprintf("%s_%s%s", stem, hex.EncodeToString(sum[:6]), fileSuffix)
	return filepath.Join(s.dir, name)
}

// TempOutputPath derives the hidden temporary output path for a final
// output path, in the same directory.
func TempOutputPath(outputPath string) string {
	dir := filepath.Dir(outputPath)
	base := filepath.Base(outputPath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, "."+stem+"_tmp"+ext)
}

// Fingerprint hashes a bounded prefix and suffix of the file plus its size.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}

	if _, err := io.CopyN(h, f, fingerprintChunk); err != nil && err != io.EOF {
		return "", err
	}
	if info.Size() > 2*fingerprintChunk {
		if _, err := f.Seek(-fingerprintChunk, io.SeekEnd); err != nil {
			return "", err
		}
		if _, err := io.Copy(h, f); err != nil {
			return "", err
		}
	}
	fmt.Fprintf(h, "%d", info.Size())

	return hex.EncodeToString(h.Sum(nil)), nil
}
