package task

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/scandoc/pdfocr/docio"
	"github.com/scandoc/pdfocr/pipeline"
)

// writeInputPDF produces a small real PDF so input validation passes.
func writeInputPDF(t *testing.T, path string) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 40, 60))
	for y := 0; y < 60; y++ {
		for x := 0; x < 40; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x*13 + y*7) % 251)})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	d := docio.NewDocument()
	if err := d.AppendImagePage(docio.PageBox{Width: 40, Height: 60}, buf.Bytes(), nil); err != nil {
		t.Fatalf("append page: %v", err)
	}
	if err := d.Save(path, false); err != nil {
		t.Fatalf("save input pdf: %v", err)
	}
}

// fakeConvert scripts the outcome of successive document attempts and
// records the profile each ran under.
type fakeConvert struct {
	mu       sync.Mutex
	profiles []Profile
	errs     []error
	// block, when set, waits for cancellation instead of consulting errs.
	block bool
}

func (f *fakeConvert) fn(ctx context.Context, prof Profile, inputPath, outputPath string,
	progress func(page, total int)) (*pipeline.Outcome, error) {

	f.mu.Lock()
	f.profiles = append(f.profiles, prof)
	call := len(f.profiles) - 1
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, pipeline.ErrCancelled
	}
	if call < len(f.errs) && f.errs[call] != nil {
		return &pipeline.Outcome{
			InputPath:  inputPath,
			StatusText: pipeline.StatusFailed.String(),
		}, f.errs[call]
	}
	if progress != nil {
		progress(1, 1)
	}
	return &pipeline.Outcome{
		InputPath:      inputPath,
		OutputPath:     outputPath,
		StatusText:     pipeline.StatusSucceeded.String(),
		Status:         pipeline.StatusSucceeded,
		TotalPages:     1,
		ProcessedPages: 1,
		ElapsedS:       0.1,
	}, nil
}

func (f *fakeConvert) seen() []Profile {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Profile(nil), f.profiles...)
}

func newTestRunner(t *testing.T, mutate func(*Config)) (*Runner, *fakeConvert, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.CheckpointDir = filepath.Join(dir, "checkpoints")
	cfg.LogDir = filepath.Join(dir, "logs")
	cfg.Workers = 4
	if mutate != nil {
		mutate(&cfg)
	}
	r, err := NewRunner(cfg)
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}
	fake := &fakeConvert{}
	r.convert = fake.fn

	input := filepath.Join(dir, "scan.pdf")
	writeInputPDF(t, input)
	return r, fake, input
}

func TestRunDocumentSucceedsFirstAttempt(t *testing.T) {
	r, fake, input := newTestRunner(t, nil)

	outcome, err := r.RunDocument(context.Background(), input, "", nil)
	if err != nil {
		t.Fatalf("RunDocument() error = %v", err)
	}
	if outcome.OutputPath != r.cfg.OutputPathFor(input) {
		t.Fatalf("output path = %q, want derived %q", outcome.OutputPath, r.cfg.OutputPathFor(input))
	}
	profiles := fake.seen()
	if len(profiles) != 1 || profiles[0] != (Profile{Workers: 4, DPI: 300}) {
		t.Fatalf("profiles = %v, want one full-strength attempt", profiles)
	}

	stats, err := r.Log().TodayStats()
	if err != nil || stats.TotalFiles != 1 {
		t.Fatalf("run log stats = %+v err = %v, want one success", stats, err)
	}
}

func TestRunDocumentStepsDownOnRetryableFailures(t *testing.T) {
	r, fake, input := newTestRunner(t, nil)
	fake.errs = []error{
		errors.New("worker 2: write task: broken pipe"),
		fmt.Errorf("%w (budget 30m)", ErrTimeout),
	}

	if _, err := r.RunDocument(context.Background(), input, "", nil); err != nil {
		t.Fatalf("RunDocument() error = %v", err)
	}
	want := []Profile{
		{Workers: 4, DPI: 300},
		{Workers: 1, DPI: 300},
		{Workers: 1, DPI: 150},
	}
	got := fake.seen()
	if len(got) != len(want) {
		t.Fatalf("attempts = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("attempt %d profile = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRunDocumentAbortsOnNonRetryable(t *testing.T) {
	r, fake, input := newTestRunner(t, nil)
	fake.errs = []error{errors.New("open output: permission denied")}

	_, err := r.RunDocument(context.Background(), input, "", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := len(fake.seen()); got != 1 {
		t.Fatalf("attempts = %d, want 1 for non-retryable failure", got)
	}
}

func TestRunDocumentStopsOnCancellation(t *testing.T) {
	r, fake, input := newTestRunner(t, nil)
	fake.errs = []error{pipeline.ErrCancelled}

	_, err := r.RunDocument(context.Background(), input, "", nil)
	if !errors.Is(err, pipeline.ErrCancelled) {
		t.Fatalf("error = %v, want ErrCancelled", err)
	}
	if got := len(fake.seen()); got != 1 {
		t.Fatalf("attempts = %d, want 1 after cancellation", got)
	}
}

func TestRunDocumentTimesOut(t *testing.T) {
	r, fake, input := newTestRunner(t, func(cfg *Config) {
		cfg.DocumentTimeout = 30 * time.Millisecond
		cfg.MaxAttempts = 2
	})
	fake.block = true

	start := time.Now()
	_, err := r.RunDocument(context.Background(), input, "", nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
	if got := len(fake.seen()); got != 2 {
		t.Fatalf("attempts = %d, want 2 (timeout is retryable)", got)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("timed-out run took %v", elapsed)
	}
}

func TestRunDocumentRejectsInvalidInput(t *testing.T) {
	r, fake, _ := newTestRunner(t, nil)
	junk := filepath.Join(t.TempDir(), "junk.pdf")
	if err := os.WriteFile(junk, []byte("not a pdf at all"), 0o644); err != nil {
		t.Fatalf("write junk: %v", err)
	}

	if _, err := r.RunDocument(context.Background(), junk, "", nil); err == nil {
		t.Fatal("expected validation error")
	}
	if got := len(fake.seen()); got != 0 {
		t.Fatalf("attempts = %d, want 0 for invalid input", got)
	}
}
