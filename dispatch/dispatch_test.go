package dispatch

import (
	"context"
	"fmt"
	"testing"

	"github.com/scandoc/pdfocr/ocr"
	"github.com/scandoc/pdfocr/pool"
)

type stubEngine struct {
	calls int
	fail  map[int]bool
}

func (e *stubEngine) Name() string { return "stub" }

func (e *stubEngine) Recognize(ctx context.Context, in ocr.Input) ([]ocr.TextRegion, error) {
	e.calls++
	if e.fail[in.PageIndex] {
		return nil, fmt.Errorf("page %d rejected", in.PageIndex)
	}
	return []ocr.TextRegion{{Text: fmt.Sprintf("p%d", in.PageIndex)}}, nil
}

type stubBatcher struct {
	started   bool
	stopped   bool
	batchSize int
	submitted [][]ocr.Input
}

func (b *stubBatcher) Start(ctx context.Context) error { b.started = true; return nil }
func (b *stubBatcher) Stop() error                     { b.stopped = true; return nil }
func (b *stubBatcher) BatchSize() int                  { return b.batchSize }

func (b *stubBatcher) SubmitBatch(ctx context.Context, inputs []ocr.Input) ([]pool.Result, error) {
	b.submitted = append(b.submitted, inputs)
	out := make([]pool.Result, len(inputs))
	for i, in := range inputs {
		out[i] = pool.Result{ID: in.ID, PageIndex: in.PageIndex, Regions: []ocr.TextRegion{{Text: "pooled"}}}
	}
	return out, nil
}

func TestStrategySelection(t *testing.T) {
	b := &stubBatcher{batchSize: 8}
	tests := []struct {
		name    string
		workers int
		batcher Batcher
		want    Strategy
	}{
		{"zero workers", 0, b, InProcess},
		{"one worker", 1, b, InProcess},
		{"two workers", 2, b, PooledBatch},
		{"no pool available", 4, nil, InProcess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(tt.workers, &stubEngine{}, tt.batcher)
			if d.Strategy() != tt.want {
				t.Fatalf("Strategy() = %v, want %v", d.Strategy(), tt.want)
			}
		})
	}
}

func TestInProcessRecognize(t *testing.T) {
	engine := &stubEngine{fail: map[int]bool{1: true}}
	d := New(1, engine, nil)

	if d.BatchSize() != 1 {
		t.Fatalf("BatchSize() = %d, want 1", d.BatchSize())
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	inputs := []ocr.Input{{PageIndex: 0}, {PageIndex: 1}, {PageIndex: 2}}
	results, err := d.Recognize(context.Background(), inputs)
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].Err != nil || results[0].Regions[0].Text != "p0" {
		t.Fatalf("page 0 mishandled: %+v", results[0])
	}
	if results[1].Err == nil {
		t.Fatalf("page 1 failure not isolated: %+v", results[1])
	}
	if results[2].Err != nil {
		t.Fatalf("page 2 affected by page 1 failure: %+v", results[2])
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestInProcessRecognizeCancellation(t *testing.T) {
	d := New(0, &stubEngine{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := d.Recognize(ctx, []ocr.Input{{PageIndex: 0}})
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
	if len(results) != 0 {
		t.Fatalf("got %d results after cancellation", len(results))
	}
}

func TestPooledRecognizeDelegates(t *testing.T) {
	b := &stubBatcher{batchSize: 6}
	d := New(3, &stubEngine{}, b)

	if d.BatchSize() != 6 {
		t.Fatalf("BatchSize() = %d, want 6", d.BatchSize())
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !b.started {
		t.Fatalf("pool not started")
	}

	inputs := []ocr.Input{{ID: "a", PageIndex: 5}, {ID: "b", PageIndex: 6}}
	results, err := d.Recognize(context.Background(), inputs)
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if len(b.submitted) != 1 || len(b.submitted[0]) != 2 {
		t.Fatalf("batch not delegated: %+v", b.submitted)
	}
	if results[0].PageIndex != 5 || results[1].PageIndex != 6 {
		t.Fatalf("page indices mangled: %+v", results)
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !b.stopped {
		t.Fatalf("pool not stopped")
	}
}
