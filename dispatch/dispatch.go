// Package dispatch routes rendered pages to recognition. A dispatcher is
// built once per run in one of two modes: in-process recognition through an
// engine, or batched submission to a pool of worker processes. The pipeline
// only ever sees the uniform Recognize call.
package dispatch

import (
	"context"

	"github.com/scandoc/pdfocr/ocr"
	"github.com/scandoc/pdfocr/pool"
)

// Strategy is the recognition routing mode, fixed at construction.
type Strategy int

const (
	// InProcess recognizes pages one at a time on the coordinator's own
	// engine instance.
	InProcess Strategy = iota
	// PooledBatch groups pages into batches and fans them out across
	// worker processes.
	PooledBatch
)

func (s Strategy) String() string {
	if s == InProcess {
		return "in-process"
	}
	return "pooled-batch"
}

// Result is one page's recognition outcome.
type Result struct {
	PageIndex int
	Regions   []ocr.TextRegion
	Err       error
}

// Batcher is the slice of the worker pool the dispatcher needs.
type Batcher interface {
	Start(ctx context.Context) error
	SubmitBatch(ctx context.Context, inputs []ocr.Input) ([]pool.Result, error)
	Stop() error
	BatchSize() int
}

// Dispatcher routes recognition inputs according to its strategy.
type Dispatcher struct {
	strategy Strategy
	engine   ocr.Engine
	batcher  Batcher
}

// New selects the strategy from the worker count: more than one worker
// process means pooled batching, anything else recognizes in-process.
func New(workers int, engine ocr.Engine, batcher Batcher) *Dispatcher {
	if workers > 1 && batcher != nil {
		return &Dispatcher{strategy: PooledBatch, batcher: batcher}
	}
	return &Dispatcher{strategy: InProcess, engine: engine}
}

func (d *Dispatcher) Strategy() Strategy { return d.strategy }

// BatchSize is how many rendered pages the pipeline should gather before
// calling Recognize. In-process dispatch consumes pages singly.
func (d *Dispatcher) BatchSize() int {
	if d.strategy == PooledBatch {
		return d.batcher.BatchSize()
	}
	return 1
}

// Start brings up the worker pool when there is one.
func (d *Dispatcher) Start(ctx context.Context) error {
	if d.strategy == PooledBatch {
		return d.batcher.Start(ctx)
	}
	return nil
}

// Stop tears the worker pool down when there is one.
func (d *Dispatcher) Stop() error {
	if d.strategy == PooledBatch {
		return d.batcher.Stop()
	}
	return nil
}

// Recognize resolves every input to a Result in input order. Per-page
// failures land in Result.Err; the only call-level error is cancellation.
func (d *Dispatcher) Recognize(ctx context.Context, inputs []ocr.Input) ([]Result, error) {
	if d.strategy == PooledBatch {
		res, err := d.batcher.SubmitBatch(ctx, inputs)
		out := make([]Result, len(res))
		for i, r := range res {
			out[i] = Result{PageIndex: r.PageIndex, Regions: r.Regions, Err: r.Err}
		}
		return out, err
	}

	out := make([]Result, 0, len(inputs))
	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		regions, err := d.engine.Recognize(ctx, in)
		out = append(out, Result{PageIndex: in.PageIndex, Regions: regions, Err: err})
	}
	return out, nil
}
