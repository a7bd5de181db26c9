package task

import (
	"context"
	"fmt"

	"github.com/scandoc/pdfocr/checkpoint"
	"github.com/scandoc/pdfocr/dispatch"
	"github.com/scandoc/pdfocr/docio"
	"github.com/scandoc/pdfocr/observability"
	"github.com/scandoc/pdfocr/ocr"
	"github.com/scandoc/pdfocr/pipeline"
	"github.com/scandoc/pdfocr/pool"
	"github.com/scandoc/pdfocr/render"
)

// convertFunc runs one document attempt under a profile. The indirection
// lets tests exercise the retry ladder without real conversions.
type convertFunc func(ctx context.Context, prof Profile, inputPath, outputPath string,
	progress func(page, total int)) (*pipeline.Outcome, error)

// Runner converts documents with whole-document retry: a failed attempt is
// classified, and retryable failures re-run the document under a stepped
// down profile. Checkpoints carry page progress across attempts, so a
// retry never redoes completed pages.
type Runner struct {
	cfg     Config
	store   *checkpoint.Store
	logger  observability.Logger
	runLog  *RunLog
	engine  ocr.Engine
	convert convertFunc
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunnerLogger routes runner and pipeline logs.
func WithRunnerLogger(l observability.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithEngine sets the in-process recognition engine. The default is the
// registered global engine.
func WithEngine(e ocr.Engine) RunnerOption {
	return func(r *Runner) {
		if e != nil {
			r.engine = e
		}
	}
}

// NewRunner builds a Runner from configuration, opening the checkpoint
// store and run log.
func NewRunner(cfg Config, opts ...RunnerOption) (*Runner, error) {
	cfg = cfg.normalized()
	store, err := checkpoint.NewStore(cfg.CheckpointDir)
	if err != nil {
		return nil, err
	}
	runLog, err := NewRunLog(cfg.LogDir)
	if err != nil {
		return nil, err
	}
	r := &Runner{
		cfg:    cfg,
		store:  store,
		logger: observability.NopLogger{},
		runLog: runLog,
		engine: ocr.DefaultEngine(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.convert = r.convertDocument
	return r, nil
}

// Config returns the runner's effective configuration.
func (r *Runner) Config() Config { return r.cfg }

// Store returns the checkpoint store the runner converts against.
func (r *Runner) Store() *checkpoint.Store { return r.store }

// Log returns the JSONL run log.
func (r *Runner) Log() *RunLog { return r.runLog }

func (r *Runner) initialProfile() Profile {
	workers := r.cfg.Workers
	if workers <= 0 {
		workers = pool.Recommend(pool.DetectSystem(r.cfg.GPU))
	}
	return Profile{Workers: workers, DPI: r.cfg.DPI}
}

// RunDocument converts one document, retrying under lighter profiles on
// retryable failures. Every terminal outcome is appended to the run log.
// An empty outputPath derives the path from the configuration.
func (r *Runner) RunDocument(ctx context.Context, inputPath, outputPath string,
	progress func(page, total int)) (*pipeline.Outcome, error) {

	if outputPath == "" {
		outputPath = r.cfg.OutputPathFor(inputPath)
	}
	if err := docio.Validate(inputPath); err != nil {
		return nil, fmt.Errorf("input validation: %w", err)
	}

	prof := r.initialProfile()
	var lastOutcome *pipeline.Outcome
	var lastErr error

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		r.logger.Info("document attempt",
			observability.String("input", inputPath),
			observability.Int("attempt", attempt),
			observability.String("profile", prof.String()))

		outcome, err := r.attempt(ctx, prof, inputPath, outputPath, progress)
		if outcome != nil {
			lastOutcome = outcome
		}
		if err == nil {
			r.record(outcome)
			return outcome, nil
		}
		lastErr = err

		class := Classify(err)
		r.logger.Warn("document attempt failed",
			observability.String("input", inputPath),
			observability.Int("attempt", attempt),
			observability.String("class", class.String()),
			observability.Error("error", err))
		if class != Retryable {
			r.record(lastOutcome)
			return lastOutcome, err
		}
		prof, _ = prof.StepDown()
	}

	r.record(lastOutcome)
	return lastOutcome, lastErr
}

// attempt runs one conversion under the document wall-clock budget. A
// deadline hit surfaces as ErrTimeout; the pipeline itself only ever sees
// a cancelled context.
func (r *Runner) attempt(ctx context.Context, prof Profile, inputPath, outputPath string,
	progress func(page, total int)) (*pipeline.Outcome, error) {

	attemptCtx := ctx
	cancel := context.CancelFunc(func() {})
	if r.cfg.DocumentTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, r.cfg.DocumentTimeout)
	}
	defer cancel()

	outcome, err := r.convert(attemptCtx, prof, inputPath, outputPath, progress)
	if err != nil && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		err = fmt.Errorf("%w (budget %s)", ErrTimeout, r.cfg.DocumentTimeout)
	}
	return outcome, err
}

// convertDocument is the real conversion path: a worker pool when the
// profile asks for one, a dispatcher over it, and a pipeline run. The
// recognizer is always stopped before returning, even on failure.
func (r *Runner) convertDocument(ctx context.Context, prof Profile, inputPath, outputPath string,
	progress func(page, total int)) (*pipeline.Outcome, error) {

	var batcher dispatch.Batcher
	if prof.Workers > 1 {
		batcher = pool.New(prof.Workers, r.cfg.Languages, pool.WithLogger(r.logger))
	}
	d := dispatch.New(prof.Workers, r.engine, batcher)
	if err := d.Start(ctx); err != nil {
		return nil, fmt.Errorf("start recognition: %w", err)
	}
	defer func() {
		if err := d.Stop(); err != nil {
			r.logger.Warn("recognizer shutdown failed", observability.Error("error", err))
		}
	}()

	coord := pipeline.New(r.store, render.New(), d,
		pipeline.WithDPI(prof.DPI),
		pipeline.WithLanguages(r.cfg.Languages...),
		pipeline.WithMinConfidence(r.cfg.MinConfidence),
		pipeline.WithBlankThreshold(r.cfg.BlankThreshold),
		pipeline.WithPageRetryLimit(r.cfg.PageRetryLimit),
		pipeline.WithSaveInterval(r.cfg.SaveInterval),
		pipeline.WithSearchableSkip(r.cfg.SkipExistingText),
		pipeline.WithFallbackCopy(r.cfg.AllowFallbackCopy),
		pipeline.WithProgress(progress),
		pipeline.WithLogger(r.logger),
	)
	return coord.Run(ctx, inputPath, outputPath)
}

func (r *Runner) record(outcome *pipeline.Outcome) {
	if r.runLog == nil || outcome == nil {
		return
	}
	if err := r.runLog.Append(outcome); err != nil {
		r.logger.Warn("run log append failed", observability.Error("error", err))
	}
}
