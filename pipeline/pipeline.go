// Package pipeline coordinates one document conversion end to end: pages
// are rendered ahead of recognition by a prefetching producer, recognized in
// batches, and committed to the output in source order, with checkpointed
// progress so an interrupted run resumes instead of restarting.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/scandoc/pdfocr/checkpoint"
	"github.com/scandoc/pdfocr/dispatch"
	"github.com/scandoc/pdfocr/docio"
	"github.com/scandoc/pdfocr/observability"
	"github.com/scandoc/pdfocr/ocr"
	"github.com/scandoc/pdfocr/pool"
	"github.com/scandoc/pdfocr/render"
)

// Defaults for conversion parameters. Callers override via options.
const (
	DefaultDPI            = 300
	DefaultMinConfidence  = 0.5
	DefaultPrefetchDepth  = 4
	DefaultPageRetryLimit = 2
	DefaultRetryBackoff   = 500 * time.Millisecond
	DefaultSaveInterval   = 10
)

const (
	// existingTextMin is the character count past which a page is treated
	// as already searchable and copied through without recognition.
	existingTextMin = 50

	// lowMemoryMB is the available-memory floor below which the producer
	// renders at reduced scale to avoid thrashing.
	lowMemoryMB = 500

	defaultStallLimit    = 120
	defaultStallInterval = 500 * time.Millisecond
)

// Sentinel errors a caller can test with errors.Is.
var (
	// ErrCancelled reports a run stopped by context cancellation. Progress
	// is saved; a later run with the same parameters resumes.
	ErrCancelled = errors.New("conversion cancelled")

	// ErrIntegrity reports that the finished output did not reproduce the
	// input's page count. The output is not written in that case.
	ErrIntegrity = errors.New("output page count mismatch")
)

// Recognizer is the recognition stage contract. *dispatch.Dispatcher
// satisfies it; tests substitute fakes.
type Recognizer interface {
	BatchSize() int
	Recognize(ctx context.Context, inputs []ocr.Input) ([]dispatch.Result, error)
}

// Coordinator runs conversions. It is safe for sequential reuse across
// documents; one Run processes one document.
type Coordinator struct {
	store    *checkpoint.Store
	renderer *render.Renderer
	rec      Recognizer
	logger   observability.Logger

	dpi            int
	languages      []string
	minConfidence  float64
	prefetch       int
	retryLimit     int
	retryBackoff   time.Duration
	saveInterval   int
	blankThreshold float64
	allowFallback  bool
	skipSearchable bool
	useCheckpoint  bool
	stallLimit     int
	stallInterval  time.Duration
	progress       func(page, total int)
	availableMB    func() int

	openSource func(string) (docio.Source, error)
	newOutput  func() docio.Output
	loadOutput func(string) (docio.Output, error)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithDPI sets the render resolution. Values below 72 render at scale 1.
func WithDPI(dpi int) Option { return func(c *Coordinator) { c.dpi = dpi } }

// WithLanguages sets the recognition language hints.
func WithLanguages(langs ...string) Option {
	return func(c *Coordinator) { c.languages = append([]string(nil), langs...) }
}

// WithMinConfidence sets the confidence floor below which recognized text
// is dropped from the text layer.
func WithMinConfidence(min float64) Option {
	return func(c *Coordinator) { c.minConfidence = min }
}

// WithPrefetchDepth bounds how many rendered pages may wait ahead of
// recognition. Rendering is cheap and recognition is not; a small buffer
// keeps the recognizer fed without holding many rasters in memory.
func WithPrefetchDepth(n int) Option { return func(c *Coordinator) { c.prefetch = n } }

// WithPageRetryLimit sets how many extra recognition attempts a failing
// page gets before the fallback path.
func WithPageRetryLimit(n int) Option { return func(c *Coordinator) { c.retryLimit = n } }

// WithRetryBackoff sets the base delay before the first retry. Each further
// retry doubles it.
func WithRetryBackoff(d time.Duration) Option {
	return func(c *Coordinator) { c.retryBackoff = d }
}

// WithSaveInterval sets how many recognized pages accumulate between
// periodic temp saves.
func WithSaveInterval(n int) Option { return func(c *Coordinator) { c.saveInterval = n } }

// WithBlankThreshold sets the mean-gradient threshold below which a
// rendered page counts as blank and skips recognition. Zero disables blank
// detection.
func WithBlankThreshold(t float64) Option {
	return func(c *Coordinator) { c.blankThreshold = t }
}

// WithFallbackCopy controls whether a page whose recognition keeps failing
// is copied through unchanged. Disabled, such a page fails the whole run.
func WithFallbackCopy(enabled bool) Option {
	return func(c *Coordinator) { c.allowFallback = enabled }
}

// WithSearchableSkip controls whether pages that already carry substantial
// text are copied through without recognition.
func WithSearchableSkip(enabled bool) Option {
	return func(c *Coordinator) { c.skipSearchable = enabled }
}

// WithoutCheckpoint disables progress persistence for the run.
func WithoutCheckpoint() Option {
	return func(c *Coordinator) { c.useCheckpoint = false }
}

// WithStallPolicy sets how long a blocked producer push is tolerated: limit
// waits of interval each before the page is abandoned to the integrity
// pass.
func WithStallPolicy(limit int, interval time.Duration) Option {
	return func(c *Coordinator) {
		c.stallLimit = limit
		c.stallInterval = interval
	}
}

// WithProgress installs a callback invoked after each page commits, with
// the 1-based page number and the document total.
func WithProgress(fn func(page, total int)) Option {
	return func(c *Coordinator) { c.progress = fn }
}

// WithLogger routes coordinator logs.
func WithLogger(l observability.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDocumentIO substitutes the document open, create and reload
// functions. Tests use it to run the pipeline against in-memory sources.
func WithDocumentIO(
	open func(string) (docio.Source, error),
	fresh func() docio.Output,
	load func(string) (docio.Output, error),
) Option {
	return func(c *Coordinator) {
		if open != nil {
			c.openSource = open
		}
		if fresh != nil {
			c.newOutput = fresh
		}
		if load != nil {
			c.loadOutput = load
		}
	}
}

// New builds a Coordinator. The store may be nil only when checkpointing is
// disabled via WithoutCheckpoint.
func New(store *checkpoint.Store, renderer *render.Renderer, rec Recognizer, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:          store,
		renderer:       renderer,
		rec:            rec,
		logger:         observability.NopLogger{},
		dpi:            DefaultDPI,
		minConfidence:  DefaultMinConfidence,
		prefetch:       DefaultPrefetchDepth,
		retryLimit:     DefaultPageRetryLimit,
		retryBackoff:   DefaultRetryBackoff,
		saveInterval:   DefaultSaveInterval,
		blankThreshold: render.DefaultBlankThreshold,
		allowFallback:  true,
		skipSearchable: true,
		useCheckpoint:  true,
		stallLimit:     defaultStallLimit,
		stallInterval:  defaultStallInterval,
		availableMB:    pool.AvailableMemoryMB,
		openSource: func(path string) (docio.Source, error) {
			return docio.OpenSource(path)
		},
		newOutput:  func() docio.Output { return docio.NewDocument() },
		loadOutput: func(path string) (docio.Output, error) { return docio.LoadDocument(path) },
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.prefetch < 1 {
		c.prefetch = 1
	}
	if c.saveInterval < 1 {
		c.saveInterval = 1
	}
	if c.stallLimit < 1 {
		c.stallLimit = 1
	}
	if c.useCheckpoint && c.store == nil {
		c.useCheckpoint = false
	}
	return c
}

// renderItem is one producer-to-assembly handoff. Exactly one of page,
// renderErr, or a skip reason (searchable / blank) is meaningful.
type renderItem struct {
	index      int
	page       *render.Page
	searchable bool
	blank      bool
	renderErr  string
}

func (it renderItem) skip() bool { return it.searchable || it.blank }

// batchPage pairs a rendered page with its encoded recognition input.
type batchPage struct {
	item  renderItem
	input ocr.Input
}

// run carries the mutable state of one conversion.
type run struct {
	c       *Coordinator
	ctx     context.Context
	src     docio.Source
	out     docio.Output
	cp      *checkpoint.Checkpoint
	outcome *Outcome

	tempPath string

	// inserted records the source page index behind each output page, in
	// output order. Commits append; saves normalize to ascending order so
	// the temp artifact and checkpoint always agree.
	inserted []int
	onFile   map[int]struct{}

	fallbackSeen map[int]struct{}
	pendingSkips []renderItem
	batch        []batchPage
	sinceSave    int
	stalls       int32
}

// Run converts one document. The returned Outcome is populated on every
// path, including failures.
func (c *Coordinator) Run(ctx context.Context, inputPath, outputPath string) (*Outcome, error) {
	outcome := &Outcome{
		InputPath:   inputPath,
		OutputPath:  outputPath,
		StartedAt:   time.Now(),
		PageRetries: make(map[int]int),
	}

	src, err := c.openSource(inputPath)
	if err != nil {
		err = fmt.Errorf("open input: %w", err)
		return outcome.finalize(StatusFailed, err.Error()), err
	}
	defer src.Close()

	total := src.PageCount()
	outcome.TotalPages = total
	if total == 0 {
		err := errors.New("document has no pages")
		return outcome.finalize(StatusFailed, err.Error()), err
	}

	r := &run{
		c:            c,
		ctx:          ctx,
		src:          src,
		outcome:      outcome,
		tempPath:     checkpoint.TempOutputPath(outputPath),
		onFile:       make(map[int]struct{}),
		fallbackSeen: make(map[int]struct{}),
	}
	if err := r.prepare(inputPath, outputPath, total); err != nil {
		return outcome.finalize(StatusFailed, err.Error()), err
	}

	runErr := r.process(total)
	outcome.QueueStalls = int(atomic.LoadInt32(&r.stalls))
	if outcome.QueueStalls > 0 {
		outcome.Errors = append(outcome.Errors,
			fmt.Sprintf("render queue stalled %d times", outcome.QueueStalls))
	}

	if ctx.Err() != nil || errors.Is(runErr, ErrCancelled) {
		r.preserveProgress()
		c.logger.Info("conversion cancelled, progress saved",
			observability.String("input", inputPath),
			observability.Int("done_pages", r.cp.DonePages()))
		return outcome.finalize(StatusCancelled, ErrCancelled.Error()), ErrCancelled
	}
	if runErr != nil {
		r.preserveProgress()
		outcome.Errors = append(outcome.Errors, runErr.Error())
		return outcome.finalize(StatusFailed, runErr.Error()), runErr
	}

	if err := r.complete(outputPath, total); err != nil {
		if errors.Is(err, ErrCancelled) {
			r.preserveProgress()
			return outcome.finalize(StatusCancelled, ErrCancelled.Error()), ErrCancelled
		}
		r.preserveProgress()
		outcome.Errors = append(outcome.Errors, err.Error())
		return outcome.finalize(StatusFailed, err.Error()), err
	}

	c.logger.Info("conversion finished",
		observability.String("input", inputPath),
		observability.String("output", outputPath),
		observability.Int(observability.MetricPageCount, total),
		observability.Int("fallback_pages", len(outcome.FallbackPages)))
	return outcome.finalize(StatusSucceeded, ""), nil
}

// prepare loads or creates the checkpoint and the output document,
// resuming from a prior run's temp artifact when it is still usable.
func (r *run) prepare(inputPath, outputPath string, total int) error {
	params := checkpoint.Params{DPI: r.c.dpi, Languages: r.c.languages}

	if r.c.useCheckpoint {
		if prior, err := r.c.store.Load(inputPath); err == nil && prior != nil {
			if r.resumeFrom(prior, total, params) {
				r.c.logger.Info("resuming from checkpoint",
					observability.String("input", inputPath),
					observability.Int("done_pages", prior.DonePages()),
					observability.Int("total_pages", total))
			} else {
				r.c.store.Delete(inputPath)
			}
		}
		if r.cp == nil {
			cp, err := r.c.store.Create(inputPath, outputPath, total, params)
			if err != nil {
				return fmt.Errorf("create checkpoint: %w", err)
			}
			r.cp = cp
			r.tempPath = cp.TempOutputPath
		} else {
			r.tempPath = r.cp.TempOutputPath
		}
	} else {
		r.cp = &checkpoint.Checkpoint{
			InputPath:      inputPath,
			OutputPath:     outputPath,
			TempOutputPath: r.tempPath,
			TotalPages:     total,
			Completed:      checkpoint.NewPageSet(),
			Skipped:        checkpoint.NewPageSet(),
			Failed:         checkpoint.NewPageSet(),
			DPI:            params.DPI,
			Languages:      params.Languages,
		}
	}

	if r.out == nil {
		r.out = r.c.newOutput()
	}
	return nil
}

// resumeFrom adopts a prior checkpoint when its parameters match and its
// temp artifact holds exactly the pages the record says are done. Saves
// normalize page order, so the artifact's pages are the sorted union of the
// three outcome sets.
func (r *run) resumeFrom(prior *checkpoint.Checkpoint, total int, params checkpoint.Params) bool {
	if !prior.MatchesParams(total, params) {
		return false
	}
	doc, err := r.c.loadOutput(prior.TempOutputPath)
	if err != nil || doc.PageCount() != prior.DonePages() {
		return false
	}
	r.cp = prior
	r.out = doc
	done := append(append(prior.Completed.Sorted(), prior.Skipped.Sorted()...), prior.Failed.Sorted()...)
	sort.Ints(done)
	r.inserted = done
	for _, p := range done {
		r.onFile[p] = struct{}{}
	}
	r.outcome.Resumed = true
	r.outcome.ResumePage = prior.NextPage() + 1
	r.outcome.ProcessedPages = prior.Completed.Len()
	r.outcome.SkippedPages = prior.Skipped.Len()
	return true
}

// process runs the producer and the assembly loop to completion or first
// terminal error.
func (r *run) process(total int) error {
	ctx, cancel := context.WithCancel(r.ctx)
	defer cancel()

	queue := make(chan renderItem, r.c.prefetch)
	go r.produce(ctx, queue, total)

	batchSize := r.c.rec.BatchSize()
	if batchSize < 1 {
		batchSize = 1
	}

	for item := range queue {
		if ctx.Err() != nil {
			return ErrCancelled
		}
		if err := r.accept(ctx, item, batchSize); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return ErrCancelled
	}
	if err := r.flushSkips(); err != nil {
		return err
	}
	return r.flushBatch(ctx)
}

// produce renders unprocessed pages in order and pushes them to assembly,
// classifying already-searchable and blank pages as skips.
func (r *run) produce(ctx context.Context, queue chan<- renderItem, total int) {
	defer close(queue)
	baseScale := float64(r.c.dpi) / 72.0
	if baseScale < 1 {
		baseScale = 1
	}

	for idx := 0; idx < total; idx++ {
		if ctx.Err() != nil {
			return
		}
		if r.cp.Seen(idx) {
			continue
		}

		if r.c.skipSearchable {
			if text, err := r.src.PageText(idx); err == nil {
				if len([]rune(strings.TrimSpace(text))) > existingTextMin {
					if !r.push(ctx, queue, renderItem{index: idx, searchable: true}) {
						return
					}
					continue
				}
			}
		}

		scale := baseScale
		if mb := r.c.availableMB(); mb > 0 && mb < lowMemoryMB {
			if reduced := scale * 0.8; reduced >= 1 {
				scale = reduced
			} else {
				scale = 1
			}
			r.c.logger.Warn("low memory, rendering at reduced scale",
				observability.Int("available_mb", mb),
				observability.Int("page", idx+1))
		}

		renderStart := time.Now()
		page, err := r.c.renderer.Render(r.src, idx, scale)
		var item renderItem
		switch {
		case err != nil:
			item = renderItem{index: idx, renderErr: err.Error()}
		case r.c.blankThreshold > 0 && render.IsBlank(page.Image, r.c.blankThreshold):
			item = renderItem{index: idx, blank: true}
		default:
			item = renderItem{index: idx, page: page}
			r.c.logger.Debug("page rendered",
				observability.Int("page", idx+1),
				observability.Float64(observability.MetricRenderTime, time.Since(renderStart).Seconds()))
		}
		if !r.push(ctx, queue, item) {
			return
		}
	}
}

// push hands an item to assembly, tolerating a temporarily full queue.
// Exhausting the stall budget abandons the rest of the document to the
// integrity pass rather than blocking forever on a wedged consumer.
func (r *run) push(ctx context.Context, queue chan<- renderItem, item renderItem) bool {
	for attempt := 0; attempt < r.c.stallLimit; attempt++ {
		select {
		case queue <- item:
			return true
		case <-ctx.Done():
			return false
		case <-time.After(r.c.stallInterval):
		}
	}
	atomic.AddInt32(&r.stalls, 1)
	r.c.logger.Error("render queue stalled, abandoning producer",
		observability.Int("page", item.index+1),
		observability.Int(observability.MetricStallEvents, 1))
	return false
}

// accept routes one rendered item: skips accumulate until the next batch
// flush, render failures go straight to fallback, everything else joins the
// recognition batch.
func (r *run) accept(ctx context.Context, item renderItem, batchSize int) error {
	switch {
	case item.renderErr != "":
		return r.fallbackCopy(item.index, "render failed: "+item.renderErr)
	case item.skip():
		r.pendingSkips = append(r.pendingSkips, item)
		return nil
	}

	input, err := ocr.InputFromRaster(item.index, item.page.Image,
		ocr.WithLanguages(r.c.languages...),
		ocr.WithDPI(r.c.dpi))
	if err != nil {
		return r.fallbackCopy(item.index, err.Error())
	}
	r.batch = append(r.batch, batchPage{item: item, input: input})
	if len(r.batch) < batchSize {
		return nil
	}
	if err := r.flushSkips(); err != nil {
		return err
	}
	return r.flushBatch(ctx)
}

// flushSkips copies accumulated skip pages through unchanged. They flush
// before each recognition batch so output order tracks source order
// closely.
func (r *run) flushSkips() error {
	for _, item := range r.pendingSkips {
		if err := r.out.CopyPage(r.src, item.index); err != nil {
			return fmt.Errorf("copy page %d: %w", item.index+1, err)
		}
		r.mark(item.index, checkpoint.PageSkipped)
		r.outcome.SkippedPages++
		r.commitOrder(item.index)
	}
	r.pendingSkips = r.pendingSkips[:0]
	return nil
}

// flushBatch submits the pending batch, retries individual failures, and
// commits results in ascending page order.
func (r *run) flushBatch(ctx context.Context) error {
	if len(r.batch) == 0 {
		return nil
	}
	batch := r.batch
	r.batch = nil
	sort.Slice(batch, func(i, j int) bool { return batch[i].item.index < batch[j].item.index })

	inputs := make([]ocr.Input, len(batch))
	for i, bp := range batch {
		inputs[i] = bp.input
	}
	recognizeStart := time.Now()
	results, err := r.c.rec.Recognize(ctx, inputs)
	if ctx.Err() != nil {
		return ErrCancelled
	}
	r.c.logger.Debug("batch recognized",
		observability.Int("pages", len(inputs)),
		observability.Float64(observability.MetricRecognizeTime, time.Since(recognizeStart).Seconds()))
	byPage := make(map[int]dispatch.Result, len(results))
	for _, res := range results {
		byPage[res.PageIndex] = res
	}

	for _, bp := range batch {
		if ctx.Err() != nil {
			return ErrCancelled
		}
		idx := bp.item.index
		regions, ok := r.batchRegions(byPage, idx, err)
		if !ok {
			r.recordRetry(idx)
			var rerr error
			regions, rerr = r.retryRecognize(ctx, bp.input, idx)
			if rerr != nil {
				if errors.Is(rerr, ErrCancelled) {
					return rerr
				}
				if ferr := r.fallbackCopy(idx, rerr.Error()); ferr != nil {
					return ferr
				}
				continue
			}
		}
		if cerr := r.commitPage(bp, regions); cerr != nil {
			if ferr := r.fallbackCopy(idx, cerr.Error()); ferr != nil {
				return ferr
			}
		}
	}

	r.sinceSave += len(batch)
	if r.sinceSave >= r.c.saveInterval {
		r.tempSave()
		r.sinceSave = 0
	}
	return nil
}

// batchRegions extracts one page's result from a batch response. A missing
// entry, a per-page error, or a whole-batch error all count as a failed
// first attempt.
func (r *run) batchRegions(byPage map[int]dispatch.Result, idx int, batchErr error) ([]ocr.TextRegion, bool) {
	res, ok := byPage[idx]
	if !ok {
		return nil, false
	}
	if res.Err != nil {
		return nil, false
	}
	if batchErr != nil && len(res.Regions) == 0 {
		return nil, false
	}
	return res.Regions, true
}

// retryRecognize re-runs one page with exponential backoff. Each failed
// attempt is recorded; cancellation aborts immediately.
func (r *run) retryRecognize(ctx context.Context, in ocr.Input, idx int) ([]ocr.TextRegion, error) {
	var lastErr error
	for attempt := 1; attempt <= r.c.retryLimit; attempt++ {
		delay := r.c.retryBackoff << (attempt - 1)
		select {
		case <-ctx.Done():
			return nil, ErrCancelled
		case <-time.After(delay):
		}

		r.c.logger.Warn("retrying page recognition",
			observability.Int("page", idx+1),
			observability.Int("attempt", attempt),
			observability.Int(observability.MetricRetryCount, 1))
		results, err := r.c.rec.Recognize(ctx, []ocr.Input{in})
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		if err != nil {
			lastErr = err
			r.recordRetry(idx)
			continue
		}
		if len(results) == 0 {
			lastErr = errors.New("recognizer returned no result")
			r.recordRetry(idx)
			continue
		}
		if results[0].Err != nil {
			lastErr = results[0].Err
			r.recordRetry(idx)
			continue
		}
		return results[0].Regions, nil
	}
	if lastErr == nil {
		lastErr = errors.New("recognition failed")
	}
	return nil, fmt.Errorf("page %d: recognition exhausted retries: %w", idx+1, lastErr)
}

func (r *run) recordRetry(idx int) {
	r.outcome.PageRetries[idx+1]++
}

// commitPage appends the recognized page with its invisible text layer,
// reusing the already-encoded JPEG submitted for recognition.
func (r *run) commitPage(bp batchPage, regions []ocr.TextRegion) error {
	spans := buildSpans(regions, bp.item.page, r.c.minConfidence)
	if err := r.out.AppendImagePage(bp.item.page.Box, bp.input.Image, spans); err != nil {
		return fmt.Errorf("append page %d: %w", bp.item.index+1, err)
	}
	r.mark(bp.item.index, checkpoint.PageCompleted)
	r.outcome.ProcessedPages++
	r.commitOrder(bp.item.index)
	return nil
}

// fallbackCopy preserves a page whose recognition path failed by copying
// the original page through. With fallback disabled the failure is fatal.
func (r *run) fallbackCopy(idx int, reason string) error {
	if !r.c.allowFallback {
		return fmt.Errorf("page %d: %s", idx+1, reason)
	}
	if err := r.out.CopyPage(r.src, idx); err != nil {
		return fmt.Errorf("page %d: fallback copy failed after %q: %w", idx+1, reason, err)
	}
	if _, dup := r.fallbackSeen[idx]; !dup {
		r.fallbackSeen[idx] = struct{}{}
		r.outcome.FallbackPages = append(r.outcome.FallbackPages, idx+1)
	}
	r.outcome.Errors = append(r.outcome.Errors,
		fmt.Sprintf("page %d: kept original page (%s)", idx+1, reason))
	r.c.logger.Warn("page fell back to original",
		observability.Int("page", idx+1),
		observability.String("reason", reason))
	r.mark(idx, checkpoint.PageFailed)
	r.commitOrder(idx)
	return nil
}

// commitOrder records a page landing on the output and reports progress.
func (r *run) commitOrder(idx int) {
	r.inserted = append(r.inserted, idx)
	r.onFile[idx] = struct{}{}
	if r.c.progress != nil {
		r.c.progress(idx+1, r.cp.TotalPages)
	}
}

// mark records a page outcome, persisting when checkpointing is on.
func (r *run) mark(idx int, outcome checkpoint.PageOutcome) {
	if r.c.useCheckpoint {
		if err := r.c.store.Mark(r.cp, idx, outcome); err != nil {
			r.c.logger.Warn("checkpoint update failed",
				observability.Int("page", idx+1),
				observability.Error("error", err))
		}
		return
	}
	r.cp.Completed.Remove(idx)
	r.cp.Skipped.Remove(idx)
	r.cp.Failed.Remove(idx)
	switch outcome {
	case checkpoint.PageCompleted:
		r.cp.Completed.Add(idx)
	case checkpoint.PageSkipped:
		r.cp.Skipped.Add(idx)
	case checkpoint.PageFailed:
		r.cp.Failed.Add(idx)
	}
}

// normalizeOrder restores ascending source order on the output. It runs
// before every save so a resumed run always finds the temp artifact's pages
// equal to the sorted union of the checkpoint's outcome sets.
func (r *run) normalizeOrder() {
	if sort.IntsAreSorted(r.inserted) {
		return
	}
	if len(r.inserted) != r.out.PageCount() {
		return
	}
	order := make([]int, len(r.inserted))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return r.inserted[order[a]] < r.inserted[order[b]] })
	if err := r.out.Reorder(order); err != nil {
		r.c.logger.Warn("page reorder failed", observability.Error("error", err))
		return
	}
	sort.Ints(r.inserted)
}

// tempSave writes the in-progress output to the temp artifact. Failures are
// logged, not fatal; the next interval retries.
func (r *run) tempSave() {
	r.normalizeOrder()
	start := time.Now()
	if err := r.out.Save(r.tempPath, false); err != nil {
		r.c.logger.Warn("periodic save failed",
			observability.String("path", r.tempPath),
			observability.Error("error", err))
		return
	}
	r.c.logger.Debug("periodic save",
		observability.String("path", r.tempPath),
		observability.Int("pages", r.out.PageCount()),
		observability.Float64(observability.MetricSaveTime, time.Since(start).Seconds()))
}

// preserveProgress saves the temp artifact and checkpoint so the run can
// resume later. Best effort on an already-failing path.
func (r *run) preserveProgress() {
	if r.out == nil || r.out.PageCount() == 0 {
		return
	}
	r.normalizeOrder()
	if err := r.out.Save(r.tempPath, false); err != nil {
		r.c.logger.Warn("progress save failed",
			observability.String("path", r.tempPath),
			observability.Error("error", err))
		return
	}
	if r.c.useCheckpoint {
		if err := r.c.store.Save(r.cp); err != nil {
			r.c.logger.Warn("checkpoint save failed", observability.Error("error", err))
		}
	}
}

// complete fills pages the producer abandoned, verifies page count, writes
// the final compacted output and retires the checkpoint.
func (r *run) complete(outputPath string, total int) error {
	for idx := 0; idx < total; idx++ {
		if r.ctx.Err() != nil {
			return ErrCancelled
		}
		if _, ok := r.onFile[idx]; ok {
			continue
		}
		if err := r.fallbackCopy(idx, "page missing from output"); err != nil {
			return err
		}
	}

	if got := r.out.PageCount(); got != total {
		return fmt.Errorf("%w: output has %d pages, input has %d", ErrIntegrity, got, total)
	}

	r.normalizeOrder()
	start := time.Now()
	if err := r.out.Save(outputPath, true); err != nil {
		return fmt.Errorf("save output: %w", err)
	}
	r.c.logger.Debug("final save",
		observability.String("path", outputPath),
		observability.Float64(observability.MetricSaveTime, time.Since(start).Seconds()))

	if r.c.useCheckpoint {
		if err := r.c.store.Cleanup(r.cp); err != nil {
			r.c.logger.Warn("checkpoint cleanup failed", observability.Error("error", err))
		}
	}
	return nil
}
