package pool

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scandoc/pdfocr/observability"
	"github.com/scandoc/pdfocr/ocr"
)

// DefaultStopTimeout is how long Stop waits for workers to exit after their
// stdin closes before escalating to SIGKILL.
const DefaultStopTimeout = 15 * time.Second

// WorkerArg is the hidden subcommand a worker process is started with.
const WorkerArg = "worker"

// Result is the outcome of one batch task. Err carries the per-task cause;
// a non-nil Err never aborts the rest of the batch.
type Result struct {
	ID        string
	PageIndex int
	Regions   []ocr.TextRegion
	Err       error
}

type worker struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	mu     sync.Mutex // one request in flight per worker
	broken bool
}

// roundTrip sends one task and waits for its result. Any transport error
// marks the worker broken; later tasks routed to it fail fast.
func (w *worker) roundTrip(in ocr.Input) (resultFrame, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.broken {
		return resultFrame{}, fmt.Errorf("worker pid %d is down", w.cmd.Process.Pid)
	}
	if err := writeTask(w.stdin, in); err != nil {
		w.broken = true
		return resultFrame{}, fmt.Errorf("send to worker pid %d: %w", w.cmd.Process.Pid, err)
	}
	res, err := readResult(w.stdout)
	if err != nil {
		w.broken = true
		return resultFrame{}, fmt.Errorf("receive from worker pid %d: %w", w.cmd.Process.Pid, err)
	}
	return res, nil
}

// Pool is a fixed set of recognition worker processes.
type Pool struct {
	size        int
	stopTimeout time.Duration
	newCmd      func() *exec.Cmd
	logger      observability.Logger

	mu      sync.Mutex
	workers []*worker
	started bool
}

type Option func(*Pool)

// WithWorkerCommand overrides how worker processes are launched.
func WithWorkerCommand(f func() *exec.Cmd) Option {
	return func(p *Pool) { p.newCmd = f }
}

// WithStopTimeout overrides the graceful-shutdown window.
func WithStopTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.stopTimeout = d
		}
	}
}

func WithLogger(l observability.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// New builds a pool of size workers. By default a worker is this binary
// re-executed with the hidden worker subcommand and the given languages.
func New(size int, languages []string, opts ...Option) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		size:        size,
		stopTimeout: DefaultStopTimeout,
		logger:      observability.NopLogger{},
	}
	p.newCmd = func() *exec.Cmd {
		exe, err := os.Executable()
		if err != nil {
			exe = os.Args[0]
		}
		args := []string{WorkerArg}
		for _, l := range languages {
			args = append(args, "--lang", l)
		}
		cmd := exec.Command(exe, args...)
		cmd.Stderr = os.Stderr
		return cmd
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Size returns the worker count.
func (p *Pool) Size() int { return p.size }

// BatchSize is the number of tasks one SubmitBatch call should carry to
// keep every worker busy while the previous results drain.
func (p *Pool) BatchSize() int { return 2 * p.size }

// Start launches the workers. It is idempotent; a second call is a no-op.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	for i := 0; i < p.size; i++ {
		cmd := p.newCmd()
		stdin, err := cmd.StdinPipe()
		if err != nil {
			p.stopLocked()
			return fmt.Errorf("start worker %d: %w", i, err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			p.stopLocked()
			return fmt.Errorf("start worker %d: %w", i, err)
		}
		if err := cmd.Start(); err != nil {
			p.stopLocked()
			return fmt.Errorf("start worker %d: %w", i, err)
		}
		p.logger.Info("worker started",
			observability.Int("index", i),
			observability.Int("pid", cmd.Process.Pid))
		p.workers = append(p.workers, &worker{cmd: cmd, stdin: stdin, stdout: stdout})
	}
	p.started = true
	return nil
}

// PIDs returns the process IDs of the live workers.
func (p *Pool) PIDs() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	pids := make([]int, 0, len(p.workers))
	for _, w := range p.workers {
		if w.cmd.Process != nil {
			pids = append(pids, w.cmd.Process.Pid)
		}
	}
	return pids
}

// SubmitBatch runs the inputs across the pool and resolves every one of
// them: results[i] corresponds to inputs[i], with Err set on per-task
// failure. A dead worker fails its tasks; it never fails the batch.
func (p *Pool) SubmitBatch(ctx context.Context, inputs []ocr.Input) ([]Result, error) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil, fmt.Errorf("pool is not started")
	}
	workers := append([]*worker(nil), p.workers...)
	p.mu.Unlock()

	results := make([]Result, len(inputs))
	indices := make(chan int)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(indices)
		for i := range inputs {
			select {
			case indices <- i:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	for _, w := range workers {
		w := w
		g.Go(func() error {
			for i := range indices {
				in := inputs[i]
				res := Result{ID: in.ID, PageIndex: in.PageIndex}
				frame, err := w.roundTrip(in)
				switch {
				case err != nil:
					res.Err = err
				case frame.Err != "":
					res.Err = fmt.Errorf("%s", frame.Err)
				default:
					res.Regions = frame.Regions
				}
				results[i] = res
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Cancellation: resolve the tasks that never ran.
		for i := range results {
			if results[i].ID == "" && results[i].Err == nil {
				results[i] = Result{ID: inputs[i].ID, PageIndex: inputs[i].PageIndex, Err: err}
			}
		}
		return results, err
	}
	return results, nil
}

// Stop shuts the pool down: snapshot the PIDs first, close every worker's
// stdin so its loop drains out, wait out the graceful window, then SIGKILL
// whatever is left. The PID snapshot happens before any shutdown signal so
// a worker that wedges mid-exit is still known and killable.
func (p *Pool) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopLocked()
}

func (p *Pool) stopLocked() error {
	if len(p.workers) == 0 {
		p.started = false
		return nil
	}
	pids := make([]int, 0, len(p.workers))
	for _, w := range p.workers {
		if w.cmd.Process != nil {
			pids = append(pids, w.cmd.Process.Pid)
		}
	}
	p.logger.Info("stopping workers", observability.Int("count", len(pids)))

	for _, w := range p.workers {
		w.stdin.Close()
	}

	done := make(chan struct{})
	go func() {
		for _, w := range p.workers {
			w.cmd.Wait()
		}
		close(done)
	}()

	var killed int
	select {
	case <-done:
	case <-time.After(p.stopTimeout):
		for _, pid := range pids {
			if syscall.Kill(pid, 0) == nil {
				syscall.Kill(pid, syscall.SIGKILL)
				killed++
			}
		}
		<-done
	}
	if killed > 0 {
		p.logger.Warn("workers killed after timeout", observability.Int("count", killed))
	}

	p.workers = nil
	p.started = false
	return nil
}
