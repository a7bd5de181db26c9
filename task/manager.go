package task

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/scandoc/pdfocr/observability"
	"github.com/scandoc/pdfocr/pipeline"
)

// Status is one queued document's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Task is one queued document conversion.
type Task struct {
	ID         string
	InputPath  string
	OutputPath string
	Status     Status
	// Progress is 0-100.
	Progress     int
	CurrentPage  int
	TotalPages   int
	ErrorMessage string
	Outcome      *pipeline.Outcome
}

// Filename is the input's base name, for display.
func (t *Task) Filename() string { return filepath.Base(t.InputPath) }

// Callbacks receive task lifecycle events. All callbacks run on the
// manager's worker goroutine; keep them fast. Any field may be nil.
type Callbacks struct {
	OnProgress     func(t Task)
	OnFileComplete func(t Task)
	OnError        func(t Task, err error)
	OnAllComplete  func()
}

// Manager queues documents and converts them one at a time on a background
// goroutine. Documents are serialized deliberately: each conversion already
// saturates the machine through its own worker pool.
type Manager struct {
	runner    *Runner
	logger    observability.Logger
	callbacks Callbacks

	mu       sync.Mutex
	tasks    map[string]*Task
	order    []string
	pending  []string
	wake     chan struct{}
	cancel   context.CancelFunc
	running  bool
	stopping bool
	done     chan struct{}
}

// NewManager builds a manager over a runner.
func NewManager(runner *Runner, callbacks Callbacks) *Manager {
	return &Manager{
		runner:    runner,
		logger:    runner.logger,
		callbacks: callbacks,
		tasks:     make(map[string]*Task),
		wake:      make(chan struct{}, 1),
	}
}

// Add queues one PDF and returns a snapshot of the created task. Hidden
// files (in-progress temp artifacts among them) and non-PDF paths are
// rejected.
func (m *Manager) Add(inputPath string) (Task, bool) {
	base := filepath.Base(inputPath)
	if strings.HasPrefix(base, ".") || !strings.EqualFold(filepath.Ext(base), ".pdf") {
		return Task{}, false
	}

	t := &Task{
		ID:         uuid.NewString(),
		InputPath:  inputPath,
		OutputPath: m.runner.cfg.OutputPathFor(inputPath),
		Status:     StatusPending,
	}

	m.mu.Lock()
	m.tasks[t.ID] = t
	m.order = append(m.order, t.ID)
	m.pending = append(m.pending, t.ID)
	snapshot := *t
	m.mu.Unlock()

	m.poke()
	return snapshot, true
}

// AddAll queues several paths, returning snapshots of the tasks actually
// accepted.
func (m *Manager) AddAll(paths []string) []Task {
	var out []Task
	for _, p := range paths {
		if t, ok := m.Add(p); ok {
			out = append(out, t)
		}
	}
	return out
}

// AddDir queues every PDF under a directory, optionally recursing.
func (m *Manager) AddDir(dir string, recursive bool) ([]Task, error) {
	var paths []string
	if recursive {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	} else {
		entries, err := filepath.Glob(filepath.Join(dir, "*"))
		if err != nil {
			return nil, err
		}
		paths = entries
	}
	return m.AddAll(paths), nil
}

// Task returns a snapshot of one task.
func (m *Manager) Task(id string) (Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Tasks returns snapshots of every task in insertion order.
func (m *Manager) Tasks() []Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Task, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.tasks[id])
	}
	return out
}

// PendingCount reports how many tasks have not started yet.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Remove drops a task that is not currently processing.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Status == StatusProcessing {
		return false
	}
	delete(m.tasks, id)
	m.order = removeID(m.order, id)
	m.pending = removeID(m.pending, id)
	return true
}

// Start launches the worker goroutine. Idempotent while running.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.stopping = false
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go func() {
		defer close(done)
		m.loop(runCtx)
	}()
}

// Stop lets the current conversion finish, then parks the worker without
// touching pending tasks.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopping = true
	m.mu.Unlock()
	m.poke()
}

// Cancel stops the current conversion (its checkpoint survives) and marks
// every pending task cancelled.
func (m *Manager) Cancel() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	for _, id := range m.pending {
		m.tasks[id].Status = StatusCancelled
	}
	m.pending = nil
	m.mu.Unlock()
	m.poke()
}

// Wait blocks until the worker goroutine exits.
func (m *Manager) Wait() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Running reports whether the worker goroutine is active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) poke() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) loop(ctx context.Context) {
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	for {
		m.mu.Lock()
		stopping := m.stopping
		m.mu.Unlock()
		if stopping {
			return
		}

		t := m.next()
		if t == nil {
			if m.callbacks.OnAllComplete != nil && m.anyFinished() {
				m.callbacks.OnAllComplete()
			}
			select {
			case <-ctx.Done():
				return
			case <-m.wake:
				if ctx.Err() != nil {
					return
				}
				continue
			}
		}
		m.runTask(ctx, t)
		if ctx.Err() != nil {
			return
		}
	}
}

// next pops the oldest pending task, or nil when the queue is empty.
func (m *Manager) next() *Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.pending) > 0 {
		id := m.pending[0]
		m.pending = m.pending[1:]
		if t, ok := m.tasks[id]; ok && t.Status == StatusPending {
			t.Status = StatusProcessing
			return t
		}
	}
	return nil
}

func (m *Manager) anyFinished() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		switch t.Status {
		case StatusCompleted, StatusFailed, StatusCancelled:
			return true
		}
	}
	return false
}

func (m *Manager) runTask(ctx context.Context, t *Task) {
	progress := func(page, total int) {
		m.mu.Lock()
		t.CurrentPage = page
		t.TotalPages = total
		if total > 0 {
			t.Progress = page * 100 / total
		}
		snapshot := *t
		m.mu.Unlock()
		if m.callbacks.OnProgress != nil {
			m.callbacks.OnProgress(snapshot)
		}
	}

	outcome, err := m.runner.RunDocument(ctx, t.InputPath, t.OutputPath, progress)

	m.mu.Lock()
	t.Outcome = outcome
	switch {
	case err == nil:
		t.Status = StatusCompleted
		t.Progress = 100
	case errors.Is(err, pipeline.ErrCancelled) || errors.Is(err, context.Canceled):
		t.Status = StatusCancelled
		t.ErrorMessage = err.Error()
	default:
		t.Status = StatusFailed
		t.ErrorMessage = err.Error()
	}
	snapshot := *t
	m.mu.Unlock()

	switch snapshot.Status {
	case StatusCompleted:
		if m.callbacks.OnFileComplete != nil {
			m.callbacks.OnFileComplete(snapshot)
		}
	case StatusFailed:
		m.logger.Error("task failed",
			observability.String("input", snapshot.InputPath),
			observability.Error("error", err))
		if m.callbacks.OnError != nil {
			m.callbacks.OnError(snapshot, err)
		}
	}
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
