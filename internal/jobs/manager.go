package jobs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/epub2tts/epub2tts/internal/cache"
	"github.com/epub2tts/epub2tts/internal/conversion"
	"github.com/epub2tts/epub2tts/internal/dispatch"
)

// Manager errors
var (
	// ErrNotFound indicates no job has the given ID
	ErrNotFound = errors.New("job not found")

	// ErrFinished indicates the job already reached a final state
	ErrFinished = errors.New("job already finished")

	// ErrClosed indicates the manager is shutting down
	ErrClosed = errors.New("job manager is shut down")
)

// Defaults
const (
	DefaultMaxConcurrent = 1
	DefaultMaxLogLines   = 5000
)

// Runner runs one conversion. *dispatch.Dispatcher implements it.
type Runner interface {
	Dispatch(ctx context.Context, req *conversion.Request, sink func(dispatch.Line)) (*conversion.Result, error)
}

// Archiver stores the log of finished jobs. *cache.LogArchive implements it.
type Archiver interface {
	Put(meta cache.ArchiveMeta, lines []string) error
}

// Options configures a Manager.
type Options struct {
	// MaxConcurrent bounds how many conversions run at once.
	MaxConcurrent int64

	// MaxLogLines bounds the in-memory log of each job.
	MaxLogLines int

	// Archive receives the log of every finished job; may be nil.
	Archive Archiver

	// OnFinish is called after a job reaches a final state; may be nil.
	OnFinish func(Snapshot)

	Logger *log.Logger
}

// Manager runs submitted conversions in the background.
type Manager struct {
	runner Runner
	opts   Options
	sem    *semaphore.Weighted
	logger *log.Logger

	mu     sync.RWMutex
	jobs   map[string]*Job
	closed bool
	wg     sync.WaitGroup
}

// NewManager creates a job manager around runner.
func NewManager(runner Runner, opts Options) *Manager {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.MaxLogLines <= 0 {
		opts.MaxLogLines = DefaultMaxLogLines
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		runner: runner,
		opts:   opts,
		sem:    semaphore.NewWeighted(opts.MaxConcurrent),
		logger: logger,
		jobs:   make(map[string]*Job),
	}
}

// Submit queues req and returns immediately. The job starts once a slot is
// free.
func (m *Manager) Submit(req *conversion.Request) (*Job, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", conversion.ErrInvalidOption)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		id:          uuid.NewString(),
		request:     req,
		cancel:      cancel,
		done:        make(chan struct{}),
		status:      StatusPending,
		createdAt:   time.Now(),
		maxLines:    m.opts.MaxLogLines,
		subscribers: make(map[int]chan dispatch.Line),
	}
	m.jobs[job.id] = job

	m.wg.Add(1)
	go m.run(ctx, job)

	m.logger.Info("conversion queued", "job", job.id, "source", filepath.Base(req.Source()))
	return job, nil
}

func (m *Manager) run(ctx context.Context, job *Job) {
	defer m.wg.Done()
	defer job.cancel()

	if err := m.sem.Acquire(ctx, 1); err != nil {
		m.complete(job, nil, &conversion.CanceledError{Cause: err})
		return
	}
	defer m.sem.Release(1)

	if !job.markRunning() {
		return
	}
	m.logger.Info("conversion started", "job", job.id)

	result, err := m.runner.Dispatch(ctx, job.request, job.appendLine)
	m.complete(job, result, err)
}

func (m *Manager) complete(job *Job, result *conversion.Result, err error) {
	status := StatusCompleted
	switch {
	case err == nil:
	case errors.Is(err, conversion.ErrCanceled):
		status = StatusCanceled
	default:
		status = StatusFailed
	}

	job.finish(status, result, err)
	snap := job.Snapshot()

	if err != nil {
		m.logger.Warn("conversion finished", "job", job.id, "status", status, "error", err)
	} else {
		m.logger.Info("conversion finished", "job", job.id, "status", status, "artifact", snap.Artifact)
	}

	if m.opts.Archive != nil {
		meta := cache.ArchiveMeta{
			ID:       job.id,
			Source:   filepath.Base(job.request.Source()),
			Engine:   job.request.Engine(),
			Speaker:  job.request.Speaker(),
			Status:   status.String(),
			Artifact: snap.Artifact,
			Finished: snap.FinishedAt,
		}
		if err := m.opts.Archive.Put(meta, job.logText()); err != nil {
			m.logger.Error("archiving job log", "job", job.id, "error", err)
		}
	}

	if m.opts.OnFinish != nil {
		m.opts.OnFinish(snap)
	}
}

// Get returns the job with id.
func (m *Manager) Get(id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return job, nil
}

// List returns snapshots of every job, oldest first.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j)
	}
	m.mu.RUnlock()

	out := make([]Snapshot, len(jobs))
	for i, j := range jobs {
		out[i] = j.Snapshot()
	}
	slices.SortFunc(out, func(a, b Snapshot) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

// Cancel stops a pending or running job. The converter process is killed;
// partial output stays on disk.
func (m *Manager) Cancel(id string) error {
	job, err := m.Get(id)
	if err != nil {
		return err
	}
	if job.Status().IsFinished() {
		return fmt.Errorf("%w: %s", ErrFinished, id)
	}
	job.cancel()
	m.logger.Info("conversion cancel requested", "job", id)
	return nil
}

// Subscribe returns a channel replaying the job's log so far followed by live
// lines. The channel is closed when the job finishes; call the returned
// function to stop early.
func (m *Manager) Subscribe(id string) (<-chan dispatch.Line, func(), error) {
	job, err := m.Get(id)
	if err != nil {
		return nil, nil, err
	}
	ch, unsubscribe := job.subscribe()
	return ch, unsubscribe, nil
}

// Forget drops a finished job from memory.
func (m *Manager) Forget(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !job.Status().IsFinished() {
		return fmt.Errorf("job %s is still %s", id, job.Status())
	}
	delete(m.jobs, id)
	return nil
}

// Shutdown stops accepting jobs, cancels every active job and waits for them
// to finish or for ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for _, j := range m.jobs {
		if j.Status().IsActive() {
			j.cancel()
		}
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
