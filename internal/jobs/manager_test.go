package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/epub2tts/epub2tts/internal/cache"
	"github.com/epub2tts/epub2tts/internal/catalog"
	"github.com/epub2tts/epub2tts/internal/conversion"
	"github.com/epub2tts/epub2tts/internal/dispatch"
)

// fakeRunner emits lines, then waits for release or cancellation.
type fakeRunner struct {
	lines   []string
	release chan struct{}
	fail    error

	running atomic.Int32
	peak    atomic.Int32
	calls   atomic.Int32
}

func (r *fakeRunner) Dispatch(ctx context.Context, req *conversion.Request, sink func(dispatch.Line)) (*conversion.Result, error) {
	r.calls.Add(1)
	n := r.running.Add(1)
	defer r.running.Add(-1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}

	for _, l := range r.lines {
		sink(dispatch.Line{Text: l, Time: time.Now()})
	}

	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			return nil, &conversion.CanceledError{Tail: r.lines, Cause: ctx.Err()}
		}
	}

	if r.fail != nil {
		return nil, &conversion.ExternalFailure{ExitCode: 1, Tail: r.lines, Cause: r.fail}
	}
	return &conversion.Result{Artifact: "/tmp/book-p335.m4b", Size: 42}, nil
}

type memArchive struct {
	mu    sync.Mutex
	metas []cache.ArchiveMeta
	lines map[string][]string
}

func (a *memArchive) Put(meta cache.ArchiveMeta, lines []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lines == nil {
		a.lines = make(map[string][]string)
	}
	a.metas = append(a.metas, meta)
	a.lines[meta.ID] = lines
	return nil
}

func testRequest(t *testing.T) *conversion.Request {
	t.Helper()
	reg, err := catalog.Builtin("")
	if err != nil {
		t.Fatal(err)
	}
	raw := conversion.DefaultRawOptions()
	raw.Source = "book.epub"
	req, err := conversion.Validate(reg, raw)
	if err != nil {
		t.Fatal(err)
	}
	return req
}

func waitDone(t *testing.T, job *Job) {
	t.Helper()
	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("Timed out waiting for job %s (status %s)", job.ID(), job.Status())
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		status   Status
		active   bool
		finished bool
	}{
		{StatusPending, true, false},
		{StatusRunning, true, false},
		{StatusCompleted, false, true},
		{StatusFailed, false, true},
		{StatusCanceled, false, true},
	}

	for _, tt := range tests {
		if got := tt.status.IsActive(); got != tt.active {
			t.Errorf("Status(%s).IsActive() = %v, expected %v", tt.status, got, tt.active)
		}
		if got := tt.status.IsFinished(); got != tt.finished {
			t.Errorf("Status(%s).IsFinished() = %v, expected %v", tt.status, got, tt.finished)
		}
	}
}

func TestSubmitCompletes(t *testing.T) {
	runner := &fakeRunner{lines: []string{"chapter 1", "chapter 2"}}
	archive := &memArchive{}
	var finished atomic.Int32

	m := NewManager(runner, Options{
		Archive:  archive,
		OnFinish: func(Snapshot) { finished.Add(1) },
	})

	job, err := m.Submit(testRequest(t))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if job.ID() == "" {
		t.Fatal("Expected a job ID")
	}
	waitDone(t, job)

	snap := job.Snapshot()
	if snap.Status != StatusCompleted {
		t.Errorf("Expected completed, got %s (%s)", snap.Status, snap.Error)
	}
	if snap.Artifact != "/tmp/book-p335.m4b" {
		t.Errorf("Expected artifact path, got %q", snap.Artifact)
	}
	if snap.LineCount != 2 || snap.LastLine != "chapter 2" {
		t.Errorf("Expected 2 lines ending in chapter 2, got %d / %q", snap.LineCount, snap.LastLine)
	}
	if runner.calls.Load() != 1 {
		t.Errorf("Expected one dispatch, got %d", runner.calls.Load())
	}

	archive.mu.Lock()
	defer archive.mu.Unlock()
	if len(archive.metas) != 1 || archive.metas[0].Status != "completed" {
		t.Errorf("Expected one archived completed log, got %+v", archive.metas)
	}
	if got := archive.lines[job.ID()]; len(got) != 2 {
		t.Errorf("Expected archived lines, got %q", got)
	}
	if finished.Load() != 1 {
		t.Errorf("Expected OnFinish once, got %d", finished.Load())
	}
}

func TestSubmitFailure(t *testing.T) {
	runner := &fakeRunner{lines: []string{"Traceback", "boom"}, fail: errors.New("exit status 1")}
	m := NewManager(runner, Options{})

	job, err := m.Submit(testRequest(t))
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, job)

	snap := job.Snapshot()
	if snap.Status != StatusFailed {
		t.Errorf("Expected failed, got %s", snap.Status)
	}
	if len(snap.Tail) != 2 || snap.Tail[1] != "boom" {
		t.Errorf("Expected failure tail, got %q", snap.Tail)
	}
	if _, err := job.Result(); !errors.Is(err, conversion.ErrExternalFailure) {
		t.Errorf("Expected ErrExternalFailure, got %v", err)
	}
}

func TestConcurrencyLimit(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	m := NewManager(runner, Options{MaxConcurrent: 1})

	var jobs []*Job
	for i := 0; i < 3; i++ {
		job, err := m.Submit(testRequest(t))
		if err != nil {
			t.Fatal(err)
		}
		jobs = append(jobs, job)
	}

	// let the first job reach the runner
	deadline := time.Now().Add(5 * time.Second)
	for runner.running.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	pending := 0
	for _, j := range jobs {
		if j.Status() == StatusPending {
			pending++
		}
	}
	if pending != 2 {
		t.Errorf("Expected 2 pending jobs, got %d", pending)
	}

	close(runner.release)
	for _, j := range jobs {
		waitDone(t, j)
	}
	if peak := runner.peak.Load(); peak != 1 {
		t.Errorf("Expected at most 1 concurrent conversion, got %d", peak)
	}
}

func TestCancel(t *testing.T) {
	runner := &fakeRunner{lines: []string{"working"}, release: make(chan struct{})}
	m := NewManager(runner, Options{MaxConcurrent: 1})

	running, _ := m.Submit(testRequest(t))
	queued, _ := m.Submit(testRequest(t))

	if err := m.Cancel(queued.ID()); err != nil {
		t.Fatalf("Cancel(queued) error = %v", err)
	}
	waitDone(t, queued)
	if queued.Status() != StatusCanceled {
		t.Errorf("Expected queued job to be canceled, got %s", queued.Status())
	}

	if err := m.Cancel(running.ID()); err != nil {
		t.Fatalf("Cancel(running) error = %v", err)
	}
	waitDone(t, running)
	if running.Status() != StatusCanceled {
		t.Errorf("Expected running job to be canceled, got %s", running.Status())
	}

	if err := m.Cancel(running.ID()); !errors.Is(err, ErrFinished) {
		t.Errorf("Expected ErrFinished, got %v", err)
	}
	if err := m.Cancel("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSubscribeReplaysBacklog(t *testing.T) {
	runner := &fakeRunner{lines: []string{"one", "two"}, release: make(chan struct{})}
	m := NewManager(runner, Options{})

	job, _ := m.Submit(testRequest(t))

	deadline := time.Now().Add(5 * time.Second)
	for job.Snapshot().LineCount < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	ch, unsubscribe, err := m.Subscribe(job.ID())
	if err != nil {
		t.Fatal(err)
	}
	defer unsubscribe()

	close(runner.release)

	var got []string
	for l := range ch {
		got = append(got, l.Text)
	}
	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Errorf("Expected replayed backlog, got %q", got)
	}

	// subscribing after completion replays and closes immediately
	ch, _, err = m.Subscribe(job.ID())
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for range ch {
		count++
	}
	if count != 2 {
		t.Errorf("Expected 2 replayed lines after completion, got %d", count)
	}
}

func TestListAndForget(t *testing.T) {
	m := NewManager(&fakeRunner{}, Options{MaxConcurrent: 2})

	var ids []string
	for i := 0; i < 3; i++ {
		job, err := m.Submit(testRequest(t))
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, job.ID())
		waitDone(t, job)
	}

	list := m.List()
	if len(list) != 3 {
		t.Fatalf("Expected 3 jobs, got %d", len(list))
	}
	for i, snap := range list {
		if snap.ID != ids[i] {
			t.Errorf("Expected job %d to be %s, got %s", i, ids[i], snap.ID)
		}
	}

	if err := m.Forget(ids[0]); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(ids[0]); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected forgotten job to be gone, got %v", err)
	}
}

func TestShutdown(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	m := NewManager(runner, Options{})

	job, _ := m.Submit(testRequest(t))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if job.Status() != StatusCanceled {
		t.Errorf("Expected job to be canceled by shutdown, got %s", job.Status())
	}
	if _, err := m.Submit(testRequest(t)); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed after shutdown, got %v", err)
	}
}

func TestLogLineCap(t *testing.T) {
	lines := make([]string, 50)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %d", i)
	}
	m := NewManager(&fakeRunner{lines: lines}, Options{MaxLogLines: 10})

	job, _ := m.Submit(testRequest(t))
	waitDone(t, job)

	got := job.Lines()
	if len(got) > 20 {
		t.Errorf("Expected the log to be capped, got %d lines", len(got))
	}
	if got[len(got)-1].Text != "line 49" {
		t.Errorf("Expected newest line to be kept, got %q", got[len(got)-1].Text)
	}
}
