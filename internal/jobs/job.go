package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/epub2tts/epub2tts/internal/conversion"
	"github.com/epub2tts/epub2tts/internal/dispatch"
)

// subscriberBuffer is the live-line headroom of each subscriber channel on
// top of the replayed backlog. A subscriber that falls further behind is
// disconnected.
const subscriberBuffer = 256

// Job is one submitted conversion.
type Job struct {
	id      string
	request *conversion.Request
	cancel  context.CancelFunc
	done    chan struct{}

	mu          sync.Mutex
	status      Status
	createdAt   time.Time
	startedAt   time.Time
	finishedAt  time.Time
	result      *conversion.Result
	err         error
	lines       []dispatch.Line
	maxLines    int
	subscribers map[int]chan dispatch.Line
	nextSub     int
}

// Snapshot is a point-in-time copy of a job for display and JSON.
type Snapshot struct {
	ID         string              `json:"id"`
	Status     Status              `json:"status"`
	Request    *conversion.Request `json:"request"`
	CreatedAt  time.Time           `json:"created_at"`
	StartedAt  time.Time           `json:"started_at,omitzero"`
	FinishedAt time.Time           `json:"finished_at,omitzero"`
	Artifact   string              `json:"artifact,omitempty"`
	Size       int64               `json:"size,omitempty"`
	Error      string              `json:"error,omitempty"`
	Tail       []string            `json:"tail,omitempty"`
	LastLine   string              `json:"last_line,omitempty"`
	LineCount  int                 `json:"line_count"`
}

// ID returns the job identifier.
func (j *Job) ID() string { return j.id }

// Request returns the validated request the job runs.
func (j *Job) Request() *conversion.Request { return j.request }

// Done is closed once the job reaches a final state.
func (j *Job) Done() <-chan struct{} { return j.done }

// Status returns the current status.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Result returns the conversion result and error once finished.
func (j *Job) Result() (*conversion.Result, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, j.err
}

// Lines returns a copy of the buffered log lines.
func (j *Job) Lines() []dispatch.Line {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]dispatch.Line, len(j.lines))
	copy(out, j.lines)
	return out
}

// Snapshot returns a copy of the job state.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	s := Snapshot{
		ID:         j.id,
		Status:     j.status,
		Request:    j.request,
		CreatedAt:  j.createdAt,
		StartedAt:  j.startedAt,
		FinishedAt: j.finishedAt,
		LineCount:  len(j.lines),
	}
	if len(j.lines) > 0 {
		s.LastLine = j.lines[len(j.lines)-1].Text
	}
	if j.result != nil {
		s.Artifact = j.result.Artifact
		s.Size = j.result.Size
	}
	if j.err != nil {
		s.Error = j.err.Error()
		s.Tail = conversion.TailOf(j.err)
	}
	return s
}

// subscribe registers a channel that first receives the backlog and then
// live lines. It is closed when the job finishes.
func (j *Job) subscribe() (<-chan dispatch.Line, func()) {
	j.mu.Lock()
	defer j.mu.Unlock()

	ch := make(chan dispatch.Line, len(j.lines)+subscriberBuffer)
	for _, l := range j.lines {
		ch <- l
	}

	if j.status.IsFinished() {
		close(ch)
		return ch, func() {}
	}

	id := j.nextSub
	j.nextSub++
	j.subscribers[id] = ch

	unsubscribe := func() {
		j.mu.Lock()
		defer j.mu.Unlock()
		if sub, ok := j.subscribers[id]; ok {
			delete(j.subscribers, id)
			close(sub)
		}
	}
	return ch, unsubscribe
}

// appendLine records a line and fans it out to subscribers.
func (j *Job) appendLine(l dispatch.Line) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.lines = append(j.lines, l)
	if j.maxLines > 0 && len(j.lines) > 2*j.maxLines {
		j.lines = append([]dispatch.Line(nil), j.lines[len(j.lines)-j.maxLines:]...)
	}

	for id, ch := range j.subscribers {
		select {
		case ch <- l:
		default:
			// too slow; the client can reconnect and replay
			delete(j.subscribers, id)
			close(ch)
		}
	}
}

func (j *Job) markRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusPending {
		return false
	}
	j.status = StatusRunning
	j.startedAt = time.Now()
	return true
}

func (j *Job) finish(status Status, result *conversion.Result, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.status = status
	j.result = result
	j.err = err
	j.finishedAt = time.Now()

	for id, ch := range j.subscribers {
		delete(j.subscribers, id)
		close(ch)
	}
	close(j.done)
}

// logText returns the buffered lines as plain text.
func (j *Job) logText() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.lines))
	for i, l := range j.lines {
		out[i] = l.Text
	}
	return out
}
