package transfer

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Result summarises what a finished transfer moved.
type Result struct {
	Bytes    int64  `json:"bytes"`
	Chunks   int    `json:"chunks"`
	Checksum string `json:"checksum,omitempty"`
}

// Task is the handle of one running transfer. It is returned to the caller
// as soon as the transfer starts and completes in the background.
type Task struct {
	ID     string
	Kind   Kind
	Handle string
	Name   string

	bus    *Bus
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	status     Status
	err        error
	result     Result
	startedAt  time.Time
	finishedAt time.Time
	hooks      []func(*Task)
}

// NewTask creates a pending task publishing to bus. cancel, if not nil, is
// called by Cancel.
func NewTask(id string, kind Kind, handle, name string, bus *Bus, cancel context.CancelFunc) *Task {
	if bus == nil {
		bus = NewBus()
	}
	return &Task{
		ID:        id,
		Kind:      kind,
		Handle:    handle,
		Name:      name,
		bus:       bus,
		cancel:    cancel,
		done:      make(chan struct{}),
		status:    StatusPending,
		startedAt: time.Now(),
	}
}

// Subscribe returns the task's progress stream.
func (t *Task) Subscribe() <-chan Sample {
	return t.bus.Subscribe()
}

// Report publishes a progress sample and marks the task in progress.
func (t *Task) Report(percent float64) {
	t.mu.Lock()
	if t.status.Terminal() {
		t.mu.Unlock()
		return
	}
	t.status = StatusInProgress
	t.mu.Unlock()

	t.bus.Publish(Sample{TransferID: t.ID, Percent: percent})
}

// SetResult records what the transfer moved so far.
func (t *Task) SetResult(r Result) {
	t.mu.Lock()
	t.result = r
	t.mu.Unlock()
}

// Finish ends the task. A nil err completes it and guarantees a final sample
// of 100; otherwise the failure sentinel is published. Hooks run before Done
// is closed.
func (t *Task) Finish(err error) {
	t.mu.Lock()
	if t.status.Terminal() {
		t.mu.Unlock()
		return
	}
	switch {
	case err == nil:
		t.status = StatusCompleted
	case errors.Is(err, context.Canceled):
		t.status = StatusCancelled
	default:
		t.status = StatusFailed
	}
	t.err = err
	t.finishedAt = time.Now()
	hooks := t.hooks
	t.hooks = nil
	t.mu.Unlock()

	if err == nil {
		if last, ok := t.bus.Latest(); !ok || last.Percent < 100 {
			t.bus.Publish(Sample{TransferID: t.ID, Percent: 100})
		}
	} else {
		t.bus.Publish(Sample{TransferID: t.ID, Failed: true})
	}
	if t.cancel != nil {
		t.cancel()
	}
	for _, hook := range hooks {
		hook(t)
	}
	close(t.done)
}

// OnFinish registers fn to run once the task has finished. If it already
// has, fn runs immediately.
func (t *Task) OnFinish(fn func(*Task)) {
	t.mu.Lock()
	if !t.status.Terminal() {
		t.hooks = append(t.hooks, fn)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	fn(t)
}

// Cancel asks the transfer to stop at the next chunk boundary.
func (t *Task) Cancel() {
	if t.cancel != nil {
		t.cancel()
	}
}

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes or ctx is done. Leaving early does
// not stop the transfer.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the error the task finished with.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Status returns the current status.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Result returns the recorded transfer result.
func (t *Task) Result() Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// Progress returns the latest published sample.
func (t *Task) Progress() (Sample, bool) {
	return t.bus.Latest()
}

// Info returns a JSON-friendly snapshot of the task.
func (t *Task) Info() TaskInfo {
	t.mu.Lock()
	info := TaskInfo{
		TransferID: t.ID,
		Kind:       t.Kind,
		ThreadID:   t.Handle,
		FileName:   t.Name,
		Status:     t.status,
		Result:     t.result,
		StartedAt:  t.startedAt,
	}
	if t.err != nil {
		info.Error = t.err.Error()
	}
	if !t.finishedAt.IsZero() {
		finished := t.finishedAt
		info.FinishedAt = &finished
	}
	t.mu.Unlock()

	if s, ok := t.bus.Latest(); ok && !s.Failed {
		info.Percent = s.Percent
	}
	return info
}
