package scheduler

import (
	"context"
	"sync"

	"transcoder/internal/status"
	"transcoder/internal/workflow"
)

// Ticket tracks one Submit call. Admitted tickets resolve once their job
// reaches a terminal status or the scheduler stops; tickets for duplicate
// submissions are resolved on return.
type Ticket struct {
	job      workflow.Job
	admitted bool
	done     chan struct{}

	mu     sync.Mutex
	status status.Status
	result workflow.JobResult
	err    error
	once   sync.Once
}

func newTicket(job workflow.Job, st status.Status, admitted bool) *Ticket {
	t := &Ticket{job: job, status: st, admitted: admitted, done: make(chan struct{})}
	if !admitted {
		t.resolve(st, workflow.JobResult{}, nil)
	}
	return t
}

// Job returns the job as admitted, including its assigned ID.
func (t *Ticket) Job() workflow.Job { return t.job }

// Admitted reports whether this submission enqueued a new job.
func (t *Ticket) Admitted() bool { return t.admitted }

// Status returns the latest status known for the ticket's content hash.
func (t *Ticket) Status() status.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Done is closed when the ticket resolves.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Wait blocks until the ticket resolves or ctx ends.
func (t *Ticket) Wait(ctx context.Context) (workflow.JobResult, error) {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.result, t.err
	case <-ctx.Done():
		return workflow.JobResult{}, ctx.Err()
	}
}

func (t *Ticket) setStatus(st status.Status) {
	t.mu.Lock()
	t.status = st
	t.mu.Unlock()
}

func (t *Ticket) resolve(st status.Status, result workflow.JobResult, err error) {
	t.once.Do(func() {
		t.mu.Lock()
		if st != "" {
			t.status = st
		}
		t.result = result
		t.err = err
		t.mu.Unlock()
		close(t.done)
	})
}
