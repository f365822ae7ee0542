// Package scheduler admits transcoding jobs into a single priority queue and
// runs them on a bounded worker pool.
//
// Admission is deduplicated by content hash through the status store's Claim
// primitive, so at most one queued or running job exists per hash even when
// several processes share the store. Workers persist every status transition
// before announcing it, and a job is only reported finished once the finished
// status has been written. Each write is a compare-and-swap from the status the
// worker expects, so a key never moves backwards.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"transcoder/internal/contentstore"
	"transcoder/internal/events"
	"transcoder/internal/logging"
	"transcoder/internal/services"
	"transcoder/internal/status"
	"transcoder/internal/workflow"
)

// ErrStopped is returned by Submit and Retry after Stop.
var ErrStopped = errors.New("scheduler stopped")

// finalizeTimeout bounds status writes that must happen after the worker
// context is canceled.
const finalizeTimeout = 10 * time.Second

// Runner executes one admitted job. *workflow.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, job workflow.Job) (workflow.JobResult, error)
}

// Config tunes the worker pool.
type Config struct {
	// Concurrency is the number of workers; zero uses runtime.NumCPU().
	Concurrency     int
	DefaultPriority int
	Clock           func() time.Time
}

// Stats is a point-in-time snapshot of the scheduler.
type Stats struct {
	Running     bool     `json:"running"`
	Queued      int      `json:"queued"`
	InProgress  int      `json:"in_progress"`
	Concurrency int      `json:"concurrency"`
	Ongoing     []string `json:"ongoing"`
}

// Scheduler owns the priority queue and the worker pool.
type Scheduler struct {
	cfg    Config
	store  status.Store
	runner Runner
	bus    events.Bus
	logger *slog.Logger

	wake chan struct{}

	mu       sync.Mutex
	queue    queue
	active   map[string]*Ticket
	ongoing  map[string]string
	busy     int
	idle     chan struct{}
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	workers  sync.WaitGroup
	finished int
	failed   int
}

// New builds a scheduler. Start must be called before queued jobs run.
func New(cfg Config, store status.Store, runner Runner, bus events.Bus, logger *slog.Logger) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.NumCPU()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if bus == nil {
		bus = events.Nop{}
	}
	idle := make(chan struct{})
	close(idle)
	return &Scheduler{
		cfg:     cfg,
		store:   store,
		runner:  runner,
		bus:     bus,
		logger:  logging.NewComponentLogger(logger, "scheduler"),
		wake:    make(chan struct{}, 1),
		active:  make(map[string]*Ticket),
		ongoing: make(map[string]string),
		idle:    idle,
	}
}

// Start launches the workers. They stop when ctx ends or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true
	for i := 0; i < s.cfg.Concurrency; i++ {
		s.workers.Add(1)
		go s.work(ctx, i+1)
	}
	s.logger.Info("scheduler started",
		logging.String(logging.FieldEventType, "scheduler_start"),
		logging.Int("concurrency", s.cfg.Concurrency),
		logging.Int("queued", s.queue.len()),
	)
	if s.queue.len() > 0 {
		s.signal()
	}
	return nil
}

// Stop cancels running jobs, waits for every worker to exit, and resolves
// queued tickets with context.Canceled. Queued keys keep their queued status.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.workers.Wait()

	s.mu.Lock()
	pending := s.queue.drain()
	for _, t := range pending {
		delete(s.active, t.job.ContentHash)
	}
	s.markIdleLocked()
	s.mu.Unlock()

	for _, t := range pending {
		t.resolve("", workflow.JobResult{}, context.Canceled)
	}
	s.logger.Info("scheduler stopped",
		logging.String(logging.FieldEventType, "scheduler_stop"),
		logging.Int("abandoned", len(pending)),
	)
}

// Submit admits job unless its content hash already has a status. A
// duplicate returns a resolved ticket carrying the stored status.
func (s *Scheduler) Submit(ctx context.Context, job workflow.Job) (*Ticket, error) {
	if err := s.checkSubmit(job); err != nil {
		return nil, err
	}
	existing, err := s.store.Get(ctx, job.ContentHash)
	switch {
	case err == nil:
		return s.duplicate(job, existing), nil
	case !errors.Is(err, services.ErrNotFound):
		return nil, storeError("submit", err)
	}
	existing, claimed, err := s.store.Claim(ctx, job.ContentHash, status.Queued)
	if err != nil {
		return nil, storeError("submit", err)
	}
	if !claimed {
		return s.duplicate(job, existing), nil
	}
	return s.admit(job), nil
}

// Retry re-admits a job whose content hash is marked failed. Any other
// stored status yields an unadmitted ticket carrying that status.
func (s *Scheduler) Retry(ctx context.Context, job workflow.Job) (*Ticket, error) {
	if err := s.checkSubmit(job); err != nil {
		return nil, err
	}
	swapped, err := s.store.Replace(ctx, job.ContentHash, status.Failed, status.Queued)
	if err != nil {
		return nil, storeError("retry", err)
	}
	if swapped {
		s.logger.Info("failed job re-admitted",
			logging.String(logging.FieldEventType, "job_retry"),
			logging.String(logging.FieldContentHash, job.ContentHash),
		)
		return s.admit(job), nil
	}
	current, err := s.store.Get(ctx, job.ContentHash)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return nil, services.Wrap(services.ErrNotFound, "scheduler", "retry",
				"no job recorded for "+job.ContentHash, nil)
		}
		return nil, storeError("retry", err)
	}
	return s.duplicate(job, current), nil
}

// Recover fails keys left queued or in progress at or before cutoff by a
// previous run and re-admits them. Keys that are not content hashes are
// failed but not re-admitted. It may be called before Start.
func (s *Scheduler) Recover(ctx context.Context, cutoff time.Time) ([]*Ticket, error) {
	keys, err := s.store.Reclaim(ctx, cutoff)
	if err != nil {
		return nil, storeError("recover", err)
	}
	tickets := make([]*Ticket, 0, len(keys))
	for _, key := range keys {
		if !contentstore.ValidHash(key) {
			continue
		}
		t, err := s.Retry(ctx, workflow.Job{ContentHash: key})
		if err != nil {
			return tickets, err
		}
		s.logger.Info("stale job recovered",
			logging.String(logging.FieldEventType, "job_recovered"),
			logging.String(logging.FieldContentHash, key),
			logging.Time("cutoff", cutoff),
		)
		tickets = append(tickets, t)
	}
	return tickets, nil
}

// Ticket returns the live ticket for hash when this scheduler holds its job.
func (s *Scheduler) Ticket(hash string) (*Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.active[hash]
	return t, ok
}

// Stats never fails; it reports the in-memory view of the pool.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	ongoing := make([]string, 0, len(s.ongoing))
	for hash := range s.ongoing {
		ongoing = append(ongoing, hash)
	}
	sort.Strings(ongoing)
	return Stats{
		Running:     s.started && !s.stopped,
		Queued:      s.queue.len(),
		InProgress:  s.busy,
		Concurrency: s.cfg.Concurrency,
		Ongoing:     ongoing,
	}
}

// WaitIdle blocks until the queue is empty and no worker is busy.
func (s *Scheduler) WaitIdle(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) checkSubmit(job workflow.Job) error {
	if !contentstore.ValidHash(job.ContentHash) {
		return services.Wrap(services.ErrValidation, "scheduler", "submit",
			fmt.Sprintf("invalid content hash %q", job.ContentHash), nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	return nil
}

func (s *Scheduler) duplicate(job workflow.Job, existing status.Status) *Ticket {
	s.logger.Info("job already known",
		logging.String(logging.FieldEventType, "job_duplicate"),
		logging.String(logging.FieldContentHash, job.ContentHash),
		logging.String("status", string(existing)),
	)
	return newTicket(job, existing, false)
}

func (s *Scheduler) admit(job workflow.Job) *Ticket {
	if job.ID == "" {
		job.ID = workflow.NewJobID()
	}
	job.SubmittedAt = s.cfg.Clock()
	priority := s.cfg.DefaultPriority
	if job.Priority != nil {
		priority = *job.Priority
	}
	job.Priority = &priority

	t := newTicket(job, status.Queued, true)
	s.publishStatus(job, status.Queued, nil, "")
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		t.resolve("", workflow.JobResult{}, ErrStopped)
		return t
	}
	s.active[job.ContentHash] = t
	s.queue.push(t, priority)
	s.markBusyLocked()
	queued := s.queue.len()
	s.mu.Unlock()

	s.logger.Info("job queued",
		logging.String(logging.FieldEventType, "job_queued"),
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldContentHash, job.ContentHash),
		logging.Int("priority", priority),
		logging.Int("queued", queued),
	)
	s.signal()
	return t
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) work(ctx context.Context, id int) {
	defer s.workers.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		t, more, ok := s.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
				continue
			}
		}
		if more {
			s.signal()
		}
		s.process(ctx, id, t)
	}
}

// next pops the best ticket and marks it running. more reports whether other
// tickets remain queued.
func (s *Scheduler) next() (t *Ticket, more bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok = s.queue.pop()
	if !ok {
		return nil, false, false
	}
	s.busy++
	s.ongoing[t.job.ContentHash] = t.job.ID
	return t, s.queue.len() > 0, true
}

func (s *Scheduler) process(ctx context.Context, worker int, t *Ticket) {
	job := t.job
	jobCtx := services.WithJobID(ctx, job.ID)
	jobCtx = services.WithContentHash(jobCtx, job.ContentHash)
	logger := logging.WithContext(jobCtx, s.logger).With(logging.Int("worker", worker))

	if ctx.Err() != nil {
		s.requeue(t)
		return
	}
	if err := status.Advance(jobCtx, s.store, job.ContentHash, status.Queued, status.InProgress); err != nil {
		err = storeError("start", err)
		final := s.persistFailure(jobCtx, logger, job, status.Queued)
		s.complete(logger, t, final, workflow.JobResult{}, err)
		return
	}
	t.setStatus(status.InProgress)
	s.publishStatus(job, status.InProgress, nil, "")
	logger.Info("job started",
		logging.String(logging.FieldEventType, "job_start"),
		logging.Duration("queued_for", s.cfg.Clock().Sub(job.SubmittedAt)),
	)

	result, runErr := s.runner.Run(jobCtx, job)
	if runErr != nil {
		final := s.persistFailure(jobCtx, logger, job, status.InProgress)
		s.complete(logger, t, final, workflow.JobResult{}, runErr)
		return
	}

	persistCtx, cancel := finalizeContext(jobCtx)
	defer cancel()
	if err := status.Advance(persistCtx, s.store, job.ContentHash, status.InProgress, status.Finished); err != nil {
		// A write can land even though the reply was lost.
		if current, getErr := s.store.Get(persistCtx, job.ContentHash); getErr == nil && current == status.Finished {
			logging.WarnWithContext(logger, "finished status write reported an error but was stored", "status_write_ambiguous",
				logging.Error(err),
				logging.String(logging.FieldImpact, "none; job reported finished"),
			)
			s.complete(logger, t, status.Finished, result, nil)
			return
		}
		err = storeError("finish", err)
		logging.ErrorWithContext(logger, "finished status not persisted", "status_write_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check status store connectivity"),
		)
		final := s.persistFailure(jobCtx, logger, job, status.InProgress)
		s.complete(logger, t, final, workflow.JobResult{}, err)
		return
	}
	s.complete(logger, t, status.Finished, result, nil)
}

// requeue returns a popped ticket to the queue untouched.
func (s *Scheduler) requeue(t *Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy--
	delete(s.ongoing, t.job.ContentHash)
	s.queue.push(t, *t.job.Priority)
}

// persistFailure moves the key from the status the worker last wrote to
// failed and returns the status the key is left in, or "" when the store
// cannot say.
func (s *Scheduler) persistFailure(ctx context.Context, logger *slog.Logger, job workflow.Job, from status.Status) status.Status {
	persistCtx, cancel := finalizeContext(ctx)
	defer cancel()
	if err := status.Advance(persistCtx, s.store, job.ContentHash, from, status.Failed); err != nil {
		logging.ErrorWithContext(logger, "failed status not persisted", "status_write_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "retry will not re-admit this key until its status is repaired"),
		)
		current, getErr := s.store.Get(persistCtx, job.ContentHash)
		if getErr != nil {
			return ""
		}
		return current
	}
	return status.Failed
}

func (s *Scheduler) complete(logger *slog.Logger, t *Ticket, final status.Status, result workflow.JobResult, err error) {
	job := t.job
	if final != "" {
		s.publishStatus(job, final, err, result.BundleHash)
	}

	s.mu.Lock()
	s.busy--
	delete(s.ongoing, job.ContentHash)
	delete(s.active, job.ContentHash)
	if err != nil {
		s.failed++
	} else {
		s.finished++
	}
	drained := !s.stopped && s.queue.len() == 0 && s.busy == 0
	var finished, failed int
	if drained {
		finished, failed = s.finished, s.failed
		s.finished, s.failed = 0, 0
	}
	s.mu.Unlock()

	if err != nil {
		logging.ErrorWithContext(logger, "job failed", "job_failed",
			logging.String(logging.FieldErrorKind, services.Kind(err)),
			logging.Error(err),
		)
	} else {
		logger.Info("job finished",
			logging.String(logging.FieldEventType, "job_finished"),
			logging.String("bundle_hash", result.BundleHash),
		)
	}
	t.resolve(final, result, err)

	if drained {
		s.bus.Publish(events.Event{
			Kind:    events.KindDrained,
			Message: fmt.Sprintf("%d finished, %d failed", finished, failed),
		})
		s.logger.Info("queue drained",
			logging.String(logging.FieldEventType, "queue_drained"),
			logging.Int("finished", finished),
			logging.Int("failed", failed),
		)
		s.mu.Lock()
		if s.queue.len() == 0 && s.busy == 0 {
			s.markIdleLocked()
		}
		s.mu.Unlock()
	}
}

func (s *Scheduler) markBusyLocked() {
	select {
	case <-s.idle:
		s.idle = make(chan struct{})
	default:
	}
}

func (s *Scheduler) markIdleLocked() {
	select {
	case <-s.idle:
	default:
		close(s.idle)
	}
}

// publishStatus announces a persisted status. Finished events carry the
// bundle hash as their message.
func (s *Scheduler) publishStatus(job workflow.Job, st status.Status, err error, bundle string) {
	ev := events.Event{
		Kind:        events.KindStatus,
		JobID:       job.ID,
		ContentHash: job.ContentHash,
		Status:      st,
		Message:     bundle,
	}
	if err != nil {
		ev.Message = err.Error()
		ev.ErrorKind = services.Kind(err)
	}
	s.bus.Publish(ev)
}

func finalizeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
}

func storeError(op string, err error) error {
	if errors.Is(err, services.ErrStore) {
		return err
	}
	return services.Wrap(services.ErrStore, "scheduler", op, "status store", err)
}
