package daemon_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"transcoder/internal/config"
	"transcoder/internal/daemon"
	"transcoder/internal/logging"
	"transcoder/internal/services"
	"transcoder/internal/status"
	"transcoder/internal/testsupport"
	"transcoder/internal/workflow"
)

func hashOf(n int) string {
	return fmt.Sprintf("%064x", n)
}

type stubRunner struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
	errs  map[string]error
}

func newStubRunner() *stubRunner {
	return &stubRunner{gates: make(map[string]chan struct{}), errs: make(map[string]error)}
}

func (r *stubRunner) hold(hash string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	gate := make(chan struct{})
	r.gates[hash] = gate
	return gate
}

func (r *stubRunner) Run(ctx context.Context, job workflow.Job) (workflow.JobResult, error) {
	r.mu.Lock()
	gate, err := r.gates[job.ContentHash], r.errs[job.ContentHash]
	r.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return workflow.JobResult{}, ctx.Err()
		}
	}
	if err != nil {
		return workflow.JobResult{}, err
	}
	return workflow.JobResult{JobID: job.ID, ContentHash: job.ContentHash, BundleHash: "bundle"}, nil
}

type countingNotifier struct {
	mu       sync.Mutex
	finished []string
	failed   []string
	drained  int
}

func (n *countingNotifier) NotifyJobFinished(_ context.Context, hash, bundle string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.finished = append(n.finished, hash+":"+bundle)
	return nil
}

func (n *countingNotifier) NotifyJobFailed(_ context.Context, hash, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, hash)
	return nil
}

func (n *countingNotifier) NotifyQueueDrained(context.Context, int, int, time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.drained++
	return nil
}

func (n *countingNotifier) TestNotification(context.Context) error { return nil }

func (n *countingNotifier) snapshot() ([]string, []string, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.finished...), append([]string(nil), n.failed...), n.drained
}

func newDaemon(t *testing.T, cfg *config.Config, runner *stubRunner, notifier *countingNotifier) *daemon.Daemon {
	t.Helper()
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	d, err := daemon.New(cfg, logging.NewNop(), daemon.Deps{
		Store:    testsupport.MustOpenStatusStore(t, cfg),
		Runner:   runner,
		Notifier: notifier,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg, newStubRunner(), &countingNotifier{})

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !d.Info().Running {
		t.Fatal("expected daemon to report running")
	}
	if err := d.Start(context.Background()); err == nil {
		t.Fatal("expected second Start to fail")
	}
	if _, err := os.Stat(d.Info().LockPath); err != nil {
		t.Fatalf("lock file missing: %v", err)
	}

	d.Stop()
	if d.Info().Running {
		t.Fatal("expected daemon stopped")
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
}

func TestDaemonLockPreventsSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first := newDaemon(t, cfg, newStubRunner(), &countingNotifier{})
	second := newDaemon(t, cfg, newStubRunner(), &countingNotifier{})

	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		t.Fatal("expected lock contention to refuse the second daemon")
	}
	first.Stop()
	if err := second.Start(context.Background()); err != nil {
		t.Fatalf("second Start after release: %v", err)
	}
}

func TestDaemonRejectsJobsWhileStopped(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg, newStubRunner(), &countingNotifier{})

	if _, err := d.Submit(context.Background(), hashOf(1), nil); !errors.Is(err, daemon.ErrNotRunning) {
		t.Fatalf("Submit err = %v, want ErrNotRunning", err)
	}
	stats := d.Stats()
	if stats.Running || stats.Concurrency != 2 || len(stats.Ongoing) != 0 {
		t.Fatalf("unexpected idle stats %+v", stats)
	}
}

func TestDaemonSubmitWaitAndNotify(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Notifications.Drained = true
	runner := newStubRunner()
	notifier := &countingNotifier{}
	d := newDaemon(t, cfg, runner, notifier)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx := waitCtx(t)
	hash := hashOf(7)
	gate := runner.hold(hash)
	ticket, err := d.Submit(ctx, hash, workflow.IntPtr(5))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !ticket.Admitted() {
		t.Fatal("expected first submission to be admitted")
	}

	dup, err := d.Submit(ctx, hash, nil)
	if err != nil {
		t.Fatalf("duplicate Submit: %v", err)
	}
	if dup.Admitted() {
		t.Fatal("expected duplicate submission to be deduplicated")
	}

	type waited struct {
		out daemon.Outcome
		err error
	}
	done := make(chan waited, 1)
	go func() {
		out, err := d.Wait(ctx, hash)
		done <- waited{out, err}
	}()
	close(gate)
	res, err := ticket.Wait(ctx)
	if err != nil || res.BundleHash != "bundle" {
		t.Fatalf("ticket Wait = %+v, %v", res, err)
	}
	w := <-done
	if w.err != nil || w.out.Status != status.Finished {
		t.Fatalf("daemon Wait = %+v, %v", w.out, w.err)
	}

	st, err := d.Status(ctx, hash)
	if err != nil || st != status.Finished {
		t.Fatalf("Status = %q, %v", st, err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		finished, _, drained := notifier.snapshot()
		if len(finished) == 1 && drained == 1 {
			if finished[0] != hash+":bundle" {
				t.Fatalf("unexpected finished notification %q", finished[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("notifications not delivered: finished=%v drained=%d", finished, drained)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDaemonRetryFailedJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	runner := newStubRunner()
	runner.errs[hashOf(3)] = services.Wrap(services.ErrEncode, "encoding", "rendition 1280x720", "boom", nil)
	d := newDaemon(t, cfg, runner, &countingNotifier{})
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx := waitCtx(t)
	ticket, err := d.Submit(ctx, hashOf(3), nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := ticket.Wait(ctx); !errors.Is(err, services.ErrEncode) {
		t.Fatalf("Wait err = %v, want ErrEncode", err)
	}
	if st, _ := d.Status(ctx, hashOf(3)); st != status.Failed {
		t.Fatalf("status = %q, want failed", st)
	}

	runner.mu.Lock()
	delete(runner.errs, hashOf(3))
	runner.mu.Unlock()

	again, err := d.Retry(ctx, hashOf(3), nil)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if !again.Admitted() {
		t.Fatal("expected retry to re-admit the failed job")
	}
	if _, err := again.Wait(ctx); err != nil {
		t.Fatalf("retry Wait: %v", err)
	}
}

func TestDaemonStartRecoversJobsLeftByCrashedRun(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Status.Backend = config.BackendSQLite
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	ctx := waitCtx(t)
	previous, err := status.OpenSQLite(ctx, cfg.Status.SQLitePath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	for hash, st := range map[string]status.Status{
		hashOf(90): status.InProgress,
		hashOf(91): status.Queued,
		hashOf(92): status.Finished,
	} {
		if err := previous.Set(ctx, hash, st); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	_ = previous.Close()

	d := newDaemon(t, cfg, newStubRunner(), &countingNotifier{})
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for _, hash := range []string{hashOf(90), hashOf(91)} {
		outcome, err := d.Wait(ctx, hash)
		if err != nil {
			t.Fatalf("Wait %s: %v", hash, err)
		}
		if outcome.Status != status.Finished {
			t.Fatalf("%s resolved as %q, want finished", hash, outcome.Status)
		}
	}
	if st, _ := d.Status(ctx, hashOf(92)); st != status.Finished {
		t.Fatalf("finished job changed to %q", st)
	}
}

func TestDaemonRestartRunsJobsQueuedAtStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	runner := newStubRunner()
	runner.hold(hashOf(93))
	runner.hold(hashOf(94))
	d := newDaemon(t, cfg, runner, &countingNotifier{})
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx := waitCtx(t)
	for _, hash := range []string{hashOf(93), hashOf(94)} {
		if _, err := d.Submit(ctx, hash, nil); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	for d.Stats().InProgress < 2 {
		if ctx.Err() != nil {
			t.Fatal("held jobs never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := d.Submit(ctx, hashOf(95), nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	d.Stop()
	if st, _ := d.Status(ctx, hashOf(95)); st != status.Queued {
		t.Fatalf("status after stop = %q, want queued", st)
	}

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	outcome, err := d.Wait(ctx, hashOf(95))
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if outcome.Status != status.Finished {
		t.Fatalf("queued job resolved as %q, want finished", outcome.Status)
	}
}

func TestDaemonStatusValidation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg, newStubRunner(), &countingNotifier{})

	if _, err := d.Status(context.Background(), "nope"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if _, err := d.Status(context.Background(), hashOf(9)); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := d.Wait(context.Background(), hashOf(9)); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("Wait err = %v, want ErrNotFound", err)
	}
}

func TestDaemonTestNotificationRequiresTopic(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg, newStubRunner(), &countingNotifier{})

	sent, msg, err := d.TestNotification(context.Background())
	if err != nil || sent {
		t.Fatalf("sent=%v err=%v", sent, err)
	}
	if msg != "ntfy topic not configured" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestOpenBuildsFromConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithSQLiteStatus())
	d, err := daemon.Open(context.Background(), cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	info := d.Info()
	if info.StatusBackend != config.BackendSQLite {
		t.Fatalf("backend = %q", info.StatusBackend)
	}
	if _, err := os.Stat(cfg.Status.SQLitePath); err != nil {
		t.Fatalf("sqlite database not created: %v", err)
	}
}
