package ipc_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"transcoder/internal/daemon"
	"transcoder/internal/ipc"
	"transcoder/internal/logging"
	"transcoder/internal/rendition"
	"transcoder/internal/services"
	"transcoder/internal/testsupport"
	"transcoder/internal/workflow"
)

func hashOf(n int) string {
	return fmt.Sprintf("%064x", n)
}

type gatedRunner struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
	errs  map[string]error
}

func (r *gatedRunner) Run(ctx context.Context, job workflow.Job) (workflow.JobResult, error) {
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
	start := time.Now()
	return workflow.JobResult{
		JobID:       job.ID,
		ContentHash: job.ContentHash,
		BundleHash:  strings.Repeat("b", 64),
		Renditions: []rendition.Result{
			{Spec: rendition.Spec{Width: 1280, Height: 720, Bandwidth: 2800000}, PlaylistPath: "/work/job/720.m3u8"},
		},
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
	}, nil
}

type harness struct {
	client   *ipc.Client
	runner   *gatedRunner
	shutdown chan struct{}
}

func startHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	runner := &gatedRunner{gates: map[string]chan struct{}{}, errs: map[string]error{}}
	d, err := daemon.New(cfg, logging.NewNop(), daemon.Deps{
		Store:  testsupport.MustOpenStatusStore(t, cfg),
		Runner: runner,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon Start: %v", err)
	}

	// Unix socket paths are length limited; keep this one short.
	sockDir, err := os.MkdirTemp("", "tc")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(sockDir) })
	socket := filepath.Join(sockDir, "t.sock")

	shutdown := make(chan struct{})
	srv, err := ipc.NewServer(ctx, socket, d, logging.NewNop(), func() { close(shutdown) })
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return &harness{client: client, runner: runner, shutdown: shutdown}
}

func callCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSubmitWaitOverSocket(t *testing.T) {
	h := startHarness(t)
	ctx := callCtx(t)
	hash := hashOf(1)

	gate := make(chan struct{})
	h.runner.mu.Lock()
	h.runner.gates[hash] = gate
	h.runner.mu.Unlock()

	resp, err := h.client.Submit(ctx, hash, workflow.IntPtr(4))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !resp.Admitted || resp.JobID == "" || resp.Priority != 4 {
		t.Fatalf("unexpected submit response %+v", resp)
	}

	dup, err := h.client.Submit(ctx, hash, nil)
	if err != nil {
		t.Fatalf("duplicate Submit: %v", err)
	}
	if dup.Admitted {
		t.Fatalf("expected duplicate, got %+v", dup)
	}

	stats, err := h.client.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if !stats.Running || stats.Concurrency != 2 || stats.PID != os.Getpid() {
		t.Fatalf("unexpected stats %+v", stats)
	}

	waited := make(chan *ipc.WaitResponse, 1)
	go func() {
		out, err := h.client.Wait(ctx, hash, 0)
		if err != nil {
			t.Errorf("Wait: %v", err)
		}
		waited <- out
	}()
	time.Sleep(20 * time.Millisecond)
	close(gate)

	out := <-waited
	if out == nil {
		t.FailNow()
	}
	if out.Status != "finished" {
		t.Fatalf("status = %q", out.Status)
	}
	if out.Result != nil {
		if out.Result.DurationMS != 1500 || len(out.Result.Renditions) != 1 || out.Result.Renditions[0].Playlist != "720.m3u8" {
			t.Fatalf("unexpected result %+v", out.Result)
		}
	}

	st, err := h.client.Status(ctx, hash)
	if err != nil || st.Status != "finished" {
		t.Fatalf("Status = %+v, %v", st, err)
	}
}

func TestFailuresKeepTheirKind(t *testing.T) {
	h := startHarness(t)
	ctx := callCtx(t)

	if _, err := h.client.Submit(ctx, "not-a-hash", nil); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("Submit err = %v, want ErrValidation", err)
	}
	if _, err := h.client.Status(ctx, hashOf(2)); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("Status err = %v, want ErrNotFound", err)
	}
	if _, err := h.client.Retry(ctx, hashOf(2), nil); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("Retry err = %v, want ErrNotFound", err)
	}

	hash := hashOf(3)
	gate := make(chan struct{})
	h.runner.mu.Lock()
	h.runner.gates[hash] = gate
	h.runner.errs[hash] = services.Wrap(services.ErrJoinIncomplete, "joining", "join", "resolved 2 of 3 renditions", nil)
	h.runner.mu.Unlock()
	if _, err := h.client.Submit(ctx, hash, nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	time.AfterFunc(20*time.Millisecond, func() { close(gate) })
	out, err := h.client.Wait(ctx, hash, 2*time.Second)
	if !errors.Is(err, services.ErrJoinIncomplete) {
		t.Fatalf("Wait err = %v, want ErrJoinIncomplete", err)
	}
	if !strings.Contains(err.Error(), "resolved 2 of 3") {
		t.Fatalf("message lost: %v", err)
	}
	if out == nil || out.Failure == nil || out.Failure.Kind != services.KindJoinIncomplete {
		t.Fatalf("unexpected wait response %+v", out)
	}
}

func TestClientHonoursContext(t *testing.T) {
	h := startHarness(t)
	hash := hashOf(4)
	h.runner.mu.Lock()
	h.runner.gates[hash] = make(chan struct{})
	h.runner.mu.Unlock()

	if _, err := h.client.Submit(callCtx(t), hash, nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := h.client.Wait(ctx, hash, 0); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait err = %v, want deadline exceeded", err)
	}
}

func TestShutdownInvokesCallback(t *testing.T) {
	h := startHarness(t)
	resp, err := h.client.Shutdown(callCtx(t))
	if err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !resp.Stopping {
		t.Fatal("expected Stopping=true")
	}
	select {
	case <-h.shutdown:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown callback not invoked")
	}
}

func TestNotificationWithoutTopic(t *testing.T) {
	h := startHarness(t)
	resp, err := h.client.TestNotification(callCtx(t))
	if err != nil {
		t.Fatalf("TestNotification: %v", err)
	}
	if resp.Sent {
		t.Fatalf("expected notification to be skipped, got %+v", resp)
	}
}
