package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"transcoder/internal/config"
	"transcoder/internal/contentstore"
	"transcoder/internal/deps"
	"transcoder/internal/encoder"
	"transcoder/internal/events"
	"transcoder/internal/logging"
	"transcoder/internal/notifications"
	"transcoder/internal/scheduler"
	"transcoder/internal/services"
	"transcoder/internal/status"
	"transcoder/internal/workflow"
)

// ErrNotRunning is returned by job operations while the daemon is stopped.
var ErrNotRunning = errors.New("daemon is not running")

// LockFileName is the single-instance lock created in the log directory.
const LockFileName = "transcoder.lock"

// Deps are the collaborators a Daemon drives. Runner overrides the
// orchestrator built from Encoder and Content.
type Deps struct {
	Store     status.Store
	Content   contentstore.Store
	Encoder   encoder.Service
	Runner    scheduler.Runner
	Notifier  notifications.Service
	Publisher events.Bus
	Closers   []io.Closer
}

// Daemon coordinates the scheduler and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    status.Store
	hub      *events.Hub
	bus      events.Bus
	runner   scheduler.Runner
	notifier notifications.Service
	closers  []io.Closer

	lockPath string
	lock     *flock.Flock

	mu       sync.Mutex
	running  bool
	sched    *scheduler.Scheduler
	cancel   context.CancelFunc
	sinkDone chan struct{}
}

// Info describes the daemon process.
type Info struct {
	Running       bool
	PID           int
	LockPath      string
	StatusBackend string
	WorkDir       string
	StoreDir      string
}

// Outcome is the resolution of a job as seen by Wait.
type Outcome struct {
	Status status.Status
	Result workflow.JobResult
}

// New constructs a daemon around deps.
func New(cfg *config.Config, logger *slog.Logger, deps Deps) (*Daemon, error) {
	if cfg == nil || deps.Store == nil {
		return nil, errors.New("daemon requires config and status store")
	}
	logger = logging.NewComponentLogger(logger, "daemon")

	hub := events.NewHub()
	bus := events.Multi(hub, deps.Publisher)

	runner := deps.Runner
	if runner == nil {
		if deps.Encoder == nil || deps.Content == nil {
			return nil, errors.New("daemon requires an encoder and content store when no runner is supplied")
		}
		opts := workflow.OptionsFromConfig(cfg)
		opts.Encoder = deps.Encoder
		opts.Content = deps.Content
		opts.Bus = bus
		opts.Logger = logger
		orch, err := workflow.New(opts)
		if err != nil {
			return nil, fmt.Errorf("create orchestrator: %w", err)
		}
		runner = orch
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, LockFileName)
	return &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    deps.Store,
		hub:      hub,
		bus:      bus,
		runner:   runner,
		notifier: notifier,
		closers:  deps.Closers,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Open builds a daemon from configuration: the configured status backend, the
// filesystem content store, ffmpeg, ntfy, and the Redis event publisher when
// a channel is configured.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	store, err := status.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open status store: %w", err)
	}
	closers := []io.Closer{store}
	closeAll := func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}

	content, err := contentstore.NewFS(cfg.Paths.StoreDir)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("open content store: %w", err)
	}

	wired := Deps{
		Store:   store,
		Content: content,
		Encoder: encoder.NewFFmpeg(cfg.Encoder.FFmpegBinary,
			deps.ResolveFFprobe(cfg.Encoder.FFmpegBinary, cfg.Encoder.FFprobeBinary),
			encoder.WithLogger(logger)),
		Notifier: notifications.NewService(cfg),
	}
	if cfg.Events.RedisChannel != "" && cfg.Events.RedisAddr != "" {
		publisher, err := events.DialRedisPublisher(ctx, cfg.Events.RedisAddr, cfg.Events.RedisChannel, cfg.Events.Buffer, logger)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("connect event publisher: %w", err)
		}
		// The publisher drains before the store closes.
		closers = append([]io.Closer{publisher}, closers...)
		wired.Publisher = publisher
	}
	wired.Closers = closers

	d, err := New(cfg, logger, wired)
	if err != nil {
		closeAll()
		return nil, err
	}
	return d, nil
}

// Start acquires the daemon lock, re-admits jobs an earlier run left queued or
// in progress, and launches the scheduler workers.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another transcoder daemon instance is already running")
	}

	workflow.CleanStaleWorkDirs(d.cfg.Paths.WorkDir, d.cfg.StaleWorkDirAge(), d.logger)

	runCtx, cancel := context.WithCancel(ctx)
	sched := scheduler.New(scheduler.Config{
		Concurrency:     d.cfg.WorkerCount(),
		DefaultPriority: d.cfg.Scheduler.DefaultPriority,
	}, d.store, d.runner, d.bus, d.logger)
	recovered, err := sched.Recover(runCtx, time.Now().Add(-d.cfg.ReclaimAge()))
	if err != nil {
		logging.WarnWithContext(d.logger, "stale jobs not recovered", "job_recover_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "jobs left queued or in progress by an earlier run stay stuck"),
			logging.String(logging.FieldErrorHint, "check status store connectivity and restart"),
		)
	}
	if err := sched.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start scheduler: %w", err)
	}

	sub := d.hub.Subscribe(d.cfg.Events.Buffer)
	sink := notifications.NewSink(d.cfg, d.notifier, d.logger)
	sinkDone := make(chan struct{})
	go func() {
		defer close(sinkDone)
		defer sub.Close()
		sink.Run(runCtx, sub)
	}()

	d.sched = sched
	d.cancel = cancel
	d.sinkDone = sinkDone
	d.running = true
	d.logger.Info("transcoder daemon started",
		logging.String(logging.FieldEventType, "daemon_start"),
		logging.String("lock", d.lockPath),
		logging.String("status_backend", d.cfg.Status.Backend),
		logging.Int("concurrency", d.cfg.WorkerCount()),
		logging.Int("recovered", len(recovered)),
	)
	return nil
}

// Stop stops the scheduler and releases the daemon lock. Queued jobs keep
// their queued status until the next Start reclaims them.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	sched, cancel, sinkDone := d.sched, d.cancel, d.sinkDone
	d.running = false
	d.mu.Unlock()

	sched.Stop()
	cancel()
	<-sinkDone
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_unlock_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if the next start fails"),
			logging.String(logging.FieldImpact, "next daemon start may be refused"),
		)
	}
	d.logger.Info("transcoder daemon stopped", logging.String(logging.FieldEventType, "daemon_stop"))
}

// Close stops the daemon and releases the stores it owns.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	for _, c := range d.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Hub exposes the in-process event hub for subscribers.
func (d *Daemon) Hub() *events.Hub { return d.hub }

func (d *Daemon) scheduler() (*scheduler.Scheduler, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return nil, ErrNotRunning
	}
	return d.sched, nil
}

// Submit admits a job for hash. A nil priority uses the configured default.
func (d *Daemon) Submit(ctx context.Context, hash string, priority *int) (*scheduler.Ticket, error) {
	sched, err := d.scheduler()
	if err != nil {
		return nil, err
	}
	return sched.Submit(ctx, workflow.Job{ContentHash: hash, Priority: priority})
}

// Retry re-admits a failed job for hash.
func (d *Daemon) Retry(ctx context.Context, hash string, priority *int) (*scheduler.Ticket, error) {
	sched, err := d.scheduler()
	if err != nil {
		return nil, err
	}
	return sched.Retry(ctx, workflow.Job{ContentHash: hash, Priority: priority})
}

// Stats never fails; a stopped daemon reports an idle pool.
func (d *Daemon) Stats() scheduler.Stats {
	sched, err := d.scheduler()
	if err != nil {
		return scheduler.Stats{Concurrency: d.cfg.WorkerCount(), Ongoing: []string{}}
	}
	return sched.Stats()
}

// Status returns the stored status for hash.
func (d *Daemon) Status(ctx context.Context, hash string) (status.Status, error) {
	if !contentstore.ValidHash(hash) {
		return "", services.Wrap(services.ErrValidation, "daemon", "status",
			fmt.Sprintf("invalid content hash %q", hash), nil)
	}
	return d.store.Get(ctx, hash)
}

// Wait blocks until the job for hash resolves when this daemon is running it;
// otherwise it reports the stored status immediately.
func (d *Daemon) Wait(ctx context.Context, hash string) (Outcome, error) {
	if sched, err := d.scheduler(); err == nil {
		if ticket, ok := sched.Ticket(hash); ok {
			result, err := ticket.Wait(ctx)
			return Outcome{Status: ticket.Status(), Result: result}, err
		}
	}
	st, err := d.Status(ctx, hash)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Status: st}, nil
}

// Info reports process details for status displays.
func (d *Daemon) Info() Info {
	d.mu.Lock()
	running := d.running
	d.mu.Unlock()
	return Info{
		Running:       running,
		PID:           os.Getpid(),
		LockPath:      d.lockPath,
		StatusBackend: d.cfg.Status.Backend,
		WorkDir:       d.cfg.Paths.WorkDir,
		StoreDir:      d.cfg.Paths.StoreDir,
	}
}

// TestNotification sends a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if d.cfg.Notifications.NtfyTopic == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}
