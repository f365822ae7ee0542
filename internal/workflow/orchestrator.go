package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"transcoder/internal/config"
	"transcoder/internal/contentstore"
	"transcoder/internal/encoder"
	"transcoder/internal/events"
	"transcoder/internal/logging"
	"transcoder/internal/services"
)

// DefaultScreenshotCount is the number of preview frames extracted per job.
const DefaultScreenshotCount = 4

// Options configures an Orchestrator.
type Options struct {
	Encoder encoder.Service
	Content contentstore.Store
	Bus     events.Bus
	Logger  *slog.Logger
	// WorkDir holds one job-<id> directory per running job.
	WorkDir string
	Profile encoder.Profile
	// RungConcurrency bounds parallel rung encodes per job; zero runs every rung at once.
	RungConcurrency int
	// ScreenshotCount of zero uses DefaultScreenshotCount; negative disables previews.
	ScreenshotCount    int
	JobTimeout         time.Duration
	KeepFailedWorkDirs bool
	Clock              func() time.Time
}

// OptionsFromConfig maps configuration onto orchestrator options. Callers
// supply the collaborators.
func OptionsFromConfig(cfg *config.Config) Options {
	if cfg == nil {
		return Options{Profile: encoder.DefaultProfile()}
	}
	return Options{
		WorkDir:            cfg.Paths.WorkDir,
		Profile:            encoder.ProfileFromConfig(cfg),
		RungConcurrency:    cfg.Scheduler.RungConcurrency,
		ScreenshotCount:    cfg.Encoder.ScreenshotCount,
		JobTimeout:         cfg.JobTimeout(),
		KeepFailedWorkDirs: cfg.Scheduler.KeepFailedWorkDirs,
	}
}

// Orchestrator executes jobs. It is safe for concurrent use; each Run owns its
// own working directory.
type Orchestrator struct {
	encoder         encoder.Service
	content         contentstore.Store
	bus             events.Bus
	logger          *slog.Logger
	workDir         string
	profile         encoder.Profile
	rungConcurrency int
	screenshots     int
	jobTimeout      time.Duration
	keepFailed      bool
	clock           func() time.Time
}

// New validates opts and constructs an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Encoder == nil {
		return nil, services.Wrap(services.ErrValidation, "workflow", "init", "encoder is required", nil)
	}
	if opts.Content == nil {
		return nil, services.Wrap(services.ErrValidation, "workflow", "init", "content store is required", nil)
	}
	if opts.WorkDir == "" {
		return nil, services.Wrap(services.ErrValidation, "workflow", "init", "work dir is required", nil)
	}
	if err := os.MkdirAll(opts.WorkDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrValidation, "workflow", "init", "create work dir", err)
	}
	o := &Orchestrator{
		encoder:         opts.Encoder,
		content:         opts.Content,
		bus:             opts.Bus,
		logger:          logging.NewComponentLogger(opts.Logger, "orchestrator"),
		workDir:         opts.WorkDir,
		profile:         opts.Profile,
		rungConcurrency: opts.RungConcurrency,
		screenshots:     opts.ScreenshotCount,
		jobTimeout:      opts.JobTimeout,
		keepFailed:      opts.KeepFailedWorkDirs,
		clock:           opts.Clock,
	}
	if o.bus == nil {
		o.bus = events.Nop{}
	}
	if o.clock == nil {
		o.clock = time.Now
	}
	if o.screenshots == 0 {
		o.screenshots = DefaultScreenshotCount
	}
	if o.profile.VideoCodec == "" {
		o.profile = encoder.DefaultProfile()
	}
	return o, nil
}

// Run drives job through every stage and returns the published result. Any
// stage failure aborts the remaining stages, removes the working directory,
// and returns an error classified by services.Kind.
func (o *Orchestrator) Run(ctx context.Context, job Job) (JobResult, error) {
	if !contentstore.ValidHash(job.ContentHash) {
		return JobResult{}, services.Wrap(services.ErrValidation, "workflow", "run",
			fmt.Sprintf("invalid content hash %q", job.ContentHash), nil)
	}
	if job.ID == "" {
		job.ID = NewJobID()
	}
	ctx = services.WithJobID(ctx, job.ID)
	ctx = services.WithContentHash(ctx, job.ContentHash)
	if o.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.jobTimeout)
		defer cancel()
	}

	r := &jobRun{
		o:       o,
		job:     job,
		started: o.clock(),
		logger:  logging.WithContext(ctx, o.logger),
	}
	r.enter(ctx, StageCreated)

	release, err := r.acquireWorkDir()
	if err != nil {
		return JobResult{}, r.fail(ctx, err)
	}
	defer release()

	result, err := r.execute(ctx)
	if err != nil {
		return JobResult{}, r.fail(ctx, err)
	}
	r.enter(ctx, StageDone)
	r.logger.Info("job completed",
		logging.String(logging.FieldEventType, "job_completed"),
		logging.String("bundle_hash", result.BundleHash),
		logging.Int("renditions", len(result.Renditions)),
		logging.Duration("elapsed", result.FinishedAt.Sub(result.StartedAt)),
	)
	return result, nil
}

func (r *jobRun) execute(ctx context.Context) (JobResult, error) {
	probe, err := r.probe(r.enter(ctx, StageProbingMetadata))
	if err != nil {
		return JobResult{}, err
	}
	encoded, err := r.encode(r.enter(ctx, StageEncoding), probe)
	if err != nil {
		return JobResult{}, err
	}
	joined, err := r.join(r.enter(ctx, StageJoining), probe, encoded)
	if err != nil {
		return JobResult{}, err
	}
	manifestPath, err := r.buildManifest(r.enter(ctx, StageBuildingManifest), joined)
	if err != nil {
		return JobResult{}, err
	}
	preview, err := r.preview(r.enter(ctx, StageGeneratingPreview), manifestPath, probe, joined)
	if err != nil {
		return JobResult{}, err
	}
	bundle, err := r.publish(r.enter(ctx, StagePublishing))
	if err != nil {
		return JobResult{}, err
	}
	return JobResult{
		JobID:        r.job.ID,
		ContentHash:  r.job.ContentHash,
		BundleHash:   bundle,
		Screenshots:  preview.screenshots,
		RootPath:     r.root,
		ManifestPath: manifestPath,
		Renditions:   joined.results,
		PreviewError: preview.errText,
		StartedAt:    r.started,
		FinishedAt:   r.o.clock(),
	}, nil
}

// jobRun carries the per-job state shared by the stages.
type jobRun struct {
	o       *Orchestrator
	job     Job
	root    string
	started time.Time
	logger  *slog.Logger
}

// enter records the transition into stage and returns a context carrying it
// for logging.
func (r *jobRun) enter(ctx context.Context, stage Stage) context.Context {
	ctx = services.WithStage(ctx, stage.String())
	r.o.bus.Publish(events.Event{
		Kind:        events.KindStage,
		JobID:       r.job.ID,
		ContentHash: r.job.ContentHash,
		Stage:       stage.String(),
	})
	logging.WithContext(ctx, r.o.logger).Debug("stage entered",
		logging.String(logging.FieldEventType, "stage_start"),
	)
	return ctx
}

func (r *jobRun) fail(ctx context.Context, err error) error {
	kind := services.Kind(err)
	ev := events.Event{
		Kind:        events.KindStage,
		JobID:       r.job.ID,
		ContentHash: r.job.ContentHash,
		Stage:       StageFailed.String(),
		Message:     err.Error(),
		ErrorKind:   kind,
	}
	r.o.bus.Publish(ev)
	if r.root != "" && !r.o.keepFailed {
		if rmErr := os.RemoveAll(r.root); rmErr != nil {
			logging.WarnWithContext(r.logger, "failed to remove job directory", "workdir_cleanup_failed",
				logging.String("path", r.root),
				logging.Error(rmErr),
				logging.String(logging.FieldErrorHint, "remove the directory manually"),
				logging.String(logging.FieldImpact, "disk space is not reclaimed"),
			)
		}
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		r.logger.Info("job canceled",
			logging.String(logging.FieldEventType, "job_canceled"),
			logging.String(logging.FieldErrorKind, kind),
		)
		return err
	}
	logging.ErrorWithContext(r.logger, "job failed", "job_failed",
		logging.String(logging.FieldErrorKind, kind),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, hintForKind(kind)),
	)
	return err
}

func hintForKind(kind string) string {
	switch kind {
	case services.KindProbe:
		return "verify the source is a readable video with ffprobe"
	case services.KindEncode:
		return "inspect the ffmpeg output for the failing rendition"
	case services.KindPublish:
		return "check free space and permissions of the store directory"
	case services.KindNotFound:
		return "add the source to the content store before submitting"
	case services.KindCanceled:
		return "raise scheduler.job_timeout if the job timed out"
	default:
		return "check logs for details"
	}
}
