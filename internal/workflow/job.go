package workflow

import (
	"time"

	"github.com/oklog/ulid/v2"

	"transcoder/internal/rendition"
)

// Stage names the orchestrator state a job is in.
type Stage string

const (
	StageCreated           Stage = "created"
	StageProbingMetadata   Stage = "probing_metadata"
	StageEncoding          Stage = "encoding"
	StageJoining           Stage = "joining"
	StageBuildingManifest  Stage = "building_manifest"
	StageGeneratingPreview Stage = "generating_preview"
	StagePublishing        Stage = "publishing"
	StageDone              Stage = "done"
	StageFailed            Stage = "failed"
)

func (s Stage) String() string { return string(s) }

// Job is one request to transcode the source identified by ContentHash.
type Job struct {
	ID          string
	ContentHash string
	// Priority orders queued jobs, higher first. Nil uses the scheduler default.
	Priority    *int
	SubmittedAt time.Time
}

// JobResult describes a successfully published job.
type JobResult struct {
	JobID        string
	ContentHash  string
	BundleHash   string
	Screenshots  []string
	RootPath     string
	ManifestPath string
	Renditions   []rendition.Result
	// PreviewError is set when screenshot extraction failed; the job still
	// succeeds without previews.
	PreviewError string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// NewJobID returns a time-sortable job identifier.
func NewJobID() string {
	return ulid.Make().String()
}

// IntPtr is a convenience for building Job.Priority values.
func IntPtr(v int) *int { return &v }
