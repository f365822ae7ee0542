package ipc

import (
	"transcoder/internal/services"
)

// ServiceName is the RPC receiver name registered by the server.
const ServiceName = "Transcoder"

// Failure carries a classified error across the socket. Kind is one of the
// services.Kind values.
type Failure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Err rebuilds a classified error from f.
func (f *Failure) Err() error {
	if f == nil {
		return nil
	}
	return services.Reconstruct(f.Kind, f.Message)
}

func failureFrom(err error) *Failure {
	if err == nil {
		return nil
	}
	return &Failure{Kind: services.Kind(err), Message: err.Error()}
}

// SubmitRequest admits (or retries) a job for a content hash.
type SubmitRequest struct {
	ContentHash string `json:"content_hash"`
	Priority    *int   `json:"priority,omitempty"`
	RequestID   string `json:"request_id"`
}

// JobResponse describes the ticket returned by Submit and Retry. Admitted is
// false when an existing job for the hash was reused.
type JobResponse struct {
	JobID       string   `json:"job_id"`
	ContentHash string   `json:"content_hash"`
	Status      string   `json:"status"`
	Admitted    bool     `json:"admitted"`
	Priority    int      `json:"priority"`
	Failure     *Failure `json:"failure,omitempty"`
}

// StatsRequest fetches scheduler statistics and daemon details.
type StatsRequest struct{}

// StatsResponse mirrors scheduler.Stats plus process details.
type StatsResponse struct {
	Running       bool     `json:"running"`
	Queued        int      `json:"queued"`
	InProgress    int      `json:"inprogress"`
	Concurrency   int      `json:"concurrency"`
	Ongoing       []string `json:"ongoing"`
	PID           int      `json:"pid"`
	LockPath      string   `json:"lock_path"`
	StatusBackend string   `json:"status_backend"`
	WorkDir       string   `json:"work_dir"`
	StoreDir      string   `json:"store_dir"`
}

// StatusRequest reads the stored status of a content hash.
type StatusRequest struct {
	ContentHash string `json:"content_hash"`
	RequestID   string `json:"request_id"`
}

// StatusResponse reports the stored status.
type StatusResponse struct {
	ContentHash string   `json:"content_hash"`
	Status      string   `json:"status"`
	Failure     *Failure `json:"failure,omitempty"`
}

// WaitRequest blocks until the job for a hash resolves. TimeoutSeconds of
// zero waits until the client gives up.
type WaitRequest struct {
	ContentHash    string `json:"content_hash"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	RequestID      string `json:"request_id"`
}

// RenditionSummary is one published rung.
type RenditionSummary struct {
	Label     string `json:"label"`
	Bandwidth int    `json:"bandwidth"`
	Playlist  string `json:"playlist"`
}

// JobSummary is the wire form of workflow.JobResult.
type JobSummary struct {
	JobID        string             `json:"job_id"`
	BundleHash   string             `json:"bundle_hash"`
	ManifestPath string             `json:"manifest_path"`
	Screenshots  []string           `json:"screenshots,omitempty"`
	Renditions   []RenditionSummary `json:"renditions,omitempty"`
	PreviewError string             `json:"preview_error,omitempty"`
	DurationMS   int64              `json:"duration_ms"`
}

// WaitResponse reports how the job resolved.
type WaitResponse struct {
	ContentHash string      `json:"content_hash"`
	Status      string      `json:"status"`
	Result      *JobSummary `json:"result,omitempty"`
	Failure     *Failure    `json:"failure,omitempty"`
}

// ShutdownRequest asks the daemon process to exit.
type ShutdownRequest struct{}

// ShutdownResponse acknowledges a shutdown request.
type ShutdownResponse struct {
	Stopping bool `json:"stopping"`
}

// TestNotificationRequest sends a test notification.
type TestNotificationRequest struct{}

// TestNotificationResponse describes the outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
