// Package workflow runs a single transcoding job from source probe to
// published bundle.
//
// The Orchestrator walks a fixed state machine: probe the source, encode every
// ladder rung in parallel, join the rung results, render the master playlist,
// extract preview frames, and publish the job directory to the content store.
// Each stage consumes the typed result of the previous one. Stage transitions
// are logged with the job's context fields and published on the event bus so
// observers can follow a job without polling.
//
// A job owns its working directory exclusively for the duration of Run. The
// directory is removed when the job fails and kept when it succeeds so callers
// can inspect JobResult.RootPath.
package workflow
