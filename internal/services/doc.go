// Package services defines shared utilities consumed by the scheduler, the job
// workflow, and the external collaborators they drive.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, content hashes, stage names,
//     rendition labels, and correlation identifiers for logging.
//   - The error taxonomy (not found, probe, encode, join incomplete, publish,
//     store) plus the Wrap helper that tags failures with stage context while
//     keeping errors.Is classification intact.
//
// Use these helpers when wiring new stage logic so operational behaviour stays
// uniform across the pipeline.
package services
