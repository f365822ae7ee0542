// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Inspect probes a file path; InspectReader pipes a content stream to ffprobe
// on stdin so sources held in the content store never need a temp copy. Parse
// decodes a captured payload for tests and offline tooling.
package ffprobe
