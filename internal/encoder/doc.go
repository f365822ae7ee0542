// Package encoder wraps ffmpeg and ffprobe for the HLS pipeline.
//
// Service is the seam the workflow orchestrator depends on. FFmpeg is the
// production implementation: it streams sources over stdin, reports progress
// from `-progress pipe:1`, and recovers the source codec descriptor from the
// stderr banner. Tests substitute an Executor to replay canned output.
package encoder
