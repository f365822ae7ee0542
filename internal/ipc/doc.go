// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI.
//
// It owns socket lifecycle management and the request/response DTOs. Errors
// that callers need to classify travel as a Failure (kind plus message) and are
// rebuilt client-side with services.Reconstruct, so errors.Is keeps working
// across the process boundary. Client calls honour context cancellation.
package ipc
