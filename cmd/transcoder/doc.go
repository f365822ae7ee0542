// Command transcoder runs and drives the HLS transcoding daemon.
//
// "transcoder daemon" runs the scheduler in the foreground; "start" and "stop"
// manage it in the background. "add" imports a source into the content store
// and prints its hash, which "submit", "retry", "status" and "wait" accept.
// Every command except "add", "preflight" and "config" talks to the daemon
// over its Unix socket.
package main
