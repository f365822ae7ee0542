// Package daemon coordinates the long-running transcoder process.
//
// It wires configuration, the status store, the content store, the event hub,
// and the scheduler into a single lifecycle with flock-based locking to
// prevent multiple instances sharing one log directory. Notifications and the
// optional Redis event publisher hang off the hub so job progress reaches
// operators without the scheduler knowing about them.
//
// Keep orchestration logic here: job stages live in workflow and queueing in
// scheduler while the daemon focuses on startup, shutdown, and the operations
// exposed over IPC.
package daemon
