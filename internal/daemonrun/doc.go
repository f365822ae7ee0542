// Package daemonrun hosts the foreground daemon process: logging setup, pid
// file, dependency snapshot, the IPC socket and signal handling.
package daemonrun
