// Package logs reads the daemon log file for `transcoder logs`.
//
// Last returns the trailing lines, From resumes at a byte offset, and Follow
// polls for appended lines until its context ends. Only complete lines are
// returned so a half-written record is picked up on the next read.
package logs
