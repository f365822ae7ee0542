// Package preflight provides readiness checks for the binaries, directories
// and backing services the transcoder depends on.
//
// The CLI "preflight" command runs RunAll and exits non-zero on failure; the
// daemon logs the same results at startup so a misconfigured host is visible
// before the first job fails. Optional integrations (Redis events, ntfy) are
// only checked when configured.
package preflight
