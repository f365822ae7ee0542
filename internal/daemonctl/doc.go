// Package daemonctl launches, probes and stops the background daemon on behalf
// of the CLI.
package daemonctl
