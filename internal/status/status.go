// Package status persists per-content job status and provides the atomic
// claim primitive the scheduler uses to deduplicate submissions.
//
// Every backend implements Store. The sqlite backend is the default for a
// single host; redis and postgres let several daemons share one dedup
// namespace.
package status

import (
	"context"
	"fmt"
	"strings"
	"time"

	"transcoder/internal/services"
)

// Status is the lifecycle state of a job keyed by content hash.
type Status string

const (
	Queued     Status = "queued"
	InProgress Status = "in-progress"
	Finished   Status = "finished"
	Failed     Status = "failed"
)

// ParseStatus validates a stored status value.
func ParseStatus(value string) (Status, error) {
	switch s := Status(strings.TrimSpace(value)); s {
	case Queued, InProgress, Finished, Failed:
		return s, nil
	default:
		return "", fmt.Errorf("unknown status %q", value)
	}
}

// IsActive reports whether a job with this status is queued or running.
func (s Status) IsActive() bool {
	return s == Queued || s == InProgress
}

// IsTerminal reports whether the status is final.
func (s Status) IsTerminal() bool {
	return s == Finished || s == Failed
}

// CanTransition reports whether from may advance to to. Statuses only move
// forward; the single exception is an explicit retry of a failed key.
func CanTransition(from, to Status) bool {
	switch from {
	case Queued:
		return to == InProgress || to == Failed
	case InProgress:
		return to.IsTerminal()
	case Failed:
		return to == Queued
	default:
		return false
	}
}

// Store is the key/value status store.
type Store interface {
	// Get returns services.ErrNotFound when the key has never been claimed.
	Get(ctx context.Context, key string) (Status, error)
	Set(ctx context.Context, key string, status Status) error
	// Claim records status only if key is absent. When the key already exists
	// the stored status is returned with claimed=false.
	Claim(ctx context.Context, key string, status Status) (existing Status, claimed bool, err error)
	// Replace swaps from to to atomically, reporting whether the swap happened.
	Replace(ctx context.Context, key string, from, to Status) (bool, error)
	// Reclaim marks every queued or in-progress key last written at or before
	// cutoff as failed and returns those keys.
	Reclaim(ctx context.Context, cutoff time.Time) ([]string, error)
	Close() error
}

// Advance moves key from one status to the next with a compare-and-swap. It
// refuses backward moves and reports a store error when key no longer holds
// from.
func Advance(ctx context.Context, store Store, key string, from, to Status) error {
	if !CanTransition(from, to) {
		return services.Wrap(services.ErrValidation, "status", "advance",
			fmt.Sprintf("%s cannot move from %s to %s", key, from, to), nil)
	}
	swapped, err := store.Replace(ctx, key, from, to)
	if err != nil {
		return err
	}
	if !swapped {
		return services.Wrap(services.ErrStore, "status", "advance",
			fmt.Sprintf("%s is no longer %s", key, from), nil)
	}
	return nil
}
