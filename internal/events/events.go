// Package events carries job lifecycle notifications from the scheduler and
// orchestrator to observers. Publishing never blocks the caller: slow
// subscribers lose events instead of stalling workers.
package events

import (
	"time"

	"transcoder/internal/status"
)

// Kind identifies the event payload.
type Kind string

const (
	// KindStatus reports a persisted status transition.
	KindStatus Kind = "status"
	// KindProgress reports encode progress for one rendition.
	KindProgress Kind = "progress"
	// KindStage reports an orchestrator stage transition.
	KindStage Kind = "stage"
	// KindDrained reports that the queue is empty and every worker is idle.
	KindDrained Kind = "drained"
)

// Event is a single lifecycle notification.
type Event struct {
	Kind        Kind          `json:"kind"`
	JobID       string        `json:"job_id,omitempty"`
	ContentHash string        `json:"content_hash,omitempty"`
	Status      status.Status `json:"status,omitempty"`
	Stage       string        `json:"stage,omitempty"`
	Rendition   string        `json:"rendition,omitempty"`
	Percent     float64       `json:"percent,omitempty"`
	Message     string        `json:"message,omitempty"`
	ErrorKind   string        `json:"error_kind,omitempty"`
	Time        time.Time     `json:"time"`
}

// Bus accepts events. Implementations must not block.
type Bus interface {
	Publish(Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}

type multi []Bus

// Multi fans a single Publish out to every non-nil bus.
func Multi(buses ...Bus) Bus {
	var kept multi
	for _, b := range buses {
		if b != nil {
			kept = append(kept, b)
		}
	}
	switch len(kept) {
	case 0:
		return Nop{}
	case 1:
		return kept[0]
	default:
		return kept
	}
}

func (m multi) Publish(ev Event) {
	for _, b := range m {
		b.Publish(ev)
	}
}

func stamp(ev Event) Event {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	return ev
}
