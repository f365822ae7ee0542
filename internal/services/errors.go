package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrProbe          = errors.New("probe error")
	ErrEncode         = errors.New("encode error")
	ErrJoinIncomplete = errors.New("join incomplete")
	ErrPublish        = errors.New("publish error")
	ErrStore          = errors.New("status store error")
	ErrValidation     = errors.New("validation error")
)

// Error kinds reported to callers alongside failure messages.
const (
	KindNotFound       = "not_found"
	KindProbe          = "probe"
	KindEncode         = "encode"
	KindJoinIncomplete = "join_incomplete"
	KindPublish        = "publish"
	KindStore          = "store"
	KindValidation     = "validation"
	KindCanceled       = "canceled"
	KindUnknown        = "unknown"
)

var kindMarkers = []struct {
	kind   string
	marker error
}{
	{KindNotFound, ErrNotFound},
	{KindProbe, ErrProbe},
	{KindEncode, ErrEncode},
	{KindJoinIncomplete, ErrJoinIncomplete},
	{KindPublish, ErrPublish},
	{KindStore, ErrStore},
	{KindValidation, ErrValidation},
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		if err == nil {
			return errors.New(detail)
		}
		return fmt.Errorf("%s: %w", detail, err)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind classifies err into one of the taxonomy kinds. The first matching marker
// wins, so a store failure wrapped inside an encode failure reports "encode".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, km := range kindMarkers {
		if errors.Is(err, km.marker) {
			return km.kind
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	return KindUnknown
}

// MarkerForKind returns the sentinel error associated with kind, or nil for
// unknown kinds.
func MarkerForKind(kind string) error {
	kind = strings.TrimSpace(kind)
	for _, km := range kindMarkers {
		if km.kind == kind {
			return km.marker
		}
	}
	if kind == KindCanceled {
		return context.Canceled
	}
	return nil
}

// Reconstruct rebuilds a classified error from a kind and message received over
// a process boundary.
func Reconstruct(kind, message string) error {
	message = strings.TrimSpace(message)
	marker := MarkerForKind(kind)
	if marker == nil {
		if message == "" {
			return errors.New("unknown failure")
		}
		return errors.New(message)
	}
	if message == "" || message == marker.Error() {
		return marker
	}
	return &remoteError{marker: marker, message: message}
}

type remoteError struct {
	marker  error
	message string
}

func (e *remoteError) Error() string { return e.message }

func (e *remoteError) Unwrap() error { return e.marker }

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
