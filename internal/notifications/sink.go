package notifications

import (
	"context"
	"log/slog"
	"time"

	"transcoder/internal/config"
	"transcoder/internal/events"
	"transcoder/internal/logging"
	"transcoder/internal/status"
)

// Sink forwards terminal job statuses and queue drains from the event hub to
// a Service.
type Sink struct {
	svc      Service
	logger   *slog.Logger
	finished bool
	failed   bool
	drained  bool
	now      func() time.Time
}

// NewSink builds a sink honouring the per-event toggles in cfg.
func NewSink(cfg *config.Config, svc Service, logger *slog.Logger) *Sink {
	return &Sink{
		svc:      svc,
		logger:   logging.NewComponentLogger(logger, "notifications"),
		finished: cfg.Notifications.Finished,
		failed:   cfg.Notifications.Failed,
		drained:  cfg.Notifications.Drained,
		now:      time.Now,
	}
}

// Run consumes sub until ctx is done or the subscription closes.
func (s *Sink) Run(ctx context.Context, sub *events.Subscription) {
	var (
		finished, failed int
		batchStart       time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case events.KindStatus:
				if batchStart.IsZero() {
					batchStart = s.now()
				}
				switch ev.Status {
				case status.Finished:
					finished++
					if s.finished {
						s.deliver(ctx, "job finished", s.svc.NotifyJobFinished(ctx, ev.ContentHash, ev.Message))
					}
				case status.Failed:
					failed++
					if s.failed {
						s.deliver(ctx, "job failed", s.svc.NotifyJobFailed(ctx, ev.ContentHash, ev.Message))
					}
				}
			case events.KindDrained:
				if s.drained && finished+failed > 0 {
					s.deliver(ctx, "queue drained", s.svc.NotifyQueueDrained(ctx, finished, failed, s.now().Sub(batchStart)))
				}
				finished, failed = 0, 0
				batchStart = time.Time{}
			}
		}
	}
}

func (s *Sink) deliver(ctx context.Context, what string, err error) {
	if err == nil || ctx.Err() != nil {
		return
	}
	logging.WarnWithContext(s.logger, "notification failed", "notification_failed",
		logging.String("notification", what),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network reachability"),
		logging.String(logging.FieldImpact, "operator was not notified"),
	)
}
