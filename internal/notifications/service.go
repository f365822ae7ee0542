package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"transcoder/internal/config"
)

const userAgent = "transcoder/0.1.0"

// Service defines the notification surface.
type Service interface {
	NotifyJobFinished(ctx context.Context, contentHash, bundleHash string) error
	NotifyJobFailed(ctx context.Context, contentHash, reason string) error
	NotifyQueueDrained(ctx context.Context, finished, failed int, duration time.Duration) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func shortHash(hash string) string {
	hash = strings.TrimSpace(hash)
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

func (n *ntfyService) NotifyJobFinished(ctx context.Context, contentHash, bundleHash string) error {
	message := fmt.Sprintf("HLS bundle ready for %s", shortHash(contentHash))
	if bundleHash = strings.TrimSpace(bundleHash); bundleHash != "" {
		message += "\nBundle: " + bundleHash
	}
	return n.send(ctx, payload{
		title:   "Transcoder - Job Finished",
		message: message,
		tags:    []string{"transcoder", "job", "finished"},
	})
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, contentHash, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown"
	}
	return n.send(ctx, payload{
		title:    "Transcoder - Job Failed",
		message:  fmt.Sprintf("Transcode failed for %s: %s", shortHash(contentHash), reason),
		tags:     []string{"transcoder", "error", "alert"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyQueueDrained(ctx context.Context, finished, failed int, duration time.Duration) error {
	duration = max(duration.Round(time.Second), 0)
	title := "Transcoder - Queue Drained"
	message := fmt.Sprintf("Queue drained: %d jobs finished in %s", finished, duration)
	if failed > 0 {
		title = "Transcoder - Queue Drained (with errors)"
		message = fmt.Sprintf("Queue drained: %d finished, %d failed in %s", finished, failed, duration)
	}
	return n.send(ctx, payload{
		title:   title,
		message: message,
		tags:    []string{"transcoder", "queue", "drained"},
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "Transcoder - Test",
		message:  "Notification system test",
		tags:     []string{"transcoder", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyJobFinished(context.Context, string, string) error           { return nil }
func (noopService) NotifyJobFailed(context.Context, string, string) error             { return nil }
func (noopService) NotifyQueueDrained(context.Context, int, int, time.Duration) error { return nil }
func (noopService) TestNotification(context.Context) error                            { return nil }
