package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"uploadai/internal/config"
	"uploadai/internal/services"
)

const userAgent = "uploadai/0.1.0"

// Service defines the notification surface exposed to workflow components.
type Service interface {
	NotifyTranscriptionRequested(ctx context.Context, fileName, videoID string) error
	NotifyRunFailed(ctx context.Context, fileName string, err error) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:      topic,
		client:        &http.Client{Timeout: timeout},
		transcription: cfg.Notifications.Transcription,
		errors:        cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint      string
	client        *http.Client
	transcription bool
	errors        bool
}

func (n *ntfyService) NotifyTranscriptionRequested(ctx context.Context, fileName, videoID string) error {
	if !n.transcription {
		return nil
	}
	fileName = strings.TrimSpace(fileName)
	message := fmt.Sprintf("Transcription requested: %s", fileName)
	if videoID = strings.TrimSpace(videoID); videoID != "" {
		message = fmt.Sprintf("%s\nVideo: %s", message, videoID)
	}
	return n.send(ctx, payload{
		title:   "uploadai - Transcribing",
		message: message,
		tags:    []string{"uploadai", "transcription", "requested"},
	})
}

func (n *ntfyService) NotifyRunFailed(ctx context.Context, fileName string, err error) error {
	if !n.errors {
		return nil
	}
	details := services.Details(err)
	var builder strings.Builder
	builder.WriteString("Failed")
	if details.Stage != "" {
		builder.WriteString(" while ")
		builder.WriteString(details.Stage)
	}
	if fileName = strings.TrimSpace(fileName); fileName != "" {
		builder.WriteString(" ")
		builder.WriteString(fileName)
	}
	builder.WriteString(": ")
	switch {
	case strings.TrimSpace(details.Message) != "":
		builder.WriteString(strings.TrimSpace(details.Message))
	case err != nil:
		builder.WriteString(strings.TrimSpace(err.Error()))
	default:
		builder.WriteString("unknown")
	}
	if details.Hint != "" {
		builder.WriteString("\nHint: ")
		builder.WriteString(details.Hint)
	}

	return n.send(ctx, payload{
		title:    "uploadai - Error",
		message:  builder.String(),
		tags:     []string{"uploadai", "error", "alert"},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "uploadai - Test",
		message:  "Notification system test",
		tags:     []string{"uploadai", "test"},
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
	if data.priority != "" && data.priority != "default" {
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

func (noopService) NotifyTranscriptionRequested(context.Context, string, string) error { return nil }
func (noopService) NotifyRunFailed(context.Context, string, error) error               { return nil }
func (noopService) TestNotification(context.Context) error                             { return nil }
