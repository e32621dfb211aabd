package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"bookbag/internal/config"
)

const userAgent = "bookbag/0.1"

// Event identifies a pipeline milestone worth telling the operator about.
type Event string

const (
	EventSnatched  Event = "snatched"
	EventProcessed Event = "processed"
	EventFailed    Event = "failed"
	EventTest      Event = "test"
)

// Payload carries event fields. Known keys: title, author, kind, provider,
// client, path, error.
type Payload map[string]string

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
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
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventSnatched:  cfg.Notifications.Snatched,
			EventProcessed: cfg.Notifications.Processed,
			EventFailed:    cfg.Notifications.Failed,
			EventTest:      true,
		},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if n == nil || !n.enabled[event] {
		return nil
	}
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	get := func(key string) string { return strings.TrimSpace(payload[key]) }
	book := describeBook(get("title"), get("author"))
	kind := kindLabel(get("kind"))

	switch event {
	case EventSnatched:
		body := fmt.Sprintf("📥 Snatched %s: %s", kind, book)
		if provider := get("provider"); provider != "" {
			body += fmt.Sprintf("\nFrom %s", provider)
		}
		if client := get("client"); client != "" {
			body += fmt.Sprintf(" via %s", client)
		}
		return message{
			title: "bookbag - Snatched",
			body:  body,
			tags:  []string{"bookbag", "snatched", strings.ToLower(kind)},
		}, true
	case EventProcessed:
		body := fmt.Sprintf("📚 Added to library: %s", book)
		if path := get("path"); path != "" {
			body += fmt.Sprintf("\nFile: %s", path)
		}
		return message{
			title: "bookbag - Processed",
			body:  body,
			tags:  []string{"bookbag", "processed", strings.ToLower(kind)},
		}, true
	case EventFailed:
		reason := get("error")
		if reason == "" {
			reason = "unknown"
		}
		return message{
			title:    "bookbag - Failed",
			body:     fmt.Sprintf("❌ %s failed: %s", book, reason),
			tags:     []string{"bookbag", "failed", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "bookbag - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"bookbag", "test"},
			priority: "low",
		}, true
	}
	return message{}, false
}

func describeBook(title, author string) string {
	switch {
	case title == "":
		return "unknown book"
	case author == "":
		return title
	default:
		return fmt.Sprintf("%s by %s", title, author)
	}
}

func kindLabel(code string) string {
	switch strings.ToUpper(code) {
	case "A":
		return "audiobook"
	case "M":
		return "magazine"
	default:
		return "ebook"
	}
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
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

func (noopService) Publish(context.Context, Event, Payload) error { return nil }

// NewNoop returns a Service that discards every event.
func NewNoop() Service { return noopService{} }
