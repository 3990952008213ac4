package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sentinel/internal/config"
)

const userAgent = "Sentinel-Go/0.1.0"

// Service defines the notification surface exposed to session components.
type Service interface {
	NotifySessionActivated(ctx context.Context, sessionID, triggerMethod string) error
	NotifyLocationUpdate(ctx context.Context, sessionID string, latitude, longitude float64) error
	NotifyEmergency(ctx context.Context, sessionID, reason string, latitude, longitude float64, hasLocation bool) error
	NotifySessionEnded(ctx context.Context, sessionID string, evidenceTotal int, duration time.Duration) error
	NotifyError(ctx context.Context, err error, context string) error
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

	client := &http.Client{Timeout: timeout}
	return &ntfyService{
		endpoint: topic,
		client:   client,
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

func (n *ntfyService) NotifySessionActivated(ctx context.Context, sessionID, triggerMethod string) error {
	triggerMethod = strings.TrimSpace(triggerMethod)
	if triggerMethod == "" {
		triggerMethod = "manual"
	}
	data := payload{
		title:   "Sentinel - Session Active",
		message: fmt.Sprintf("Monitoring started (%s trigger)\nSession: %s", triggerMethod, sessionID),
		tags:    []string{"sentinel", "session", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyLocationUpdate(ctx context.Context, sessionID string, latitude, longitude float64) error {
	data := payload{
		title:    "Sentinel - Location",
		message:  fmt.Sprintf("Current position: %.5f, %.5f\nSession: %s", latitude, longitude, sessionID),
		tags:     []string{"sentinel", "location"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyEmergency(ctx context.Context, sessionID, reason string, latitude, longitude float64, hasLocation bool) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unspecified"
	}
	var builder strings.Builder
	fmt.Fprintf(&builder, "🚨 EMERGENCY: %s\nSession: %s", reason, sessionID)
	if hasLocation {
		fmt.Fprintf(&builder, "\nLast known position: %.5f, %.5f", latitude, longitude)
	} else {
		builder.WriteString("\nNo location fix available")
	}

	data := payload{
		title:    "Sentinel - EMERGENCY",
		message:  builder.String(),
		tags:     []string{"sentinel", "emergency", "alert"},
		priority: "urgent",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifySessionEnded(ctx context.Context, sessionID string, evidenceTotal int, duration time.Duration) error {
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	data := payload{
		title:   "Sentinel - Session Ended",
		message: fmt.Sprintf("Monitoring stopped after %s with %d evidence records\nSession: %s", duration, evidenceTotal, sessionID),
		tags:    []string{"sentinel", "session", "ended"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	var builder strings.Builder
	builder.WriteString("❌ Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Sentinel - Error",
		message:  builder.String(),
		tags:     []string{"sentinel", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Sentinel - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"sentinel", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
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

func (noopService) NotifySessionActivated(context.Context, string, string) error { return nil }
func (noopService) NotifyLocationUpdate(context.Context, string, float64, float64) error {
	return nil
}
func (noopService) NotifyEmergency(context.Context, string, string, float64, float64, bool) error {
	return nil
}
func (noopService) NotifySessionEnded(context.Context, string, int, time.Duration) error {
	return nil
}
func (noopService) NotifyError(context.Context, error, string) error { return nil }
func (noopService) TestNotification(context.Context) error           { return nil }
