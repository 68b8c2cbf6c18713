package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cloudsync/internal/config"
)

const userAgent = "cloudsync/1"

// Service is the alert surface used by the daemon and watchdog.
type Service interface {
	// NotifyTaskFailed reports a task the health monitor gave up restarting.
	NotifyTaskFailed(ctx context.Context, task string, attempts int, lastError string) error
	// NotifyDaemonRespawned reports a daemon crash the watchdog recovered from.
	NotifyDaemonRespawned(ctx context.Context, crashedPID int) error
	TestNotification(ctx context.Context) error
}

// NewService builds an ntfy-backed service, or a no-op when no topic is set.
func NewService(cfg *config.Config) Service {
	if cfg == nil || strings.TrimSpace(cfg.Notifications.NtfyTopic) == "" {
		return noopService{}
	}
	timeout := cfg.NotifyTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: strings.TrimSpace(cfg.Notifications.NtfyTopic),
		client:   &http.Client{Timeout: timeout},
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
}

func (n *ntfyService) NotifyTaskFailed(ctx context.Context, task string, attempts int, lastError string) error {
	body := fmt.Sprintf("Task %q stopped syncing after %d restart attempts.", strings.TrimSpace(task), attempts)
	if lastError = strings.TrimSpace(lastError); lastError != "" {
		body += "\nLast error: " + lastError
	}
	return n.send(ctx, message{
		title:    "cloudsync - Task Failed",
		body:     body,
		tags:     []string{"cloudsync", "task", "failed"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyDaemonRespawned(ctx context.Context, crashedPID int) error {
	return n.send(ctx, message{
		title: "cloudsync - Daemon Restarted",
		body:  fmt.Sprintf("The daemon (pid %d) exited unexpectedly and was restarted by the watchdog.", crashedPID),
		tags:  []string{"cloudsync", "daemon", "respawned"},
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, message{
		title:    "cloudsync - Test",
		body:     "Notification delivery works.",
		tags:     []string{"cloudsync", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyTaskFailed(context.Context, string, int, string) error { return nil }
func (noopService) NotifyDaemonRespawned(context.Context, int) error            { return nil }
func (noopService) TestNotification(context.Context) error                      { return nil }
