package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dialwatch/internal/config"
	"dialwatch/internal/snapshot"
)

const userAgent = "Dialwatch-Go/0.1.0"

// Service defines the notification surface exposed to tracking components.
type Service interface {
	CampaignCompleted(ctx context.Context, snap *snapshot.Campaign) error
	CampaignDegraded(ctx context.Context, snap *snapshot.Campaign, reason string) error
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
		endpoint:      topic,
		client:        &http.Client{Timeout: timeout},
		sendCompleted: cfg.Notifications.CampaignCompleted,
		sendDegraded:  cfg.Notifications.CampaignDegraded,
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
	sendCompleted bool
	sendDegraded  bool
}

func (n *ntfyService) CampaignCompleted(ctx context.Context, snap *snapshot.Campaign) error {
	if !n.sendCompleted {
		return nil
	}
	counts := snap.CountRecipients()
	name := campaignLabel(snap)
	data := payload{
		title: "Dialwatch - Campaign Complete",
		message: fmt.Sprintf("Campaign finished: %s\n%d recipients, %d completed, %d failed, %d enriched",
			name, counts.Total, counts.Completed, counts.Failed, counts.Enriched),
		tags: []string{"dialwatch", "campaign", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) CampaignDegraded(ctx context.Context, snap *snapshot.Campaign, reason string) error {
	if !n.sendDegraded {
		return nil
	}
	data := payload{
		title:    "Dialwatch - Campaign Degraded",
		message:  fmt.Sprintf("Campaign finished degraded: %s\n%s", campaignLabel(snap), strings.TrimSpace(reason)),
		tags:     []string{"dialwatch", "campaign", "degraded"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Dialwatch - Test",
		message:  "Notification system test",
		tags:     []string{"dialwatch", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func campaignLabel(snap *snapshot.Campaign) string {
	if snap == nil {
		return "unknown"
	}
	if name := strings.TrimSpace(snap.Name); name != "" {
		return name
	}
	return snap.CampaignID
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

func (noopService) CampaignCompleted(context.Context, *snapshot.Campaign) error { return nil }

func (noopService) CampaignDegraded(context.Context, *snapshot.Campaign, string) error { return nil }

func (noopService) TestNotification(context.Context) error { return nil }
