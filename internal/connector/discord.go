// Package connector delivers craftkeeper notifications to external chat
// services.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/craftkeeper/internal/config"
	"github.com/energizer-project/craftkeeper/internal/events"
	"github.com/energizer-project/craftkeeper/internal/util"
)

// Embed colors by level.
const (
	colorError   = 0xE74C3C
	colorWarning = 0xF1C40F
	colorInfo    = 0x2ECC71
)

// maxRetryAfter caps how long a rate-limited webhook call waits before its
// single retry.
const maxRetryAfter = 5 * time.Second

type webhookMessage struct {
	Content string         `json:"content,omitempty"`
	Embeds  []webhookEmbed `json:"embeds"`
}

type webhookEmbed struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Color       int           `json:"color"`
	Timestamp   string        `json:"timestamp"`
	Footer      webhookFooter `json:"footer"`
}

type webhookFooter struct {
	Text string `json:"text"`
}

// DiscordConnector posts notifications to a Discord webhook.
type DiscordConnector struct {
	cfg      *config.Config
	eventBus *events.EventBus
	client   *http.Client
	logger   zerolog.Logger
}

// NewDiscordConnector creates the connector and subscribes it to admin
// notifications.
func NewDiscordConnector(cfg *config.Config, eventBus *events.EventBus) *DiscordConnector {
	dc := &DiscordConnector{
		cfg:      cfg,
		eventBus: eventBus,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   util.ComponentLogger("discord"),
	}
	eventBus.Subscribe(events.EventNotifyDiscordAdmin, "discord.notify", dc.onNotifyAdmin)
	return dc
}

// Close detaches the connector from the bus.
func (dc *DiscordConnector) Close() {
	dc.eventBus.Unsubscribe(events.EventNotifyDiscordAdmin, "discord.notify")
}

func levelColor(level string) int {
	switch level {
	case "error", "critical":
		return colorError
	case "warning":
		return colorWarning
	default:
		return colorInfo
	}
}

// buildMessage renders one embed. Error-level messages mention ownerID.
func buildMessage(ownerID, title, message, level string, at time.Time) webhookMessage {
	msg := webhookMessage{
		Embeds: []webhookEmbed{{
			Title:       title,
			Description: message,
			Color:       levelColor(level),
			Timestamp:   at.UTC().Format(time.RFC3339),
			Footer:      webhookFooter{Text: "craftkeeper"},
		}},
	}
	if ownerID != "" && levelColor(level) == colorError {
		msg.Content = fmt.Sprintf("<@%s>", ownerID)
	}
	return msg
}

// SendAdminNotification posts an embed to the configured webhook. Without
// a webhook it does nothing.
func (dc *DiscordConnector) SendAdminNotification(ctx context.Context, title, message, level string) error {
	d := dc.cfg.GetApplicationData().Discord
	if d.WebhookURL == "" {
		dc.logger.Debug().Str("title", title).Msg("no Discord webhook configured, notification dropped")
		return nil
	}

	body, err := json.Marshal(buildMessage(d.OwnerID, title, message, level, time.Now()))
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	wait, err := dc.post(ctx, d.WebhookURL, body)
	if err == nil || wait == 0 {
		if err == nil {
			dc.logger.Debug().Str("title", title).Msg("Discord webhook notification sent")
		}
		return err
	}

	dc.logger.Warn().Dur("retry_after", wait).Str("title", title).Msg("Discord webhook rate limited, retrying once")
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	if _, err := dc.post(ctx, d.WebhookURL, body); err != nil {
		return err
	}
	dc.logger.Debug().Str("title", title).Msg("Discord webhook notification sent")
	return nil
}

// post sends body once. On 429 it returns the server's Retry-After, capped
// at maxRetryAfter, alongside the error.
func (dc *DiscordConnector) post(ctx context.Context, url string, body []byte) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := dc.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 400 {
		return 0, nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	err = fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(snippet))
	if resp.StatusCode != http.StatusTooManyRequests {
		return 0, err
	}
	return retryAfter(resp.Header.Get("Retry-After")), err
}

// retryAfter parses a Retry-After header in seconds, which Discord may
// send fractional. Missing or invalid values wait one second.
func retryAfter(header string) time.Duration {
	secs, err := strconv.ParseFloat(header, 64)
	if err != nil || secs <= 0 {
		return time.Second
	}
	d := time.Duration(secs * float64(time.Second))
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	return d
}

func (dc *DiscordConnector) onNotifyAdmin(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.NotifyDiscordPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	return dc.SendAdminNotification(ctx, payload.Title, payload.Message, payload.Level)
}
