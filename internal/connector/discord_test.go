package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/craftkeeper/internal/config"
	"github.com/energizer-project/craftkeeper/internal/events"
)

type webhookSink struct {
	mu     sync.Mutex
	bodies []map[string]interface{}
	status int
	// statuses, when set, are answered in order before falling back to status.
	statuses   []int
	retryAfter string
	srv        *httptest.Server
}

func newWebhookSink(t *testing.T, status int) *webhookSink {
	s := &webhookSink{status: status}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		s.mu.Lock()
		s.bodies = append(s.bodies, body)
		status := s.status
		if len(s.statuses) > 0 {
			status, s.statuses = s.statuses[0], s.statuses[1:]
		}
		s.mu.Unlock()

		if status == http.StatusTooManyRequests && s.retryAfter != "" {
			w.Header().Set("Retry-After", s.retryAfter)
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func TestSendAdminNotificationPostsEmbed(t *testing.T) {
	sink := newWebhookSink(t, http.StatusNoContent)

	cfg := config.DefaultConfig()
	cfg.ApplicationData.Discord.WebhookURL = sink.srv.URL
	cfg.ApplicationData.Discord.OwnerID = "123456789012345678"

	dc := NewDiscordConnector(cfg, events.NewEventBus())
	require.NoError(t, dc.SendAdminNotification(context.Background(), "Server Offline", "localhost:25565 stopped answering", "error"))

	require.Len(t, sink.bodies, 1)
	body := sink.bodies[0]
	assert.Equal(t, "<@123456789012345678>", body["content"])

	embed := body["embeds"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "Server Offline", embed["title"])
	assert.Equal(t, float64(colorError), embed["color"])
}

func TestInfoNotificationDoesNotMentionOwner(t *testing.T) {
	sink := newWebhookSink(t, http.StatusOK)

	cfg := config.DefaultConfig()
	cfg.ApplicationData.Discord.WebhookURL = sink.srv.URL
	cfg.ApplicationData.Discord.OwnerID = "123456789012345678"

	dc := NewDiscordConnector(cfg, events.NewEventBus())
	require.NoError(t, dc.SendAdminNotification(context.Background(), "Server Online", "back", "info"))

	require.Len(t, sink.bodies, 1)
	_, hasContent := sink.bodies[0]["content"]
	assert.False(t, hasContent)
}

func TestWebhookErrorStatus(t *testing.T) {
	sink := newWebhookSink(t, http.StatusBadRequest)

	cfg := config.DefaultConfig()
	cfg.ApplicationData.Discord.WebhookURL = sink.srv.URL

	dc := NewDiscordConnector(cfg, events.NewEventBus())
	err := dc.SendAdminNotification(context.Background(), "t", "m", "warning")
	assert.ErrorContains(t, err, "400")
}

func TestNoWebhookIsNoop(t *testing.T) {
	dc := NewDiscordConnector(config.DefaultConfig(), events.NewEventBus())
	assert.NoError(t, dc.SendAdminNotification(context.Background(), "t", "m", "info"))
}

func TestBusNotificationReachesWebhook(t *testing.T) {
	sink := newWebhookSink(t, http.StatusNoContent)

	cfg := config.DefaultConfig()
	cfg.ApplicationData.Discord.WebhookURL = sink.srv.URL

	bus := events.NewEventBus()
	dc := NewDiscordConnector(cfg, bus)
	defer dc.Close()

	require.NoError(t, bus.EmitSync(context.Background(), events.Event{
		Type:    events.EventNotifyDiscordAdmin,
		Payload: events.NotifyDiscordPayload{Title: "Daily Uptime", Message: "ok", Level: "info"},
	}))

	require.Len(t, sink.bodies, 1)
}

func TestRateLimitedWebhookRetriesOnce(t *testing.T) {
	sink := newWebhookSink(t, http.StatusNoContent)
	sink.statuses = []int{http.StatusTooManyRequests}
	sink.retryAfter = "0.05"

	cfg := config.DefaultConfig()
	cfg.ApplicationData.Discord.WebhookURL = sink.srv.URL

	dc := NewDiscordConnector(cfg, events.NewEventBus())
	require.NoError(t, dc.SendAdminNotification(context.Background(), "t", "m", "info"))
	assert.Len(t, sink.bodies, 2)
}

func TestRateLimitedTwiceFails(t *testing.T) {
	sink := newWebhookSink(t, http.StatusTooManyRequests)
	sink.retryAfter = "0.01"

	cfg := config.DefaultConfig()
	cfg.ApplicationData.Discord.WebhookURL = sink.srv.URL

	dc := NewDiscordConnector(cfg, events.NewEventBus())
	err := dc.SendAdminNotification(context.Background(), "t", "m", "info")
	assert.ErrorContains(t, err, "429")
	assert.Len(t, sink.bodies, 2)
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, time.Second, retryAfter(""))
	assert.Equal(t, time.Second, retryAfter("soon"))
	assert.Equal(t, 1500*time.Millisecond, retryAfter("1.5"))
	assert.Equal(t, maxRetryAfter, retryAfter("3600"))
}

func TestBuildMessage(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	msg := buildMessage("42", "Disk Space Warning", "92% used", "warning", at)

	assert.Empty(t, msg.Content)
	require.Len(t, msg.Embeds, 1)
	assert.Equal(t, colorWarning, msg.Embeds[0].Color)
	assert.Equal(t, "2026-05-01T12:00:00Z", msg.Embeds[0].Timestamp)
	assert.Equal(t, "craftkeeper", msg.Embeds[0].Footer.Text)
}

func TestLevelColor(t *testing.T) {
	assert.Equal(t, colorError, levelColor("critical"))
	assert.Equal(t, colorWarning, levelColor("warning"))
	assert.Equal(t, colorInfo, levelColor("anything"))
}
