package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeRecipients(t *testing.T) {
	got := mergeRecipients(
		[]string{"a@example.com", " ", "B@example.com", "a@example.com"},
		[]string{"b@example.com", "ops@example.com"},
	)
	assert.Equal(t, []string{"a@example.com", "B@example.com", "ops@example.com"}, got)
	assert.Empty(t, mergeRecipients(nil, nil))
}

func TestLogGateway(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := context.Background()

	t.Run("sends with sender and recipients", func(t *testing.T) {
		buf.Reset()
		gw := NewLogGateway("noreply@example.com", []string{"ops@example.com"}, logger)
		ok, err := gw.Send(ctx, Message{Recipients: []string{"u@example.com"}, Subject: "Overdue"})
		require.NoError(t, err)
		assert.True(t, ok)

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "notification issued", line["msg"])
		assert.Equal(t, []any{"u@example.com", "ops@example.com"}, line["to"])
	})

	t.Run("extra recipients alone are enough", func(t *testing.T) {
		gw := NewLogGateway("noreply@example.com", []string{"ops@example.com"}, logger)
		ok, err := gw.Send(ctx, Message{Subject: "Overdue"})
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("skipped without sender", func(t *testing.T) {
		gw := NewLogGateway("", nil, logger)
		ok, err := gw.Send(ctx, Message{Recipients: []string{"u@example.com"}})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("skipped without recipients", func(t *testing.T) {
		gw := NewLogGateway("noreply@example.com", nil, logger)
		ok, err := gw.Send(ctx, Message{})
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestWebhookGateway(t *testing.T) {
	var got webhookPayload
	status := http.StatusAccepted
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(status)
	}))
	defer srv.Close()

	gw := NewWebhookGateway(srv.URL, "noreply@example.com", []string{"ops@example.com"}, srv.Client(), nil)
	ok, err := gw.Send(context.Background(), Message{Recipients: []string{"u@example.com"}, Subject: "Overdue", Body: "late"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "noreply@example.com", got.From)
	assert.Equal(t, []string{"u@example.com", "ops@example.com"}, got.Recipients)
	assert.Equal(t, "late", got.Body)

	status = http.StatusBadGateway
	ok, err = gw.Send(context.Background(), Message{Recipients: []string{"u@example.com"}})
	assert.Error(t, err)
	assert.False(t, ok)

	ok, err = NewWebhookGateway("", "", nil, nil, nil).Send(context.Background(), Message{Recipients: []string{"u@example.com"}})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("APPROVALS_NOTIFY_FROM", "noreply@example.com")
	t.Setenv("APPROVALS_NOTIFY_RECIPIENTS", "ops@example.com, ,audit@example.com")
	t.Setenv("APPROVALS_NOTIFY_WEBHOOK_URL", "")
	t.Setenv("APPROVALS_NOTIFY_QUEUE_SIZE", "8")
	t.Setenv("APPROVALS_NOTIFY_MAX_RETRIES", "bogus")

	cfg := ConfigFromEnv()
	assert.Equal(t, "noreply@example.com", cfg.From)
	assert.Equal(t, []string{"ops@example.com", "audit@example.com"}, cfg.Recipients)
	assert.Equal(t, 8, cfg.QueueSize)
	assert.Equal(t, DefaultConfig().MaxRetries, cfg.MaxRetries)

	assert.IsType(t, &LogGateway{}, NewGateway(cfg, nil))
	cfg.WebhookURL = "http://relay.invalid/hook"
	assert.IsType(t, &WebhookGateway{}, NewGateway(cfg, nil))
}
