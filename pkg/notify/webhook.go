package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// WebhookGateway POSTs each message as JSON to a relay endpoint (mail bridge,
// chat incoming webhook).
type WebhookGateway struct {
	url    string
	from   string
	extra  []string
	client *http.Client
	logger *slog.Logger
}

// NewWebhookGateway creates a WebhookGateway. A nil client gets a 10s timeout.
func NewWebhookGateway(url, from string, extra []string, client *http.Client, logger *slog.Logger) *WebhookGateway {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookGateway{url: url, from: from, extra: extra, client: client, logger: logger}
}

type webhookPayload struct {
	From       string   `json:"from"`
	Recipients []string `json:"to"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
}

// Send implements Gateway. Non-2xx responses are returned as errors.
func (g *WebhookGateway) Send(ctx context.Context, m Message) (bool, error) {
	recipients := mergeRecipients(m.Recipients, g.extra)
	if g.url == "" || len(recipients) == 0 {
		g.logger.Debug("webhook notification skipped, delivery not configured",
			"urlConfigured", g.url != "",
			"requestedRecipients", m.Recipients)
		return false, nil
	}

	body, err := json.Marshal(webhookPayload{
		From:       g.from,
		Recipients: recipients,
		Subject:    m.Subject,
		Body:       m.Body,
	})
	if err != nil {
		return false, fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return true, nil
}
