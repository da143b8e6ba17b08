package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gatekey-io/gatekey/internal/repositories"
)

// Settings keys of the audit webhook. Loaded on every send so an operator
// edit takes effect without a restart.
const (
	KeyWebhookURL     = "notify.webhook_url"
	KeyWebhookSecret  = "notify.webhook_secret"
	KeyWebhookEnabled = "notify.webhook_enabled"
)

// ErrSendFailed wraps all webhook delivery failures.
var ErrSendFailed = errors.New("notify: webhook delivery failed")

// errNotConfigured marks an absent webhook configuration; sends are skipped
// silently in that case.
var errNotConfigured = errors.New("notify: webhook not configured")

// webhookConfig is the runtime webhook configuration.
type webhookConfig struct {
	URL     string
	Secret  string
	Enabled bool
}

// webhookPayload is the JSON body sent to the webhook endpoint. The structure
// is kept generic and compatible with Slack/Discord/Teams incoming webhook
// formats via the "text" field, while also carrying structured data in
// "payload" for custom integrations.
type webhookPayload struct {
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Body      string         `json:"text"` // "text" for Slack/Discord compatibility
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// webhookSender delivers audit events via an outbound HTTP POST to a
// configured URL. Optionally signs the request body with HMAC-SHA256 when a
// secret is configured, enabling the receiver to verify authenticity.
type webhookSender struct {
	client *http.Client
	loader func(ctx context.Context) (*webhookConfig, error)
}

// newWebhookSender creates a webhookSender. loader is called on every Send to
// retrieve the current webhook configuration.
func newWebhookSender(loader func(ctx context.Context) (*webhookConfig, error)) *webhookSender {
	return &webhookSender{
		client: &http.Client{Timeout: 10 * time.Second},
		loader: loader,
	}
}

// Send serializes the event as JSON and POSTs it to the configured webhook
// URL. If the webhook is disabled or not configured, the send is skipped
// silently. Non-2xx responses are treated as delivery failures and returned
// wrapped in ErrSendFailed.
func (s *webhookSender) Send(ctx context.Context, eventType, title, body string, payload map[string]any) error {
	cfg, err := s.loader(ctx)
	if err != nil {
		if errors.Is(err, errNotConfigured) {
			return nil
		}
		return fmt.Errorf("%w: failed to load webhook config: %s", ErrSendFailed, err)
	}

	if !cfg.Enabled {
		return nil
	}

	data, err := json.Marshal(webhookPayload{
		Type:      eventType,
		Title:     title,
		Body:      body,
		Payload:   payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("%w: failed to marshal webhook payload: %s", ErrSendFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: failed to build webhook request: %s", ErrSendFailed, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Gatekey-Webhook/1.0")

	// Sign the request body with HMAC-SHA256 if a secret is configured.
	// The signature is sent in the X-Gatekey-Signature header as
	// "sha256=<hex>", following the convention used by GitHub and Stripe
	// webhooks.
	if cfg.Secret != "" {
		sig := hmacSHA256(data, cfg.Secret)
		req.Header.Set("X-Gatekey-Signature", "sha256="+sig)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: webhook request failed: %s", ErrSendFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: webhook returned non-2xx status %d", ErrSendFailed, resp.StatusCode)
	}

	return nil
}

// loadWebhookConfig reads the webhook settings. A missing URL means the
// webhook is not configured.
func loadWebhookConfig(ctx context.Context, repo repositories.SettingsRepository) (*webhookConfig, error) {
	rows, err := repo.GetMany(ctx, "notify.")
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(rows))
	for _, row := range rows {
		values[row.Key] = string(row.Value)
	}

	if values[KeyWebhookURL] == "" {
		return nil, errNotConfigured
	}

	enabled, err := strconv.ParseBool(values[KeyWebhookEnabled])
	if err != nil {
		enabled = false
	}

	return &webhookConfig{
		URL:     values[KeyWebhookURL],
		Secret:  values[KeyWebhookSecret],
		Enabled: enabled,
	}, nil
}

// hmacSHA256 computes an HMAC-SHA256 signature of data using secret,
// returned as a lowercase hex string.
func hmacSHA256(data []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}
