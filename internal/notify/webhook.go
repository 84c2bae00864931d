package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Signature headers set when the sender has a secret.
const (
	HeaderTimestamp = "X-Predictex-Timestamp"
	HeaderSignature = "X-Predictex-Signature"
)

// WebhookSender posts alerts as JSON. The content field makes the payload
// acceptable to Discord and Slack style incoming webhooks as well. With a
// secret, every request carries HMAC-SHA256(secret, timestamp+body) in hex
// so the receiver can verify it.
type WebhookSender struct {
	url    string
	secret []byte
	client *http.Client
	now    func() time.Time
}

// NewWebhookSender creates a sender with a 10 second timeout. An empty
// secret sends unsigned requests.
func NewWebhookSender(url, secret string) *WebhookSender {
	return &WebhookSender{
		url:    url,
		secret: []byte(secret),
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

type webhookPayload struct {
	Event   string `json:"event"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Content string `json:"content"`
	SentAt  string `json:"sent_at"`
}

// Send posts one alert.
func (w *WebhookSender) Send(ctx context.Context, event, title, message string) error {
	body, err := json.Marshal(webhookPayload{
		Event:   event,
		Title:   title,
		Message: message,
		Content: fmt.Sprintf("**%s**\n%s", title, message),
		SentAt:  w.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if len(w.secret) > 0 {
		ts := strconv.FormatInt(w.now().Unix(), 10)
		req.Header.Set(HeaderTimestamp, ts)
		req.Header.Set(HeaderSignature, Sign(w.secret, ts, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Name returns the sender identifier.
func (w *WebhookSender) Name() string { return "webhook" }

// Sign returns the hex HMAC-SHA256 of timestamp followed by body.
func Sign(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
