package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/evergrid-labs/bidwatch/internal/monitor"
)

const pushplusEndpoint = "https://www.pushplus.plus/send"

// Webhook pushes the digest to a contact's chat via the PushPlus relay.
type Webhook struct {
	client   *http.Client
	logger   *zap.Logger
	endpoint string
}

// NewWebhook builds the channel.
func NewWebhook(logger *zap.Logger) *Webhook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Webhook{
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
		endpoint: pushplusEndpoint,
	}
}

// Name implements monitor.Channel.
func (w *Webhook) Name() string { return "chat" }

// Send pushes the digest. Contacts without a chat token are skipped.
func (w *Webhook) Send(ctx context.Context, contact monitor.Contact, records []monitor.StoredRecord) error {
	if contact.ChatToken == "" {
		return ErrNotConfigured
	}
	if len(records) == 0 {
		return nil
	}

	payload, err := json.Marshal(map[string]string{
		"token":    contact.ChatToken,
		"title":    fmt.Sprintf("招标监控：发现 %d 条新信息", len(records)),
		"content":  htmlBody(records),
		"template": "html",
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("push webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var result struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode webhook response: %w", err)
	}
	if result.Code != 200 {
		return fmt.Errorf("webhook rejected: %d (%s)", result.Code, result.Msg)
	}
	w.logger.Info("chat message pushed", zap.String("contact", contact.Name))
	return nil
}
