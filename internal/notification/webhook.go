package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aquasentinel/aquasentinel/internal/errors"
	"github.com/google/uuid"
)

const maxWebhookResponse = 64 << 10

// webhookPayload is the JSON body posted to webhook endpoints.
type webhookPayload struct {
	UserID       string            `json:"user_id"`
	Subject      string            `json:"subject"`
	Body         string            `json:"body"`
	ShortMessage string            `json:"short_message,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	SentAt       time.Time         `json:"sent_at"`
}

// WebhookHandler posts notifications as JSON to a fixed endpoint.
type WebhookHandler struct {
	url     string
	client  *http.Client
	headers map[string]string
}

// NewWebhookHandler creates a handler. A nil client gets a 10 second timeout.
func NewWebhookHandler(url string, client *http.Client, headers map[string]string) *WebhookHandler {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookHandler{url: url, client: client, headers: headers}
}

// Send implements Handler. 4xx responses other than 429 are permanent.
func (h *WebhookHandler) Send(ctx context.Context, userID string, msg Rendered, metadata map[string]string) (SendResult, error) {
	body, err := json.Marshal(webhookPayload{
		UserID:       userID,
		Subject:      msg.Subject,
		Body:         msg.Body,
		ShortMessage: msg.ShortMessage,
		Metadata:     metadata,
		SentAt:       time.Now().UTC(),
	})
	if err != nil {
		return SendResult{Error: err.Error()}, errors.Join(ErrPermanentFailure, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return SendResult{Error: err.Error()}, errors.Join(ErrPermanentFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return SendResult{Error: err.Error()}, errors.New(err).
			Component("notification").
			Category(errors.CategoryTransientDelivery).
			Context("url", h.url).
			Build()
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxWebhookResponse))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := fmt.Sprintf("webhook returned status %d", resp.StatusCode)
		err := errors.Newf("%s", msg).
			Component("notification").
			Category(errors.CategoryTransientDelivery).
			Context("status", resp.StatusCode).
			Build()
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			err = errors.Join(ErrPermanentFailure, err)
		}
		return SendResult{Error: msg}, err
	}

	id := resp.Header.Get("X-Message-Id")
	if id == "" {
		var ack struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(raw, &ack) == nil {
			id = ack.ID
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	return SendResult{Success: true, MessageID: id}, nil
}
