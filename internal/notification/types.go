package notification

import (
	"context"
	"time"

	"github.com/aquasentinel/aquasentinel/internal/severity"
)

// Status is the state of one per-channel delivery.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusFailed    Status = "FAILED"
	StatusRetrying  Status = "RETRYING"
	StatusSkipped   Status = "SKIPPED"
)

// RoutingContext carries fields custom routing rules can test, such as
// "severity", "farm_id" or "rule". Values are compared as strings.
type RoutingContext map[string]any

// Request asks the dispatcher to notify one user. Channels, when set,
// replace the severity defaults.
type Request struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	TenantID       string         `json:"tenant_id"`
	Severity       severity.Level `json:"severity"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	Channels       []Channel      `json:"channels,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
	RoutingContext RoutingContext `json:"routing_context,omitempty"`
	IncidentID     string         `json:"incident_id,omitempty"`
}

// Result is the outcome of one channel delivery.
type Result struct {
	RequestID   string     `json:"request_id"`
	UserID      string     `json:"user_id"`
	Channel     Channel    `json:"channel"`
	Status      Status     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	MessageID   string     `json:"message_id,omitempty"`
	Error       string     `json:"error,omitempty"`
	QueuedAt    time.Time  `json:"queued_at"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// DispatchResult collects the per-channel results of one Send.
type DispatchResult struct {
	RequestID string           `json:"request_id"`
	UserID    string           `json:"user_id"`
	Decision  *RoutingDecision `json:"decision"`
	Results   []Result         `json:"results"`
}

// Outcome folds the channel results into one user-level outcome: success if
// any channel was sent, failure if any failed, otherwise skipped.
func (d *DispatchResult) Outcome() Status {
	failed := false
	for _, r := range d.Results {
		switch r.Status {
		case StatusSent, StatusDelivered:
			return StatusSent
		case StatusFailed:
			failed = true
		}
	}
	if failed {
		return StatusFailed
	}
	return StatusSkipped
}

// BatchResult summarizes SendBatch. Success+Failure+Skipped == Total.
type BatchResult struct {
	BatchID string                     `json:"batch_id"`
	Total   int                        `json:"total"`
	Success int                        `json:"success"`
	Failure int                        `json:"failure"`
	Skipped int                        `json:"skipped"`
	Results map[string]*DispatchResult `json:"-"`
}

// Rendered is a notification formatted for one channel.
type Rendered struct {
	Subject      string `json:"subject"`
	Body         string `json:"body"`
	HTMLBody     string `json:"html_body,omitempty"`
	ShortMessage string `json:"short_message,omitempty"`
}

// SendResult is what a handler reports for one send.
type SendResult struct {
	Success   bool
	MessageID string
	Error     string
}

// Handler delivers rendered notifications on one channel. Handlers may be
// called again for the same notification after a failure.
type Handler interface {
	Send(ctx context.Context, userID string, msg Rendered, metadata map[string]string) (SendResult, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, userID string, msg Rendered, metadata map[string]string) (SendResult, error)

// Send implements Handler.
func (f HandlerFunc) Send(ctx context.Context, userID string, msg Rendered, metadata map[string]string) (SendResult, error) {
	return f(ctx, userID, msg, metadata)
}
