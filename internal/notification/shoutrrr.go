package notification

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/aquasentinel/aquasentinel/internal/errors"
	"github.com/google/uuid"
	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
)

// URLResolver returns the shoutrrr service URLs that reach a user.
type URLResolver func(ctx context.Context, userID string) ([]string, error)

// StaticURLs resolves users from a fixed map, falling back to shared URLs.
func StaticURLs(perUser map[string][]string, fallback []string) URLResolver {
	return func(_ context.Context, userID string) ([]string, error) {
		if urls := perUser[userID]; len(urls) > 0 {
			return urls, nil
		}
		return fallback, nil
	}
}

// TemplateURL resolves every user from one URL template by replacing
// "{user}" with the escaped user id.
func TemplateURL(tmpl string) URLResolver {
	return func(_ context.Context, userID string) ([]string, error) {
		return []string{strings.ReplaceAll(tmpl, "{user}", url.PathEscape(userID))}, nil
	}
}

// ShoutrrrHandler delivers through any service shoutrrr supports: ntfy,
// Slack, Teams, Pushover, SMTP and more.
type ShoutrrrHandler struct {
	name    string
	resolve URLResolver
	timeout time.Duration
}

// NewShoutrrrHandler creates a handler. A zero timeout means 30 seconds.
func NewShoutrrrHandler(name string, resolve URLResolver, timeout time.Duration) *ShoutrrrHandler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ShoutrrrHandler{name: name, resolve: resolve, timeout: timeout}
}

// ValidateURLs checks that shoutrrr accepts every URL.
func ValidateURLs(urls ...string) error {
	if len(urls) == 0 {
		return errors.Newf("no service URLs configured").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if _, err := shoutrrr.CreateSender(urls...); err != nil {
		return errors.New(err).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

// Send implements Handler. Bad URLs are permanent failures; service errors
// are retryable.
func (h *ShoutrrrHandler) Send(ctx context.Context, userID string, msg Rendered, _ map[string]string) (SendResult, error) {
	urls, err := h.resolve(ctx, userID)
	if err != nil {
		return SendResult{Error: err.Error()}, err
	}
	if len(urls) == 0 {
		return SendResult{Error: "no destination"}, errors.Join(ErrPermanentFailure,
			errors.Newf("%s: no destination for user %s", h.name, userID).
				Component("notification").
				Category(errors.CategoryConfiguration).
				Build())
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return SendResult{Error: err.Error()}, errors.Join(ErrPermanentFailure, err)
	}

	text := msg.Body
	if text == "" {
		text = msg.ShortMessage
	}
	params := types.Params{}
	if msg.Subject != "" {
		params["title"] = msg.Subject
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	done := make(chan []error, 1)
	go func() { done <- sender.Send(text, &params) }()

	select {
	case <-ctx.Done():
		return SendResult{Error: ctx.Err().Error()}, errors.New(ctx.Err()).
			Component("notification").
			Category(errors.CategoryTimeout).
			Context("handler", h.name).
			Build()
	case errs := <-done:
		if joined := errors.Join(errs...); joined != nil {
			return SendResult{Error: joined.Error()}, errors.New(joined).
				Component("notification").
				Category(errors.CategoryTransientDelivery).
				Context("handler", h.name).
				Build()
		}
	}
	return SendResult{Success: true, MessageID: uuid.NewString()}, nil
}
