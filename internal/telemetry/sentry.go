// Package telemetry wires error reporting to Sentry.
package telemetry

import (
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/aquasentinel/aquasentinel/internal/errors"
)

// Config holds the Sentry connection settings.
type Config struct {
	DSN         string
	Environment string
	Release     string
}

// SentryReporter forwards categorized errors to a Sentry hub.
type SentryReporter struct {
	hub *sentry.Hub
}

// NewSentryReporter wraps hub. A nil hub uses the current global hub.
func NewSentryReporter(hub *sentry.Hub) *SentryReporter {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &SentryReporter{hub: hub}
}

// Init configures the global Sentry client and installs a reporter on the
// errors package. An empty DSN disables reporting and returns a nil reporter.
func Init(cfg Config) (*SentryReporter, error) {
	if cfg.DSN == "" {
		return nil, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
	}); err != nil {
		return nil, errors.Newf("sentry init: %w", err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}
	r := NewSentryReporter(nil)
	errors.SetReporter(r)
	return r, nil
}

// Report implements errors.Reporter.
func (r *SentryReporter) Report(err *errors.EnhancedError) {
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", err.GetComponent())
		scope.SetTag("category", string(err.GetCategory()))
		if ctx := err.GetContext(); len(ctx) > 0 {
			scope.SetContext("error_context", sentry.Context(ctx))
		}
		r.hub.CaptureException(err)
	})
}

// Flush waits up to timeout for buffered events to be sent.
func (r *SentryReporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}
