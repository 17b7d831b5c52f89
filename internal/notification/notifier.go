package notification

import (
	"context"
	"fmt"

	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/entities"
	"github.com/aquasentinel/aquasentinel/internal/errors"
	"github.com/aquasentinel/aquasentinel/internal/escalation"
	"github.com/aquasentinel/aquasentinel/internal/logger"
)

// EscalationNotifier delivers escalation level notifications to each target
// of the level through the dispatcher.
type EscalationNotifier struct {
	dispatcher *Dispatcher
	log        logger.Logger
}

// NewEscalationNotifier adapts d to escalation.Notifier.
func NewEscalationNotifier(d *Dispatcher, log logger.Logger) *EscalationNotifier {
	if log == nil {
		log = logger.NewNop()
	}
	return &EscalationNotifier{dispatcher: d, log: log.Module("notification")}
}

var _ escalation.Notifier = (*EscalationNotifier)(nil)

// NotifyLevel implements escalation.Notifier. Pages without explicit
// channels go to PagerDuty, calls to PagerDuty and SMS.
func (n *EscalationNotifier) NotifyLevel(ctx context.Context, ln escalation.LevelNotification) error {
	channels := levelChannels(ln)
	title := fmt.Sprintf("[Escalation L%d] %s", ln.Level, ln.Title)
	if ln.Repeat > 0 {
		title = fmt.Sprintf("[Escalation L%d, repeat %d] %s", ln.Level, ln.Repeat, ln.Title)
	}
	message := fmt.Sprintf("Incident %s escalated to %s.", ln.IncidentID, ln.LevelName)

	var errs []error
	for _, target := range ln.Targets {
		res, err := n.dispatcher.Send(ctx, &Request{
			UserID:     target,
			TenantID:   ln.TenantID,
			Severity:   ln.Severity,
			Title:      title,
			Message:    message,
			Channels:   channels,
			IncidentID: ln.IncidentID,
			Data: map[string]any{
				"incident_id": ln.IncidentID,
				"level":       ln.Level,
				"action":      ln.Action,
			},
			RoutingContext: RoutingContext{
				"tenant_id":        ln.TenantID,
				"escalation_level": ln.Level,
				"action":           ln.Action,
			},
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if res.Outcome() == StatusFailed {
			errs = append(errs, errors.Newf("escalation notification to %s failed on every channel", target).
				Component("notification").
				Category(errors.CategoryTransientDelivery).
				Context("incident_id", ln.IncidentID).
				Build())
		}
	}
	return errors.Join(errs...)
}

func levelChannels(ln escalation.LevelNotification) []Channel {
	var out []Channel
	for _, s := range ln.Channels {
		if ch, ok := ParseChannel(s); ok {
			out = append(out, ch)
		}
	}
	if len(out) > 0 {
		return out
	}
	switch ln.Action {
	case entities.ActionPage:
		return []Channel{ChannelPagerDuty}
	case entities.ActionCall:
		return []Channel{ChannelPagerDuty, ChannelSMS}
	}
	return nil
}
