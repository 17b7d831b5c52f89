package escalation

import (
	"context"
	"time"

	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/entities"
	"github.com/aquasentinel/aquasentinel/internal/errors"
	"github.com/aquasentinel/aquasentinel/internal/logger"
	"github.com/aquasentinel/aquasentinel/internal/severity"
)

// Reconstruct rebuilds an incident's escalation from its timeline and re-arms
// the remaining timeout. Overdue timeouts fire immediately. An incident that
// already has an active in-memory escalation is left alone.
func (m *Manager) Reconstruct(ctx context.Context, incident *entities.Incident) (*State, error) {
	if incident == nil || incident.ID == "" {
		return nil, errors.Newf("reconstruct requires an incident").
			Component("escalation").
			Category(errors.CategoryValidation).
			Build()
	}
	if existing := m.activeState(incident.ID); existing != nil {
		return existing, nil
	}

	timeline := incident.Timeline
	if len(timeline) == 0 && m.incidents != nil {
		var err error
		timeline, err = m.incidents.ListTimeline(ctx, incident.ID)
		if err != nil {
			return nil, err
		}
	}

	state, lastTransition, err := replay(incident, timeline)
	if err != nil {
		return nil, err
	}
	if incident.Status == entities.IncidentResolved {
		state.IsComplete = true
	}

	policy, err := m.policies.GetPolicy(ctx, state.PolicyID)
	if err != nil {
		return nil, policyNotFoundOr(err, state.PolicyID)
	}
	policy.Levels = sortedLevels(policy.Levels)
	if len(policy.Levels) == 0 || state.CurrentLevel > len(policy.Levels) {
		return nil, errors.Newf("escalation timeline does not fit policy levels").
			Component("escalation").
			Category(errors.CategoryValidation).
			Context("incident_id", incident.ID).
			Context("policy_id", policy.ID).
			Build()
	}

	e := &entry{policy: policy, title: incident.Title, state: state}
	m.mu.Lock()
	if cur, ok := m.entries[incident.ID]; ok {
		cur.mu.Lock()
		active := !cur.state.IsComplete
		existing := cur.state.clone()
		cur.mu.Unlock()
		if active {
			m.mu.Unlock()
			return &existing, nil
		}
	}
	e.mu.Lock()
	m.entries[incident.ID] = e
	m.mu.Unlock()
	if e.state.Active() {
		wait := levelTimeout(policy.Levels[state.CurrentLevel-1])
		if state.RepeatCount > 0 {
			wait = repeatInterval(policy)
		}
		now := m.clock.Now()
		remaining := max(lastTransition.Add(wait).Sub(now), 0)
		m.scheduleLocked(e, now, remaining)
	}
	snapshot := e.state.clone()
	e.mu.Unlock()

	m.metrics.EscalationTransition("restored")
	m.log.Info("escalation reconstructed",
		logger.String("incident_id", incident.ID),
		logger.Int("level", snapshot.CurrentLevel),
		logger.Int("repeat", snapshot.RepeatCount),
		logger.Bool("acknowledged", snapshot.Acknowledged),
		logger.Bool("complete", snapshot.IsComplete))
	return &snapshot, nil
}

// replay folds timeline events into a State and returns the time of the last
// event that armed a timer.
func replay(incident *entities.Incident, timeline []entities.IncidentTimelineEvent) (State, time.Time, error) {
	state := State{
		IncidentID: incident.ID,
		TenantID:   incident.TenantID,
		Severity:   severity.Level(incident.Severity),
	}
	var (
		started        bool
		lastTransition time.Time
	)
	for _, ev := range timeline {
		data, err := decodeEventData(ev.Data)
		if err != nil {
			return State{}, time.Time{}, errors.New(err).
				Component("escalation").
				Category(errors.CategoryValidation).
				Context("incident_id", incident.ID).
				Context("event_type", ev.Type).
				Build()
		}
		switch ev.Type {
		case EventStarted:
			started = true
			state = State{
				IncidentID:   incident.ID,
				TenantID:     incident.TenantID,
				PolicyID:     data.PolicyID,
				CurrentLevel: 1,
				StartedAt:    ev.CreatedAt,
				Severity:     state.Severity,
			}
			if data.Severity != "" {
				state.Severity = severity.Level(data.Severity)
			}
			lastTransition = ev.CreatedAt
		case EventLevelAdvanced:
			state.CurrentLevel = data.Level
			state.RepeatCount = 0
			lastTransition = ev.CreatedAt
		case EventRepeated:
			state.RepeatCount = data.Repeat
			lastTransition = ev.CreatedAt
		case EventAcknowledged:
			at := ev.CreatedAt
			state.Acknowledged = true
			state.AcknowledgedBy = ev.UserID
			state.AcknowledgedAt = &at
		case EventCompleted, EventResolved:
			state.IsComplete = true
		}
	}
	if !started {
		return State{}, time.Time{}, errors.Newf("incident has no escalation history").
			Component("escalation").
			Category(errors.CategoryNotFound).
			Context("incident_id", incident.ID).
			Build()
	}
	return state, lastTransition, nil
}

// RestoreActive reconstructs the escalations of every open or acknowledged
// incident of a tenant; an empty tenant restores all tenants. Incidents that
// cannot be reconstructed are logged and skipped.
func (m *Manager) RestoreActive(ctx context.Context, tenantID string) (int, error) {
	incidents, err := m.incidents.ListOpen(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	restored := 0
	for i := range incidents {
		if _, err := m.Reconstruct(ctx, &incidents[i]); err != nil {
			m.log.Warn("skipping escalation restore",
				logger.String("incident_id", incidents[i].ID),
				logger.Error(err))
			continue
		}
		restored++
	}
	m.log.Info("escalations restored", logger.Int("count", restored), logger.Int("incidents", len(incidents)))
	return restored, nil
}
