package escalation

import (
	"encoding/json"
	"time"

	"github.com/aquasentinel/aquasentinel/internal/severity"
)

// Timeline event types written by the manager. Reconstruct replays them.
const (
	EventStarted       = "escalation.started"
	EventLevelAdvanced = "escalation.level_advanced"
	EventRepeated      = "escalation.repeated"
	EventAcknowledged  = "escalation.acknowledged"
	EventCompleted     = "escalation.completed"
	EventResolved      = "escalation.resolved"
)

// State is the live progress of one incident through its policy.
type State struct {
	IncidentID       string         `json:"incident_id"`
	TenantID         string         `json:"tenant_id"`
	PolicyID         uint           `json:"policy_id"`
	CurrentLevel     int            `json:"current_level"`
	Acknowledged     bool           `json:"acknowledged"`
	AcknowledgedBy   string         `json:"acknowledged_by,omitempty"`
	AcknowledgedAt   *time.Time     `json:"acknowledged_at,omitempty"`
	IsComplete       bool           `json:"is_complete"`
	RepeatCount      int            `json:"repeat_count"`
	StartedAt        time.Time      `json:"started_at"`
	NextEscalationAt *time.Time     `json:"next_escalation_at,omitempty"`
	Severity         severity.Level `json:"severity"`
}

// Active reports whether the state still waits on a timer.
func (s State) Active() bool {
	return !s.IsComplete && !s.Acknowledged
}

func (s State) clone() State {
	out := s
	if s.AcknowledgedAt != nil {
		t := *s.AcknowledgedAt
		out.AcknowledgedAt = &t
	}
	if s.NextEscalationAt != nil {
		t := *s.NextEscalationAt
		out.NextEscalationAt = &t
	}
	return out
}

// eventData is the JSON payload of escalation timeline events.
type eventData struct {
	PolicyID uint   `json:"policy_id"`
	Level    int    `json:"level"`
	Repeat   int    `json:"repeat"`
	Severity string `json:"severity,omitempty"`
	Note     string `json:"note,omitempty"`
}

func (d eventData) encode() string {
	b, err := json.Marshal(d)
	if err != nil {
		return ""
	}
	return string(b)
}

func decodeEventData(s string) (eventData, error) {
	var d eventData
	if s == "" {
		return d, nil
	}
	err := json.Unmarshal([]byte(s), &d)
	return d, err
}
