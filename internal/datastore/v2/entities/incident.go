package entities

import "time"

// Incident statuses.
const (
	IncidentOpen         = "OPEN"
	IncidentAcknowledged = "ACKNOWLEDGED"
	IncidentResolved     = "RESOLVED"
)

// Incident is an alert occurrence tracked through escalation.
type Incident struct {
	ID         string                  `gorm:"primaryKey;size:36" json:"id"`
	TenantID   string                  `gorm:"size:64;not null;index" json:"tenant_id"`
	RuleID     uint                    `gorm:"index" json:"rule_id"`
	FarmID     string                  `gorm:"size:64" json:"farm_id,omitempty"`
	PondID     string                  `gorm:"size:64" json:"pond_id,omitempty"`
	SensorID   string                  `gorm:"size:64" json:"sensor_id,omitempty"`
	Severity   string                  `gorm:"size:16;not null" json:"severity"`
	Status     string                  `gorm:"size:16;not null;index" json:"status"`
	Title      string                  `gorm:"size:500" json:"title"`
	RiskScore  float64                 `json:"risk_score"`
	CreatedAt  time.Time               `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time               `gorm:"autoUpdateTime" json:"updated_at"`
	ResolvedAt *time.Time              `json:"resolved_at,omitempty"`
	Timeline   []IncidentTimelineEvent `gorm:"foreignKey:IncidentID;constraint:OnDelete:CASCADE" json:"timeline,omitempty"`
}

// TableName returns the table name for GORM.
func (Incident) TableName() string {
	return "incidents"
}

// IncidentTimelineEvent is one audit-trail entry. Data holds JSON.
type IncidentTimelineEvent struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	IncidentID  string    `gorm:"size:36;not null;index" json:"incident_id"`
	Type        string    `gorm:"size:64;not null" json:"type"`
	UserID      string    `gorm:"size:64" json:"user_id,omitempty"`
	Description string    `gorm:"size:1000" json:"description"`
	Data        string    `gorm:"type:text" json:"data,omitempty"`
	CreatedAt   time.Time `gorm:"not null;index" json:"created_at"`
}

// TableName returns the table name for GORM.
func (IncidentTimelineEvent) TableName() string {
	return "incident_timeline_events"
}
