package entities

import "time"

// AlertHistory records each time a rule match opened an incident.
type AlertHistory struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	TenantID   string    `gorm:"size:64;not null;index" json:"tenant_id"`
	RuleID     uint      `gorm:"not null;index:idx_alert_history_rule_fired,priority:1" json:"rule_id"`
	IncidentID string    `gorm:"size:36;index" json:"incident_id"`
	Severity   string    `gorm:"size:16" json:"severity"`
	RiskScore  float64   `json:"risk_score"`
	FiredAt    time.Time `gorm:"not null;index:idx_alert_history_rule_fired,priority:2" json:"fired_at"`
	EventData  string    `gorm:"type:text" json:"event_data"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	Rule       AlertRule `gorm:"foreignKey:RuleID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for GORM.
func (AlertHistory) TableName() string {
	return "alert_history"
}
