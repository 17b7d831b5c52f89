package entities

import "time"

// Escalation level actions.
const (
	ActionNotify      = "NOTIFY"
	ActionPage        = "PAGE"
	ActionCall        = "CALL"
	ActionAutoResolve = "AUTO_RESOLVE"
)

// SuppressionWindow mutes a policy during a daily time range. Start and End
// are "HH:MM" in Timezone; End before Start wraps past midnight. Empty Days
// means every day.
type SuppressionWindow struct {
	Start    string   `json:"start"`
	End      string   `json:"end"`
	Days     []string `json:"days,omitempty"`
	Timezone string   `json:"timezone,omitempty"`
}

// EscalationPolicy describes who is notified, and how, as an incident ages.
type EscalationPolicy struct {
	ID                    uint                `gorm:"primaryKey" json:"id"`
	TenantID              string              `gorm:"size:64;not null;index" json:"tenant_id"`
	Name                  string              `gorm:"size:255;not null" json:"name"`
	Severities            []string            `gorm:"serializer:json" json:"severities"`
	RuleIDs               []uint              `gorm:"serializer:json" json:"rule_ids,omitempty"`
	FarmIDs               []string            `gorm:"serializer:json" json:"farm_ids,omitempty"`
	SuppressionWindows    []SuppressionWindow `gorm:"serializer:json" json:"suppression_windows,omitempty"`
	RepeatIntervalMinutes int                 `gorm:"not null;default:0" json:"repeat_interval_minutes"`
	MaxRepeats            int                 `gorm:"not null;default:0" json:"max_repeats"`
	Active                bool                `gorm:"not null;default:true" json:"active"`
	IsDefault             bool                `gorm:"not null;default:false" json:"is_default"`
	CreatedAt             time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
	Levels                []EscalationLevel   `gorm:"foreignKey:PolicyID;constraint:OnDelete:CASCADE" json:"levels"`
}

// TableName returns the table name for GORM.
func (EscalationPolicy) TableName() string {
	return "escalation_policies"
}

// EscalationLevel is one step of a policy. Levels run 1..N without gaps.
type EscalationLevel struct {
	ID             uint     `gorm:"primaryKey" json:"id"`
	PolicyID       uint     `gorm:"not null;index" json:"policy_id"`
	Level          int      `gorm:"not null" json:"level"`
	Name           string   `gorm:"size:255" json:"name"`
	TimeoutMinutes int      `gorm:"not null" json:"timeout_minutes"`
	NotifyTargets  []string `gorm:"serializer:json" json:"notify_targets"`
	Channels       []string `gorm:"serializer:json" json:"channels,omitempty"`
	Action         string   `gorm:"size:16;not null;default:'NOTIFY'" json:"action"`
}

// TableName returns the table name for GORM.
func (EscalationLevel) TableName() string {
	return "escalation_levels"
}
