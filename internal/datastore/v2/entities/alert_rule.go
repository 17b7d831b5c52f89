package entities

import "time"

// Rule combinators.
const (
	LogicAnd = "AND"
	LogicOr  = "OR"
)

// AlertRule is a tenant-owned set of threshold conditions. A nil FarmID,
// PondID or SensorID matches any value for that scope.
type AlertRule struct {
	ID          uint             `gorm:"primaryKey" json:"id"`
	TenantID    string           `gorm:"size:64;not null;index:idx_alert_rules_tenant_active,priority:1" json:"tenant_id"`
	Name        string           `gorm:"size:255;not null" json:"name"`
	Description string           `gorm:"size:1000;default:''" json:"description"`
	Active      bool             `gorm:"not null;index:idx_alert_rules_tenant_active,priority:2" json:"active"`
	BuiltIn     bool             `gorm:"not null;default:false" json:"built_in"`
	Logic       string           `gorm:"size:3;not null;default:'OR'" json:"logic"`
	FarmID      *string          `gorm:"size:64;index" json:"farm_id,omitempty"`
	PondID      *string          `gorm:"size:64" json:"pond_id,omitempty"`
	SensorID    *string          `gorm:"size:64" json:"sensor_id,omitempty"`
	CooldownSec int              `gorm:"not null;default:0" json:"cooldown_sec"`
	CreatedAt   time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
	Conditions  []AlertCondition `gorm:"foreignKey:RuleID;constraint:OnDelete:CASCADE" json:"conditions"`
}

// TableName returns the table name for GORM.
func (AlertRule) TableName() string {
	return "alert_rules"
}
