package entities

// AlertCondition compares one fact parameter against a numeric threshold.
type AlertCondition struct {
	ID        uint    `gorm:"primaryKey" json:"id"`
	RuleID    uint    `gorm:"not null;index" json:"rule_id"`
	Parameter string  `gorm:"size:100;not null" json:"parameter"`
	Operator  string  `gorm:"size:8;not null" json:"operator"`
	Threshold float64 `gorm:"not null" json:"threshold"`
	Severity  string  `gorm:"size:16;not null" json:"severity"`
	SortOrder int     `gorm:"default:0" json:"sort_order"`
}

// TableName returns the table name for GORM.
func (AlertCondition) TableName() string {
	return "alert_conditions"
}
