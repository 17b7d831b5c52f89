package entities

import "time"

// QuietHours suppresses non-critical notifications between Start and End
// ("HH:MM", wrapping past midnight when End < Start) in Timezone.
type QuietHours struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone,omitempty"`
}

// RateLimitConfig caps sends per rolling hour and day. Zero means unlimited.
type RateLimitConfig struct {
	MaxPerHour int `json:"max_per_hour,omitempty"`
	MaxPerDay  int `json:"max_per_day,omitempty"`
}

// ChannelConfig holds per-channel user settings.
type ChannelConfig struct {
	MinSeverity string           `json:"min_severity,omitempty"`
	RateLimit   *RateLimitConfig `json:"rate_limit,omitempty"`
	QuietHours  *QuietHours      `json:"quiet_hours,omitempty"`
}

// RoutingCondition tests one routing-context field. Operator is one of
// eq, neq, in, contains.
type RoutingCondition struct {
	Field    string   `json:"field"`
	Operator string   `json:"operator"`
	Value    string   `json:"value,omitempty"`
	Values   []string `json:"values,omitempty"`
}

// RoutingRule forces extra channels when all its conditions hold.
// Lower Priority values are applied first.
type RoutingRule struct {
	Name       string             `json:"name"`
	Priority   int                `json:"priority"`
	Conditions []RoutingCondition `json:"conditions"`
	Channels   []string           `json:"channels"`
}

// NotificationPreference is a user's notification settings.
type NotificationPreference struct {
	UserID           string                   `gorm:"primaryKey;size:64" json:"user_id"`
	TenantID         string                   `gorm:"size:64;index" json:"tenant_id"`
	EnabledChannels  []string                 `gorm:"serializer:json" json:"enabled_channels"`
	PreferredChannel string                   `gorm:"size:16" json:"preferred_channel,omitempty"`
	ChannelConfigs   map[string]ChannelConfig `gorm:"serializer:json" json:"channel_configs,omitempty"`
	CustomRules      []RoutingRule            `gorm:"serializer:json" json:"custom_rules,omitempty"`
	UpdatedAt        time.Time                `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (NotificationPreference) TableName() string {
	return "notification_preferences"
}
