// Package conf loads service configuration from YAML files and AQS_*
// environment variables using viper.
package conf

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/aquasentinel/aquasentinel/internal/errors"
)

// EnvPrefix is the prefix for environment variable overrides, e.g.
// AQS_DATABASE_DSN overrides database.dsn.
const EnvPrefix = "AQS"

// Settings is the root configuration.
type Settings struct {
	Log          LogSettings          `mapstructure:"log"`
	Database     DatabaseSettings     `mapstructure:"database"`
	Redis        RedisSettings        `mapstructure:"redis"`
	MQTT         MQTTSettings         `mapstructure:"mqtt"`
	HTTP         HTTPSettings         `mapstructure:"http"`
	Rules        RulesSettings        `mapstructure:"rules"`
	Risk         RiskSettings         `mapstructure:"risk"`
	Escalation   EscalationSettings   `mapstructure:"escalation"`
	Notification NotificationSettings `mapstructure:"notification"`
	Sentry       SentrySettings       `mapstructure:"sentry"`
	Alerting     AlertingSettings     `mapstructure:"alerting"`
}

type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseSettings selects the gorm dialect. Driver is "sqlite" or "mysql".
type DatabaseSettings struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// RedisSettings backs the shared rate-limit counters when Enabled.
type RedisSettings struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type MQTTSettings struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         int    `mapstructure:"qos"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
}

// HTTPSettings configures the operations API. A non-empty Token requires
// "Authorization: Bearer <token>" on every mutating endpoint.
type HTTPSettings struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Token   string `mapstructure:"token"`
}

type RulesSettings struct {
	CacheTTL    Duration `mapstructure:"cache_ttl"`
	EvalTimeout Duration `mapstructure:"eval_timeout"`
	Strategy    string   `mapstructure:"strategy"`
	File        string   `mapstructure:"file"`
	Watch       bool     `mapstructure:"watch"`
}

type ThresholdSettings struct {
	Critical float64 `mapstructure:"critical"`
	High     float64 `mapstructure:"high"`
	Medium   float64 `mapstructure:"medium"`
	Low      float64 `mapstructure:"low"`
}

type RiskSettings struct {
	Thresholds ThresholdSettings  `mapstructure:"thresholds"`
	Weights    map[string]float64 `mapstructure:"weights"`
}

type EscalationSettings struct {
	RestoreOnStart bool `mapstructure:"restore_on_start"`
}

type RetrySettings struct {
	MaxRetries   int      `mapstructure:"max_retries"`
	InitialDelay Duration `mapstructure:"initial_delay"`
	MaxDelay     Duration `mapstructure:"max_delay"`
	Multiplier   float64  `mapstructure:"multiplier"`
}

type CircuitBreakerSettings struct {
	Enabled     bool     `mapstructure:"enabled"`
	MaxFailures uint32   `mapstructure:"max_failures"`
	OpenTimeout Duration `mapstructure:"open_timeout"`
}

type NotificationSettings struct {
	Retry            RetrySettings          `mapstructure:"retry"`
	BatchConcurrency int                    `mapstructure:"batch_concurrency"`
	ProviderRate     float64                `mapstructure:"provider_rate_per_sec"`
	ProviderBurst    int                    `mapstructure:"provider_burst"`
	CircuitBreaker   CircuitBreakerSettings `mapstructure:"circuit_breaker"`
	DisabledChannels []string               `mapstructure:"disabled_channels"`
	// ShoutrrrURLs maps a channel name to a shoutrrr URL template; "{user}"
	// is replaced with the recipient id.
	ShoutrrrURLs map[string]string `mapstructure:"shoutrrr_urls"`
	WebhookURL   string            `mapstructure:"webhook_url"`
}

type SentrySettings struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

type AlertingSettings struct {
	HistoryRetentionDays int      `mapstructure:"history_retention_days"`
	SeedTenants          []string `mapstructure:"seed_tenants"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "aquasentinel.db")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.key_prefix", "aqs:ratelimit:")

	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "aquasentinel")
	v.SetDefault("mqtt.topic_prefix", "aquasentinel/readings")
	v.SetDefault("mqtt.qos", 1)

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.listen", ":8080")

	v.SetDefault("rules.cache_ttl", "60s")
	v.SetDefault("rules.eval_timeout", "5s")
	v.SetDefault("rules.strategy", "BEST_MATCH")

	v.SetDefault("risk.thresholds.critical", 85.0)
	v.SetDefault("risk.thresholds.high", 65.0)
	v.SetDefault("risk.thresholds.medium", 40.0)
	v.SetDefault("risk.thresholds.low", 20.0)

	v.SetDefault("escalation.restore_on_start", true)

	v.SetDefault("notification.retry.max_retries", 3)
	v.SetDefault("notification.retry.initial_delay", "1s")
	v.SetDefault("notification.retry.max_delay", "30s")
	v.SetDefault("notification.retry.multiplier", 2.0)
	v.SetDefault("notification.batch_concurrency", 10)
	v.SetDefault("notification.circuit_breaker.max_failures", 5)
	v.SetDefault("notification.circuit_breaker.open_timeout", "30s")

	v.SetDefault("alerting.history_retention_days", 90)
}

// Load reads path (optional) plus environment overrides and validates the
// result. An empty path loads defaults and environment only.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Newf("read config %s: %w", path, err).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Build()
		}
	}

	var s Settings
	if err := v.Unmarshal(&s, viper.DecodeHook(DurationDecodeHook())); err != nil {
		return nil, errors.Newf("decode config: %w", err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks cross-field constraints.
func (s *Settings) Validate() error {
	fail := func(format string, args ...any) error {
		return errors.Newf(format, args...).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	switch s.Database.Driver {
	case "sqlite", "mysql":
	default:
		return fail("unsupported database driver %q", s.Database.Driver)
	}

	switch s.Rules.Strategy {
	case "FIRST_MATCH", "ALL_MATCH", "BEST_MATCH":
	default:
		return fail("unknown rule match strategy %q", s.Rules.Strategy)
	}
	if s.Rules.EvalTimeout.Std() <= 0 {
		return fail("rules.eval_timeout must be positive")
	}
	if s.Rules.CacheTTL.Std() < time.Second {
		return fail("rules.cache_ttl must be at least 1s")
	}

	t := s.Risk.Thresholds
	if t.Critical > 100 || t.Low < 0 || t.Critical <= t.High || t.High <= t.Medium || t.Medium <= t.Low {
		return fail("risk thresholds must be strictly descending within [0,100]")
	}
	for name, w := range s.Risk.Weights {
		if w < 0 || w > 1 {
			return fail("risk weight %q out of range [0,1]: %v", name, w)
		}
	}

	r := s.Notification.Retry
	if r.MaxRetries < 0 {
		return fail("notification.retry.max_retries must be >= 0")
	}
	if r.InitialDelay.Std() <= 0 || r.MaxDelay.Std() < r.InitialDelay.Std() {
		return fail("notification.retry delays must be positive with initial <= max")
	}
	if r.Multiplier < 1 {
		return fail("notification.retry.multiplier must be >= 1")
	}
	if s.Notification.BatchConcurrency <= 0 {
		return fail("notification.batch_concurrency must be positive")
	}
	return nil
}
