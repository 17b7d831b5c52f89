package main

import (
	"context"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/aquasentinel/aquasentinel/internal/alerting"
	"github.com/aquasentinel/aquasentinel/internal/conf"
	v2 "github.com/aquasentinel/aquasentinel/internal/datastore/v2"
	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/repository"
	"github.com/aquasentinel/aquasentinel/internal/errors"
	"github.com/aquasentinel/aquasentinel/internal/escalation"
	"github.com/aquasentinel/aquasentinel/internal/logger"
	"github.com/aquasentinel/aquasentinel/internal/metrics"
	"github.com/aquasentinel/aquasentinel/internal/notification"
	"github.com/aquasentinel/aquasentinel/internal/risk"
)

const redisPingTimeout = 5 * time.Second

// app holds the long-lived services shared by the commands.
type app struct {
	settings *conf.Settings
	log      logger.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	db        *v2.Manager
	rules     repository.AlertRuleRepository
	policies  repository.EscalationPolicyRepository
	incidents repository.IncidentRepository

	engine        *alerting.Engine
	calculator    *risk.Calculator
	notifications *notification.Service
	escalation    *escalation.Manager
	redis         *redis.Client
}

// newApp opens the database and builds the rules engine and risk calculator.
// Notification and escalation services are started by startDelivery.
func newApp(ctx context.Context, s *conf.Settings, log logger.Logger) (*app, error) {
	a := &app{settings: s, log: log, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(a.registry)
	if err != nil {
		return nil, err
	}
	a.metrics = m

	db, err := v2.Open(v2.Config{
		Driver: s.Database.Driver,
		DSN:    s.Database.DSN,
		Debug:  s.Log.Level == string(logger.LogLevelDebug),
	})
	if err != nil {
		return nil, err
	}
	a.db = db
	if err := db.Initialize(); err != nil {
		a.Close()
		return nil, err
	}
	a.rules = repository.NewAlertRuleRepository(db.DB())
	a.policies = repository.NewEscalationPolicyRepository(db.DB())
	a.incidents = repository.NewIncidentRepository(db.DB())

	a.engine, err = alerting.Initialize(ctx, a.rules, alerting.Settings{
		Engine: alerting.EngineConfig{
			CacheTTL:    s.Rules.CacheTTL.Std(),
			EvalTimeout: s.Rules.EvalTimeout.Std(),
			Strategy:    alerting.Strategy(s.Rules.Strategy),
		},
		SeedTenants:          s.Alerting.SeedTenants,
		HistoryRetentionDays: s.Alerting.HistoryRetentionDays,
	}, log, alerting.WithMetrics(m))
	if err != nil {
		a.Close()
		return nil, err
	}
	if s.Rules.File != "" && !s.Rules.Watch {
		n, err := a.engine.ApplyRuleFile(ctx, s.Rules.File)
		if err != nil {
			a.Close()
			return nil, err
		}
		log.Info("rule file applied",
			logger.String("path", s.Rules.File),
			logger.Int("rules", n))
	}

	a.calculator, err = newCalculator(s.Risk)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func newCalculator(s conf.RiskSettings) (*risk.Calculator, error) {
	classifier := risk.NewClassifier()
	if err := classifier.SetThresholds(risk.Thresholds{
		Critical: s.Thresholds.Critical,
		High:     s.Thresholds.High,
		Medium:   s.Thresholds.Medium,
		Low:      s.Thresholds.Low,
	}); err != nil {
		return nil, err
	}
	calc := risk.NewCalculator(risk.NewImpactAnalyzer(), classifier)
	if len(s.Weights) > 0 {
		if err := calc.SetWeights(s.Weights); err != nil {
			return nil, err
		}
	}
	return calc, nil
}

// startDelivery builds the notification service and the escalation manager,
// then restores escalations of still-open incidents when configured.
func (a *app) startDelivery(ctx context.Context) error {
	s := a.settings
	var limits notification.RateLimitStore
	if s.Redis.Enabled {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     s.Redis.Addr,
			Password: s.Redis.Password,
			DB:       s.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := a.redis.Ping(pingCtx).Err(); err != nil {
			return errors.Newf("redis ping %s: %w", s.Redis.Addr, err).
				Component("main").
				Category(errors.CategoryConfiguration).
				Build()
		}
		limits = notification.NewRedisRateLimitStore(a.redis, s.Redis.KeyPrefix)
	}

	handlers, err := buildHandlers(s.Notification)
	if err != nil {
		return err
	}

	a.notifications = notification.NewService(&notification.ServiceConfig{
		Preferences: repository.NewNotificationPreferenceRepository(a.db.DB()),
		Limits:      limits,
		Dispatcher:  dispatcherConfig(s.Notification),
		Handlers:    handlers,
		Metrics:     a.metrics,
		Logger:      a.log,
	})
	for _, name := range s.Notification.DisabledChannels {
		ch, ok := notification.ParseChannel(name)
		if !ok {
			return errors.Newf("unknown disabled channel %q", name).
				Component("main").
				Category(errors.CategoryConfiguration).
				Build()
		}
		a.notifications.Router.SetChannelEnabled(ch, false)
	}
	a.notifications.Events.Subscribe(func(ev notification.DeliveryEvent) {
		if ev.Type == notification.EventFailed {
			a.log.Warn("notification delivery failed",
				logger.String("request_id", ev.RequestID),
				logger.String("user_id", ev.UserID),
				logger.String("channel", string(ev.Channel)),
				logger.String("error", ev.Error))
		}
	})

	a.escalation = escalation.NewManager(escalation.NewMatcher(a.policies), a.policies, a.incidents,
		a.notifications.Escalation, a.log, escalation.WithMetrics(a.metrics))

	if s.Escalation.RestoreOnStart {
		a.restoreEscalations(ctx)
	}
	return nil
}

// restoreEscalations re-arms the escalations of open incidents of every
// tenant. Failures are logged; the service still starts.
func (a *app) restoreEscalations(ctx context.Context) int {
	n, err := a.escalation.RestoreActive(ctx, "")
	if err != nil {
		a.log.Error("failed to restore escalations", logger.Error(err))
	}
	return n
}

// buildHandlers creates one shoutrrr handler per configured channel plus the
// webhook handler.
func buildHandlers(s conf.NotificationSettings) (map[notification.Channel]notification.Handler, error) {
	handlers := make(map[notification.Channel]notification.Handler)
	for name, tmpl := range s.ShoutrrrURLs {
		ch, ok := notification.ParseChannel(name)
		if !ok {
			return nil, errors.Newf("unknown notification channel %q", name).
				Component("main").
				Category(errors.CategoryConfiguration).
				Build()
		}
		if err := notification.ValidateURLs(strings.ReplaceAll(tmpl, "{user}", "recipient")); err != nil {
			return nil, err
		}
		handlers[ch] = notification.NewShoutrrrHandler(strings.ToLower(string(ch)), notification.TemplateURL(tmpl), 0)
	}
	if s.WebhookURL != "" {
		handlers[notification.ChannelWebhook] = notification.NewWebhookHandler(s.WebhookURL, nil, nil)
	}
	return handlers, nil
}

func dispatcherConfig(s conf.NotificationSettings) notification.DispatcherConfig {
	return notification.DispatcherConfig{
		Retry: notification.RetryConfig{
			MaxRetries:   s.Retry.MaxRetries,
			InitialDelay: s.Retry.InitialDelay.Std(),
			MaxDelay:     s.Retry.MaxDelay.Std(),
			Multiplier:   s.Retry.Multiplier,
		},
		BatchConcurrency:   s.BatchConcurrency,
		ProviderRatePerSec: s.ProviderRate,
		ProviderBurst:      s.ProviderBurst,
		Breaker: notification.BreakerConfig{
			Enabled:     s.CircuitBreaker.Enabled,
			MaxFailures: s.CircuitBreaker.MaxFailures,
			OpenTimeout: s.CircuitBreaker.OpenTimeout.Std(),
		},
	}
}

// Close stops the services in reverse start order.
func (a *app) Close() {
	if a.escalation != nil {
		a.escalation.Stop()
	}
	if a.notifications != nil {
		a.notifications.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("failed to close redis client", logger.Error(err))
		}
	}
	if a.engine != nil {
		a.engine.Stop()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("failed to close database", logger.Error(err))
		}
	}
}
