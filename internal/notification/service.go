package notification

import (
	"github.com/aquasentinel/aquasentinel/internal/logger"
	"github.com/aquasentinel/aquasentinel/internal/metrics"
)

// ServiceConfig wires the notification components.
type ServiceConfig struct {
	Preferences PreferenceSource
	// Limits stores rate-limit history; nil keeps it in memory.
	Limits     RateLimitStore
	Dispatcher DispatcherConfig
	Handlers   map[Channel]Handler
	Metrics    *metrics.Metrics
	Logger     logger.Logger
}

// Service bundles the router, dispatcher, handler registry and event bus.
type Service struct {
	Router     *Router
	Dispatcher *Dispatcher
	Handlers   *Registry
	Events     *EventBus
	Escalation *EscalationNotifier
}

// NewService builds a Service from cfg.
func NewService(cfg *ServiceConfig) *Service {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	registry := NewRegistry()
	for ch, h := range cfg.Handlers {
		registry.Register(ch, h)
	}
	bus := NewEventBus()
	router := NewRouter(cfg.Preferences, cfg.Limits, log)
	dispatcher := NewDispatcher(router, registry, cfg.Dispatcher, log,
		WithEventBus(bus), WithDispatcherMetrics(cfg.Metrics))
	return &Service{
		Router:     router,
		Dispatcher: dispatcher,
		Handlers:   registry,
		Events:     bus,
		Escalation: NewEscalationNotifier(dispatcher, log),
	}
}

// Close cancels queued work and stops the event bus.
func (s *Service) Close() {
	s.Dispatcher.ClearQueue()
	s.Events.Stop()
}
