// Package api exposes the operational HTTP API of the alerting core.
package api

import (
	"crypto/subtle"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aquasentinel/aquasentinel/internal/alerting"
	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/repository"
	"github.com/aquasentinel/aquasentinel/internal/errors"
	"github.com/aquasentinel/aquasentinel/internal/escalation"
	"github.com/aquasentinel/aquasentinel/internal/logger"
	"github.com/aquasentinel/aquasentinel/internal/notification"
	"github.com/aquasentinel/aquasentinel/internal/risk"
)

// Prefix is the route prefix of every API endpoint except /metrics.
const Prefix = "/api/v2"

// Dependencies are the services the controller operates on. Nil services
// leave their routes unregistered.
type Dependencies struct {
	Engine        *alerting.Engine
	Rules         repository.AlertRuleRepository
	Risk          *risk.Calculator
	Policies      *escalation.PolicyService
	Escalation    *escalation.Manager
	Incidents     repository.IncidentRepository
	Notifications *notification.Service
	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
	// Token, when set, is required as a bearer token on mutating endpoints.
	Token string
}

// Controller owns the echo routes of the operations API.
type Controller struct {
	Echo  *echo.Echo
	Group *echo.Group

	deps Dependencies
	log  logger.Logger
}

// New registers all routes on e.
func New(e *echo.Echo, deps Dependencies, log logger.Logger) *Controller {
	if log == nil {
		log = logger.NewNop()
	}
	c := &Controller{
		Echo:  e,
		Group: e.Group(Prefix),
		deps:  deps,
		log:   log.Module("api"),
	}
	c.initRoutes()
	return c
}

func (c *Controller) initRoutes() {
	c.Group.GET("/health", c.Health)
	if c.deps.Gatherer != nil {
		c.Echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(c.deps.Gatherer, promhttp.HandlerOpts{})))
	}
	c.initRuleRoutes()
	c.initRiskRoutes()
	c.initNotificationRoutes()
	c.initEscalationRoutes()
}

// authMiddleware enforces the bearer token when one is configured.
func (c *Controller) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	if c.deps.Token == "" {
		return next
	}
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup:  "header:" + echo.HeaderAuthorization,
		AuthScheme: "Bearer",
		Validator: func(key string, _ echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(c.deps.Token)) == 1, nil
		},
	})(next)
}

// Health reports liveness plus a few gauges of the running services.
func (c *Controller) Health(ctx echo.Context) error {
	body := map[string]any{"status": "ok"}
	if c.deps.Escalation != nil {
		body["active_escalations"] = c.deps.Escalation.ActiveCount()
	}
	if c.deps.Notifications != nil {
		body["queued_notifications"] = c.deps.Notifications.Dispatcher.QueueLen()
	}
	return ctx.JSON(http.StatusOK, body)
}

// HandleError logs err and writes a JSON error response. Categorized errors
// choose their own status; fallback is used for everything else.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, fallback int) error {
	status := statusOf(err, fallback)
	if status >= http.StatusInternalServerError {
		c.log.Error(message,
			logger.String("path", ctx.Path()),
			logger.Error(err))
	} else {
		c.log.Debug(message,
			logger.String("path", ctx.Path()),
			logger.Error(err))
	}
	body := map[string]string{"error": message}
	if status < http.StatusInternalServerError {
		body["detail"] = err.Error()
	}
	return ctx.JSON(status, body)
}

func statusOf(err error, fallback int) int {
	switch errors.CategoryOf(err) {
	case errors.CategoryValidation, errors.CategoryConfiguration:
		return http.StatusBadRequest
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryTimeout:
		return http.StatusGatewayTimeout
	}
	switch {
	case errors.Is(err, repository.ErrAlertRuleNotFound),
		errors.Is(err, repository.ErrPolicyNotFound),
		errors.Is(err, repository.ErrIncidentNotFound):
		return http.StatusNotFound
	}
	return fallback
}

func badRequest(ctx echo.Context, message string) error {
	return ctx.JSON(http.StatusBadRequest, map[string]string{"error": message})
}

// parseUintParam parses a uint route parameter.
func parseUintParam(ctx echo.Context, name string) (uint, error) {
	v, err := strconv.ParseUint(ctx.Param(name), 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(v), nil
}
