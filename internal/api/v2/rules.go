package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/aquasentinel/aquasentinel/internal/alerting"
	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/entities"
	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/repository"
	"github.com/aquasentinel/aquasentinel/internal/logger"
)

const (
	maxHistoryLimit     = 200
	defaultHistoryLimit = 50
)

// initRuleRoutes registers alert rule API endpoints.
func (c *Controller) initRuleRoutes() {
	if c.deps.Engine == nil || c.deps.Rules == nil {
		return
	}

	c.Group.GET("/alerts/schema", c.GetAlertSchema)

	tenants := c.Group.Group("/tenants/:tenant")
	tenants.GET("/rules", c.ListAlertRules)
	tenants.GET("/history", c.ListAlertHistory)
	tenants.POST("/rules", c.CreateAlertRule, c.authMiddleware)
	tenants.POST("/rules/reload", c.ReloadAlertRules, c.authMiddleware)
	tenants.POST("/rules/reset-defaults", c.ResetDefaultAlertRules, c.authMiddleware)
	tenants.POST("/rules/import", c.ImportAlertRules, c.authMiddleware)
	tenants.POST("/evaluate", c.EvaluateFacts, c.authMiddleware)

	rules := c.Group.Group("/rules")
	rules.GET("/:id", c.GetAlertRule)
	rules.GET("/:id/stats", c.GetAlertRuleStats)
	rules.PUT("/:id", c.UpdateAlertRule, c.authMiddleware)
	rules.PATCH("/:id/toggle", c.ToggleAlertRule, c.authMiddleware)
	rules.DELETE("/:id", c.DeleteAlertRule, c.authMiddleware)
}

// GetAlertSchema returns the parameter and operator catalog.
func (c *Controller) GetAlertSchema(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, alerting.GetSchema())
}

// ListAlertRules returns a tenant's rules, optionally filtered.
func (c *Controller) ListAlertRules(ctx echo.Context) error {
	filter := repository.AlertRuleFilter{
		TenantID: ctx.Param("tenant"),
		FarmID:   ctx.QueryParam("farm_id"),
	}
	if v := ctx.QueryParam("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return badRequest(ctx, "Invalid active filter")
		}
		filter.Active = &b
	}
	if v := ctx.QueryParam("built_in"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return badRequest(ctx, "Invalid built_in filter")
		}
		filter.BuiltIn = &b
	}

	rules, err := c.deps.Rules.ListRules(ctx.Request().Context(), filter)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list alert rules", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

// GetAlertRule returns a single alert rule by ID.
func (c *Controller) GetAlertRule(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return badRequest(ctx, "Invalid rule ID")
	}
	rule, err := c.deps.Engine.GetRule(ctx.Request().Context(), id)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get alert rule", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, rule)
}

// GetAlertRuleStats returns how often a rule fired and when it last did.
func (c *Controller) GetAlertRuleStats(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return badRequest(ctx, "Invalid rule ID")
	}
	reqCtx := ctx.Request().Context()
	if _, err := c.deps.Engine.GetRule(reqCtx, id); err != nil {
		return c.HandleError(ctx, err, "Failed to get alert rule", http.StatusInternalServerError)
	}
	count, last, err := c.deps.Engine.IncidentStats(reqCtx, id)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to load rule statistics", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"rule_id":        id,
		"incident_count": count,
		"last_fired_at":  last,
	})
}

// CreateAlertRule stores a new rule for the tenant in the path.
func (c *Controller) CreateAlertRule(ctx echo.Context) error {
	var rule entities.AlertRule
	if err := ctx.Bind(&rule); err != nil {
		return badRequest(ctx, "Invalid request body")
	}
	rule.ID = 0
	rule.TenantID = ctx.Param("tenant")
	reqCtx := ctx.Request().Context()

	count, err := c.deps.Rules.CountRulesByName(reqCtx, rule.TenantID, rule.Name)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to create alert rule", http.StatusInternalServerError)
	}
	if count > 0 {
		return ctx.JSON(http.StatusConflict, map[string]string{"error": "A rule with this name already exists"})
	}

	if err := c.deps.Engine.CreateRule(reqCtx, &rule); err != nil {
		return c.HandleError(ctx, err, "Failed to create alert rule", http.StatusInternalServerError)
	}
	c.log.Info("alert rule created",
		logger.String("tenant_id", rule.TenantID),
		logger.String("name", rule.Name),
		logger.Uint64("id", uint64(rule.ID)))
	return ctx.JSON(http.StatusCreated, rule)
}

// UpdateAlertRule replaces an existing alert rule.
func (c *Controller) UpdateAlertRule(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return badRequest(ctx, "Invalid rule ID")
	}
	var rule entities.AlertRule
	if err := ctx.Bind(&rule); err != nil {
		return badRequest(ctx, "Invalid request body")
	}
	rule.ID = id

	if err := c.deps.Engine.UpdateRule(ctx.Request().Context(), &rule); err != nil {
		return c.HandleError(ctx, err, "Failed to update alert rule", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, rule)
}

// ToggleAlertRule activates or deactivates an alert rule.
func (c *Controller) ToggleAlertRule(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return badRequest(ctx, "Invalid rule ID")
	}
	var body struct {
		Active bool `json:"active"`
	}
	if err := ctx.Bind(&body); err != nil {
		return badRequest(ctx, "Invalid request body")
	}

	if err := c.deps.Engine.ToggleRule(ctx.Request().Context(), id, body.Active); err != nil {
		return c.HandleError(ctx, err, "Failed to toggle alert rule", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"id": id, "active": body.Active})
}

// DeleteAlertRule deletes an alert rule.
func (c *Controller) DeleteAlertRule(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return badRequest(ctx, "Invalid rule ID")
	}
	if err := c.deps.Engine.DeleteRule(ctx.Request().Context(), id); err != nil {
		return c.HandleError(ctx, err, "Failed to delete alert rule", http.StatusInternalServerError)
	}
	return ctx.NoContent(http.StatusNoContent)
}

// ReloadAlertRules drops the tenant's cached rules.
func (c *Controller) ReloadAlertRules(ctx echo.Context) error {
	n, err := c.deps.Engine.Reload(ctx.Request().Context(), ctx.Param("tenant"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to reload alert rules", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"active_rules": n})
}

// ResetDefaultAlertRules deletes the tenant's built-in rules and re-seeds them.
func (c *Controller) ResetDefaultAlertRules(ctx echo.Context) error {
	tenantID := ctx.Param("tenant")
	reqCtx := ctx.Request().Context()

	if _, err := c.deps.Rules.DeleteBuiltInRules(reqCtx, tenantID); err != nil {
		return c.HandleError(ctx, err, "Failed to reset default rules", http.StatusInternalServerError)
	}
	defaults := alerting.DefaultRules(tenantID)
	seeded := 0
	for i := range defaults {
		if err := c.deps.Engine.CreateRule(reqCtx, &defaults[i]); err != nil {
			c.log.Error("failed to seed default rule",
				logger.String("name", defaults[i].Name), logger.Error(err))
			continue
		}
		seeded++
	}
	c.deps.Engine.InvalidateTenant(tenantID)
	return ctx.JSON(http.StatusOK, map[string]any{"seeded": seeded})
}

// ImportAlertRules creates every rule of the payload under the path tenant.
// Invalid rules are skipped and reported.
func (c *Controller) ImportAlertRules(ctx echo.Context) error {
	var payload struct {
		Rules []entities.AlertRule `json:"rules"`
	}
	if err := json.NewDecoder(ctx.Request().Body).Decode(&payload); err != nil {
		return badRequest(ctx, "Invalid JSON")
	}

	tenantID := ctx.Param("tenant")
	reqCtx := ctx.Request().Context()
	imported := 0
	skipped := []string{}
	for i := range payload.Rules {
		rule := &payload.Rules[i]
		rule.ID = 0
		rule.TenantID = tenantID
		for j := range rule.Conditions {
			rule.Conditions[j].ID = 0
			rule.Conditions[j].RuleID = 0
		}
		if err := c.deps.Engine.CreateRule(reqCtx, rule); err != nil {
			c.log.Warn("failed to import rule",
				logger.String("name", rule.Name), logger.Error(err))
			skipped = append(skipped, rule.Name)
			continue
		}
		imported++
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"imported": imported,
		"total":    len(payload.Rules),
		"skipped":  skipped,
	})
}

// ListAlertHistory returns paginated firing history of a tenant.
func (c *Controller) ListAlertHistory(ctx echo.Context) error {
	filter := repository.AlertHistoryFilter{
		TenantID: ctx.Param("tenant"),
		Limit:    defaultHistoryLimit,
	}
	if v := ctx.QueryParam("rule_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return badRequest(ctx, "Invalid rule_id")
		}
		filter.RuleID = uint(id)
	}
	if v, err := strconv.Atoi(ctx.QueryParam("limit")); err == nil && v > 0 {
		filter.Limit = min(v, maxHistoryLimit)
	}
	if v, err := strconv.Atoi(ctx.QueryParam("offset")); err == nil && v >= 0 {
		filter.Offset = v
	}

	items, total, err := c.deps.Rules.ListHistory(ctx.Request().Context(), filter)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list alert history", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"history": items,
		"total":   total,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

// evaluateRequest is the body of a dry-run evaluation.
type evaluateRequest struct {
	FarmID         string         `json:"farm_id"`
	PondID         string         `json:"pond_id"`
	SensorID       string         `json:"sensor_id"`
	Values         map[string]any `json:"values"`
	PreviousValues map[string]any `json:"previous_values"`
	Timestamp      *time.Time     `json:"timestamp"`
}

// EvaluateFacts runs the tenant's applicable rules against the posted values
// without touching cooldowns, incidents or history.
func (c *Controller) EvaluateFacts(ctx echo.Context) error {
	var body evaluateRequest
	if err := ctx.Bind(&body); err != nil {
		return badRequest(ctx, "Invalid request body")
	}
	if len(body.Values) == 0 {
		return badRequest(ctx, "values are required")
	}
	fc := &alerting.FactContext{
		TenantID:       ctx.Param("tenant"),
		FarmID:         body.FarmID,
		PondID:         body.PondID,
		SensorID:       body.SensorID,
		Values:         body.Values,
		PreviousValues: body.PreviousValues,
		Timestamp:      time.Now().UTC(),
	}
	if body.Timestamp != nil {
		fc.Timestamp = *body.Timestamp
	}

	rules, err := c.deps.Engine.GetApplicableRules(ctx.Request().Context(), &alerting.EvaluationRequest{Facts: fc})
	if err != nil {
		return c.HandleError(ctx, err, "Failed to load applicable rules", http.StatusInternalServerError)
	}
	type matchView struct {
		RuleID   uint           `json:"rule_id"`
		Name     string         `json:"name"`
		Severity string         `json:"severity"`
		Values   map[string]any `json:"values"`
	}
	matches := []matchView{}
	for _, rule := range rules {
		m := alerting.EvaluateDeclared(rule, fc)
		if !m.Matched {
			continue
		}
		matches = append(matches, matchView{
			RuleID:   rule.ID,
			Name:     rule.Name,
			Severity: m.Severity.String(),
			Values:   alerting.ReportValues(m.Values),
		})
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"evaluated": len(rules),
		"matches":   matches,
	})
}
