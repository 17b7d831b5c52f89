package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/entities"
	"github.com/aquasentinel/aquasentinel/internal/errors"
	"github.com/aquasentinel/aquasentinel/internal/logger"
)

func (c *Controller) initEscalationRoutes() {
	if c.deps.Policies != nil {
		tenants := c.Group.Group("/tenants/:tenant/policies")
		tenants.GET("", c.ListPolicies)
		tenants.POST("", c.CreatePolicy, c.authMiddleware)
		tenants.POST("/:id/default", c.SetDefaultPolicy, c.authMiddleware)

		policies := c.Group.Group("/policies")
		policies.GET("/:id", c.GetPolicy)
		policies.PUT("/:id", c.UpdatePolicy, c.authMiddleware)
		policies.DELETE("/:id", c.DeletePolicy, c.authMiddleware)
	}

	if c.deps.Incidents != nil {
		c.Group.GET("/tenants/:tenant/incidents", c.ListOpenIncidents)
		incidents := c.Group.Group("/incidents")
		incidents.GET("/:id", c.GetIncident)
		if c.deps.Escalation != nil {
			incidents.POST("/:id/acknowledge", c.AcknowledgeIncident, c.authMiddleware)
			incidents.POST("/:id/resolve", c.ResolveIncident, c.authMiddleware)
		}
	}
}

// ListPolicies returns every escalation policy of a tenant.
func (c *Controller) ListPolicies(ctx echo.Context) error {
	policies, err := c.deps.Policies.List(ctx.Request().Context(), ctx.Param("tenant"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list escalation policies", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"policies": policies,
		"count":    len(policies),
	})
}

// GetPolicy returns one policy with its levels.
func (c *Controller) GetPolicy(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return badRequest(ctx, "Invalid policy ID")
	}
	p, err := c.deps.Policies.Get(ctx.Request().Context(), id)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get escalation policy", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, p)
}

// CreatePolicy stores a new policy for the tenant in the path.
func (c *Controller) CreatePolicy(ctx echo.Context) error {
	var p entities.EscalationPolicy
	if err := ctx.Bind(&p); err != nil {
		return badRequest(ctx, "Invalid request body")
	}
	p.ID = 0
	p.TenantID = ctx.Param("tenant")
	if err := c.deps.Policies.Create(ctx.Request().Context(), &p); err != nil {
		return c.HandleError(ctx, err, "Failed to create escalation policy", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusCreated, p)
}

// UpdatePolicy replaces a policy and its levels.
func (c *Controller) UpdatePolicy(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return badRequest(ctx, "Invalid policy ID")
	}
	var p entities.EscalationPolicy
	if err := ctx.Bind(&p); err != nil {
		return badRequest(ctx, "Invalid request body")
	}
	p.ID = id
	if err := c.deps.Policies.Update(ctx.Request().Context(), &p); err != nil {
		return c.HandleError(ctx, err, "Failed to update escalation policy", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, p)
}

// DeletePolicy removes a policy. The tenant default cannot be deleted.
func (c *Controller) DeletePolicy(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return badRequest(ctx, "Invalid policy ID")
	}
	if err := c.deps.Policies.Delete(ctx.Request().Context(), id); err != nil {
		return c.HandleError(ctx, err, "Failed to delete escalation policy", http.StatusInternalServerError)
	}
	return ctx.NoContent(http.StatusNoContent)
}

// SetDefaultPolicy makes a policy the tenant's fallback.
func (c *Controller) SetDefaultPolicy(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return badRequest(ctx, "Invalid policy ID")
	}
	if err := c.deps.Policies.SetDefault(ctx.Request().Context(), ctx.Param("tenant"), id); err != nil {
		return c.HandleError(ctx, err, "Failed to set default policy", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"id": id, "is_default": true})
}

// ListOpenIncidents returns a tenant's unresolved incidents.
func (c *Controller) ListOpenIncidents(ctx echo.Context) error {
	incidents, err := c.deps.Incidents.ListOpen(ctx.Request().Context(), ctx.Param("tenant"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list incidents", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"incidents": incidents,
		"count":     len(incidents),
	})
}

// GetIncident returns an incident with its timeline and, when one is
// running, its escalation state.
func (c *Controller) GetIncident(ctx echo.Context) error {
	id := ctx.Param("id")
	reqCtx := ctx.Request().Context()
	incident, err := c.deps.Incidents.GetIncident(reqCtx, id)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get incident", http.StatusInternalServerError)
	}
	timeline, err := c.deps.Incidents.ListTimeline(reqCtx, id)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to load incident timeline", http.StatusInternalServerError)
	}
	incident.Timeline = timeline

	body := map[string]any{"incident": incident}
	if c.deps.Escalation != nil {
		if state, err := c.deps.Escalation.GetEscalationState(id); err == nil {
			body["escalation"] = state
		}
	}
	return ctx.JSON(http.StatusOK, body)
}

type incidentAction struct {
	UserID string `json:"user_id"`
	Note   string `json:"note"`
}

func bindIncidentAction(ctx echo.Context) (incidentAction, error) {
	var body incidentAction
	if err := ctx.Bind(&body); err != nil {
		return body, err
	}
	if body.UserID == "" {
		return body, errors.Newf("user_id is required").
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	return body, nil
}

// AcknowledgeIncident stops further escalation of an incident.
func (c *Controller) AcknowledgeIncident(ctx echo.Context) error {
	body, err := bindIncidentAction(ctx)
	if err != nil {
		return badRequest(ctx, "A user_id is required to acknowledge")
	}
	state, err := c.deps.Escalation.AcknowledgeEscalation(ctx.Request().Context(), ctx.Param("id"), body.UserID, body.Note)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to acknowledge incident", http.StatusInternalServerError)
	}
	c.log.Info("incident acknowledged via api",
		logger.String("incident_id", state.IncidentID),
		logger.String("user_id", body.UserID))
	return ctx.JSON(http.StatusOK, state)
}

// ResolveIncident completes an incident's escalation.
func (c *Controller) ResolveIncident(ctx echo.Context) error {
	body, err := bindIncidentAction(ctx)
	if err != nil {
		return badRequest(ctx, "A user_id is required to resolve")
	}
	state, err := c.deps.Escalation.ResolveEscalation(ctx.Request().Context(), ctx.Param("id"), body.UserID)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to resolve incident", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, state)
}
