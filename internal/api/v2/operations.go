package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/aquasentinel/aquasentinel/internal/logger"
	"github.com/aquasentinel/aquasentinel/internal/notification"
	"github.com/aquasentinel/aquasentinel/internal/risk"
)

func (c *Controller) initRiskRoutes() {
	if c.deps.Risk == nil {
		return
	}
	g := c.Group.Group("/risk")
	g.GET("/thresholds", c.GetRiskThresholds)
	g.PUT("/thresholds", c.SetRiskThresholds, c.authMiddleware)
	g.GET("/weights", c.GetRiskWeights)
	g.PUT("/weights", c.SetRiskWeights, c.authMiddleware)

	assets := c.Group.Group("/tenants/:tenant/assets")
	assets.GET("/:asset", c.GetAsset)
	assets.PUT("/:asset", c.PutAsset, c.authMiddleware)
	assets.DELETE("/:asset", c.DeleteAsset, c.authMiddleware)
}

// GetRiskThresholds returns the classifier's severity bands.
func (c *Controller) GetRiskThresholds(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.deps.Risk.Classifier().Thresholds())
}

// SetRiskThresholds replaces the severity bands. Invalid bands keep the
// current ones.
func (c *Controller) SetRiskThresholds(ctx echo.Context) error {
	var t risk.Thresholds
	if err := ctx.Bind(&t); err != nil {
		return badRequest(ctx, "Invalid request body")
	}
	if err := c.deps.Risk.Classifier().SetThresholds(t); err != nil {
		return c.HandleError(ctx, err, "Failed to set risk thresholds", http.StatusInternalServerError)
	}
	c.log.Info("risk thresholds updated",
		logger.Float64("critical", t.Critical),
		logger.Float64("high", t.High),
		logger.Float64("medium", t.Medium),
		logger.Float64("low", t.Low))
	return ctx.JSON(http.StatusOK, t)
}

// GetRiskWeights returns the factor weights.
func (c *Controller) GetRiskWeights(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.deps.Risk.Weights())
}

// SetRiskWeights merges the posted factor weights into the current ones.
func (c *Controller) SetRiskWeights(ctx echo.Context) error {
	var weights map[string]float64
	if err := json.NewDecoder(ctx.Request().Body).Decode(&weights); err != nil {
		return badRequest(ctx, "Invalid request body")
	}
	if err := c.deps.Risk.SetWeights(weights); err != nil {
		return c.HandleError(ctx, err, "Failed to set risk weights", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, c.deps.Risk.Weights())
}

// GetAsset returns a registered asset of the tenant.
func (c *Controller) GetAsset(ctx echo.Context) error {
	cfg, ok := c.deps.Risk.Impact().Asset(ctx.Param("tenant"), ctx.Param("asset"))
	if !ok {
		return ctx.JSON(http.StatusNotFound, map[string]string{"error": "Asset not found"})
	}
	return ctx.JSON(http.StatusOK, cfg)
}

// PutAsset registers or replaces an asset used for impact scoring.
func (c *Controller) PutAsset(ctx echo.Context) error {
	var cfg risk.AssetConfig
	if err := ctx.Bind(&cfg); err != nil {
		return badRequest(ctx, "Invalid request body")
	}
	cfg.ID = ctx.Param("asset")
	if err := c.deps.Risk.Impact().RegisterAsset(ctx.Param("tenant"), cfg); err != nil {
		return c.HandleError(ctx, err, "Failed to register asset", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, cfg)
}

// DeleteAsset forgets an asset; its incidents fall back to default impact.
func (c *Controller) DeleteAsset(ctx echo.Context) error {
	c.deps.Risk.Impact().RemoveAsset(ctx.Param("tenant"), ctx.Param("asset"))
	return ctx.NoContent(http.StatusNoContent)
}

func (c *Controller) initNotificationRoutes() {
	if c.deps.Notifications == nil {
		return
	}
	g := c.Group.Group("/notifications")
	g.GET("/retry", c.GetRetryConfig)
	g.PUT("/retry", c.SetRetryConfig, c.authMiddleware)
	g.DELETE("/rate-limits/:user", c.ResetRateLimits, c.authMiddleware)
	g.PUT("/channels/:channel", c.SetChannelState, c.authMiddleware)
	g.POST("/queue/process", c.ProcessQueue, c.authMiddleware)
	g.DELETE("/queue", c.ClearQueue, c.authMiddleware)
}

// retryView is RetryConfig with human-readable durations.
type retryView struct {
	MaxRetries   int     `json:"max_retries"`
	InitialDelay string  `json:"initial_delay"`
	MaxDelay     string  `json:"max_delay"`
	Multiplier   float64 `json:"backoff_multiplier"`
}

func toRetryView(cfg notification.RetryConfig) retryView {
	return retryView{
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: cfg.InitialDelay.String(),
		MaxDelay:     cfg.MaxDelay.String(),
		Multiplier:   cfg.Multiplier,
	}
}

// GetRetryConfig returns the dispatcher's retry policy.
func (c *Controller) GetRetryConfig(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, toRetryView(c.deps.Notifications.Dispatcher.RetryConfig()))
}

// SetRetryConfig replaces the retry policy for subsequent sends.
func (c *Controller) SetRetryConfig(ctx echo.Context) error {
	var body retryView
	if err := ctx.Bind(&body); err != nil {
		return badRequest(ctx, "Invalid request body")
	}
	initial, err := time.ParseDuration(body.InitialDelay)
	if err != nil {
		return badRequest(ctx, "Invalid initial_delay")
	}
	maxDelay, err := time.ParseDuration(body.MaxDelay)
	if err != nil {
		return badRequest(ctx, "Invalid max_delay")
	}
	cfg := notification.RetryConfig{
		MaxRetries:   body.MaxRetries,
		InitialDelay: initial,
		MaxDelay:     maxDelay,
		Multiplier:   body.Multiplier,
	}
	if err := c.deps.Notifications.Dispatcher.SetRetryConfig(cfg); err != nil {
		return c.HandleError(ctx, err, "Failed to set retry config", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, toRetryView(cfg))
}

// ResetRateLimits clears a user's send history on every channel.
func (c *Controller) ResetRateLimits(ctx echo.Context) error {
	userID := ctx.Param("user")
	if err := c.deps.Notifications.Router.ResetRateLimits(ctx.Request().Context(), userID); err != nil {
		return c.HandleError(ctx, err, "Failed to reset rate limits", http.StatusInternalServerError)
	}
	c.log.Info("rate limits reset", logger.String("user_id", userID))
	return ctx.NoContent(http.StatusNoContent)
}

// SetChannelState toggles a channel for every user. Omitted fields keep
// their current value.
func (c *Controller) SetChannelState(ctx echo.Context) error {
	ch, ok := notification.ParseChannel(ctx.Param("channel"))
	if !ok {
		return badRequest(ctx, "Unknown channel")
	}
	var body struct {
		Enabled   *bool `json:"enabled"`
		Available *bool `json:"available"`
	}
	if err := ctx.Bind(&body); err != nil {
		return badRequest(ctx, "Invalid request body")
	}
	router := c.deps.Notifications.Router
	if body.Enabled != nil {
		router.SetChannelEnabled(ch, *body.Enabled)
	}
	if body.Available != nil {
		router.SetChannelAvailable(ch, *body.Available)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"channel":   ch,
		"enabled":   body.Enabled,
		"available": body.Available,
	})
}

// ProcessQueue sends every queued notification and reports the outcomes.
func (c *Controller) ProcessQueue(ctx echo.Context) error {
	results := c.deps.Notifications.Dispatcher.ProcessQueue(ctx.Request().Context())
	outcomes := make(map[string]string, len(results))
	for _, r := range results {
		outcomes[r.RequestID] = string(r.Outcome())
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"processed": len(results),
		"outcomes":  outcomes,
	})
}

// ClearQueue drops pending notifications and cancels in-flight retries.
func (c *Controller) ClearQueue(ctx echo.Context) error {
	n := c.deps.Notifications.Dispatcher.ClearQueue()
	return ctx.JSON(http.StatusOK, map[string]int{"cleared": n})
}
