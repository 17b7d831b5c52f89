package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/aquasentinel/aquasentinel/internal/alerting"
	v2 "github.com/aquasentinel/aquasentinel/internal/datastore/v2"
	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/entities"
	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/repository"
	"github.com/aquasentinel/aquasentinel/internal/escalation"
	"github.com/aquasentinel/aquasentinel/internal/logger"
	"github.com/aquasentinel/aquasentinel/internal/metrics"
	"github.com/aquasentinel/aquasentinel/internal/notification"
	"github.com/aquasentinel/aquasentinel/internal/risk"
	"github.com/aquasentinel/aquasentinel/internal/severity"
)

const testTenant = "acme"

type apiFixture struct {
	e         *echo.Echo
	token     string
	engine    *alerting.Engine
	calc      *risk.Calculator
	manager   *escalation.Manager
	incidents repository.IncidentRepository
	policies  repository.EscalationPolicyRepository
	limits    *notification.MemoryRateLimitStore
	svc       *notification.Service
	metrics   *metrics.Metrics
}

func newAPIFixture(t *testing.T, token string) *apiFixture {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	mgr, err := v2.Open(v2.Config{
		Driver: v2.DriverSQLite,
		DSN:    fmt.Sprintf("file:api_%s?mode=memory&cache=shared&_foreign_keys=ON", name),
	})
	require.NoError(t, err)
	require.NoError(t, mgr.Initialize())
	t.Cleanup(func() { _ = mgr.Close() })

	log := logger.NewNop()
	rules := repository.NewAlertRuleRepository(mgr.DB())
	policies := repository.NewEscalationPolicyRepository(mgr.DB())
	incidents := repository.NewIncidentRepository(mgr.DB())

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	engine := alerting.NewEngine(rules, alerting.EngineConfig{}, log)
	t.Cleanup(engine.Stop)

	limits := notification.NewMemoryRateLimitStore()
	svc := notification.NewService(&notification.ServiceConfig{
		Limits:     limits,
		Dispatcher: notification.DefaultDispatcherConfig(),
		Logger:     log,
	})
	t.Cleanup(svc.Close)

	notifier := escalation.NotifierFunc(func(context.Context, escalation.LevelNotification) error { return nil })
	manager := escalation.NewManager(escalation.NewMatcher(policies), policies, incidents, notifier, log,
		escalation.WithClock(testingclock.NewFakeClock(time.Date(2026, 6, 1, 6, 0, 0, 0, time.UTC))))
	t.Cleanup(manager.Stop)

	calc := risk.NewCalculator(risk.NewImpactAnalyzer(), risk.NewClassifier())

	e := echo.New()
	New(e, Dependencies{
		Engine:        engine,
		Rules:         rules,
		Risk:          calc,
		Policies:      escalation.NewPolicyService(policies, log),
		Escalation:    manager,
		Incidents:     incidents,
		Notifications: svc,
		Gatherer:      reg,
		Token:         token,
	}, log)

	return &apiFixture{
		e:         e,
		token:     token,
		engine:    engine,
		calc:      calc,
		manager:   manager,
		incidents: incidents,
		policies:  policies,
		limits:    limits,
		svc:       svc,
		metrics:   m,
	}
}

// do sends a request with the fixture token, if any.
func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return f.doWithToken(t, method, path, body, f.token)
}

func (f *apiFixture) doWithToken(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func oxygenRuleBody(name string) map[string]any {
	return map[string]any{
		"name":   name,
		"active": true,
		"logic":  "OR",
		"conditions": []map[string]any{
			{"parameter": "dissolved_oxygen", "operator": "LT", "threshold": 4, "severity": "HIGH"},
		},
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, "")

	rec := f.do(t, http.MethodGet, "/api/v2/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.InDelta(t, 0, body["active_escalations"], 0)
	assert.InDelta(t, 0, body["queued_notifications"], 0)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, "")
	f.metrics.RuleEvaluated(metrics.OutcomeMatch)

	rec := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "aquasentinel_rules_evaluations_total")
}

func TestRules_Lifecycle(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, "")

	rec := f.do(t, http.MethodPost, "/api/v2/tenants/acme/rules", oxygenRuleBody("Oxygen watch"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[entities.AlertRule](t, rec)
	require.NotZero(t, created.ID)
	assert.Equal(t, testTenant, created.TenantID)

	rec = f.do(t, http.MethodPost, "/api/v2/tenants/acme/rules", oxygenRuleBody("Oxygen watch"))
	assert.Equal(t, http.StatusConflict, rec.Code)

	path := fmt.Sprintf("/api/v2/rules/%d", created.ID)
	rec = f.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Oxygen watch", decode[entities.AlertRule](t, rec).Name)

	update := oxygenRuleBody("Oxygen watch v2")
	update["tenant_id"] = "someone-else"
	rec = f.do(t, http.MethodPut, path, update)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[entities.AlertRule](t, rec)
	assert.Equal(t, testTenant, updated.TenantID, "tenant of a rule never changes")

	rec = f.do(t, http.MethodPatch, path+"/toggle", map[string]bool{"active": false})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v2/tenants/acme/rules?active=false", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 1, decode[map[string]any](t, rec)["count"], 0)

	rec = f.do(t, http.MethodGet, path+"/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 0, decode[map[string]any](t, rec)["incident_count"], 0)

	rec = f.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRules_RejectsBadInput(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, "")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"invalid operator", http.MethodPost, "/api/v2/tenants/acme/rules", map[string]any{
			"name": "bad", "active": true,
			"conditions": []map[string]any{{"parameter": "ph", "operator": "BETWEEN", "threshold": 1, "severity": "LOW"}},
		}, http.StatusBadRequest},
		{"malformed json", http.MethodPost, "/api/v2/tenants/acme/rules", "{", http.StatusBadRequest},
		{"non numeric id", http.MethodGet, "/api/v2/rules/abc", nil, http.StatusBadRequest},
		{"unknown rule", http.MethodDelete, "/api/v2/rules/999", nil, http.StatusNotFound},
		{"bad active filter", http.MethodGet, "/api/v2/tenants/acme/rules?active=maybe", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestRules_ResetDefaultsAndEvaluate(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, "")

	rec := f.do(t, http.MethodPost, "/api/v2/tenants/acme/rules/reset-defaults", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, len(alerting.DefaultRules(testTenant)), decode[map[string]any](t, rec)["seeded"], 0)

	rec = f.do(t, http.MethodPost, "/api/v2/tenants/acme/evaluate", map[string]any{
		"farm_id": "farm-1",
		"pond_id": "pond-1",
		"values":  map[string]any{"dissolved_oxygen": 2.4, "temperature": 24},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result struct {
		Evaluated int `json:"evaluated"`
		Matches   []struct {
			Name     string `json:"name"`
			Severity string `json:"severity"`
		} `json:"matches"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, len(alerting.DefaultRules(testTenant)), result.Evaluated)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, "Low dissolved oxygen", result.Matches[0].Name)
	assert.Equal(t, "CRITICAL", result.Matches[0].Severity)

	// A dry run leaves cooldowns alone, so the pipeline still fires later.
	res, err := f.engine.EvaluateRules(t.Context(), &alerting.EvaluationRequest{Facts: &alerting.FactContext{
		TenantID: testTenant,
		Values:   map[string]any{"dissolved_oxygen": 2.4},
	}})
	require.NoError(t, err)
	require.NotEmpty(t, res.Matches)
	assert.False(t, res.Matches[0].Suppressed)

	rec = f.do(t, http.MethodPost, "/api/v2/tenants/acme/evaluate", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRules_Import(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, "")

	payload := map[string]any{"rules": []any{
		oxygenRuleBody("Imported A"),
		map[string]any{"name": "", "active": true},
		oxygenRuleBody("Imported B"),
	}}
	rec := f.do(t, http.MethodPost, "/api/v2/tenants/acme/rules/import", payload)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.InDelta(t, 2, body["imported"], 0)
	assert.InDelta(t, 3, body["total"], 0)

	rec = f.do(t, http.MethodPost, "/api/v2/tenants/acme/rules/reload", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 2, decode[map[string]any](t, rec)["active_rules"], 0)
}

func TestRisk_Thresholds(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, "")

	rec := f.do(t, http.MethodGet, "/api/v2/risk/thresholds", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, risk.DefaultThresholds(), decode[risk.Thresholds](t, rec))

	rec = f.do(t, http.MethodPut, "/api/v2/risk/thresholds", risk.Thresholds{Critical: 50, High: 60, Medium: 40, Low: 20})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, risk.DefaultThresholds(), f.calc.Classifier().Thresholds())

	next := risk.Thresholds{Critical: 90, High: 70, Medium: 45, Low: 25}
	rec = f.do(t, http.MethodPut, "/api/v2/risk/thresholds", next)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, next, f.calc.Classifier().Thresholds())
}

func TestRisk_Weights(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, "")

	rec := f.do(t, http.MethodPut, "/api/v2/risk/weights", map[string]float64{"frequency": 0.5})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 0.5, decode[map[string]float64](t, rec)["frequency"], 1e-9)

	rec = f.do(t, http.MethodPut, "/api/v2/risk/weights", map[string]float64{"astrology": 0.5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPut, "/api/v2/risk/weights", map[string]float64{"trend": 1.5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.InDelta(t, 0.5, f.calc.Weights()["frequency"], 1e-9)
}

func TestRisk_Assets(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, "")
	path := "/api/v2/tenants/acme/assets/pond-7"

	rec := f.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPut, path, risk.AssetConfig{Criticality: 11})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, path, risk.AssetConfig{Criticality: 8, BusinessValue: 70, Regulated: true})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	asset := decode[risk.AssetConfig](t, rec)
	assert.Equal(t, "pond-7", asset.ID)
	assert.True(t, asset.Regulated)

	_, ok := f.calc.Impact().Asset("other-tenant", "pond-7")
	assert.False(t, ok)

	rec = f.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNotifications_RetryConfig(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, "")

	rec := f.do(t, http.MethodGet, "/api/v2/notifications/retry", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1s", decode[map[string]any](t, rec)["initial_delay"])

	rec = f.do(t, http.MethodPut, "/api/v2/notifications/retry", map[string]any{
		"max_retries": 2, "initial_delay": "0s", "max_delay": "10s", "backoff_multiplier": 2,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/v2/notifications/retry", map[string]any{
		"max_retries": 2, "initial_delay": "soon", "max_delay": "10s", "backoff_multiplier": 2,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/v2/notifications/retry", map[string]any{
		"max_retries": 5, "initial_delay": "500ms", "max_delay": "10s", "backoff_multiplier": 1.5,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cfg := f.svc.Dispatcher.RetryConfig()
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.InitialDelay)
	assert.InDelta(t, 1.5, cfg.Multiplier, 1e-9)
}

func TestNotifications_ResetRateLimits(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, "")
	ctx := t.Context()

	require.NoError(t, f.svc.Router.RecordSend(ctx, "operator-1", notification.ChannelSMS))
	usage, err := f.limits.Usage(ctx, "operator-1", notification.ChannelSMS, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, usage.LastHour)

	rec := f.do(t, http.MethodDelete, "/api/v2/notifications/rate-limits/operator-1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	usage, err = f.limits.Usage(ctx, "operator-1", notification.ChannelSMS, time.Now())
	require.NoError(t, err)
	assert.Zero(t, usage.LastHour)
	assert.Zero(t, usage.LastDay)
}

func TestNotifications_ChannelState(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, "")

	rec := f.do(t, http.MethodPut, "/api/v2/notifications/channels/fax", map[string]bool{"enabled": false})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/v2/notifications/channels/sms", map[string]bool{"enabled": false})
	require.Equal(t, http.StatusOK, rec.Code)

	decision, err := f.svc.Router.Route(t.Context(), "operator-1", severity.Critical, nil, nil)
	require.NoError(t, err)
	assert.NotContains(t, decision.Channels, notification.ChannelSMS)
	assert.Equal(t, notification.ReasonOperatorDisabled, decision.Excluded[notification.ChannelSMS])

	rec = f.do(t, http.MethodPut, "/api/v2/notifications/channels/SMS", map[string]bool{"enabled": true})
	require.Equal(t, http.StatusOK, rec.Code)
	decision, err = f.svc.Router.Route(t.Context(), "operator-1", severity.Critical, nil, nil)
	require.NoError(t, err)
	assert.Contains(t, decision.Channels, notification.ChannelSMS)
}

func TestNotifications_Queue(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, "")

	_, ok := f.svc.Dispatcher.QueueNotification(notification.Request{
		UserID:   "operator-1",
		Severity: severity.Low,
		Title:    "Daily summary",
		Message:  "All ponds nominal",
	})
	require.True(t, ok)

	rec := f.do(t, http.MethodDelete, "/api/v2/notifications/queue", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 1, decode[map[string]any](t, rec)["cleared"], 0)

	rec = f.do(t, http.MethodPost, "/api/v2/notifications/queue/process", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 0, decode[map[string]any](t, rec)["processed"], 0)
}

func policyBody(name string) map[string]any {
	return map[string]any{
		"name":       name,
		"severities": []string{"HIGH", "CRITICAL"},
		"active":     true,
		"levels": []map[string]any{
			{"level": 1, "name": "operator", "timeout_minutes": 15, "notify_targets": []string{"operator-1"}},
			{"level": 2, "name": "manager", "timeout_minutes": 30, "notify_targets": []string{"manager-1"}},
		},
	}
}

func TestPolicies_Lifecycle(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, "")

	rec := f.do(t, http.MethodPost, "/api/v2/tenants/acme/policies", policyBody("on-call"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[entities.EscalationPolicy](t, rec)
	require.NotZero(t, created.ID)
	require.Len(t, created.Levels, 2)

	gap := policyBody("gapped")
	gap["levels"] = []map[string]any{
		{"level": 1, "timeout_minutes": 15, "notify_targets": []string{"a"}},
		{"level": 3, "timeout_minutes": 15, "notify_targets": []string{"b"}},
	}
	rec = f.do(t, http.MethodPost, "/api/v2/tenants/acme/policies", gap)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/v2/tenants/acme/policies/%d/default", created.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	path := fmt.Sprintf("/api/v2/policies/%d", created.ID)
	rec = f.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[entities.EscalationPolicy](t, rec).IsDefault)

	rec = f.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "the default policy cannot be deleted")

	rec = f.do(t, http.MethodGet, "/api/v2/tenants/acme/policies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 1, decode[map[string]any](t, rec)["count"], 0)

	rec = f.do(t, http.MethodGet, "/api/v2/policies/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIncidents_AcknowledgeAndResolve(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, "")
	ctx := t.Context()

	rec := f.do(t, http.MethodPost, "/api/v2/tenants/acme/policies", policyBody("on-call"))
	require.Equal(t, http.StatusCreated, rec.Code)

	inc := &entities.Incident{
		ID:       "inc-1",
		TenantID: testTenant,
		FarmID:   "farm-1",
		Severity: "HIGH",
		Status:   entities.IncidentOpen,
		Title:    "Low dissolved oxygen",
	}
	require.NoError(t, f.incidents.SaveIncident(ctx, inc))
	_, err := f.manager.StartEscalation(ctx, inc, severity.High, nil)
	require.NoError(t, err)

	rec = f.do(t, http.MethodGet, "/api/v2/tenants/acme/incidents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 1, decode[map[string]any](t, rec)["count"], 0)

	rec = f.do(t, http.MethodGet, "/api/v2/incidents/inc-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]json.RawMessage](t, rec)
	assert.Contains(t, body, "escalation")

	rec = f.do(t, http.MethodPost, "/api/v2/incidents/inc-1/acknowledge", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v2/incidents/inc-1/acknowledge",
		map[string]string{"user_id": "operator-1", "note": "aerators on"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	state := decode[escalation.State](t, rec)
	assert.True(t, state.Acknowledged)
	assert.Equal(t, "operator-1", state.AcknowledgedBy)

	rec = f.do(t, http.MethodPost, "/api/v2/incidents/inc-1/resolve", map[string]string{"user_id": "operator-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[escalation.State](t, rec).IsComplete)

	stored, err := f.incidents.GetIncident(ctx, "inc-1")
	require.NoError(t, err)
	assert.Equal(t, entities.IncidentResolved, stored.Status)

	rec = f.do(t, http.MethodPost, "/api/v2/incidents/unknown/acknowledge", map[string]string{"user_id": "operator-1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/v2/incidents/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuth_TokenGuardsMutations(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, "s3cret")

	rec := f.doWithToken(t, http.MethodGet, "/api/v2/risk/thresholds", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code, "reads stay open")

	next := risk.Thresholds{Critical: 90, High: 70, Medium: 45, Low: 25}
	rec = f.doWithToken(t, http.MethodPut, "/api/v2/risk/thresholds", next, "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.doWithToken(t, http.MethodPut, "/api/v2/risk/thresholds", next, "")
	assert.GreaterOrEqual(t, rec.Code, http.StatusBadRequest)
	assert.Equal(t, risk.DefaultThresholds(), f.calc.Classifier().Thresholds())

	rec = f.do(t, http.MethodPut, "/api/v2/risk/thresholds", next)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusOf(t *testing.T) {
	t.Parallel()
	assert.Equal(t, http.StatusNotFound, statusOf(repository.ErrIncidentNotFound, http.StatusInternalServerError))
	assert.Equal(t, http.StatusTeapot, statusOf(fmt.Errorf("boom"), http.StatusTeapot))
}
