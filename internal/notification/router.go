package notification

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/entities"
	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/repository"
	"github.com/aquasentinel/aquasentinel/internal/errors"
	"github.com/aquasentinel/aquasentinel/internal/logger"
	"github.com/aquasentinel/aquasentinel/internal/severity"
)

// Reasons a channel was left out of a routing decision.
const (
	ReasonUnknownChannel   = "unknown_channel"
	ReasonNotEnabled       = "not_enabled"
	ReasonOperatorDisabled = "operator_disabled"
	ReasonUnavailable      = "unavailable"
	ReasonBelowMinSeverity = "below_min_severity"
	ReasonQuietHours       = "quiet_hours"
	ReasonRateLimited      = "rate_limited"
)

// PreferenceSource loads user preferences. A missing preference must be
// reported as repository.ErrPreferenceNotFound.
type PreferenceSource interface {
	GetPreference(ctx context.Context, userID string) (*entities.NotificationPreference, error)
}

// RoutingDecision is the resolved channel set for one notification.
type RoutingDecision struct {
	Channels []Channel          `json:"channels"`
	Primary  Channel            `json:"primary,omitempty"`
	Excluded map[Channel]string `json:"excluded,omitempty"`
}

// Router resolves which channels a notification goes to.
type Router struct {
	prefs  PreferenceSource
	limits RateLimitStore
	log    logger.Logger
	now    func() time.Time

	mu          sync.RWMutex
	disabled    map[Channel]bool
	unavailable map[Channel]bool
}

// RouterOption customizes a Router.
type RouterOption func(*Router)

// WithRouterClock overrides the time source used for quiet hours and limits.
func WithRouterClock(now func() time.Time) RouterOption {
	return func(r *Router) { r.now = now }
}

// NewRouter creates a Router. A nil limits store keeps counters in memory.
func NewRouter(prefs PreferenceSource, limits RateLimitStore, log logger.Logger, opts ...RouterOption) *Router {
	if limits == nil {
		limits = NewMemoryRateLimitStore()
	}
	r := &Router{
		prefs:       prefs,
		limits:      limits,
		log:         log.Module("notification"),
		now:         time.Now,
		disabled:    make(map[Channel]bool),
		unavailable: make(map[Channel]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DefaultPreference is used for users without stored preferences.
func DefaultPreference(userID string) *entities.NotificationPreference {
	enabled := make([]string, 0, len(AllChannels))
	for _, ch := range AllChannels {
		enabled = append(enabled, ch.String())
	}
	return &entities.NotificationPreference{UserID: userID, EnabledChannels: enabled}
}

// SetChannelEnabled turns a channel on or off for every user.
func (r *Router) SetChannelEnabled(ch Channel, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if enabled {
		delete(r.disabled, ch)
	} else {
		r.disabled[ch] = true
	}
}

// SetChannelAvailable marks a channel's provider as reachable or not.
func (r *Router) SetChannelAvailable(ch Channel, available bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if available {
		delete(r.unavailable, ch)
	} else {
		r.unavailable[ch] = true
	}
}

func (r *Router) operatorBlock(ch Channel) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch {
	case r.disabled[ch]:
		return ReasonOperatorDisabled
	case r.unavailable[ch]:
		return ReasonUnavailable
	default:
		return ""
	}
}

func (r *Router) preference(ctx context.Context, userID string) (*entities.NotificationPreference, error) {
	if r.prefs == nil {
		return DefaultPreference(userID), nil
	}
	pref, err := r.prefs.GetPreference(ctx, userID)
	if errors.Is(err, repository.ErrPreferenceNotFound) {
		return DefaultPreference(userID), nil
	}
	if err != nil {
		return nil, errors.New(err).
			Component("notification").
			Category(errors.CategoryDatabase).
			Context("user_id", userID).
			Build()
	}
	return pref, nil
}

// Route resolves the channels for a notification to userID. requested, when
// non-empty, replaces the severity defaults.
func (r *Router) Route(ctx context.Context, userID string, sev severity.Level, requested []Channel, rc RoutingContext) (*RoutingDecision, error) {
	if userID == "" {
		return nil, errors.Newf("routing requires a user").
			Component("notification").
			Category(errors.CategoryValidation).
			Build()
	}
	pref, err := r.preference(ctx, userID)
	if err != nil {
		return nil, err
	}

	candidates := requested
	if len(candidates) == 0 {
		candidates = DefaultChannels(sev)
	}
	enabled := make(map[Channel]bool, len(pref.EnabledChannels))
	for _, name := range pref.EnabledChannels {
		if ch, ok := ParseChannel(name); ok {
			enabled[ch] = true
		}
	}

	now := r.now()
	decision := &RoutingDecision{Excluded: make(map[Channel]string)}
	selected := make(map[Channel]bool)
	for _, ch := range candidates {
		if selected[ch] {
			continue
		}
		if reason := r.exclusion(ctx, userID, ch, sev, pref, enabled, now); reason != "" {
			decision.Excluded[ch] = reason
			continue
		}
		selected[ch] = true
	}

	for _, rule := range sortedRules(pref.CustomRules) {
		if !ruleMatches(rule, userID, sev, rc) {
			continue
		}
		for _, name := range rule.Channels {
			ch, ok := ParseChannel(name)
			if !ok {
				continue
			}
			if reason := r.operatorBlock(ch); reason != "" {
				decision.Excluded[ch] = reason
				continue
			}
			if !selected[ch] {
				selected[ch] = true
				delete(decision.Excluded, ch)
			}
		}
	}

	for ch := range selected {
		decision.Channels = append(decision.Channels, ch)
	}
	slices.SortFunc(decision.Channels, func(a, b Channel) int {
		if c := cmp.Compare(b.Priority(), a.Priority()); c != 0 {
			return c
		}
		return cmp.Compare(orderOf(a), orderOf(b))
	})
	if len(decision.Channels) > 0 {
		decision.Primary = decision.Channels[0]
		if preferred, ok := ParseChannel(pref.PreferredChannel); ok && selected[preferred] {
			decision.Primary = preferred
		}
	}
	return decision, nil
}

func (r *Router) exclusion(ctx context.Context, userID string, ch Channel, sev severity.Level,
	pref *entities.NotificationPreference, enabled map[Channel]bool, now time.Time,
) string {
	if !ch.Valid() {
		return ReasonUnknownChannel
	}
	if !enabled[ch] {
		return ReasonNotEnabled
	}
	if reason := r.operatorBlock(ch); reason != "" {
		return reason
	}
	cfg, ok := pref.ChannelConfigs[ch.String()]
	if !ok {
		return ""
	}
	if cfg.MinSeverity != "" {
		if floor, err := severity.Parse(cfg.MinSeverity); err == nil && !sev.AtLeast(floor) {
			return ReasonBelowMinSeverity
		}
	}
	if cfg.QuietHours != nil && sev != severity.Critical && inQuietHours(*cfg.QuietHours, now) {
		return ReasonQuietHours
	}
	if cfg.RateLimit != nil && r.rateLimited(ctx, userID, ch, *cfg.RateLimit, now) {
		return ReasonRateLimited
	}
	return ""
}

func (r *Router) rateLimited(ctx context.Context, userID string, ch Channel, limit entities.RateLimitConfig, now time.Time) bool {
	if limit.MaxPerHour <= 0 && limit.MaxPerDay <= 0 {
		return false
	}
	usage, err := r.limits.Usage(ctx, userID, ch, now)
	if err != nil {
		r.log.Warn("rate limit lookup failed, allowing channel",
			logger.String("user_id", userID),
			logger.String("channel", ch.String()),
			logger.Error(err))
		return false
	}
	return (limit.MaxPerHour > 0 && usage.LastHour >= limit.MaxPerHour) ||
		(limit.MaxPerDay > 0 && usage.LastDay >= limit.MaxPerDay)
}

// RecordSend counts a successful send against the user's rate limits.
func (r *Router) RecordSend(ctx context.Context, userID string, ch Channel) error {
	return r.limits.Record(ctx, userID, ch, r.now())
}

// ResetRateLimits clears every counter of a user.
func (r *Router) ResetRateLimits(ctx context.Context, userID string) error {
	if err := r.limits.Reset(ctx, userID); err != nil {
		return err
	}
	r.log.Info("rate limits reset", logger.String("user_id", userID))
	return nil
}

func sortedRules(rules []entities.RoutingRule) []entities.RoutingRule {
	out := slices.Clone(rules)
	slices.SortStableFunc(out, func(a, b entities.RoutingRule) int { return cmp.Compare(a.Priority, b.Priority) })
	return out
}

func ruleMatches(rule entities.RoutingRule, userID string, sev severity.Level, rc RoutingContext) bool {
	if len(rule.Conditions) == 0 {
		return false
	}
	for _, cond := range rule.Conditions {
		value, ok := routingField(cond.Field, userID, sev, rc)
		if !ok || !conditionHolds(cond, value) {
			return false
		}
	}
	return true
}

func routingField(field, userID string, sev severity.Level, rc RoutingContext) (string, bool) {
	if v, ok := rc[field]; ok && v != nil {
		return fmt.Sprint(v), true
	}
	switch field {
	case "severity":
		return sev.String(), true
	case "user_id":
		return userID, true
	}
	return "", false
}

func conditionHolds(cond entities.RoutingCondition, value string) bool {
	switch strings.ToLower(cond.Operator) {
	case "eq":
		return strings.EqualFold(value, cond.Value)
	case "neq":
		return !strings.EqualFold(value, cond.Value)
	case "in":
		return slices.ContainsFunc(cond.Values, func(v string) bool { return strings.EqualFold(v, value) })
	case "contains":
		return strings.Contains(strings.ToLower(value), strings.ToLower(cond.Value))
	default:
		return false
	}
}

// inQuietHours reports whether now falls in q. Windows with End before Start
// wrap past midnight; equal or unparsable bounds never match.
func inQuietHours(q entities.QuietHours, now time.Time) bool {
	start, err1 := time.Parse("15:04", q.Start)
	end, err2 := time.Parse("15:04", q.End)
	if err1 != nil || err2 != nil {
		return false
	}
	loc := time.UTC
	if q.Timezone != "" {
		if l, err := time.LoadLocation(q.Timezone); err == nil {
			loc = l
		}
	}
	local := now.In(loc)
	m := local.Hour()*60 + local.Minute()
	s := start.Hour()*60 + start.Minute()
	e := end.Hour()*60 + end.Minute()
	switch {
	case s == e:
		return false
	case s < e:
		return m >= s && m < e
	default:
		return m >= s || m < e
	}
}
