package escalation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/entities"
	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/repository"
	"github.com/aquasentinel/aquasentinel/internal/errors"
	"github.com/aquasentinel/aquasentinel/internal/logger"
	"github.com/aquasentinel/aquasentinel/internal/metrics"
	"github.com/aquasentinel/aquasentinel/internal/severity"
	"k8s.io/utils/clock"
)

// persistTimeout bounds timeline writes and notifications started by timers.
const persistTimeout = 10 * time.Second

// LevelNotification asks a Notifier to alert the targets of one level.
type LevelNotification struct {
	IncidentID string
	TenantID   string
	Title      string
	Severity   severity.Level
	Level      int
	LevelName  string
	Action     string
	Targets    []string
	Channels   []string
	Repeat     int
}

// Notifier delivers level notifications.
type Notifier interface {
	NotifyLevel(ctx context.Context, n LevelNotification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n LevelNotification) error

// NotifyLevel implements Notifier.
func (f NotifierFunc) NotifyLevel(ctx context.Context, n LevelNotification) error {
	return f(ctx, n)
}

type entry struct {
	mu         sync.Mutex
	state      State
	policy     *entities.EscalationPolicy
	title      string
	generation uint64
}

// Manager runs escalation state machines. Timer expiries are handled on a
// single loop goroutine; acknowledgments and timer handling for an incident
// serialize on that incident's lock.
type Manager struct {
	matcher   PolicyMatcher
	policies  repository.EscalationPolicyRepository
	incidents repository.IncidentRepository
	notifier  Notifier
	clock     clock.WithDelayedExecution
	sched     *scheduler
	metrics   *metrics.Metrics
	log       logger.Logger

	mu      sync.Mutex
	entries map[string]*entry
	stopped bool

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithClock replaces the real clock, mainly for tests.
func WithClock(c clock.WithDelayedExecution) ManagerOption {
	return func(m *Manager) { m.clock = c }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager creates a Manager and starts its timer loop. Call Stop to
// release it.
func NewManager(matcher PolicyMatcher, policies repository.EscalationPolicyRepository,
	incidents repository.IncidentRepository, notifier Notifier, log logger.Logger, opts ...ManagerOption,
) *Manager {
	m := &Manager{
		matcher:   matcher,
		policies:  policies,
		incidents: incidents,
		notifier:  notifier,
		clock:     clock.RealClock{},
		log:       log.Module("escalation"),
		entries:   make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.sched = newScheduler(m.clock)
	m.ctx, m.cancel = context.WithCancel(context.Background())

	m.wg.Add(1)
	go m.loop()
	return m
}

func (m *Manager) loop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case msg := <-m.sched.fired:
			m.handleTimeout(msg)
		}
	}
}

// Stop cancels every pending timer and in-flight notification and waits for
// the loop to exit.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopped = true
		m.mu.Unlock()
		m.sched.stop()
		m.cancel()
		m.wg.Wait()
	})
}

func (m *Manager) lookup(incidentID string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[incidentID]
}

// StartEscalation begins escalating an incident at level 1. If the incident
// already has an active escalation its state is returned unchanged.
func (m *Manager) StartEscalation(ctx context.Context, incident *entities.Incident, sev severity.Level, ruleID *uint) (*State, error) {
	if incident == nil || incident.ID == "" || incident.TenantID == "" {
		return nil, errors.Newf("escalation requires an incident with id and tenant").
			Component("escalation").
			Category(errors.CategoryValidation).
			Build()
	}
	if existing := m.activeState(incident.ID); existing != nil {
		return existing, nil
	}

	now := m.clock.Now()
	policy, err := m.matcher.FindMatchingPolicy(ctx, MatchQuery{
		TenantID: incident.TenantID,
		Severity: sev,
		RuleID:   ruleID,
		FarmID:   incident.FarmID,
		At:       now,
	})
	if err != nil {
		return nil, err
	}
	if policy == nil {
		return nil, errors.Newf("no escalation policy matches incident").
			Component("escalation").
			Category(errors.CategoryNotFound).
			Context("incident_id", incident.ID).
			Context("tenant_id", incident.TenantID).
			Context("severity", sev.String()).
			Build()
	}
	if len(policy.Levels) == 0 {
		return nil, errors.Newf("escalation policy has no levels").
			Component("escalation").
			Category(errors.CategoryValidation).
			Context("policy_id", policy.ID).
			Context("incident_id", incident.ID).
			Build()
	}
	policy.Levels = sortedLevels(policy.Levels)
	first := policy.Levels[0]

	e := &entry{
		policy: policy,
		title:  incident.Title,
		state: State{
			IncidentID:   incident.ID,
			TenantID:     incident.TenantID,
			PolicyID:     policy.ID,
			CurrentLevel: 1,
			StartedAt:    now,
			Severity:     sev,
		},
	}

	m.mu.Lock()
	if cur, ok := m.entries[incident.ID]; ok {
		cur.mu.Lock()
		active := !cur.state.IsComplete
		snapshot := cur.state.clone()
		cur.mu.Unlock()
		if active {
			m.mu.Unlock()
			return &snapshot, nil
		}
	}
	e.mu.Lock()
	m.entries[incident.ID] = e
	m.mu.Unlock()
	m.scheduleLocked(e, now, levelTimeout(first))
	snapshot := e.state.clone()
	e.mu.Unlock()

	m.metrics.EscalationTransition("started")
	m.log.Info("escalation started",
		logger.String("incident_id", incident.ID),
		logger.String("tenant_id", incident.TenantID),
		logger.Uint64("policy_id", uint64(policy.ID)),
		logger.String("severity", sev.String()))

	m.addTimeline(ctx, incident.ID, EventStarted, "",
		fmt.Sprintf("Escalation started with policy %q", policy.Name),
		eventData{PolicyID: policy.ID, Level: 1, Severity: sev.String()})
	m.notifyAsync(m.levelNotification(e.title, snapshot, policy, first, 0))
	return &snapshot, nil
}

func (m *Manager) activeState(incidentID string) *State {
	e := m.lookup(incidentID)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.IsComplete {
		return nil
	}
	s := e.state.clone()
	return &s
}

// scheduleLocked arms the incident timer. e.mu must be held.
func (m *Manager) scheduleLocked(e *entry, now time.Time, d time.Duration) {
	e.generation++
	next := now.Add(d)
	e.state.NextEscalationAt = &next
	m.sched.schedule(e.state.IncidentID, e.generation, d)
}

// disarmLocked cancels the incident timer and invalidates any timer message
// already in flight. e.mu must be held.
func (m *Manager) disarmLocked(e *entry) {
	e.generation++
	e.state.NextEscalationAt = nil
	m.sched.cancel(e.state.IncidentID)
}

func levelTimeout(lvl entities.EscalationLevel) time.Duration {
	return time.Duration(lvl.TimeoutMinutes) * time.Minute
}

func repeatInterval(p *entities.EscalationPolicy) time.Duration {
	if p.RepeatIntervalMinutes > 0 {
		return time.Duration(p.RepeatIntervalMinutes) * time.Minute
	}
	return levelTimeout(p.Levels[len(p.Levels)-1])
}

func (m *Manager) handleTimeout(msg timerFired) {
	e := m.lookup(msg.incidentID)
	if e == nil {
		return
	}

	e.mu.Lock()
	if e.generation != msg.generation || !e.state.Active() {
		e.mu.Unlock()
		m.log.Debug("ignoring stale escalation timer", logger.String("incident_id", msg.incidentID))
		return
	}

	now := m.clock.Now()
	levels := e.policy.Levels
	var (
		notification *LevelNotification
		eventType    string
		description  string
		autoResolve  bool
	)
	switch {
	case e.state.CurrentLevel < len(levels):
		e.state.CurrentLevel++
		lvl := levels[e.state.CurrentLevel-1]
		if lvl.Action == entities.ActionAutoResolve {
			m.disarmLocked(e)
			e.state.IsComplete = true
			autoResolve = true
			eventType = EventResolved
			description = fmt.Sprintf("Incident auto-resolved at level %d", lvl.Level)
			break
		}
		m.scheduleLocked(e, now, levelTimeout(lvl))
		n := m.levelNotification(e.title, e.state, e.policy, lvl, 0)
		notification = &n
		eventType = EventLevelAdvanced
		description = fmt.Sprintf("Escalated to level %d (%s)", lvl.Level, lvl.Name)
	case e.state.RepeatCount < e.policy.MaxRepeats:
		e.state.RepeatCount++
		m.scheduleLocked(e, now, repeatInterval(e.policy))
		n := m.levelNotification(e.title, e.state, e.policy, levels[len(levels)-1], e.state.RepeatCount)
		notification = &n
		eventType = EventRepeated
		description = fmt.Sprintf("Repeated level %d notification (%d of %d)", e.state.CurrentLevel, e.state.RepeatCount, e.policy.MaxRepeats)
	default:
		m.disarmLocked(e)
		e.state.IsComplete = true
		eventType = EventCompleted
		description = "Escalation completed without acknowledgment"
	}
	snapshot := e.state.clone()
	e.mu.Unlock()

	m.metrics.EscalationTransition(transitionName(eventType))
	m.log.Info("escalation timer fired",
		logger.String("incident_id", snapshot.IncidentID),
		logger.String("transition", eventType),
		logger.Int("level", snapshot.CurrentLevel),
		logger.Int("repeat", snapshot.RepeatCount))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(m.ctx, persistTimeout)
		defer cancel()
		m.addTimeline(ctx, snapshot.IncidentID, eventType, "", description, eventData{
			PolicyID: snapshot.PolicyID,
			Level:    snapshot.CurrentLevel,
			Repeat:   snapshot.RepeatCount,
			Severity: snapshot.Severity.String(),
		})
		if autoResolve {
			m.updateStatus(ctx, snapshot.IncidentID, entities.IncidentResolved)
		}
		if notification != nil {
			m.notify(ctx, *notification)
		}
	}()
}

func transitionName(eventType string) string {
	switch eventType {
	case EventLevelAdvanced:
		return "advanced"
	case EventRepeated:
		return "repeated"
	case EventResolved:
		return "resolved"
	case EventAcknowledged:
		return "acknowledged"
	case EventStarted:
		return "started"
	default:
		return "completed"
	}
}

// AcknowledgeEscalation stops further escalation of an incident. The level
// and completion flag are left as they are. Acknowledging twice is a no-op.
func (m *Manager) AcknowledgeEscalation(ctx context.Context, incidentID, userID, note string) (*State, error) {
	e := m.lookup(incidentID)
	if e == nil {
		return nil, incidentNotFound(incidentID)
	}

	e.mu.Lock()
	if e.state.Acknowledged {
		snapshot := e.state.clone()
		e.mu.Unlock()
		return &snapshot, nil
	}
	m.disarmLocked(e)
	now := m.clock.Now()
	e.state.Acknowledged = true
	e.state.AcknowledgedBy = userID
	e.state.AcknowledgedAt = &now
	snapshot := e.state.clone()
	e.mu.Unlock()

	m.metrics.EscalationTransition("acknowledged")
	m.log.Info("escalation acknowledged",
		logger.String("incident_id", incidentID),
		logger.String("user_id", userID),
		logger.Int("level", snapshot.CurrentLevel))

	m.updateStatus(ctx, incidentID, entities.IncidentAcknowledged)
	m.addTimeline(ctx, incidentID, EventAcknowledged, userID,
		fmt.Sprintf("Acknowledged at level %d", snapshot.CurrentLevel),
		eventData{PolicyID: snapshot.PolicyID, Level: snapshot.CurrentLevel, Repeat: snapshot.RepeatCount, Note: note})
	return &snapshot, nil
}

// ResolveEscalation completes an incident's escalation by hand.
func (m *Manager) ResolveEscalation(ctx context.Context, incidentID, userID string) (*State, error) {
	e := m.lookup(incidentID)
	if e == nil {
		return nil, incidentNotFound(incidentID)
	}

	e.mu.Lock()
	if e.state.IsComplete {
		snapshot := e.state.clone()
		e.mu.Unlock()
		return &snapshot, nil
	}
	m.disarmLocked(e)
	e.state.IsComplete = true
	snapshot := e.state.clone()
	e.mu.Unlock()

	m.metrics.EscalationTransition("resolved")
	m.updateStatus(ctx, incidentID, entities.IncidentResolved)
	m.addTimeline(ctx, incidentID, EventResolved, userID, "Incident resolved",
		eventData{PolicyID: snapshot.PolicyID, Level: snapshot.CurrentLevel, Repeat: snapshot.RepeatCount})
	return &snapshot, nil
}

// GetEscalationState returns a copy of an incident's state.
func (m *Manager) GetEscalationState(incidentID string) (*State, error) {
	e := m.lookup(incidentID)
	if e == nil {
		return nil, incidentNotFound(incidentID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.state.clone()
	return &s, nil
}

// ActiveCount returns how many escalations still wait on a timer.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	n := 0
	for _, e := range entries {
		e.mu.Lock()
		if e.state.Active() {
			n++
		}
		e.mu.Unlock()
	}
	return n
}

func incidentNotFound(incidentID string) error {
	return errors.Newf("no escalation for incident").
		Component("escalation").
		Category(errors.CategoryNotFound).
		Context("incident_id", incidentID).
		Build()
}

func (m *Manager) levelNotification(title string, s State, p *entities.EscalationPolicy, lvl entities.EscalationLevel, repeat int) LevelNotification {
	return LevelNotification{
		IncidentID: s.IncidentID,
		TenantID:   s.TenantID,
		Title:      title,
		Severity:   s.Severity,
		Level:      lvl.Level,
		LevelName:  lvl.Name,
		Action:     lvl.Action,
		Targets:    append([]string(nil), lvl.NotifyTargets...),
		Channels:   append([]string(nil), lvl.Channels...),
		Repeat:     repeat,
	}
}

// notifyAsync delivers n off the caller's goroutine, bounded by the manager's
// lifetime. It is a no-op once Stop has begun.
func (m *Manager) notifyAsync(n LevelNotification) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(m.ctx, persistTimeout)
		defer cancel()
		m.notify(ctx, n)
	}()
}

func (m *Manager) notify(ctx context.Context, n LevelNotification) {
	if m.notifier == nil || len(n.Targets) == 0 {
		return
	}
	if err := m.notifier.NotifyLevel(ctx, n); err != nil {
		m.log.Warn("escalation notification failed",
			logger.String("incident_id", n.IncidentID),
			logger.Int("level", n.Level),
			logger.Error(err))
	}
}

func (m *Manager) addTimeline(ctx context.Context, incidentID, eventType, userID, description string, data eventData) {
	if m.incidents == nil {
		return
	}
	err := m.incidents.AddTimelineEvent(ctx, &entities.IncidentTimelineEvent{
		IncidentID:  incidentID,
		Type:        eventType,
		UserID:      userID,
		Description: description,
		Data:        data.encode(),
		CreatedAt:   m.clock.Now(),
	})
	if err != nil {
		m.log.Warn("failed to record escalation timeline event",
			logger.String("incident_id", incidentID),
			logger.String("type", eventType),
			logger.Error(err))
	}
}

func (m *Manager) updateStatus(ctx context.Context, incidentID, status string) {
	if m.incidents == nil {
		return
	}
	if err := m.incidents.UpdateStatus(ctx, incidentID, status); err != nil {
		m.log.Warn("failed to update incident status",
			logger.String("incident_id", incidentID),
			logger.String("status", status),
			logger.Error(err))
	}
}
