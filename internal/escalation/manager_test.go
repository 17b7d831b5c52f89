package escalation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/entities"
	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/repository"
	"github.com/aquasentinel/aquasentinel/internal/errors"
	"github.com/aquasentinel/aquasentinel/internal/logger"
	"github.com/aquasentinel/aquasentinel/internal/severity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

var epoch = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

type managerFixture struct {
	clock     *testingclock.FakeClock
	policies  repository.EscalationPolicyRepository
	incidents repository.IncidentRepository
	notifier  *recordingNotifier
	manager   *Manager
}

func newManagerFixture(t *testing.T, policy *entities.EscalationPolicy) *managerFixture {
	t.Helper()
	policies, incidents := newTestStore(t)
	if policy != nil {
		require.NoError(t, NewPolicyService(policies, logger.NewNop()).Create(t.Context(), policy))
	}
	f := &managerFixture{
		clock:     testingclock.NewFakeClock(epoch),
		policies:  policies,
		incidents: incidents,
		notifier:  &recordingNotifier{},
	}
	f.manager = NewManager(NewMatcher(policies), policies, incidents, f.notifier, logger.NewNop(), WithClock(f.clock))
	t.Cleanup(f.manager.Stop)
	return f
}

func (f *managerFixture) waitFor(t *testing.T, id string, cond func(s *State) bool) *State {
	t.Helper()
	var last *State
	require.Eventually(t, func() bool {
		s, err := f.manager.GetEscalationState(id)
		if err != nil {
			return false
		}
		last = s
		return cond(s)
	}, 2*time.Second, 5*time.Millisecond)
	return last
}

func timelineTypes(t *testing.T, repo repository.IncidentRepository, id string) []string {
	t.Helper()
	events, err := repo.ListTimeline(t.Context(), id)
	require.NoError(t, err)
	types := make([]string, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	return types
}

func TestManager_AdvancesAfterLevelTimeout(t *testing.T) {
	f := newManagerFixture(t, twoLevelPolicy("t1"))
	inc := saveIncident(t, f.incidents, "inc-1", "t1")

	state, err := f.manager.StartEscalation(t.Context(), inc, severity.High, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, state.CurrentLevel)
	require.NotNil(t, state.NextEscalationAt)
	assert.Equal(t, epoch.Add(15*time.Minute), *state.NextEscalationAt)
	require.Eventually(t, func() bool { return f.notifier.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"operator-1"}, f.notifier.all()[0].Targets)

	f.clock.Step(16 * time.Minute)
	state = f.waitFor(t, inc.ID, func(s *State) bool { return s.CurrentLevel == 2 })
	assert.False(t, state.IsComplete)
	assert.Equal(t, epoch.Add(16*time.Minute+30*time.Minute), *state.NextEscalationAt)

	require.Eventually(t, func() bool { return f.notifier.count() == 2 }, 2*time.Second, 5*time.Millisecond)
	second := f.notifier.all()[1]
	assert.Equal(t, 2, second.Level)
	assert.Equal(t, []string{"manager-1"}, second.Targets)
	assert.Equal(t, []string{"SMS"}, second.Channels)
}

func TestManager_CompletesAfterLastLevel(t *testing.T) {
	p := twoLevelPolicy("t1")
	p.Levels = p.Levels[:1]
	f := newManagerFixture(t, p)
	inc := saveIncident(t, f.incidents, "inc-1", "t1")

	_, err := f.manager.StartEscalation(t.Context(), inc, severity.High, nil)
	require.NoError(t, err)

	f.clock.Step(16 * time.Minute)
	state := f.waitFor(t, inc.ID, func(s *State) bool { return s.IsComplete })
	assert.Equal(t, 1, state.CurrentLevel)
	assert.Nil(t, state.NextEscalationAt)
	assert.Equal(t, 0, f.manager.ActiveCount())

	f.manager.Stop()
	assert.Equal(t, []string{EventStarted, EventCompleted}, timelineTypes(t, f.incidents, inc.ID))
}

func TestManager_RepeatsFinalLevel(t *testing.T) {
	p := twoLevelPolicy("t1")
	p.Levels = p.Levels[:1]
	p.MaxRepeats = 2
	p.RepeatIntervalMinutes = 5
	f := newManagerFixture(t, p)
	inc := saveIncident(t, f.incidents, "inc-1", "t1")

	_, err := f.manager.StartEscalation(t.Context(), inc, severity.High, nil)
	require.NoError(t, err)

	f.clock.Step(15 * time.Minute)
	f.waitFor(t, inc.ID, func(s *State) bool { return s.RepeatCount == 1 })
	f.clock.Step(5 * time.Minute)
	f.waitFor(t, inc.ID, func(s *State) bool { return s.RepeatCount == 2 })
	f.clock.Step(5 * time.Minute)
	state := f.waitFor(t, inc.ID, func(s *State) bool { return s.IsComplete })
	assert.Equal(t, 2, state.RepeatCount)

	require.Eventually(t, func() bool { return f.notifier.count() == 3 }, 2*time.Second, 5*time.Millisecond)
	sent := f.notifier.all()
	assert.Equal(t, 1, sent[1].Repeat)
	assert.Equal(t, 2, sent[2].Repeat)
}

func TestManager_AutoResolveLevel(t *testing.T) {
	p := twoLevelPolicy("t1")
	p.Levels[1] = entities.EscalationLevel{Level: 2, TimeoutMinutes: 60, Action: entities.ActionAutoResolve}
	f := newManagerFixture(t, p)
	inc := saveIncident(t, f.incidents, "inc-1", "t1")

	_, err := f.manager.StartEscalation(t.Context(), inc, severity.High, nil)
	require.NoError(t, err)
	f.clock.Step(15 * time.Minute)
	f.waitFor(t, inc.ID, func(s *State) bool { return s.IsComplete })

	f.manager.Stop()
	stored, err := f.incidents.GetIncident(t.Context(), inc.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.IncidentResolved, stored.Status)
	assert.Equal(t, 1, f.notifier.count())
}

func TestManager_StartIsIdempotentWhileActive(t *testing.T) {
	f := newManagerFixture(t, twoLevelPolicy("t1"))
	inc := saveIncident(t, f.incidents, "inc-1", "t1")

	first, err := f.manager.StartEscalation(t.Context(), inc, severity.High, nil)
	require.NoError(t, err)
	second, err := f.manager.StartEscalation(t.Context(), inc, severity.Critical, nil)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	f.manager.Stop()
	assert.Equal(t, 1, f.notifier.count())
	assert.Equal(t, 1, f.manager.ActiveCount())
}

func TestManager_NoPolicy(t *testing.T) {
	f := newManagerFixture(t, nil)
	inc := saveIncident(t, f.incidents, "inc-1", "t1")

	_, err := f.manager.StartEscalation(t.Context(), inc, severity.High, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))

	_, err = f.manager.StartEscalation(t.Context(), &entities.Incident{ID: "x"}, severity.High, nil)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

type fixedMatcher struct{ policy *entities.EscalationPolicy }

func (m fixedMatcher) FindMatchingPolicy(context.Context, MatchQuery) (*entities.EscalationPolicy, error) {
	return m.policy, nil
}

func TestManager_PolicyWithoutLevels(t *testing.T) {
	t.Parallel()
	policies, incidents := newTestStore(t)
	inc := saveIncident(t, incidents, "inc-1", "t1")
	empty := &entities.EscalationPolicy{ID: 9, TenantID: "t1", Name: "empty", Active: true}
	m := NewManager(fixedMatcher{policy: empty}, policies, incidents, nil, logger.NewNop(),
		WithClock(testingclock.NewFakeClock(epoch)))
	t.Cleanup(m.Stop)

	var (
		state *State
		err   error
	)
	require.NotPanics(t, func() {
		state, err = m.StartEscalation(t.Context(), inc, severity.High, nil)
	})
	require.Error(t, err)
	assert.Nil(t, state)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	assert.Equal(t, 0, m.ActiveCount())
}

func TestManager_StartDoesNotWaitForNotifier(t *testing.T) {
	t.Parallel()
	policies, incidents := newTestStore(t)
	require.NoError(t, NewPolicyService(policies, logger.NewNop()).Create(t.Context(), twoLevelPolicy("t1")))
	inc := saveIncident(t, incidents, "inc-1", "t1")

	entered := make(chan struct{})
	release := make(chan struct{})
	blocking := NotifierFunc(func(ctx context.Context, _ LevelNotification) error {
		close(entered)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	m := NewManager(NewMatcher(policies), policies, incidents, blocking, logger.NewNop(),
		WithClock(testingclock.NewFakeClock(epoch)))

	done := make(chan struct{})
	go func() {
		defer close(done)
		state, err := m.StartEscalation(t.Context(), inc, severity.High, nil)
		if assert.NoError(t, err) {
			assert.Equal(t, 1, state.CurrentLevel)
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("StartEscalation blocked on the level-1 notification")
	}

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("level-1 notification was never sent")
	}
	close(release)
	m.Stop()
}

func TestManager_AcknowledgeStopsEscalation(t *testing.T) {
	f := newManagerFixture(t, twoLevelPolicy("t1"))
	inc := saveIncident(t, f.incidents, "inc-1", "t1")

	_, err := f.manager.StartEscalation(t.Context(), inc, severity.High, nil)
	require.NoError(t, err)

	f.clock.Step(5 * time.Minute)
	state, err := f.manager.AcknowledgeEscalation(t.Context(), inc.ID, "operator-1", "on my way")
	require.NoError(t, err)
	assert.True(t, state.Acknowledged)
	assert.Equal(t, "operator-1", state.AcknowledgedBy)
	assert.Equal(t, 1, state.CurrentLevel)
	assert.False(t, state.IsComplete)
	assert.Nil(t, state.NextEscalationAt)

	f.clock.Step(time.Hour)
	time.Sleep(50 * time.Millisecond)
	state, err = f.manager.GetEscalationState(inc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, state.CurrentLevel, "acknowledged escalation must not advance")
	assert.Equal(t, 1, f.notifier.count())

	again, err := f.manager.AcknowledgeEscalation(t.Context(), inc.ID, "manager-1", "")
	require.NoError(t, err)
	assert.Equal(t, "operator-1", again.AcknowledgedBy)

	stored, err := f.incidents.GetIncident(t.Context(), inc.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.IncidentAcknowledged, stored.Status)
}

func TestManager_StaleTimerIgnored(t *testing.T) {
	f := newManagerFixture(t, twoLevelPolicy("t1"))
	inc := saveIncident(t, f.incidents, "inc-1", "t1")

	_, err := f.manager.StartEscalation(t.Context(), inc, severity.High, nil)
	require.NoError(t, err)
	e := f.manager.lookup(inc.ID)
	e.mu.Lock()
	armed := e.generation
	e.mu.Unlock()

	_, err = f.manager.AcknowledgeEscalation(t.Context(), inc.ID, "operator-1", "")
	require.NoError(t, err)

	// A message from the cancelled timer that was already in flight.
	f.manager.handleTimeout(timerFired{incidentID: inc.ID, generation: armed})

	state, err := f.manager.GetEscalationState(inc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, state.CurrentLevel)
	assert.False(t, state.IsComplete)
}

func TestManager_AcknowledgeRacesTimer(t *testing.T) {
	for i := range 20 {
		t.Run(fmt.Sprintf("round_%d", i), func(t *testing.T) {
			f := newManagerFixture(t, twoLevelPolicy("t1"))
			inc := saveIncident(t, f.incidents, "inc-1", "t1")
			_, err := f.manager.StartEscalation(t.Context(), inc, severity.High, nil)
			require.NoError(t, err)

			var wg sync.WaitGroup
			wg.Go(func() { f.clock.Step(16 * time.Minute) })
			wg.Go(func() {
				_, err := f.manager.AcknowledgeEscalation(t.Context(), inc.ID, "operator-1", "")
				assert.NoError(t, err)
			})
			wg.Wait()

			acked, err := f.manager.GetEscalationState(inc.ID)
			require.NoError(t, err)
			require.True(t, acked.Acknowledged)

			// Whatever won the race, nothing advances after the acknowledgment.
			f.clock.Step(2 * time.Hour)
			time.Sleep(20 * time.Millisecond)
			later, err := f.manager.GetEscalationState(inc.ID)
			require.NoError(t, err)
			assert.Equal(t, acked.CurrentLevel, later.CurrentLevel)
			assert.LessOrEqual(t, later.CurrentLevel, 2)
			assert.False(t, later.IsComplete)
		})
	}
}

func TestManager_Resolve(t *testing.T) {
	f := newManagerFixture(t, twoLevelPolicy("t1"))
	inc := saveIncident(t, f.incidents, "inc-1", "t1")

	_, err := f.manager.StartEscalation(t.Context(), inc, severity.High, nil)
	require.NoError(t, err)
	state, err := f.manager.ResolveEscalation(t.Context(), inc.ID, "operator-1")
	require.NoError(t, err)
	assert.True(t, state.IsComplete)

	_, err = f.manager.ResolveEscalation(t.Context(), "missing", "operator-1")
	assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))

	stored, err := f.incidents.GetIncident(t.Context(), inc.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.IncidentResolved, stored.Status)
	require.NotNil(t, stored.ResolvedAt)

	restarted, err := f.manager.StartEscalation(t.Context(), inc, severity.High, nil)
	require.NoError(t, err)
	assert.False(t, restarted.IsComplete, "a completed escalation can start over")
}

func TestManager_AcknowledgeUnknown(t *testing.T) {
	f := newManagerFixture(t, nil)
	_, err := f.manager.AcknowledgeEscalation(t.Context(), "nope", "u", "")
	assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))
	_, err = f.manager.GetEscalationState("nope")
	assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))
}

func TestManager_ReconstructResumesLevel(t *testing.T) {
	f := newManagerFixture(t, twoLevelPolicy("t1"))
	inc := saveIncident(t, f.incidents, "inc-1", "t1")

	_, err := f.manager.StartEscalation(t.Context(), inc, severity.High, nil)
	require.NoError(t, err)
	f.clock.Step(16 * time.Minute)
	f.waitFor(t, inc.ID, func(s *State) bool { return s.CurrentLevel == 2 })
	f.manager.Stop()

	// A new process starts 4 minutes later.
	restartClock := testingclock.NewFakeClock(epoch.Add(20 * time.Minute))
	notifier := &recordingNotifier{}
	restarted := NewManager(NewMatcher(f.policies), f.policies, f.incidents, notifier, logger.NewNop(), WithClock(restartClock))
	t.Cleanup(restarted.Stop)

	n, err := restarted.RestoreActive(t.Context(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	state, err := restarted.GetEscalationState(inc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, state.CurrentLevel)
	assert.True(t, epoch.Equal(state.StartedAt), "started at %s", state.StartedAt)
	require.NotNil(t, state.NextEscalationAt)
	assert.True(t, epoch.Add(46*time.Minute).Equal(*state.NextEscalationAt), "next escalation at %s", state.NextEscalationAt)

	restartClock.Step(26 * time.Minute)
	require.Eventually(t, func() bool {
		s, err := restarted.GetEscalationState(inc.ID)
		return err == nil && s.IsComplete
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, notifier.count(), "restoring does not re-notify the current level")
}

func TestManager_ReconstructAcknowledged(t *testing.T) {
	f := newManagerFixture(t, twoLevelPolicy("t1"))
	inc := saveIncident(t, f.incidents, "inc-1", "t1")

	_, err := f.manager.StartEscalation(t.Context(), inc, severity.High, nil)
	require.NoError(t, err)
	_, err = f.manager.AcknowledgeEscalation(t.Context(), inc.ID, "operator-1", "")
	require.NoError(t, err)
	f.manager.Stop()

	restarted := NewManager(NewMatcher(f.policies), f.policies, f.incidents, nil, logger.NewNop(),
		WithClock(testingclock.NewFakeClock(epoch.Add(time.Hour))))
	t.Cleanup(restarted.Stop)

	stored, err := f.incidents.GetIncident(t.Context(), inc.ID)
	require.NoError(t, err)
	state, err := restarted.Reconstruct(t.Context(), stored)
	require.NoError(t, err)
	assert.True(t, state.Acknowledged)
	assert.Equal(t, "operator-1", state.AcknowledgedBy)
	assert.Nil(t, state.NextEscalationAt)
	assert.Equal(t, 0, restarted.sched.pending())
}

func TestManager_ReconstructWithoutHistory(t *testing.T) {
	f := newManagerFixture(t, twoLevelPolicy("t1"))
	inc := saveIncident(t, f.incidents, "inc-1", "t1")

	_, err := f.manager.Reconstruct(t.Context(), inc)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))
}
