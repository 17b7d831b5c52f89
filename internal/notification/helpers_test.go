package notification

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/entities"
	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/repository"
	"github.com/aquasentinel/aquasentinel/internal/errors"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// prefStore is an in-memory PreferenceSource.
type prefStore struct {
	mu    sync.Mutex
	prefs map[string]*entities.NotificationPreference
	err   error
}

func newPrefStore(prefs ...*entities.NotificationPreference) *prefStore {
	s := &prefStore{prefs: make(map[string]*entities.NotificationPreference)}
	for _, p := range prefs {
		s.prefs[p.UserID] = p
	}
	return s
}

func (s *prefStore) GetPreference(_ context.Context, userID string) (*entities.NotificationPreference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	p, ok := s.prefs[userID]
	if !ok {
		return nil, repository.ErrPreferenceNotFound
	}
	return p, nil
}

func (s *prefStore) put(p *entities.NotificationPreference) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[p.UserID] = p
}

// fixedClock returns a settable time source.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock(t time.Time) *fixedClock { return &fixedClock{now: t} }

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// countingHandler records every call and fails the first failFirst calls.
type countingHandler struct {
	mu        sync.Mutex
	calls     int
	failFirst int
	users     []string
	last      Rendered
}

func (h *countingHandler) Send(_ context.Context, userID string, msg Rendered, _ map[string]string) (SendResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	h.users = append(h.users, userID)
	h.last = msg
	if h.calls <= h.failFirst {
		return SendResult{Error: "provider unavailable"}, nil
	}
	return SendResult{Success: true, MessageID: "msg-" + userID}, nil
}

func (h *countingHandler) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func errorsIsPermanent(err error) bool {
	return errors.Is(err, ErrPermanentFailure)
}
