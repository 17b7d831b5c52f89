package notification

import (
	"context"
	"sync"
	"time"
)

// Rolling windows used by rate limits.
const (
	hourWindow = time.Hour
	dayWindow  = 24 * time.Hour
)

// Usage is the number of sends in the rolling hour and day.
type Usage struct {
	LastHour int
	LastDay  int
}

// RateLimitStore counts sends per user and channel. Counters are independent
// of preferences, so editing or removing a limit does not refund quota.
type RateLimitStore interface {
	Usage(ctx context.Context, userID string, ch Channel, now time.Time) (Usage, error)
	Record(ctx context.Context, userID string, ch Channel, now time.Time) error
	Reset(ctx context.Context, userID string) error
}

// MemoryRateLimitStore keeps send timestamps in process memory.
type MemoryRateLimitStore struct {
	mu    sync.Mutex
	sends map[string]map[Channel][]time.Time
}

// NewMemoryRateLimitStore creates an empty store.
func NewMemoryRateLimitStore() *MemoryRateLimitStore {
	return &MemoryRateLimitStore{sends: make(map[string]map[Channel][]time.Time)}
}

// Usage implements RateLimitStore.
func (s *MemoryRateLimitStore) Usage(_ context.Context, userID string, ch Channel, now time.Time) (Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	times := s.pruneLocked(userID, ch, now)
	var u Usage
	for _, t := range times {
		if now.Sub(t) < hourWindow {
			u.LastHour++
		}
	}
	u.LastDay = len(times)
	return u, nil
}

// Record implements RateLimitStore.
func (s *MemoryRateLimitStore) Record(_ context.Context, userID string, ch Channel, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	times := s.pruneLocked(userID, ch, now)
	if s.sends[userID] == nil {
		s.sends[userID] = make(map[Channel][]time.Time)
	}
	s.sends[userID][ch] = append(times, now)
	return nil
}

// Reset implements RateLimitStore.
func (s *MemoryRateLimitStore) Reset(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sends, userID)
	return nil
}

// pruneLocked drops timestamps older than a day. s.mu must be held.
func (s *MemoryRateLimitStore) pruneLocked(userID string, ch Channel, now time.Time) []time.Time {
	times := s.sends[userID][ch]
	i := 0
	for i < len(times) && now.Sub(times[i]) >= dayWindow {
		i++
	}
	if i > 0 {
		times = append([]time.Time(nil), times[i:]...)
		s.sends[userID][ch] = times
	}
	return times
}
