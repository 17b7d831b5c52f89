package notification

import (
	"sync"
	"sync/atomic"
	"time"
)

// Delivery event types.
const (
	EventSent           = "notification.sent"
	EventDelivered      = "notification.delivered"
	EventFailed         = "notification.failed"
	EventBatchCompleted = "notification.batch.completed"
)

// DeliveryEvent reports a delivery outcome. Batch fields are set only on
// EventBatchCompleted.
type DeliveryEvent struct {
	Type       string    `json:"type"`
	RequestID  string    `json:"request_id,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	Channel    Channel   `json:"channel,omitempty"`
	Status     Status    `json:"status,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	MessageID  string    `json:"message_id,omitempty"`
	Error      string    `json:"error,omitempty"`
	RetryCount int       `json:"retry_count,omitempty"`

	BatchID string `json:"batch_id,omitempty"`
	Total   int    `json:"total,omitempty"`
	Success int    `json:"success,omitempty"`
	Failure int    `json:"failure,omitempty"`
	Skipped int    `json:"skipped,omitempty"`
}

// EventHandler receives delivery events.
type EventHandler func(DeliveryEvent)

const eventBusBufferSize = 1000

// EventBus fans delivery events out to subscribers on its own goroutine.
// Publish never blocks; events are dropped when the buffer is full.
type EventBus struct {
	mu       sync.RWMutex
	handlers []EventHandler
	eventCh  chan DeliveryEvent
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	dropped  atomic.Uint64
}

// NewEventBus creates a bus and starts its worker.
func NewEventBus() *EventBus {
	b := &EventBus{
		eventCh: make(chan DeliveryEvent, eventBusBufferSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go b.processLoop()
	return b
}

// Subscribe registers a handler.
func (b *EventBus) Subscribe(h EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish enqueues an event. It reports false when the event was dropped.
func (b *EventBus) Publish(ev DeliveryEvent) bool {
	if b == nil {
		return false
	}
	select {
	case <-b.stopCh:
		return false
	default:
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case b.eventCh <- ev:
		return true
	default:
		b.dropped.Add(1)
		return false
	}
}

// Dropped returns how many events were discarded.
func (b *EventBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Stop delivers queued events and stops the worker. Safe to call twice.
func (b *EventBus) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	<-b.doneCh
}

func (b *EventBus) processLoop() {
	defer close(b.doneCh)
	for {
		select {
		case ev := <-b.eventCh:
			b.dispatch(ev)
		case <-b.stopCh:
			for {
				select {
				case ev := <-b.eventCh:
					b.dispatch(ev)
				default:
					return
				}
			}
		}
	}
}

func (b *EventBus) dispatch(ev DeliveryEvent) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.handlers...)
	b.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() { _ = recover() }()
			h(ev)
		}()
	}
}
