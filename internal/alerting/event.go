package alerting

import (
	"sync"
	"sync/atomic"
	"time"
)

// FactHandler processes a published fact context.
type FactHandler func(fc *FactContext)

const (
	// factBusBufferSize is the capacity of the async fact channel.
	// Facts are dropped if the buffer is full to avoid blocking callers.
	factBusBufferSize = 1000
)

// FactBus is an async pub/sub for incoming readings. Publish is non-blocking:
// facts are sent to a buffered channel and processed by a worker goroutine,
// so transport callbacks are never blocked by evaluation or notification I/O.
type FactBus struct {
	handlers []FactHandler
	mu       sync.RWMutex
	factCh   chan *FactContext
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	dropped  atomic.Uint64
}

// NewFactBus creates a new fact bus and starts its worker.
func NewFactBus() *FactBus {
	b := &FactBus{
		handlers: make([]FactHandler, 0),
		factCh:   make(chan *FactContext, factBusBufferSize),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go b.processLoop()
	return b
}

// Subscribe registers a handler.
func (b *FactBus) Subscribe(handler FactHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Publish enqueues a fact for async processing. It reports false when the
// fact was dropped because the bus is stopped or its buffer is full.
func (b *FactBus) Publish(fc *FactContext) bool {
	select {
	case <-b.stopCh:
		return false
	default:
	}

	if fc.Timestamp.IsZero() {
		fc.Timestamp = time.Now()
	}

	select {
	case b.factCh <- fc:
		return true
	default:
		b.dropped.Add(1)
		return false
	}
}

// Dropped returns how many facts were discarded because the buffer was full.
func (b *FactBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Stop drains queued facts and shuts down the worker. Safe to call multiple times.
func (b *FactBus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	<-b.doneCh
}

func (b *FactBus) processLoop() {
	defer close(b.doneCh)
	for {
		select {
		case fc := <-b.factCh:
			b.dispatch(fc)
		case <-b.stopCh:
			// Drain remaining facts before exiting
			for {
				select {
				case fc := <-b.factCh:
					b.dispatch(fc)
				default:
					return
				}
			}
		}
	}
}

func (b *FactBus) dispatch(fc *FactContext) {
	b.mu.RLock()
	handlers := make([]FactHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, handler := range handlers {
		safeCall(handler, fc)
	}
}

// safeCall keeps a panicking handler from killing the bus goroutine. Handlers
// do their own logging.
func safeCall(handler FactHandler, fc *FactContext) {
	defer func() {
		recover() //nolint:errcheck // intentionally swallowed to keep bus alive
	}()
	handler(fc)
}
