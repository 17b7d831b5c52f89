package notification

import (
	"slices"
	"sync"
)

// Registry maps channels to their handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Channel]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Channel]Handler)}
}

// Register installs h for ch, replacing any previous handler.
func (r *Registry) Register(ch Channel, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[ch] = h
}

// Unregister removes the handler of ch.
func (r *Registry) Unregister(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, ch)
}

// Get returns the handler of ch.
func (r *Registry) Get(ch Channel) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[ch]
	return h, ok
}

// Channels lists channels that have a handler, in priority order.
func (r *Registry) Channels() []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Channel, 0, len(r.handlers))
	for _, ch := range AllChannels {
		if _, ok := r.handlers[ch]; ok {
			out = append(out, ch)
		}
	}
	return slices.Clip(out)
}
