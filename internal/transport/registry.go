package transport

import (
	"sort"
	"sync"
)

// Origin tells which transport delivered an update.
type Origin string

const (
	OriginPush Origin = "push"
	OriginPoll Origin = "poll"
)

// Update is an inbound value after it went through the reconciliation sink.
type Update struct {
	DeviceID string
	Value    float64
	Applied  bool
	Origin   Origin
}

// Handler receives updates for one device.
type Handler func(Update)

// Registry is a publish/subscribe table keyed by device id. The first
// subscriber of a device triggers onFirst, the last unsubscribe onLast.
// Hooks run with the registry lock held so watch/unwatch calls for one
// device are never reordered.
type Registry struct {
	mu      sync.Mutex
	subs    map[string]map[uint64]Handler
	nextID  uint64
	onFirst func(deviceID string)
	onLast  func(deviceID string)
}

func NewRegistry(onFirst, onLast func(deviceID string)) *Registry {
	return &Registry{
		subs:    make(map[string]map[uint64]Handler),
		onFirst: onFirst,
		onLast:  onLast,
	}
}

// Subscribe registers h for deviceID and returns its cancel func. Calling the
// cancel func more than once is a no-op.
func (r *Registry) Subscribe(deviceID string, h Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	handlers, ok := r.subs[deviceID]
	if !ok {
		handlers = make(map[uint64]Handler)
		r.subs[deviceID] = handlers
	}
	handlers[id] = h
	if !ok && r.onFirst != nil {
		r.onFirst(deviceID)
	}

	var once sync.Once
	return func() {
		once.Do(func() { r.unsubscribe(deviceID, id) })
	}
}

func (r *Registry) unsubscribe(deviceID string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	handlers, ok := r.subs[deviceID]
	if !ok {
		return
	}
	delete(handlers, id)
	if len(handlers) > 0 {
		return
	}
	delete(r.subs, deviceID)
	if r.onLast != nil {
		r.onLast(deviceID)
	}
}

// Count returns the number of live subscriptions for deviceID.
func (r *Registry) Count(deviceID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs[deviceID])
}

// Devices returns the ids with at least one subscriber, sorted.
func (r *Registry) Devices() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.subs))
	for id := range r.subs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Publish fans u out to the handlers of u.DeviceID. Handlers run on the
// caller's goroutine, outside the registry lock.
func (r *Registry) Publish(u Update) {
	r.mu.Lock()
	handlers := make([]Handler, 0, len(r.subs[u.DeviceID]))
	for _, h := range r.subs[u.DeviceID] {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()

	for _, h := range handlers {
		h(u)
	}
}
