package progress

import "sync"

// Registry tracks the subscribers currently attached to each topic. Membership
// is non-owning: sessions own their subscribers and register them for the
// duration of a connection.
type Registry struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscriber]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{topics: make(map[string]map[*Subscriber]struct{})}
}

// Register adds sub to topic. Registering the same subscriber twice is a no-op.
func (r *Registry) Register(topic string, sub *Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.topics[topic]
	if !ok {
		set = make(map[*Subscriber]struct{})
		r.topics[topic] = set
	}
	set[sub] = struct{}{}
}

// Deregister removes sub from topic and reports whether it was present.
// Removing an absent subscriber is not an error. Emptied topics stay in the
// registry.
func (r *Registry) Deregister(topic string, sub *Subscriber) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.topics[topic]
	if !ok {
		return false
	}
	if _, ok := set[sub]; !ok {
		return false
	}
	delete(set, sub)
	return true
}

// Subscribers returns a point-in-time copy of topic's subscribers.
func (r *Registry) Subscribers(topic string) []*Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.topics[topic]
	out := make([]*Subscriber, 0, len(set))
	for sub := range set {
		out = append(out, sub)
	}
	return out
}

// Count returns the number of subscribers attached to topic.
func (r *Registry) Count(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[topic])
}

// Contains reports whether sub is registered on topic.
func (r *Registry) Contains(topic string, sub *Subscriber) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.topics[topic][sub]
	return ok
}
