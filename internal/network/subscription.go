package network

import (
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Subscription records one consumer's event interest on a connection:
// which event types to receive and, per data field, the literal value
// it must carry. An empty filter map matches unconditionally.
type Subscription struct {
	ID         string         `json:"id"`
	EventTypes []string       `json:"event_types"`
	Filters    map[string]any `json:"filters,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// SubscriptionRegistry is the per-connection table of event interest,
// consulted before any event is emitted outward. An event crosses the
// wire only when some subscription names its type and every filter of
// that subscription matches the event data exactly.
type SubscriptionRegistry struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

// NewSubscriptionRegistry creates an empty registry.
func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{subs: make(map[string]*Subscription)}
}

// Add stores a new subscription and returns its generated id.
func (r *SubscriptionRegistry) Add(eventTypes []string, filters map[string]any) *Subscription {
	sub := &Subscription{
		ID:         uuid.NewString(),
		EventTypes: eventTypes,
		Filters:    filters,
		CreatedAt:  time.Now(),
	}

	r.mu.Lock()
	r.subs[sub.ID] = sub
	r.mu.Unlock()
	return sub
}

// Remove deletes a subscription by id, reporting whether it existed.
func (r *SubscriptionRegistry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[id]; !ok {
		return false
	}
	delete(r.subs, id)
	return true
}

// HasSubscription reports whether any subscription names eventType.
func (r *SubscriptionRegistry) HasSubscription(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sub := range r.subs {
		if containsType(sub.EventTypes, eventType) {
			return true
		}
	}
	return false
}

// MatchesFilters reports whether at least one subscription naming
// eventType has all of its filters satisfied by eventData.
func (r *SubscriptionRegistry) MatchesFilters(eventType string, eventData map[string]any) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sub := range r.subs {
		if !containsType(sub.EventTypes, eventType) {
			continue
		}
		if filtersMatch(sub.Filters, eventData) {
			return true
		}
	}
	return false
}

// ShouldEmit combines the type and filter checks: true iff the event
// should actually be sent to the peer.
func (r *SubscriptionRegistry) ShouldEmit(eventType string, eventData map[string]any) bool {
	return r.HasSubscription(eventType) && r.MatchesFilters(eventType, eventData)
}

// List returns all stored subscriptions.
func (r *SubscriptionRegistry) List() []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, sub)
	}
	return out
}

// Clear removes every subscription. Used on administrative removal.
func (r *SubscriptionRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = make(map[string]*Subscription)
}

func containsType(types []string, eventType string) bool {
	for _, t := range types {
		if t == eventType {
			return true
		}
	}
	return false
}

// filtersMatch compares with DeepEqual: event data is decoded JSON and
// may hold maps or slices, which == would panic on.
func filtersMatch(filters map[string]any, data map[string]any) bool {
	for key, want := range filters {
		got, ok := data[key]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// nonScalarFilter returns the first filter key whose value is not a
// scalar. Filters are a flat key/value map; nested objects and arrays
// are rejected before a subscription is stored.
func nonScalarFilter(filters map[string]any) (string, bool) {
	for key, v := range filters {
		switch v.(type) {
		case nil, bool, string, float64, int, int64:
		default:
			return key, true
		}
	}
	return "", false
}
