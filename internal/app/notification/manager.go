// Package notification fans out engine change notifications to
// registered observers, decoupling the core from any rendering layer.
package notification

import (
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

// Kind identifies what changed.
type Kind int

const (
	KindQueueChanged Kind = iota
	KindSuggestionChanged
	KindTrackStarted
	KindTrackEnded
	KindEnvelopeChanged
	KindParamsChanged
)

// String returns the string representation of the notification kind.
func (k Kind) String() string {
	switch k {
	case KindQueueChanged:
		return "queue_changed"
	case KindSuggestionChanged:
		return "suggestion_changed"
	case KindTrackStarted:
		return "track_started"
	case KindTrackEnded:
		return "track_ended"
	case KindEnvelopeChanged:
		return "envelope_changed"
	case KindParamsChanged:
		return "params_changed"
	default:
		return "unknown"
	}
}

// Notification describes a single observed change.
type Notification struct {
	SequenceNo uint64
	Kind       Kind
	TrackID    string // Track concerned, empty for some kinds
	At         time.Time
}

// Observer receives notifications. Callbacks must not block; slow
// consumers should hand off to their own queue.
type Observer func(Notification)

// Manager manages observer registrations and broadcasting.
type Manager struct {
	mu        sync.RWMutex
	observers map[string]Observer

	sequenceMu sync.Mutex
	sequenceNo uint64
}

// NewManager creates a notification manager.
func NewManager() *Manager {
	return &Manager{
		observers: make(map[string]Observer),
	}
}

// Subscribe registers an observer and returns its subscription ID.
func (m *Manager) Subscribe(obs Observer) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	m.observers[id] = obs
	return id
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.observers, subscriptionID)
}

// Broadcast stamps the notification with the next sequence number and
// delivers it to every observer.
func (m *Manager) Broadcast(n Notification) {
	m.sequenceMu.Lock()
	m.sequenceNo++
	n.SequenceNo = m.sequenceNo
	m.sequenceMu.Unlock()

	if n.At.IsZero() {
		n.At = time.Now()
	}

	m.mu.RLock()
	observers := make([]Observer, 0, len(m.observers))
	for _, obs := range m.observers {
		observers = append(observers, obs)
	}
	m.mu.RUnlock()

	zlog.Debug().Msgf("notification: broadcasting %s seq=%d", n.Kind, n.SequenceNo)
	for _, obs := range observers {
		obs(n)
	}
}

// ObserverCount returns the number of registered observers.
func (m *Manager) ObserverCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.observers)
}

// Close drops all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = make(map[string]Observer)
}
