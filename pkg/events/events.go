package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventHealthChanged     EventType = "health.changed"
	EventIssueDetected     EventType = "issue.detected"
	EventReleaseFound      EventType = "release.found"
	EventUpgradeScheduled  EventType = "upgrade.scheduled"
	EventUpgradeApproved   EventType = "upgrade.approved"
	EventUpgradeCancelled  EventType = "upgrade.cancelled"
	EventUpgradeStarted    EventType = "upgrade.started"
	EventUpgradeSucceeded  EventType = "upgrade.succeeded"
	EventUpgradeFailed     EventType = "upgrade.failed"
	EventUpgradeRolledBack EventType = "upgrade.rolled_back"
)

// Severity grades an event for notification channels
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// rank orders severities; unknown values rank lowest
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	}
	return 0
}

// AtLeast reports whether s is at least as severe as threshold
func (s Severity) AtLeast(threshold Severity) bool {
	return s.rank() >= threshold.rank()
}

// Event is a sentinel event
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Severity  Severity          `json:"severity"`
	Timestamp time.Time         `json:"timestamp"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewEvent creates an event with a fresh ID
func NewEvent(eventType EventType, severity Severity, message string) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Severity:  severity,
		Timestamp: time.Now(),
		Message:   message,
		Metadata:  make(map[string]string),
	}
}

// With sets a metadata key and returns the event
func (e *Event) With(key, value string) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// Publisher accepts events
type Publisher interface {
	Publish(event *Event)
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

const (
	queueSize      = 100
	subscriberSize = 50

	// DefaultHistory is how many delivered events Recent can return
	DefaultHistory = 100
)

// Broker fans published events out to subscribers and keeps a short
// history of what it delivered. A slow subscriber misses events rather
// than blocking the publisher.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]struct{}
	history     []*Event
	historySize int
	dropped     uint64

	queue    chan *Event
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewBroker creates a broker that remembers DefaultHistory events
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]struct{}),
		historySize: DefaultHistory,
		queue:       make(chan *Event, queueSize),
		stopCh:      make(chan struct{}),
	}
}

// Start begins delivering queued events
func (b *Broker) Start() {
	go b.run()
}

// Stop stops delivery. Later calls are no-ops.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe registers a new buffered subscriber
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, subscriberSize)
	b.subscribers[sub] = struct{}{}
	return sub
}

// Unsubscribe removes a subscriber and closes its channel
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish queues an event, filling in a missing ID and timestamp. It never
// blocks once the broker is stopped.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	select {
	case b.queue <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.queue:
			b.deliver(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) deliver(event *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.history = append(b.history, event)
	if over := len(b.history) - b.historySize; over > 0 {
		b.history = append([]*Event(nil), b.history[over:]...)
	}

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			b.dropped++
		}
	}
}

// Recent returns up to limit delivered events, newest first
func (b *Broker) Recent(limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if limit <= 0 || limit > len(b.history) {
		limit = len(b.history)
	}
	out := make([]Event, 0, limit)
	for i := len(b.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *b.history[i])
	}
	return out
}

// Dropped returns how many deliveries were skipped because a subscriber
// buffer was full
func (b *Broker) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
