// Package events records raffle, randomness and keeper notifications.
// The log keeps the most recent events in memory and fans every event out to
// subscribers, which is how tests, the websocket stream, the history recorder
// and the Redis publisher observe the raffle.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType classifies a notification.
type EventType string

const (
	// Raffle notifications
	EventRaffleEnter           EventType = "raffle.enter"
	EventRaffleWinnerRequested EventType = "raffle.winner_requested"
	EventRaffleWinnerPicked    EventType = "raffle.winner_picked"
	EventRafflePayoutFailed    EventType = "raffle.payout_failed"

	// Randomness provider notifications
	EventVRFSubscriptionCreated EventType = "vrf.subscription_created"
	EventVRFSubscriptionFunded  EventType = "vrf.subscription_funded"
	EventVRFConsumerAdded       EventType = "vrf.consumer_added"
	EventVRFConsumerRemoved     EventType = "vrf.consumer_removed"
	EventVRFWordsRequested      EventType = "vrf.random_words_requested"
	EventVRFWordsFulfilled      EventType = "vrf.random_words_fulfilled"
	EventVRFFulfillmentFailed   EventType = "vrf.fulfillment_failed"

	// Keeper notifications
	EventUpkeepPerformed EventType = "keeper.upkeep_performed"
	EventUpkeepFailed    EventType = "keeper.upkeep_failed"
)

// Event is a single notification.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`

	RaffleID    string `json:"raffle_id,omitempty"`
	Round       uint64 `json:"round,omitempty"`
	Participant string `json:"participant,omitempty"`
	Winner      string `json:"winner,omitempty"`
	RequestID   uint64 `json:"request_id,omitempty"`
	Amount      int64  `json:"amount,omitempty"`

	Error    string            `json:"error,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// String returns the JSON form of the event.
func (e Event) String() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// Handler processes events as they occur.
type Handler func(Event)

// Filter decides whether an event should reach a handler.
type Filter func(Event) bool

// Publisher accepts events. *Log is the in-process implementation.
type Publisher interface {
	Log(event Event)
}

// Log is a thread-safe ring buffer of events with subscriber fan-out.
type Log struct {
	mu       sync.RWMutex
	events   []Event
	size     int
	head     int
	count    int
	handlers []handlerEntry
	nextID   int64
}

type handlerEntry struct {
	id      int64
	filter  Filter
	handler Handler
}

// NewLog creates a log retaining the last size events.
func NewLog(size int) *Log {
	if size <= 0 {
		size = 1000
	}
	return &Log{
		events: make([]Event, size),
		size:   size,
	}
}

// Log stores the event and notifies handlers outside the lock.
func (l *Log) Log(event Event) {
	l.mu.Lock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	l.events[l.head] = event
	l.head = (l.head + 1) % l.size
	if l.count < l.size {
		l.count++
	}

	handlers := make([]handlerEntry, len(l.handlers))
	copy(handlers, l.handlers)
	l.mu.Unlock()

	for _, h := range handlers {
		if h.filter == nil || h.filter(event) {
			h.handler(event)
		}
	}
}

// Subscribe registers a handler for all events and returns an unsubscribe func.
func (l *Log) Subscribe(handler Handler) func() {
	return l.SubscribeFiltered(nil, handler)
}

// SubscribeFiltered registers a handler that only sees events passing filter.
func (l *Log) SubscribeFiltered(filter Filter, handler Handler) func() {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.handlers = append(l.handlers, handlerEntry{id: id, filter: filter, handler: handler})
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, h := range l.handlers {
			if h.id == id {
				l.handlers = append(l.handlers[:i], l.handlers[i+1:]...)
				return
			}
		}
	}
}

// Recent returns up to n events, newest first.
func (l *Log) Recent(n int) []Event {
	return l.collect(n, nil)
}

// RecentByType returns up to n events of the given type, newest first.
func (l *Log) RecentByType(eventType EventType, n int) []Event {
	return l.collect(n, func(e Event) bool { return e.Type == eventType })
}

// RecentByRaffle returns up to n events for a raffle, newest first.
func (l *Log) RecentByRaffle(raffleID string, n int) []Event {
	return l.collect(n, func(e Event) bool { return e.RaffleID == raffleID })
}

func (l *Log) collect(n int, filter Filter) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || l.count == 0 {
		return nil
	}

	var result []Event
	for i := 0; i < l.count && len(result) < n; i++ {
		idx := (l.head - 1 - i + l.size) % l.size
		if filter == nil || filter(l.events[idx]) {
			result = append(result, l.events[idx])
		}
	}
	return result
}

// Count returns the number of retained events.
func (l *Log) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

// Clear drops all retained events. Subscribers stay registered.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = make([]Event, l.size)
	l.head = 0
	l.count = 0
}

// TypeFilter matches any of the given types.
func TypeFilter(types ...EventType) Filter {
	set := make(map[EventType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(e Event) bool {
		_, ok := set[e.Type]
		return ok
	}
}

// Discard is a Publisher that drops everything.
type Discard struct{}

// Log implements Publisher.
func (Discard) Log(Event) {}
