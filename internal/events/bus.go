// Package events carries row and workflow progress from the orchestrator to
// the HTTP event stream, the CLI progress printer, the clipboard watcher and
// the metrics recorder.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is implemented by every bus message.
type Event interface {
	EventType() string
	Timestamp() time.Time
	SheetID() string
}

// BaseEvent holds the fields every event carries.
type BaseEvent struct {
	Type  string    `json:"type"`
	Time  time.Time `json:"timestamp"`
	Sheet string    `json:"sheet_id,omitempty"`
}

func (e BaseEvent) EventType() string    { return e.Type }
func (e BaseEvent) Timestamp() time.Time { return e.Time }
func (e BaseEvent) SheetID() string      { return e.Sheet }

// NewBaseEvent stamps an event of eventType for sheetID with the current time.
func NewBaseEvent(eventType, sheetID string) BaseEvent {
	return BaseEvent{Type: eventType, Time: time.Now(), Sheet: sheetID}
}

const prioritySubscriberBuffer = 50

// subscription is one consumer. A lossless subscription receives only
// priority events and is never dropped from.
type subscription struct {
	ch       chan Event
	filter   map[string]struct{}
	lossless bool
}

func (s *subscription) wants(eventType string) bool {
	if len(s.filter) == 0 {
		return true
	}
	_, ok := s.filter[eventType]
	return ok
}

// offer delivers e without blocking. When the buffer is full the oldest
// queued event gives way; it reports how many events were lost.
func (s *subscription) offer(e Event) int64 {
	select {
	case s.ch <- e:
		return 0
	default:
	}

	var lost int64
	select {
	case <-s.ch:
		lost++
	default:
	}
	select {
	case s.ch <- e:
	default:
		lost++
	}
	return lost
}

// EventBus fans events out to subscribers. Ordinary subscribers have a
// bounded buffer that drops the oldest event under pressure; priority
// subscribers block the publisher instead.
type EventBus struct {
	mu      sync.RWMutex
	subs    []*subscription
	size    int
	dropped atomic.Int64
	closed  bool
}

// New creates a bus whose ordinary subscribers buffer bufferSize events.
func New(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &EventBus{size: bufferSize}
}

// Subscribe returns a channel of events of the given types, or of every
// type when none are given.
func (eb *EventBus) Subscribe(types ...string) <-chan Event {
	filter := make(map[string]struct{}, len(types))
	for _, t := range types {
		filter[t] = struct{}{}
	}
	return eb.add(&subscription{ch: make(chan Event, eb.size), filter: filter})
}

// SubscribePriority returns a channel that receives every priority event
// (terminal row outcomes, stops). The publisher waits for it to drain.
func (eb *EventBus) SubscribePriority() <-chan Event {
	return eb.add(&subscription{ch: make(chan Event, prioritySubscriberBuffer), lossless: true})
}

func (eb *EventBus) add(s *subscription) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		close(s.ch)
		return s.ch
	}
	eb.subs = append(eb.subs, s)
	return s.ch
}

// Unsubscribe removes the subscription behind ch and closes ch.
func (eb *EventBus) Unsubscribe(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	kept := eb.subs[:0]
	for _, s := range eb.subs {
		if s.ch == ch {
			close(s.ch)
			continue
		}
		kept = append(kept, s)
	}
	eb.subs = kept
}

// Publish delivers event to matching ordinary subscribers without blocking.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.closed {
		return
	}
	eb.fanOut(event, false)
}

// PublishPriority delivers event like Publish and additionally waits until
// every priority subscriber has buffered it.
func (eb *EventBus) PublishPriority(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.closed {
		return
	}
	eb.fanOut(event, true)
}

func (eb *EventBus) fanOut(event Event, priority bool) {
	t := event.EventType()
	for _, s := range eb.subs {
		switch {
		case s.lossless:
			if priority {
				s.ch <- event
			}
		case s.wants(t):
			if lost := s.offer(event); lost > 0 {
				eb.dropped.Add(lost)
			}
		}
	}
}

// DroppedCount returns how many events slow subscribers have lost.
func (eb *EventBus) DroppedCount() int64 {
	return eb.dropped.Load()
}

// Close closes every subscriber channel. Later publishes are ignored.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return
	}
	eb.closed = true
	for _, s := range eb.subs {
		close(s.ch)
	}
	eb.subs = nil
}
