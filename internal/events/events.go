// Package events carries download lifecycle notifications from sessions to observers.
package events

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rescale/megadl/internal/constants"
)

// EventType names a kind of session notification.
type EventType string

const (
	EventStateChange EventType = "state_change" // session moved between states
	EventProgress    EventType = "progress"     // bytes written so far
	EventRetry       EventType = "retry"        // whole session restarted after a failure
)

// Event is implemented by every notification on the bus.
type Event interface {
	Type() EventType
	Timestamp() time.Time
	File() string
}

// BaseEvent holds the fields shared by all events.
type BaseEvent struct {
	EventType EventType
	Time      time.Time
	FileID    string
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }
func (e BaseEvent) File() string         { return e.FileID }

func base(t EventType, fileID string) BaseEvent {
	return BaseEvent{EventType: t, Time: time.Now(), FileID: fileID}
}

type StateChangeEvent struct {
	BaseEvent
	From string
	To   string
	Err  error // set when To is the failed state
}

type ProgressEvent struct {
	BaseEvent
	BytesDone  int64
	BytesTotal int64
}

// RetryEvent is published before a failed session is rebuilt and run again.
type RetryEvent struct {
	BaseEvent
	Attempt int
	Err     error
}

type subscription struct {
	ch    chan Event
	types []EventType // empty means every type
}

func (s *subscription) wants(t EventType) bool {
	return len(s.types) == 0 || slices.Contains(s.types, t)
}

// EventBus fans events out to buffered subscriber channels. Publishing
// never blocks; a full subscriber misses the event.
type EventBus struct {
	mu      sync.RWMutex
	subs    []*subscription
	buffer  int
	closed  bool
	dropped atomic.Int64
}

// NewEventBus creates a bus whose subscriber channels hold bufferSize events,
// clamped to the configured bounds.
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	return &EventBus{buffer: min(bufferSize, constants.EventBusMaxBuffer)}
}

// Subscribe returns a channel receiving events of the given types, or of
// every type when none are given. The channel is closed by Unsubscribe or
// Close; subscribing to a closed bus yields a closed channel.
func (eb *EventBus) Subscribe(types ...EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}
	sub := &subscription{ch: make(chan Event, eb.buffer), types: types}
	eb.subs = append(eb.subs, sub)
	return sub.ch
}

// Unsubscribe closes ch and stops delivering to it.
func (eb *EventBus) Unsubscribe(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	eb.subs = slices.DeleteFunc(eb.subs, func(s *subscription) bool {
		if (<-chan Event)(s.ch) != ch {
			return false
		}
		close(s.ch)
		return true
	})
}

// Publish delivers event to every interested subscriber. Publishing on a
// nil or closed bus is a no-op.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}
	for _, s := range eb.subs {
		if !s.wants(event.Type()) {
			continue
		}
		select {
		case s.ch <- event:
		default:
			eb.dropped.Add(1)
		}
	}
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

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (eb *EventBus) Dropped() int64 {
	return eb.dropped.Load()
}

func (eb *EventBus) PublishStateChange(fileID, from, to string, err error) {
	eb.Publish(&StateChangeEvent{BaseEvent: base(EventStateChange, fileID), From: from, To: to, Err: err})
}

func (eb *EventBus) PublishProgress(fileID string, done, total int64) {
	eb.Publish(&ProgressEvent{BaseEvent: base(EventProgress, fileID), BytesDone: done, BytesTotal: total})
}

func (eb *EventBus) PublishRetry(fileID string, attempt int, err error) {
	eb.Publish(&RetryEvent{BaseEvent: base(EventRetry, fileID), Attempt: attempt, Err: err})
}
