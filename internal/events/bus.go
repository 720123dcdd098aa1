package events

import (
	"sync"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	// EventHandoffCreated is published when a requester creates a handoff.
	EventHandoffCreated EventType = "handoff_created"
	// EventHandoffAccepted is published when a receiver accepts a handoff.
	EventHandoffAccepted EventType = "handoff_accepted"
	// EventHandoffStarted is published when a receiver begins work.
	EventHandoffStarted EventType = "handoff_started"
	// EventInputRequested is published when a receiver asks the requester a question.
	EventInputRequested EventType = "input_requested"
	// EventInputProvided is published when the requester answers.
	EventInputProvided EventType = "input_provided"
	// EventInputExpired is published when an input request times out unanswered.
	EventInputExpired EventType = "input_expired"
	// EventHandoffCompleted is published on successful completion.
	EventHandoffCompleted EventType = "handoff_completed"
	// EventHandoffFailed is published when a receiver abandons or fails a handoff.
	EventHandoffFailed EventType = "handoff_failed"
	// EventHandoffTimedOut is published when the sweeper expires a handoff.
	EventHandoffTimedOut EventType = "handoff_timed_out"
)

// Event represents a handoff lifecycle event.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]any
}

// Subscriber is a function that receives events.
type Subscriber func(Event)

// Bus is a non-blocking event bus using Publish/Subscribe pattern.
// Events are delivered asynchronously via buffered channels.
// If a subscriber's channel is full, the event is dropped silently.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
	running     sync.WaitGroup
}

// NewBus creates a new event bus with the specified buffer size per subscriber.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers fn for eventType and returns an unsubscribe function.
// fn runs on a dedicated goroutine; a panicking subscriber does not stop delivery.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	b.running.Add(1)
	go func() {
		defer b.running.Done()
		for event := range ch {
			func() {
				defer func() { _ = recover() }()
				fn(event)
			}()
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			subs := b.subscribers[eventType]
			for i, subCh := range subs {
				if subCh == ch {
					b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
					close(ch)
					break
				}
			}
		})
	}
}

// SubscribeAll registers fn for every handoff event type.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	var unsubs []func()
	for _, et := range AllEventTypes() {
		unsubs = append(unsubs, b.Subscribe(et, fn))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func AllEventTypes() []EventType {
	return []EventType{
		EventHandoffCreated,
		EventHandoffAccepted,
		EventHandoffStarted,
		EventInputRequested,
		EventInputProvided,
		EventInputExpired,
		EventHandoffCompleted,
		EventHandoffFailed,
		EventHandoffTimedOut,
	}
}

// Publish sends an event to all subscribers of the given type without blocking.
// A nil *Bus is a no-op so publishers need not check for one.
func (b *Bus) Publish(eventType EventType, data map[string]any) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	for _, ch := range b.subscribers[eventType] {
		select {
		case ch <- event:
		default:
			// subscriber is behind; drop rather than block the state machine
		}
	}
}

// Close closes all subscriber channels, clears subscriptions and waits for
// subscribers to finish the events already queued.
func (b *Bus) Close() {
	b.mu.Lock()
	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
	b.mu.Unlock()
	b.running.Wait()
}
