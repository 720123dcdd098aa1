package events

import (
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var mu sync.Mutex
	received := []Event{}

	unsub := bus.Subscribe(EventHandoffStarted, func(e Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	})
	defer unsub()

	// Publish event
	bus.Publish(EventHandoffStarted, map[string]any{
		"handoff_id": "hof_1700000000_0000abcd",
	})

	// Wait for async delivery
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if len(received) != 1 {
		t.Fatalf("expected 1 event, got %d", len(received))
	}

	if received[0].Type != EventHandoffStarted {
		t.Errorf("expected type %s, got %s", EventHandoffStarted, received[0].Type)
	}

	if id, ok := received[0].Data["handoff_id"].(string); !ok || id != "hof_1700000000_0000abcd" {
		t.Errorf("expected handoff_id hof_1700000000_0000abcd, got %v", received[0].Data["handoff_id"])
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var mu1, mu2 sync.Mutex
	received1 := []Event{}
	received2 := []Event{}

	unsub1 := bus.Subscribe(EventHandoffStarted, func(e Event) {
		mu1.Lock()
		received1 = append(received1, e)
		mu1.Unlock()
	})
	defer unsub1()

	unsub2 := bus.Subscribe(EventHandoffStarted, func(e Event) {
		mu2.Lock()
		received2 = append(received2, e)
		mu2.Unlock()
	})
	defer unsub2()

	bus.Publish(EventHandoffStarted, map[string]any{
		"handoff_id": "hof_1700000000_0000beef",
	})

	time.Sleep(50 * time.Millisecond)

	mu1.Lock()
	count1 := len(received1)
	mu1.Unlock()

	mu2.Lock()
	count2 := len(received2)
	mu2.Unlock()

	if count1 != 1 {
		t.Errorf("subscriber 1 expected 1 event, got %d", count1)
	}
	if count2 != 1 {
		t.Errorf("subscriber 2 expected 1 event, got %d", count2)
	}
}

func TestBus_NonBlocking(t *testing.T) {
	bus := NewBus(1)
	defer bus.Close()

	// Subscribe with slow consumer
	unsub := bus.Subscribe(EventHandoffStarted, func(e Event) {
		time.Sleep(100 * time.Millisecond)
	})
	defer unsub()

	// Publish multiple events rapidly
	start := time.Now()
	for i := 0; i < 10; i++ {
		bus.Publish(EventHandoffStarted, map[string]any{
			"id": i,
		})
	}
	elapsed := time.Since(start)

	// Publishing should complete quickly even though consumer is slow
	if elapsed > 50*time.Millisecond {
		t.Errorf("publish blocked for %v, expected non-blocking", elapsed)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var mu sync.Mutex
	count := 0

	unsub := bus.Subscribe(EventHandoffStarted, func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	bus.Publish(EventHandoffStarted, map[string]any{})
	time.Sleep(50 * time.Millisecond)

	unsub()
	time.Sleep(10 * time.Millisecond)

	bus.Publish(EventHandoffStarted, map[string]any{})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if count != 1 {
		t.Errorf("expected 1 event before unsubscribe, got %d", count)
	}
}

func TestBus_PanicRecovery(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var mu sync.Mutex
	received := false

	// Subscriber that panics
	unsub1 := bus.Subscribe(EventHandoffStarted, func(e Event) {
		panic("test panic")
	})
	defer unsub1()

	// Subscriber that should still receive events
	unsub2 := bus.Subscribe(EventHandoffStarted, func(e Event) {
		mu.Lock()
		received = true
		mu.Unlock()
	})
	defer unsub2()

	bus.Publish(EventHandoffStarted, map[string]any{})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if !received {
		t.Error("second subscriber did not receive event after first panicked")
	}
}

func TestBus_EventTypes(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var mu sync.Mutex
	started := 0
	completed := 0

	unsub1 := bus.Subscribe(EventHandoffStarted, func(e Event) {
		mu.Lock()
		started++
		mu.Unlock()
	})
	defer unsub1()

	unsub2 := bus.Subscribe(EventHandoffCompleted, func(e Event) {
		mu.Lock()
		completed++
		mu.Unlock()
	})
	defer unsub2()

	bus.Publish(EventHandoffStarted, map[string]any{})
	bus.Publish(EventHandoffCompleted, map[string]any{})
	bus.Publish(EventHandoffStarted, map[string]any{})

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if started != 2 {
		t.Errorf("expected 2 handoff_started events, got %d", started)
	}
	if completed != 1 {
		t.Errorf("expected 1 handoff_completed event, got %d", completed)
	}
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var mu sync.Mutex
	seen := map[EventType]int{}
	unsub := bus.SubscribeAll(func(e Event) {
		mu.Lock()
		seen[e.Type]++
		mu.Unlock()
	})

	bus.Publish(EventHandoffCreated, nil)
	bus.Publish(EventInputRequested, nil)
	bus.Publish(EventHandoffTimedOut, nil)
	time.Sleep(50 * time.Millisecond)
	unsub()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 {
		t.Errorf("expected 3 distinct event types, got %v", seen)
	}
}

func TestBus_NilPublish(t *testing.T) {
	var bus *Bus
	bus.Publish(EventHandoffCreated, map[string]any{"handoff_id": "x"})
}

func BenchmarkBus_Publish(b *testing.B) {
	bus := NewBus(100)
	defer bus.Close()

	// Add some subscribers
	for i := 0; i < 5; i++ {
		bus.Subscribe(EventHandoffStarted, func(e Event) {
			// no-op
		})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bus.Publish(EventHandoffStarted, map[string]any{
			"handoff_id": "hof_1700000000_0000abcd",
		})
	}
}

func TestBus_CloseDrainsQueuedEvents(t *testing.T) {
	bus := NewBus(10)

	var mu sync.Mutex
	count := 0
	bus.Subscribe(EventHandoffCompleted, func(e Event) {
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		count++
		mu.Unlock()
	})
	for i := 0; i < 5; i++ {
		bus.Publish(EventHandoffCompleted, map[string]any{"n": i})
	}
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	if count != 5 {
		t.Errorf("expected 5 delivered before Close returned, got %d", count)
	}
	bus.Close()
}
