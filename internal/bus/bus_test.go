package bus

import (
	"sync"
	"testing"
)

func TestPublishFanOut(t *testing.T) {
	b := New()
	var got1, got2 []string
	b.Subscribe("one", func(e Event) { got1 = append(got1, e.Name) })
	b.Subscribe("two", func(e Event) { got2 = append(got2, e.Name) })

	b.Publish(Event{Name: EventReplySent})
	b.Publish(Event{Name: EventError})

	if len(got1) != 2 || len(got2) != 2 {
		t.Fatalf("fan-out: got %v and %v", got1, got2)
	}
}

func TestSubscribeReplacesSameID(t *testing.T) {
	b := New()
	var first, second int
	b.Subscribe("h", func(Event) { first++ })
	b.Subscribe("h", func(Event) { second++ })

	b.Publish(Event{Name: EventConnected})

	if first != 0 || second != 1 {
		t.Fatalf("want the later handler only, got first=%d second=%d", first, second)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	var n int
	b.Subscribe("h", func(Event) { n++ })
	b.Unsubscribe("h")

	b.Publish(Event{Name: EventDisconnected})

	if n != 0 {
		t.Fatalf("unsubscribed handler fired %d times", n)
	}
}

func TestPublishFromHandler(t *testing.T) {
	// A handler may publish a follow-up event; this must not deadlock
	// because Publish releases the lock before invoking handlers.
	b := New()
	var names []string
	b.Subscribe("h", func(e Event) {
		names = append(names, e.Name)
		if e.Name == EventDisconnected {
			b.Publish(Event{Name: EventError})
		}
	})

	b.Publish(Event{Name: EventDisconnected})

	if len(names) != 2 || names[1] != EventError {
		t.Fatalf("want follow-up event delivered, got %v", names)
	}
}

func TestConcurrentPublish(t *testing.T) {
	b := New()
	var mu sync.Mutex
	var n int
	b.Subscribe("h", func(Event) {
		mu.Lock()
		n++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Publish(Event{Name: EventReplySent})
			}
		}()
	}
	wg.Wait()

	if n != 800 {
		t.Fatalf("want 800 deliveries, got %d", n)
	}
}
