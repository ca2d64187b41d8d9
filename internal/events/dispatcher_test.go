package events_test

import (
	"sync"
	"testing"
	"time"

	"github.com/example/sendcoord/internal/events"
)

func TestPublishInvokesMatchingSubscribers(t *testing.T) {
	d := events.New(0)

	var mu sync.Mutex
	var received []events.Event

	d.Subscribe(events.Sent, func(e events.Event) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e)
	})
	d.Subscribe(events.Failed, func(e events.Event) {
		t.Fatal("failed subscriber should not receive sent events")
	})

	d.Publish(events.Event{Kind: events.Sent, Fingerprint: "fp1"})

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0].Fingerprint != "fp1" {
		t.Fatalf("unexpected received events: %+v", received)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	d := events.New(0)

	calls := 0
	sub := d.Subscribe(events.Queued, func(events.Event) { calls++ })
	d.Publish(events.Event{Kind: events.Queued})
	d.Unsubscribe(sub)
	d.Publish(events.Event{Kind: events.Queued})

	if calls != 1 {
		t.Fatalf("want exactly one delivery before unsubscribe, got %d", calls)
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	d := events.New(10 * time.Millisecond)

	blocked := make(chan struct{})
	d.Subscribe(events.Sent, func(events.Event) {
		<-blocked
	})

	start := time.Now()
	d.Publish(events.Event{Kind: events.Sent})
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("Publish should return once the handler timeout elapses, took %v", elapsed)
	}
	close(blocked)
}
