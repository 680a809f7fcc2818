package fanout

import (
	"fmt"
	"testing"

	"github.com/eventqueue/agent/internal/domain"
)

func TestPublish_PreservesOrderPerSubscriber(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)

	for i := 0; i < 5; i++ {
		hub.Publish(domain.StatusEvent{Message: fmt.Sprintf("m%d", i)})
	}

	for i := 0; i < 5; i++ {
		got := <-sub.C
		want := fmt.Sprintf("m%d", i)
		if got.Message != want {
			t.Fatalf("event %d = %q, want %q", i, got.Message, want)
		}
	}
}

func TestPublish_ReachesAllSubscribers(t *testing.T) {
	hub := NewHub()
	a := hub.Subscribe()
	b := hub.Subscribe()
	defer hub.Unsubscribe(a)
	defer hub.Unsubscribe(b)

	hub.Publish(domain.StatusEvent{Message: "hello", ReloadCalls: true})

	for _, sub := range []*Subscriber{a, b} {
		ev := <-sub.C
		if ev.Message != "hello" || !ev.ReloadCalls {
			t.Fatalf("got %+v", ev)
		}
	}
}

func TestPublish_DropsWhenBufferFull(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)

	// Nobody drains: overflow must be dropped, not block the publisher.
	for i := 0; i < subscriberBuffer+10; i++ {
		hub.Publish(domain.StatusEvent{Message: "x"})
	}

	if got := len(sub.C); got != subscriberBuffer {
		t.Fatalf("buffered %d events, want %d", got, subscriberBuffer)
	}
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe()
	hub.Unsubscribe(sub)

	if _, ok := <-sub.C; ok {
		t.Fatal("channel still open after unsubscribe")
	}
	if hub.SubscriberCount() != 0 {
		t.Fatalf("subscriber count = %d", hub.SubscriberCount())
	}

	// Publishing after unsubscribe must not panic on the closed channel.
	hub.Publish(domain.StatusEvent{Message: "late"})

	// Double unsubscribe is a no-op.
	hub.Unsubscribe(sub)
}
