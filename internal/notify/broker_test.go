package notify

import (
	"testing"
	"time"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := NewBroker()
	a := b.Subscribe()
	c := b.Subscribe()
	defer b.Unsubscribe(a)
	defer b.Unsubscribe(c)

	b.Publish("notification", map[string]string{"id": "1"})

	for _, ch := range []chan Event{a, c} {
		select {
		case ev := <-ch:
			if ev.Name != "notification" {
				t.Errorf("event = %q", ev.Name)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber never received the event")
		}
	}
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*3; i++ {
			b.Publish("notification", i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("publish blocked on a full subscriber queue")
	}

	if got := len(ch); got != subscriberBuffer {
		t.Errorf("queued = %d, want the buffer cap %d", got, subscriberBuffer)
	}
}

func TestShutdownClosesSubscribers(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe()

	b.Shutdown()

	if _, ok := <-ch; ok {
		t.Error("subscriber channel must be closed on shutdown")
	}
	if b.SubscriberCount() != 0 {
		t.Error("no subscribers must remain after shutdown")
	}

	late := b.Subscribe()
	if _, ok := <-late; ok {
		t.Error("subscribing after shutdown must yield a closed channel")
	}
}
