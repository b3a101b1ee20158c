package jobs

import (
	"fmt"
	"testing"
	"time"
)

func TestReliableSubscriberKeepsEveryEvent(t *testing.T) {
	bus := NewBus()
	ch := bus.SubscribeReliable()

	// Publish far more events than the channel buffers before anything
	// reads: none may be dropped and order must hold.
	const n = 500
	for i := 0; i < n; i++ {
		bus.Publish(Event{Type: EventTypeProgress, JobID: fmt.Sprintf("job-%d", i)})
	}

	for i := 0; i < n; i++ {
		select {
		case ev := <-ch:
			if want := fmt.Sprintf("job-%d", i); ev.JobID != want {
				t.Fatalf("event %d = %s, want %s", i, ev.JobID, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d of %d events", i, n)
		}
	}

	bus.Unsubscribe(ch)
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("unexpected event after unsubscribe")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}
}

func TestLossySubscriberNeverBlocksPublish(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	done := make(chan struct{})
	go func() {
		// Nobody reads ch; publishing must still complete.
		for i := 0; i < 500; i++ {
			bus.Publish(Event{Type: EventTypeProgress})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on an unread lossy subscriber")
	}
}
