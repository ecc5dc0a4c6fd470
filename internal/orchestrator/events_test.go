package orchestrator

import (
	"testing"
	"time"

	"github.com/mikey/llm-mail-triage/internal/core"
)

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus(nil)
	fast := bus.Subscribe(0)
	slow := bus.Subscribe(0)

	const n = 200
	for i := 0; i < n; i++ {
		bus.Publish(core.Event{Kind: core.EventProgress, Processed: i})
	}

	for _, sub := range []*Subscription{fast, slow} {
		for i := 0; i < n; i++ {
			select {
			case e := <-sub.C:
				if e.Processed != i {
					t.Fatalf("event %d arrived at position %d", e.Processed, i)
				}
				if e.Time.IsZero() {
					t.Fatal("event time not stamped")
				}
			case <-time.After(5 * time.Second):
				t.Fatalf("timed out waiting for event %d", i)
			}
		}
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(nil)
	sub := bus.Subscribe(1)
	bus.Unsubscribe(sub)

	select {
	case _, ok := <-sub.C:
		if ok {
			// a queued event may still be drained before the close
			if _, ok := <-sub.C; ok {
				t.Fatal("channel still open after Unsubscribe")
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("channel not closed")
	}

	// publishing after unsubscribe must not panic or block
	bus.Publish(core.Event{Kind: core.EventRunCompleted})
	bus.Unsubscribe(sub)
}

func TestBusCloseStopsAllSubscribers(t *testing.T) {
	bus := NewBus(nil)
	a := bus.Subscribe(0)
	b := bus.Subscribe(0)
	bus.Close()

	for _, sub := range []*Subscription{a, b} {
		select {
		case <-sub.C:
		case <-time.After(5 * time.Second):
			t.Fatal("subscription not closed")
		}
	}
}
