package store

import (
	"testing"
	"time"
)

func TestHub_PublishReachesSubscriber(t *testing.T) {
	hub := NewHub()

	ch := hub.Subscribe()
	if ch == nil {
		t.Fatal("Subscribe() = nil")
	}
	defer hub.Unsubscribe(ch)

	go hub.Publish(Reading{Name: "temp", Timestamp: 1, Value: 20.1})

	select {
	case r := <-ch:
		if r.Name != "temp" || r.Value != 20.1 {
			t.Errorf("received %+v, want temp/20.1", r)
		}
	case <-time.After(1 * time.Second):
		t.Error("Subscribe() channel did not receive reading")
	}
}

func TestHub_FanOutToMultipleSubscribers(t *testing.T) {
	hub := NewHub()

	ch1 := hub.Subscribe()
	ch2 := hub.Subscribe()
	defer hub.Unsubscribe(ch1)
	defer hub.Unsubscribe(ch2)

	hub.Publish(Reading{Name: "flow", Value: 1})

	for i, ch := range []<-chan Reading{ch1, ch2} {
		select {
		case r := <-ch:
			if r.Name != "flow" {
				t.Errorf("subscriber %d received %+v", i, r)
			}
		case <-time.After(1 * time.Second):
			t.Errorf("subscriber %d did not receive reading", i)
		}
	}
}

func TestHub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub()

	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	// overflow the buffer; Publish must never block
	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			hub.Publish(Reading{Name: "burst", Value: float64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	// the buffer holds at most its capacity
	received := 0
	for {
		select {
		case <-ch:
			received++
		default:
			if received == 0 || received > 100 {
				t.Errorf("received %d readings, want 1..100", received)
			}
			return
		}
	}
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()

	ch := hub.Subscribe()
	hub.Unsubscribe(ch)

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("channel delivered a reading after Unsubscribe")
		}
	case <-time.After(1 * time.Second):
		t.Error("channel not closed after Unsubscribe")
	}

	// double unsubscribe is safe
	hub.Unsubscribe(ch)

	// publishing after unsubscribe must not panic
	hub.PublishBatch([]Reading{{Name: "x"}, {Name: "y"}})
}
