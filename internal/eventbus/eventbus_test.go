package eventbus

import (
	"testing"
	"time"
)

func TestBus_FanOut(t *testing.T) {
	b := New()
	a := b.Subscribe()
	c := b.Subscribe()
	b.Publish("ev")
	for _, sub := range []<-chan Event{a, c} {
		select {
		case got := <-sub:
			if got != "ev" {
				t.Fatalf("got %v", got)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := New()
	_ = b.Subscribe() // never read
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*2; i++ {
			b.Publish(i)
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	b.Unsubscribe(sub)
	if _, ok := <-sub; ok {
		t.Fatal("channel not closed on unsubscribe")
	}
	b.Publish("after") // must not panic
}

func TestBus_Close(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	b.Close()
	if _, ok := <-sub; ok {
		t.Fatal("channel not closed on bus close")
	}
	if late := b.Subscribe(); late == nil {
		t.Fatal("subscribe after close returned nil")
	} else if _, ok := <-late; ok {
		t.Fatal("late subscriber channel not closed")
	}
	b.Publish("dropped") // must not panic
}

func TestTypedBus(t *testing.T) {
	b := NewTyped[int]()
	sub := b.Subscribe()
	b.Publish(42)
	select {
	case got := <-sub:
		if got != 42 {
			t.Fatalf("got %d", got)
		}
	case <-time.After(time.Second):
		t.Fatal("typed event not delivered")
	}
	b.Unsubscribe(sub)
	b.Close()
}
