package events

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func receive(t *testing.T, s *Subscription) Event {
	t.Helper()
	select {
	case ev := <-s.C:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func expectNothing(t *testing.T, s *Subscription) {
	t.Helper()
	select {
	case ev := <-s.C:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBus_DeliversToAllSubscribers(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	a := bus.Subscribe(4)
	b := bus.Subscribe(4)
	defer a.Close()
	defer b.Close()

	bus.Publish(context.Background(), Event{Name: AppointmentUpdated, AppointmentID: "apt-1"})

	for _, s := range []*Subscription{a, b} {
		ev := receive(t, s)
		if ev.AppointmentID != "apt-1" || ev.Name != AppointmentUpdated {
			t.Errorf("unexpected event %+v", ev)
		}
		if ev.At.IsZero() {
			t.Error("expected At to be stamped")
		}
	}
}

func TestBus_FiltersByName(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	completed := bus.Subscribe(4, AppointmentCompleted)
	defer completed.Close()

	bus.Publish(context.Background(), Event{Name: AppointmentUpdated, AppointmentID: "apt-1"})
	expectNothing(t, completed)

	bus.Publish(context.Background(), Event{Name: AppointmentCompleted, AppointmentID: "apt-1"})
	if ev := receive(t, completed); ev.Name != AppointmentCompleted {
		t.Errorf("expected appointmentCompleted, got %s", ev.Name)
	}
}

func TestBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	slow := bus.Subscribe(1)
	defer slow.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(context.Background(), Event{Name: AppointmentUpdated})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a full subscriber")
	}
	if len(slow.C) != 1 {
		t.Errorf("expected exactly one buffered event, got %d", len(slow.C))
	}
}

func TestSubscription_Close(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	s := bus.Subscribe(1)
	if bus.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", bus.SubscriberCount())
	}

	s.Close()
	s.Close()

	if bus.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", bus.SubscriberCount())
	}
	if _, ok := <-s.C; ok {
		t.Error("expected closed channel")
	}

	// Publishing after close must not panic.
	bus.Publish(context.Background(), Event{Name: AppointmentUpdated})
}
