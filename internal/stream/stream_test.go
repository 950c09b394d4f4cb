package stream

import (
	"context"
	"testing"
	"time"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestPublishRespectsFilter(t *testing.T) {
	s := New(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	all := s.Subscribe(ctx, Filter{})
	onlyA := s.Subscribe(ctx, Filter{Program: "A"})

	s.Publish(Event{Type: TypeTokensClaimed, Program: "B", Amount: 1})
	s.Publish(Event{Type: TypeTokensClaimed, Program: "A", Amount: 2})

	if evt := receive(t, all); evt.Program != "B" || evt.Timestamp.IsZero() {
		t.Fatalf("unexpected first event: %+v", evt)
	}
	if evt := receive(t, all); evt.Program != "A" {
		t.Fatalf("unexpected second event: %+v", evt)
	}
	if evt := receive(t, onlyA); evt.Program != "A" || evt.Amount != 2 {
		t.Fatalf("filtered subscriber got %+v", evt)
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	s := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = s.Subscribe(ctx, Filter{})

	s.Publish(Event{Program: "A"})
	s.Publish(Event{Program: "A"})
	if got := s.Dropped(); got != 1 {
		t.Fatalf("expected 1 dropped, got %d", got)
	}
}

func TestSubscriptionClosesOnCancel(t *testing.T) {
	s := New(0)
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx, Filter{})
	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
	if n := s.Subscribers(); n != 0 {
		t.Fatalf("expected no subscribers, got %d", n)
	}
}
