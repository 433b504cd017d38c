package event

import "testing"

func TestBusDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus()
	var a, b int
	bus.Subscribe(func(Event) { a++ })
	bus.Subscribe(func(Event) { b++ })

	bus.Publish(Event{Kind: KindSlotChanged})

	if a != 1 || b != 1 {
		t.Fatalf("expected both subscribers notified, got %d/%d", a, b)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	var n int
	off := bus.Subscribe(func(Event) { n++ })

	bus.Publish(Event{Kind: KindOrderChanged})
	off()
	bus.Publish(Event{Kind: KindOrderChanged})

	if n != 1 {
		t.Fatalf("expected exactly one delivery, got %d", n)
	}
}

func TestBusStampsTime(t *testing.T) {
	bus := NewBus()
	var got Event
	bus.Subscribe(func(e Event) { got = e })

	bus.Publish(Event{Kind: KindSyncChanged, OrderID: "o1"})

	if got.At.IsZero() {
		t.Fatalf("expected event time to be stamped")
	}
	if got.OrderID != "o1" {
		t.Fatalf("payload lost: %+v", got)
	}
}
