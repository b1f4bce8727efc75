package events

import "testing"

func TestBusDeliversInPublishOrder(t *testing.T) {
	bus := NewBus()

	var got []Kind
	unsub := bus.Subscribe(func(e Event) {
		got = append(got, e.Kind)
	})
	defer unsub()

	want := []Kind{KindConnected, KindSessionCreated, KindTranscriptFinal, KindDisconnected}
	for _, k := range want {
		bus.Publish(Event{Kind: k})
	}

	if len(got) != len(want) {
		t.Fatalf("delivered %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()

	count := 0
	unsub := bus.Subscribe(func(Event) { count++ })

	bus.Publish(Event{Kind: KindConnected})
	unsub()
	unsub() // repeated unsubscribe is a no-op
	bus.Publish(Event{Kind: KindDisconnected})

	if count != 1 {
		t.Fatalf("handler ran %d times, want 1", count)
	}
	if n := bus.SubscriberCount(); n != 0 {
		t.Fatalf("SubscriberCount() = %d, want 0", n)
	}
}

func TestBusMultipleSubscribersSeeSameOrder(t *testing.T) {
	bus := NewBus()

	var a, b []Kind
	defer bus.Subscribe(func(e Event) { a = append(a, e.Kind) })()
	defer bus.Subscribe(func(e Event) { b = append(b, e.Kind) })()

	seq := []Kind{KindSpeechStarted, KindAudioPlayed, KindSpeechStopped}
	for _, k := range seq {
		bus.Publish(Event{Kind: k})
	}

	for i := range seq {
		if a[i] != seq[i] || b[i] != seq[i] {
			t.Fatalf("subscribers diverged at %d: a=%v b=%v want=%v", i, a, b, seq)
		}
	}
}

func TestBusStampsPublishTime(t *testing.T) {
	bus := NewBus()
	var got Event
	defer bus.Subscribe(func(e Event) { got = e })()

	bus.Publish(Event{Kind: KindError, Code: "test"})
	if got.At.IsZero() {
		t.Fatalf("expected At to be stamped")
	}
}
