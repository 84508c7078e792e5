/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"testing"
	"time"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventStepChanged)
	other := bus.Subscribe(EventPlanCancelled)

	bus.Publish(EventStepChanged, Payload{"index": 2})

	select {
	case p := <-sub:
		if p["index"] != 2 {
			t.Fatalf("payload = %v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}

	select {
	case p := <-other:
		t.Fatalf("unrelated subscriber received %v", p)
	default:
	}
}

func TestBusPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventStepChanged)

	done := make(chan struct{})
	go func() {
		for i := 0; i < cap(sub)*2; i++ {
			bus.Publish(EventStepChanged, Payload{"index": i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if len(sub) != cap(sub) {
		t.Fatalf("buffered = %d, want %d", len(sub), cap(sub))
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventRateChanged)
	bus.Unsubscribe(EventRateChanged, sub)

	if _, ok := <-sub; ok {
		t.Fatal("channel should be closed")
	}
	if got := bus.SubscriberCount(EventRateChanged); got != 0 {
		t.Fatalf("SubscriberCount = %d, want 0", got)
	}

	// Publishing after unsubscribe must not panic.
	bus.Publish(EventRateChanged, Payload{})
}
