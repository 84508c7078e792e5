/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/timelapse/internal/events"
)

// hub is an in-memory Transport shared by several bridges.
type hub struct {
	mu        sync.Mutex
	receivers []chan Envelope
	sent      []Envelope
	fail      error
}

type hubTransport struct {
	hub *hub
	in  chan Envelope
}

func (h *hub) transport() *hubTransport {
	t := &hubTransport{hub: h, in: make(chan Envelope, 32)}
	h.mu.Lock()
	h.receivers = append(h.receivers, t.in)
	h.mu.Unlock()
	return t
}

func (h *hub) sentCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sent)
}

func (t *hubTransport) Name() string { return "hub" }

func (t *hubTransport) Send(_ context.Context, env Envelope) error {
	t.hub.mu.Lock()
	defer t.hub.mu.Unlock()
	if t.hub.fail != nil {
		return t.hub.fail
	}
	// Round-trip through the wire form like a real transport.
	data, err := marshalEnvelope(env)
	if err != nil {
		return err
	}
	decoded, err := unmarshalEnvelope(data)
	if err != nil {
		return err
	}
	t.hub.sent = append(t.hub.sent, decoded)
	for _, r := range t.hub.receivers {
		r <- decoded
	}
	return nil
}

func (t *hubTransport) Receive(ctx context.Context, deliver func(Envelope)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-t.in:
			deliver(env)
		}
	}
}

func (t *hubTransport) Close() error { return nil }

func receive(t *testing.T, sub events.Subscriber) events.Payload {
	t.Helper()
	select {
	case p := <-sub:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestBridgeMirrorsEventsBetweenNodes(t *testing.T) {
	h := &hub{}
	busA, busB := events.NewBus(), events.NewBus()
	a := NewBridge(busA, h.transport(), "node-a", zerolog.Nop())
	b := NewBridge(busB, h.transport(), "node-b", zerolog.Nop())
	a.Start(context.Background())
	b.Start(context.Background())
	defer a.Close()
	defer b.Close()

	subA := busA.Subscribe(events.EventStepChanged)
	subB := busB.Subscribe(events.EventStepChanged)

	busA.Publish(events.EventStepChanged, events.Payload{"plan_id": "p1", "index": 2})

	local := receive(t, subA)
	if _, ok := local[OriginKey]; ok {
		t.Fatal("local event should not carry an origin")
	}

	remote := receive(t, subB)
	if remote[OriginKey] != "node-a" || remote["plan_id"] != "p1" {
		t.Fatalf("remote payload = %v", remote)
	}
	// JSON numbers decode as float64.
	if remote["index"] != float64(2) {
		t.Fatalf("index = %#v", remote["index"])
	}

	// Node A must not see its own event echoed back, and node B must not
	// forward the remote copy again.
	time.Sleep(50 * time.Millisecond)
	select {
	case p := <-subA:
		t.Fatalf("echoed event on origin node: %v", p)
	default:
	}
	if got := h.sentCount(); got != 1 {
		t.Fatalf("sent = %d, want 1", got)
	}
}

func TestBridgeCloseUnsubscribes(t *testing.T) {
	bus := events.NewBus()
	bridge := NewBridge(bus, (&hub{}).transport(), "", zerolog.Nop())
	if bridge.NodeID() == "" {
		t.Fatal("empty node ID should be generated")
	}
	bridge.Start(context.Background())
	if got := bus.SubscriberCount(events.EventPlanEstablished); got != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", got)
	}
	if err := bridge.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for _, eventType := range events.AllTypes {
		if got := bus.SubscriberCount(eventType); got != 0 {
			t.Fatalf("%s still has %d subscribers", eventType, got)
		}
	}
}

func TestBridgeKeepsPublishingWhenTransportFails(t *testing.T) {
	h := &hub{fail: ErrUnavailable}
	bus := events.NewBus()
	bridge := NewBridge(bus, h.transport(), "node", zerolog.Nop())
	bridge.Start(context.Background())
	defer bridge.Close()

	sub := bus.Subscribe(events.EventRateChanged)
	bus.Publish(events.EventRateChanged, events.Payload{"change_rate_ms": 10})
	receive(t, sub)
}

func TestUnmarshalEnvelope(t *testing.T) {
	if _, err := unmarshalEnvelope([]byte("{")); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
	if _, err := unmarshalEnvelope([]byte(`{"payload":{}}`)); !errors.Is(err, errMissingEventType) {
		t.Fatalf("missing type error = %v", err)
	}
	env, err := unmarshalEnvelope([]byte(`{"event_type":"plan.cancelled","payload":{"plan_id":"x"},"node_id":"n"}`))
	if err != nil {
		t.Fatal(err)
	}
	if env.EventType != events.EventPlanCancelled || env.Payload["plan_id"] != "x" || env.NodeID != "n" {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestRedisTransportStartsDegraded(t *testing.T) {
	cfg := DefaultRedisConfig()
	cfg.Addr = "127.0.0.1:1"
	cfg.DialTimeout = 200 * time.Millisecond
	cfg.CheckInterval = time.Hour
	rt := NewRedisTransport(cfg, zerolog.Nop())
	defer rt.Close()

	if !rt.Degraded() {
		t.Fatal("unreachable Redis should start degraded")
	}
	err := rt.Send(context.Background(), newEnvelope(events.EventStepChanged, events.Payload{}, "n"))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Send error = %v", err)
	}
}

func TestNATSTransportConnectFailure(t *testing.T) {
	cfg := DefaultNATSConfig()
	cfg.URL = "nats://127.0.0.1:1"
	cfg.Timeout = 200 * time.Millisecond
	if _, err := NewNATSTransport(cfg, zerolog.Nop()); err == nil {
		t.Fatal("expected connect error")
	}
}
