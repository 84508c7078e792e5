/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus mirrors the in-process playback bus across processes so
// viewers attached to other nodes see the same notifications.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/timelapse/internal/events"
)

// OriginKey marks payloads that arrived from another node. The bridge never
// forwards such payloads, so events do not loop between nodes.
const OriginKey = "origin_node"

// ErrUnavailable is returned by Send while a transport is disconnected.
var ErrUnavailable = errors.New("event transport unavailable")

var errMissingEventType = errors.New("envelope has no event type")

// subjectPrefix namespaces event types on the remote transport.
const subjectPrefix = "timelapse.events."

// Envelope is the wire form of one event.
type Envelope struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func newEnvelope(eventType events.EventType, payload events.Payload, nodeID string) Envelope {
	return Envelope{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	}
}

func marshalEnvelope(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func unmarshalEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.EventType == "" {
		return Envelope{}, errMissingEventType
	}
	return env, nil
}

// Transport moves envelopes between nodes.
type Transport interface {
	// Name identifies the transport in logs.
	Name() string
	// Send publishes env to every node.
	Send(ctx context.Context, env Envelope) error
	// Receive delivers envelopes from every node, this one included, until
	// ctx is done.
	Receive(ctx context.Context, deliver func(Envelope)) error
	Close() error
}

// Bridge forwards local bus events to a transport and republishes remote
// events on the local bus.
type Bridge struct {
	local     *events.Bus
	transport Transport
	nodeID    string
	logger    zerolog.Logger

	mu     sync.Mutex
	subs   map[events.EventType]events.Subscriber
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBridge creates a bridge. An empty nodeID gets a random one.
func NewBridge(local *events.Bus, transport Transport, nodeID string, logger zerolog.Logger) *Bridge {
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	return &Bridge{
		local:     local,
		transport: transport,
		nodeID:    nodeID,
		logger:    logger.With().Str("component", "eventbus").Str("transport", transport.Name()).Logger(),
		subs:      make(map[events.EventType]events.Subscriber),
	}
}

// NodeID returns the identifier stamped on outgoing envelopes.
func (b *Bridge) NodeID() string { return b.nodeID }

// Start begins forwarding every playback event type in both directions.
func (b *Bridge) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	b.mu.Lock()
	b.cancel = cancel
	for _, eventType := range events.AllTypes {
		sub := b.local.Subscribe(eventType)
		b.subs[eventType] = sub
		b.wg.Add(1)
		go b.forward(ctx, eventType, sub)
	}
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.transport.Receive(ctx, b.deliver); err != nil && ctx.Err() == nil {
			b.logger.Error().Err(err).Msg("remote receiver stopped")
		}
	}()

	b.logger.Info().Str("node_id", b.nodeID).Msg("event bridge started")
}

func (b *Bridge) forward(ctx context.Context, eventType events.EventType, sub events.Subscriber) {
	defer b.wg.Done()
	for payload := range sub {
		if _, remote := payload[OriginKey]; remote {
			continue
		}
		sendCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := b.transport.Send(sendCtx, newEnvelope(eventType, payload, b.nodeID))
		cancel()
		switch {
		case errors.Is(err, ErrUnavailable):
			b.logger.Debug().Str("event_type", string(eventType)).Msg("transport unavailable, event kept local")
		case err != nil:
			b.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("failed to forward event")
		}
	}
}

func (b *Bridge) deliver(env Envelope) {
	if env.NodeID == b.nodeID {
		return
	}
	payload := make(events.Payload, len(env.Payload)+1)
	for k, v := range env.Payload {
		payload[k] = v
	}
	payload[OriginKey] = env.NodeID
	b.local.Publish(env.EventType, payload)

	b.logger.Debug().
		Str("event_type", string(env.EventType)).
		Str("source_node", env.NodeID).
		Msg("delivered remote event")
}

// Close stops forwarding and closes the transport.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
	}
	for eventType, sub := range b.subs {
		b.local.Unsubscribe(eventType, sub)
	}
	b.subs = make(map[events.EventType]events.Subscriber)
	b.mu.Unlock()

	b.wg.Wait()
	if err := b.transport.Close(); err != nil {
		return fmt.Errorf("close %s transport: %w", b.transport.Name(), err)
	}
	b.logger.Info().Msg("event bridge closed")
	return nil
}
