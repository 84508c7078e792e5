/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL   string
	Token string
	Name  string

	// Connection options
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "timelapse",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSTransport carries envelopes over core NATS subjects
// "timelapse.events.<event_type>".
type NATSTransport struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

// NewNATSTransport connects to NATS. Unlike Redis, a failed initial connect
// is an error; the client reconnects on its own after that.
func NewNATSTransport(cfg NATSConfig, logger zerolog.Logger) (*NATSTransport, error) {
	logger = logger.With().Str("component", "eventbus.nats").Logger()

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", cfg.URL, err)
	}

	logger.Info().Str("url", conn.ConnectedUrl()).Msg("NATS event transport initialized")
	return &NATSTransport{conn: conn, logger: logger}, nil
}

// Name implements Transport.
func (nt *NATSTransport) Name() string { return "nats" }

// Send implements Transport.
func (nt *NATSTransport) Send(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !nt.conn.IsConnected() {
		return ErrUnavailable
	}

	data, err := marshalEnvelope(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := nt.conn.Publish(subjectPrefix+string(env.EventType), data); err != nil {
		return fmt.Errorf("publish to nats: %w", err)
	}
	return nil
}

// Receive implements Transport.
func (nt *NATSTransport) Receive(ctx context.Context, deliver func(Envelope)) error {
	msgs := make(chan *nats.Msg, 64)
	sub, err := nt.conn.ChanSubscribe(subjectPrefix+">", msgs)
	if err != nil {
		return fmt.Errorf("subscribe to nats: %w", err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil && nt.conn.IsConnected() {
			nt.logger.Debug().Err(err).Msg("NATS unsubscribe failed")
		}
	}()

	nt.logger.Debug().Msg("started NATS message receiver")
	for {
		select {
		case <-ctx.Done():
			nt.logger.Debug().Msg("stopping NATS message receiver")
			return nil

		case msg := <-msgs:
			env, err := unmarshalEnvelope(msg.Data)
			if err != nil {
				nt.logger.Error().Err(err).Str("subject", msg.Subject).Msg("failed to unmarshal NATS message")
				continue
			}
			if want := strings.TrimPrefix(msg.Subject, subjectPrefix); want != string(env.EventType) {
				nt.logger.Warn().Str("subject", msg.Subject).Str("event_type", string(env.EventType)).Msg("event type does not match subject, dropping")
				continue
			}
			deliver(env)
		}
	}
}

// Close drains the connection.
func (nt *NATSTransport) Close() error {
	if err := nt.conn.Drain(); err != nil {
		nt.conn.Close()
		return fmt.Errorf("drain nats connection: %w", err)
	}
	nt.logger.Info().Msg("NATS event transport closed")
	return nil
}
