/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Connection pooling
	PoolSize     int
	MinIdleConns int

	// Timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Circuit breaker
	MaxFailures   int
	CheckInterval time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		PoolSize:      10,
		MinIdleConns:  2,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		MaxFailures:   5,
		CheckInterval: 30 * time.Second,
	}
}

// RedisTransport carries envelopes over Redis pub/sub, one channel per event
// type. After MaxFailures consecutive publish errors it stops publishing
// and retries the connection every CheckInterval.
type RedisTransport struct {
	client *redis.Client
	logger zerolog.Logger

	maxFails      int
	checkInterval time.Duration

	mu        sync.Mutex
	degraded  bool
	failCount int
	lastCheck time.Time
}

// NewRedisTransport connects to Redis. An unreachable server is not an
// error: the transport starts degraded and keeps events local until Redis
// answers a ping.
func NewRedisTransport(cfg RedisConfig, logger zerolog.Logger) *RedisTransport {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	maxFails := cfg.MaxFailures
	if maxFails <= 0 {
		maxFails = 1
	}
	rt := &RedisTransport{
		client:        client,
		logger:        logger.With().Str("component", "eventbus.redis").Logger(),
		maxFails:      maxFails,
		checkInterval: cfg.CheckInterval,
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		rt.logger.Warn().Err(err).Str("addr", cfg.Addr).Msg("Redis connection failed, keeping events local")
		rt.degraded = true
		rt.lastCheck = time.Now()
		return rt
	}

	rt.logger.Info().Str("addr", cfg.Addr).Msg("Redis event transport initialized")
	return rt
}

// Name implements Transport.
func (rt *RedisTransport) Name() string { return "redis" }

// Degraded reports whether publishing is suspended.
func (rt *RedisTransport) Degraded() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.degraded
}

// Send implements Transport.
func (rt *RedisTransport) Send(ctx context.Context, env Envelope) error {
	if rt.Degraded() {
		if err := rt.tryReconnect(ctx); err != nil {
			return ErrUnavailable
		}
	}

	data, err := marshalEnvelope(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if err := rt.client.Publish(ctx, subjectPrefix+string(env.EventType), data).Err(); err != nil {
		rt.handleFailure()
		return fmt.Errorf("publish to redis: %w", err)
	}

	rt.mu.Lock()
	rt.failCount = 0
	rt.mu.Unlock()
	return nil
}

// Receive implements Transport.
func (rt *RedisTransport) Receive(ctx context.Context, deliver func(Envelope)) error {
	pubsub := rt.client.PSubscribe(ctx, subjectPrefix+"*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	rt.logger.Debug().Msg("started Redis message receiver")

	for {
		select {
		case <-ctx.Done():
			rt.logger.Debug().Msg("stopping Redis message receiver")
			return nil

		case msg, ok := <-ch:
			if !ok {
				rt.handleFailure()
				return fmt.Errorf("redis subscription closed")
			}

			env, err := unmarshalEnvelope([]byte(msg.Payload))
			if err != nil {
				rt.logger.Error().Err(err).Str("channel", msg.Channel).Msg("failed to unmarshal Redis message")
				continue
			}
			if want := strings.TrimPrefix(msg.Channel, subjectPrefix); want != string(env.EventType) {
				rt.logger.Warn().Str("channel", msg.Channel).Str("event_type", string(env.EventType)).Msg("event type does not match channel, dropping")
				continue
			}
			deliver(env)
		}
	}
}

// Close closes the Redis client.
func (rt *RedisTransport) Close() error {
	if err := rt.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	rt.logger.Info().Msg("Redis event transport closed")
	return nil
}

// handleFailure implements circuit breaker logic.
func (rt *RedisTransport) handleFailure() {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.failCount++
	if rt.failCount >= rt.maxFails && !rt.degraded {
		rt.logger.Warn().
			Int("fail_count", rt.failCount).
			Msg("Redis failure threshold reached, keeping events local")
		rt.degraded = true
		rt.lastCheck = time.Now()
	}
}

// tryReconnect pings Redis at most once per check interval.
func (rt *RedisTransport) tryReconnect(ctx context.Context) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if !rt.degraded {
		return nil
	}
	if time.Since(rt.lastCheck) < rt.checkInterval {
		return fmt.Errorf("too soon to retry")
	}
	rt.lastCheck = time.Now()

	if err := rt.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis still unavailable: %w", err)
	}

	rt.degraded = false
	rt.failCount = 0
	rt.logger.Info().Msg("reconnected to Redis")
	return nil
}
