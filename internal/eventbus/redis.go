/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
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
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     4,
		MinIdleConns: 1,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// RedisSink publishes events on Redis pub/sub channels named after the subject.
type RedisSink struct {
	client *redis.Client
	addr   string
	logger zerolog.Logger
}

// NewRedisSink connects to Redis. A failed ping is logged but does not fail
// construction; the forwarder's breaker handles an absent server.
func NewRedisSink(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) *RedisSink {
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

	s := &RedisSink{
		client: client,
		addr:   cfg.Addr,
		logger: logger.With().Str("component", "eventbus").Str("sink", "redis").Logger(),
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		s.logger.Warn().Err(err).Str("addr", cfg.Addr).Msg("Redis not reachable yet")
	} else {
		s.logger.Info().Str("addr", cfg.Addr).Msg("Redis event sink connected")
	}
	return s
}

// Name implements Sink.
func (s *RedisSink) Name() string { return "redis" }

// Publish implements Sink.
func (s *RedisSink) Publish(ctx context.Context, subject string, data []byte) error {
	if err := s.client.Publish(ctx, subject, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", subject, err)
	}
	return nil
}

// Close implements Sink.
func (s *RedisSink) Close() error {
	if err := s.client.Close(); err != nil {
		s.logger.Error().Err(err).Msg("failed to close Redis client")
		return err
	}
	return nil
}
