/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus mirrors the in-process event bus onto external brokers so
// other services can follow the player.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/cueloop/internal/events"
)

// Sink publishes encoded events to one external broker.
type Sink interface {
	Name() string
	Publish(ctx context.Context, subject string, data []byte) error
	Close() error
}

// Options tune a Forwarder.
type Options struct {
	// Prefix is prepended to the event kind to form the subject.
	Prefix string
	// Exclude lists kinds that are never forwarded.
	Exclude []events.Kind
	// NodeID identifies this process in published messages.
	NodeID string

	PublishTimeout time.Duration
	MaxFailures    int
	CheckInterval  time.Duration
}

// DefaultOptions returns forwarding defaults.
func DefaultOptions() Options {
	return Options{
		Prefix:         "cueloop.events",
		PublishTimeout: 2 * time.Second,
		MaxFailures:    5,
		CheckInterval:  30 * time.Second,
	}
}

// Message is the envelope published for every forwarded event.
type Message struct {
	Kind      events.Kind  `json:"kind"`
	Data      events.Event `json:"data"`
	Timestamp time.Time    `json:"timestamp"`
	NodeID    string       `json:"node_id"`
	MessageID string       `json:"message_id"`
}

// Forwarder subscribes to the local bus and publishes each event to every
// sink. A sink that keeps failing is skipped until CheckInterval has passed.
type Forwarder struct {
	bus     *events.Bus
	sinks   []*breaker
	opts    Options
	exclude map[events.Kind]bool
	logger  zerolog.Logger
	now     func() time.Time
}

// breaker holds the circuit breaker state of one sink.
type breaker struct {
	sink Sink

	mu        sync.Mutex
	failCount int
	open      bool
	lastCheck time.Time
}

// NewForwarder creates a forwarder over the given sinks.
func NewForwarder(bus *events.Bus, sinks []Sink, opts Options, logger zerolog.Logger) *Forwarder {
	def := DefaultOptions()
	if opts.Prefix == "" {
		opts.Prefix = def.Prefix
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = def.PublishTimeout
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = def.MaxFailures
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = def.CheckInterval
	}
	if opts.NodeID == "" {
		opts.NodeID = generateNodeID()
	}

	exclude := make(map[events.Kind]bool, len(opts.Exclude))
	for _, kind := range opts.Exclude {
		exclude[kind] = true
	}

	f := &Forwarder{
		bus:     bus,
		opts:    opts,
		exclude: exclude,
		logger:  logger.With().Str("component", "eventbus").Logger(),
		now:     time.Now,
	}
	for _, sink := range sinks {
		f.sinks = append(f.sinks, &breaker{sink: sink})
	}
	return f
}

// Subject returns the broker subject for a kind.
func (f *Forwarder) Subject(kind events.Kind) string {
	return f.opts.Prefix + "." + string(kind)
}

// Run forwards events until ctx is cancelled.
func (f *Forwarder) Run(ctx context.Context) {
	if len(f.sinks) == 0 {
		return
	}
	sub := f.bus.Subscribe()
	defer f.bus.Unsubscribe(sub)

	names := make([]string, 0, len(f.sinks))
	for _, b := range f.sinks {
		names = append(names, b.sink.Name())
	}
	f.logger.Info().Strs("sinks", names).Str("prefix", f.opts.Prefix).Msg("event forwarding started")

	for {
		select {
		case <-ctx.Done():
			f.logger.Info().Msg("event forwarding stopped")
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			f.forward(ctx, ev)
		}
	}
}

func (f *Forwarder) forward(ctx context.Context, ev events.Event) {
	kind := ev.Kind()
	if f.exclude[kind] {
		return
	}

	data, err := f.marshal(ev)
	if err != nil {
		f.logger.Error().Err(err).Str("kind", string(kind)).Msg("failed to marshal event")
		return
	}
	subject := f.Subject(kind)

	for _, b := range f.sinks {
		if !b.allow(f.now(), f.opts.CheckInterval) {
			continue
		}
		pubCtx, cancel := context.WithTimeout(ctx, f.opts.PublishTimeout)
		err := b.sink.Publish(pubCtx, subject, data)
		cancel()
		if err != nil {
			if b.fail(f.now(), f.opts.MaxFailures) {
				f.logger.Warn().Err(err).Str("sink", b.sink.Name()).Msg("sink failure threshold reached, pausing forwarding")
			} else {
				f.logger.Debug().Err(err).Str("sink", b.sink.Name()).Str("subject", subject).Msg("publish failed")
			}
			continue
		}
		if b.succeed() {
			f.logger.Info().Str("sink", b.sink.Name()).Msg("sink recovered, forwarding resumed")
		}
	}
}

func (f *Forwarder) marshal(ev events.Event) ([]byte, error) {
	msg := Message{
		Kind:      ev.Kind(),
		Data:      ev,
		Timestamp: f.now().UTC(),
		NodeID:    f.opts.NodeID,
		MessageID: uuid.NewString(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", msg.Kind, err)
	}
	return data, nil
}

// Close closes every sink, returning the first error.
func (f *Forwarder) Close() error {
	var firstErr error
	for _, b := range f.sinks {
		if err := b.sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// allow reports whether the sink should be tried. An open breaker lets one
// attempt through per interval.
func (b *breaker) allow(now time.Time, interval time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return true
	}
	if now.Sub(b.lastCheck) < interval {
		return false
	}
	b.lastCheck = now
	return true
}

// fail records a failure and reports whether the breaker just opened.
func (b *breaker) fail(now time.Time, maxFails int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failCount++
	if b.open || b.failCount < maxFails {
		return false
	}
	b.open = true
	b.lastCheck = now
	return true
}

// succeed resets the breaker and reports whether it was open.
func (b *breaker) succeed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	wasOpen := b.open
	b.open = false
	b.failCount = 0
	return wasOpen
}

func generateNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "cueloop"
	}
	return host + "-" + uuid.NewString()[:8]
}
