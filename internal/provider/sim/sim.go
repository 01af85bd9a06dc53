/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package sim provides a headless playback provider whose playhead advances
// with wall time, optionally sped up.
package sim

import (
	"context"
	"sync"
	"time"

	"github.com/friendsincode/cueloop/internal/provider"
)

const (
	defaultDuration = 300.0
	eventBuffer     = 256
	watchInterval   = 10 * time.Millisecond
)

// LoadCall records one Load invocation.
type LoadCall struct {
	ID    string
	Start float64
	End   *float64
}

// Option configures a simulated provider.
type Option func(*Provider)

// WithRate sets how many simulated seconds pass per wall second.
func WithRate(rate float64) Option {
	return func(p *Provider) {
		if rate > 0 {
			p.rate = rate
		}
	}
}

// WithDuration sets the natural length of a video id.
func WithDuration(id string, seconds float64) Option {
	return func(p *Provider) { p.durations[id] = seconds }
}

// WithDefaultDuration sets the length used for ids without WithDuration.
func WithDefaultDuration(seconds float64) Option {
	return func(p *Provider) { p.defaultDuration = seconds }
}

// WithFailure makes loading id report the raw error code.
func WithFailure(id string, code int) Option {
	return func(p *Provider) { p.failures[id] = code }
}

// Provider is a simulated playback provider.
type Provider struct {
	events chan provider.Event

	mu              sync.Mutex
	rate            float64
	durations       map[string]float64
	defaultDuration float64
	failures        map[string]int
	ready           bool
	closed          bool

	loadedID string
	start    float64
	end      *float64
	position float64
	anchor   time.Time
	state    provider.State
	volume   int
	loads    []LoadCall
	volumes  []int
}

var _ provider.Provider = (*Provider)(nil)

// New creates a disconnected simulator. Call Connect to make it ready.
func New(opts ...Option) *Provider {
	p := &Provider{
		events:          make(chan provider.Event, eventBuffer),
		rate:            1,
		durations:       make(map[string]float64),
		defaultDuration: defaultDuration,
		failures:        make(map[string]int),
		state:           provider.StateUnstarted,
		volume:          100,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run watches for natural ends until ctx is cancelled, then closes Events.
func (p *Provider) Run(ctx context.Context) {
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.closed = true
			close(p.events)
			p.mu.Unlock()
			return
		case <-ticker.C:
			p.mu.Lock()
			if p.state == provider.StatePlaying && p.currentLocked() >= p.limitLocked() {
				p.position = p.limitLocked()
				p.setStateLocked(provider.StateEnded)
			}
			p.mu.Unlock()
		}
	}
}

// Connect marks the provider ready and announces it.
func (p *Provider) Connect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready = true
	p.emitLocked(provider.Event{Type: provider.EventReady})
}

// Disconnect marks the provider unusable.
func (p *Provider) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready = false
	p.state = provider.StateUnstarted
	p.emitLocked(provider.Event{Type: provider.EventGone})
}

func (p *Provider) Load(_ context.Context, id string, start float64, end *float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return provider.ErrNotReady
	}
	call := LoadCall{ID: id, Start: start}
	if end != nil {
		e := *end
		call.End = &e
	}
	p.loads = append(p.loads, call)

	p.loadedID = id
	p.start = start
	p.end = call.End
	p.position = start
	if code, ok := p.failures[id]; ok {
		p.state = provider.StateUnstarted
		p.emitLocked(provider.Event{Type: provider.EventError, VideoID: id, Code: code, Message: "simulated failure"})
		return nil
	}
	p.setStateLocked(provider.StateCued)
	return nil
}

func (p *Provider) Play(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return provider.ErrNotReady
	}
	if p.loadedID == "" || p.state == provider.StatePlaying {
		return nil
	}
	if _, failed := p.failures[p.loadedID]; failed {
		return nil
	}
	if p.state == provider.StateEnded {
		p.position = p.start
	}
	p.anchor = time.Now()
	p.setStateLocked(provider.StatePlaying)
	return nil
}

func (p *Provider) Pause(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != provider.StatePlaying {
		return nil
	}
	p.position = p.currentLocked()
	p.setStateLocked(provider.StatePaused)
	return nil
}

func (p *Provider) Stop(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loadedID == "" {
		return nil
	}
	p.position = p.start
	p.setStateLocked(provider.StateUnstarted)
	return nil
}

func (p *Provider) Seek(_ context.Context, seconds float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = max(0, min(seconds, p.durationLocked()))
	p.anchor = time.Now()
	return nil
}

func (p *Provider) SetVolume(_ context.Context, volume int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = provider.Clamp(volume)
	p.volumes = append(p.volumes, p.volume)
	return nil
}

func (p *Provider) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentLocked()
}

func (p *Provider) Duration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loadedID == "" {
		return 0
	}
	return p.durationLocked()
}

func (p *Provider) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

func (p *Provider) State() provider.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Provider) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

func (p *Provider) Events() <-chan provider.Event {
	return p.events
}

// Loads returns every Load call made so far.
func (p *Provider) Loads() []LoadCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]LoadCall, len(p.loads))
	copy(out, p.loads)
	return out
}

// Volumes returns every volume set so far, in order.
func (p *Provider) Volumes() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, len(p.volumes))
	copy(out, p.volumes)
	return out
}

// Fail makes the loaded video report an error as if playback broke.
func (p *Provider) Fail(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = p.currentLocked()
	p.state = provider.StateUnstarted
	p.emitLocked(provider.Event{Type: provider.EventError, VideoID: p.loadedID, Code: code, Message: "simulated failure"})
}

func (p *Provider) currentLocked() float64 {
	if p.state != provider.StatePlaying {
		return p.position
	}
	elapsed := time.Since(p.anchor).Seconds() * p.rate
	return min(p.position+elapsed, p.limitLocked())
}

func (p *Provider) limitLocked() float64 {
	d := p.durationLocked()
	if p.end != nil && *p.end < d {
		return *p.end
	}
	return d
}

func (p *Provider) durationLocked() float64 {
	if d, ok := p.durations[p.loadedID]; ok {
		return d
	}
	return p.defaultDuration
}

func (p *Provider) setStateLocked(state provider.State) {
	p.state = state
	p.emitLocked(provider.Event{Type: provider.EventStateChange, VideoID: p.loadedID, State: state})
}

// emitLocked never blocks; a consumer that stops reading loses events.
func (p *Provider) emitLocked(ev provider.Event) {
	if p.closed {
		return
	}
	select {
	case p.events <- ev:
	default:
	}
}
