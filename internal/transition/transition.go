/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package transition runs the decorative interlude between two segments: a
// countdown screen and an audio cue played side by side.
package transition

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/cueloop/internal/events"
	"github.com/friendsincode/cueloop/internal/segment"
	"github.com/friendsincode/cueloop/internal/telemetry"
)

// Screen displays the countdown.
type Screen interface {
	Show(label string, seconds int) error
	Tick(remaining int, emphasis bool)
	Hide()
}

// Cue plays a named audio effect and returns when it has finished.
type Cue interface {
	Play(ctx context.Context, name string) error
}

// Outcome reports how a Run call ended.
type Outcome string

const (
	Skipped   Outcome = "skipped"
	Completed Outcome = "completed"
	Cancelled Outcome = "cancelled"
)

// Settings controls the interlude.
type Settings struct {
	Enabled bool
	Seconds int
	// TickInterval is the length of one countdown step.
	TickInterval time.Duration
	// EmphasisFrom is the remaining count at which the screen turns urgent.
	EmphasisFrom int
	CueEnabled   bool
	CueName      string
	CueTimeout   time.Duration
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		Enabled:      true,
		Seconds:      10,
		TickInterval: time.Second,
		EmphasisFrom: 5,
		CueEnabled:   true,
		CueName:      "applause",
		CueTimeout:   15 * time.Second,
	}
}

// Coordinator runs at most one transition at a time.
type Coordinator struct {
	screen Screen
	cue    Cue
	bus    *events.Bus
	logger zerolog.Logger

	mu       sync.Mutex
	settings Settings
	running  bool
	cancel   context.CancelFunc
}

// NewCoordinator wires a coordinator. screen and cue may be nil.
func NewCoordinator(screen Screen, cue Cue, settings Settings, bus *events.Bus, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		screen:   screen,
		cue:      cue,
		bus:      bus,
		logger:   logger.With().Str("component", "transition").Logger(),
		settings: settings,
	}
}

// Run shows the countdown for next and blocks until both the countdown and
// the audio cue have finished, or until Cancel or ctx stops it. It returns
// Skipped straight away when transitions are disabled or one is already
// running, and Cancelled without showing anything when ctx is already done.
func (c *Coordinator) Run(ctx context.Context, next segment.Segment) Outcome {
	c.mu.Lock()
	if !c.settings.Enabled || c.running {
		reentrant := c.running
		c.mu.Unlock()
		if reentrant {
			c.logger.Debug().Str("segment_id", next.ID).Msg("transition already running")
		}
		return Skipped
	}
	if ctx.Err() != nil {
		// Cancelled before it got going: nothing was shown, nothing to hide.
		c.mu.Unlock()
		c.logger.Debug().Str("segment_id", next.ID).Msg("transition cancelled before start")
		return Cancelled
	}
	settings := c.settings
	runCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.cancel = nil
		c.mu.Unlock()
		cancel()
	}()

	seconds := max(settings.Seconds, 0)
	label := next.Label()
	if c.screen != nil {
		if err := c.screen.Show(label, seconds); err != nil {
			c.logger.Warn().Err(err).Msg("transition screen failed")
		}
	}
	c.bus.Publish(events.TransitionStarted{SegmentID: next.ID, Title: label, Seconds: seconds})

	cueDone := make(chan struct{})
	if settings.CueEnabled && c.cue != nil {
		go func() {
			defer close(cueDone)
			cueCtx, cueCancel := context.WithTimeout(runCtx, settings.CueTimeout)
			defer cueCancel()
			if err := c.cue.Play(cueCtx, settings.CueName); err != nil && runCtx.Err() == nil {
				c.logger.Warn().Err(err).Str("cue", settings.CueName).Msg("audio cue failed")
			}
		}()
	} else {
		close(cueDone)
	}

	if !c.countdown(runCtx, seconds, settings) {
		<-cueDone
		return c.abort(ctx, next)
	}
	select {
	case <-cueDone:
	case <-runCtx.Done():
		<-cueDone
		return c.abort(ctx, next)
	}

	if c.screen != nil {
		c.screen.Hide()
	}
	return c.finish(next, Completed)
}

// countdown ticks from seconds down to zero. It returns false if ctx was
// cancelled first.
func (c *Coordinator) countdown(ctx context.Context, seconds int, settings Settings) bool {
	c.tick(seconds, settings)
	if seconds == 0 {
		return ctx.Err() == nil
	}
	ticker := time.NewTicker(settings.TickInterval)
	defer ticker.Stop()
	for remaining := seconds - 1; remaining >= 0; remaining-- {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
		c.tick(remaining, settings)
	}
	return true
}

func (c *Coordinator) tick(remaining int, settings Settings) {
	emphasis := remaining <= settings.EmphasisFrom
	if c.screen != nil {
		c.screen.Tick(remaining, emphasis)
	}
	c.bus.Publish(events.TransitionTick{Remaining: remaining, Emphasis: emphasis})
}

// abort finishes a cancelled run. Cancel already hid the screen; a
// cancelled parent context did not.
func (c *Coordinator) abort(parent context.Context, next segment.Segment) Outcome {
	if parent.Err() != nil && c.screen != nil {
		c.screen.Hide()
	}
	return c.finish(next, Cancelled)
}

func (c *Coordinator) finish(next segment.Segment, outcome Outcome) Outcome {
	telemetry.TransitionsTotal.WithLabelValues(string(outcome)).Inc()
	c.bus.Publish(events.TransitionFinished{SegmentID: next.ID, Cancelled: outcome == Cancelled})
	c.logger.Debug().Str("segment_id", next.ID).Str("outcome", string(outcome)).Msg("transition finished")
	return outcome
}

// Cancel stops a running transition and hides the screen at once. It is a
// no-op when nothing is running.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if c.screen != nil {
		c.screen.Hide()
	}
}

// Running reports whether a transition is in flight.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Settings returns the active settings.
func (c *Coordinator) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// SetEnabled switches transitions on or off for later runs.
func (c *Coordinator) SetEnabled(enabled bool) {
	c.mu.Lock()
	c.settings.Enabled = enabled
	c.mu.Unlock()
}

// SetSeconds changes the countdown length for later runs.
func (c *Coordinator) SetSeconds(seconds int) {
	c.mu.Lock()
	c.settings.Seconds = max(seconds, 0)
	c.mu.Unlock()
}
