/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/friendsincode/cueloop/internal/events"
	"github.com/friendsincode/cueloop/internal/provider"
	"github.com/friendsincode/cueloop/internal/segment"
	"github.com/friendsincode/cueloop/internal/telemetry"
	"github.com/friendsincode/cueloop/internal/transition"
)

// Everything in this file runs on the loop goroutine.

// onSegmentEnded is the advance-on-end routine.
func (e *Engine) onSegmentEnded(segID string) {
	if segID == "" || segID != e.loadedID {
		e.logger.Debug().Str("segment_id", segID).Str("loaded_id", e.loadedID).Msg("stale segment end ignored")
		return
	}
	if !e.settings.AutoAdvance {
		return
	}
	if e.handlingAdvance {
		telemetry.DuplicateSignalsDropped.WithLabelValues("orchestrator").Inc()
		e.logger.Debug().Str("segment_id", segID).Msg("advance already in flight")
		return
	}
	e.handlingAdvance = true
	e.advanceSeq++
	seq := e.advanceSeq

	next, _, ok := e.store.PeekNext()
	if !ok {
		e.setState(StateExhausted)
		e.bus.Publish(events.PlaylistEnded{Index: e.store.CurrentIndex()})
		e.logger.Info().Msg("playlist ended")
		e.scheduleLatchRelease()
		return
	}

	if !e.trans.Settings().Enabled {
		e.finishAdvance(seq, next.ID, transition.Skipped)
		return
	}

	// The cancel is registered here, on the loop, so a user action in the
	// very next turn stops the transition even before Run has started.
	e.setState(StateTransitioning)
	runCtx, cancel := context.WithCancel(e.ctx)
	e.advanceCancel = cancel
	go func() {
		defer cancel()
		ctx, span := telemetry.StartSpan(runCtx, "orchestrator.advance", telemetry.SegmentAttrs(next.ID, next.ResolvedID)...)
		outcome := e.trans.Run(ctx, next)
		telemetry.FinishSpan(span, nil, telemetry.OutcomeAttr(string(outcome)))
		e.post(func() { e.finishAdvance(seq, next.ID, outcome) })
	}()
}

// finishAdvance commits the pointer once the transition is over. A user
// navigation in the meantime bumps advanceSeq and wins. The segment that was
// announced is the one that plays, even if the playlist was edited while
// the countdown ran.
func (e *Engine) finishAdvance(seq uint64, nextID string, outcome transition.Outcome) {
	if seq != e.advanceSeq || !e.handlingAdvance {
		return
	}
	e.advanceCancel = nil
	if outcome == transition.Cancelled {
		e.scheduleLatchRelease()
		return
	}
	if !e.commitNext(nextID) {
		// Playlist changed under the transition and there is no next anymore.
		e.setState(StateExhausted)
		e.bus.Publish(events.PlaylistEnded{Index: e.store.CurrentIndex()})
		e.scheduleLatchRelease()
		return
	}
	telemetry.AdvancesTotal.WithLabelValues("end").Inc()
	e.syncCurrent(true)
	e.scheduleLatchRelease()
}

// commitNext moves the pointer to the announced segment. When edits moved it
// away from the logical next it is selected by id; when it is gone the
// store's current next is used instead.
func (e *Engine) commitNext(nextID string) bool {
	peek, _, ok := e.store.PeekNext()
	if ok && peek.ID == nextID {
		return e.store.Next()
	}
	if idx := e.store.IndexOf(nextID); idx >= 0 {
		e.logger.Warn().Str("segment_id", nextID).Int("index", idx).Msg("playlist reordered during transition, keeping announced segment")
		return e.store.SetCurrentIndex(idx)
	}
	if ok {
		e.logger.Warn().Str("announced_id", nextID).Str("segment_id", peek.ID).Msg("announced segment removed during transition")
	}
	return e.store.Next()
}

// scheduleLatchRelease drops the advance latch after the cooldown so trailing
// end signals from the finished segment are absorbed.
func (e *Engine) scheduleLatchRelease() {
	e.latchSeq++
	seq := e.latchSeq
	if e.cooldown != nil {
		e.cooldown.Stop()
	}
	e.cooldown = time.AfterFunc(e.settings.AdvanceCooldown, func() {
		e.post(func() {
			if seq == e.latchSeq {
				e.handlingAdvance = false
				e.cooldown = nil
			}
		})
	})
}

// preempt cancels any transition and in-flight advance in favour of a user
// action and releases the latch at once.
func (e *Engine) preempt() {
	e.cancelTransition()
	e.advanceSeq++
	e.latchSeq++
	if e.cooldown != nil {
		e.cooldown.Stop()
		e.cooldown = nil
	}
	e.handlingAdvance = false
	e.cancelErrorSkip()
}

// cancelTransition stops the in-flight transition, started or not.
func (e *Engine) cancelTransition() {
	if e.advanceCancel != nil {
		e.advanceCancel()
		e.advanceCancel = nil
	}
	e.trans.Cancel()
}

func (e *Engine) userAdvanced() {
	telemetry.AdvancesTotal.WithLabelValues("user").Inc()
	e.preempt()
	e.syncCurrent(true)
}

// halt stops playback and forgets the loaded segment.
func (e *Engine) halt() {
	e.preempt()
	e.pendingLoad = false
	if e.loadedID != "" {
		ctx, cancel := e.commandContext()
		if err := e.mon.Stop(ctx); err != nil {
			e.logger.Debug().Err(err).Msg("stop failed")
		}
		cancel()
	}
	e.loadedID = ""
	e.setState(StateIdle)
}

// syncCurrent loads the store's current segment if it is not the loaded one,
// or unconditionally when force is set.
func (e *Engine) syncCurrent(force bool) {
	seg, _, ok := e.store.Current()
	if !ok {
		e.halt()
		return
	}
	if !force && seg.ID == e.loadedID {
		return
	}
	e.load(seg)
}

func (e *Engine) load(seg segment.Segment) {
	e.cancelTransition()
	e.cancelErrorSkip()
	if !e.providerReady {
		e.pendingLoad = true
		e.loadedID = ""
		e.setState(StateAwaitingProvider)
		e.logger.Debug().Str("segment_id", seg.ID).Msg("provider not ready, load deferred")
		return
	}
	e.pendingLoad = false
	e.setState(StateLoading)
	e.loadedID = seg.ID

	ctx, cancel := e.commandContext()
	defer cancel()
	if err := e.mon.Load(ctx, seg, seg.FadeEnabled(e.settings.FadeEnabled)); err != nil {
		if errors.Is(err, provider.ErrNotReady) {
			e.providerReady = false
			e.pendingLoad = true
			e.loadedID = ""
			e.setState(StateAwaitingProvider)
			return
		}
		e.loadedID = ""
		e.setState(StateIdle)
		e.fail("load", err)
		return
	}
	e.logger.Info().Str("segment_id", seg.ID).Str("title", seg.Title).Msg("segment loaded")
}

func (e *Engine) onReady(ready bool) {
	e.providerReady = ready
	first := ready && !e.readySeen
	if ready {
		e.readySeen = true
	}
	if !ready {
		e.preempt()
		if e.loadedID != "" {
			// resume where we were once the provider is back
			e.pendingLoad = true
		}
		e.loadedID = ""
		if e.pendingLoad {
			e.setState(StateAwaitingProvider)
		} else {
			e.setState(StateIdle)
		}
		return
	}
	switch {
	case e.pendingLoad:
		e.syncCurrent(true)
	case first && e.loadedID == "" && !e.store.IsEmpty():
		// Content arrived before the provider ever came up.
		e.syncCurrent(false)
	}
}

func (e *Engine) onProviderState(segID string, st provider.State) {
	if segID != e.loadedID {
		return
	}
	switch e.state {
	case StateLoading, StatePlaying, StatePaused:
	default:
		return
	}
	switch st {
	case provider.StatePlaying:
		e.setState(StatePlaying)
	case provider.StatePaused:
		e.setState(StatePaused)
	}
}

// onProviderError schedules the error skip. It bypasses transitions.
func (e *Engine) onProviderError(segID string, code provider.ErrorCode, message string) {
	if segID != e.loadedID || !e.settings.AutoAdvance {
		return
	}
	next, _, ok := e.store.PeekNext()
	if !ok {
		// Same as a natural end with nowhere to go.
		e.cancelErrorSkip()
		e.setState(StateExhausted)
		e.bus.Publish(events.PlaylistEnded{Index: e.store.CurrentIndex()})
		e.logger.Info().Str("segment_id", segID).Str("code", string(code)).Msg("playback failed on the last segment, playlist ended")
		return
	}
	if next.ID == segID {
		e.logger.Info().Str("segment_id", segID).Str("code", string(code)).Msg("playback failed, nothing to skip to")
		return
	}
	e.cancelErrorSkip()
	e.errorSeq++
	seq := e.errorSeq
	e.logger.Info().Str("segment_id", segID).Str("code", string(code)).Str("message", message).
		Dur("delay", e.settings.ErrorSkipDelay).Msg("playback failed, skipping")
	e.errorSkip = time.AfterFunc(e.settings.ErrorSkipDelay, func() {
		e.post(func() { e.errorSkipFired(seq, segID) })
	})
}

func (e *Engine) errorSkipFired(seq uint64, segID string) {
	if seq != e.errorSeq || segID != e.loadedID {
		return
	}
	e.errorSkip = nil
	if !e.store.Next() {
		return
	}
	telemetry.AdvancesTotal.WithLabelValues("error").Inc()
	e.preempt()
	e.syncCurrent(true)
}

func (e *Engine) cancelErrorSkip() {
	e.errorSeq++
	if e.errorSkip != nil {
		e.errorSkip.Stop()
		e.errorSkip = nil
	}
}
