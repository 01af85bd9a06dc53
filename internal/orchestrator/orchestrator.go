/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package orchestrator is the playback engine: it turns user intents and
// monitor signals into playlist moves, transitions and provider loads.
//
// All engine state is owned by a single loop goroutine. Public methods hand
// closures to the loop and wait for them; monitor callbacks and timers post
// closures without waiting.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/cueloop/internal/events"
	"github.com/friendsincode/cueloop/internal/monitor"
	"github.com/friendsincode/cueloop/internal/playlist"
	"github.com/friendsincode/cueloop/internal/provider"
	"github.com/friendsincode/cueloop/internal/segment"
	"github.com/friendsincode/cueloop/internal/transition"
)

var (
	// ErrStopped indicates the engine loop is not running.
	ErrStopped = errors.New("engine stopped")

	// ErrEmptyPlaylist indicates an operation that needs a segment.
	ErrEmptyPlaylist = errors.New("playlist is empty")

	// ErrNothingLoaded indicates a player command with no segment loaded.
	ErrNothingLoaded = errors.New("no segment loaded")

	// ErrNoNext indicates next at the end of a non-looping playlist.
	ErrNoNext = errors.New("no next segment")

	// ErrNoPrevious indicates previous at the start of a non-looping playlist.
	ErrNoPrevious = errors.New("no previous segment")

	// ErrIndexOutOfRange indicates a bad playlist index.
	ErrIndexOutOfRange = playlist.ErrIndexOutOfRange
)

const (
	commandBuffer  = 64
	commandTimeout = 5 * time.Second
)

// Settings are the engine's run-time switches.
type Settings struct {
	AutoAdvance     bool
	FadeEnabled     bool
	AdvanceCooldown time.Duration
	ErrorSkipDelay  time.Duration
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		AutoAdvance:     true,
		FadeEnabled:     true,
		AdvanceCooldown: time.Second,
		ErrorSkipDelay:  2 * time.Second,
	}
}

// Status is a snapshot for the presentation layer.
type Status struct {
	State              State          `json:"state"`
	CurrentIndex       int            `json:"current_index"`
	Length             int            `json:"length"`
	CurrentSegmentID   string         `json:"current_segment_id,omitempty"`
	CurrentTitle       string         `json:"current_title,omitempty"`
	LoopEnabled        bool           `json:"loop_enabled"`
	AutoAdvance        bool           `json:"auto_advance"`
	TransitionsEnabled bool           `json:"transitions_enabled"`
	FadeEnabled        bool           `json:"fade_enabled"`
	ProviderReady      bool           `json:"provider_ready"`
	PlayerState        provider.State `json:"player_state"`
	CurrentTime        float64        `json:"current_time"`
	Duration           float64        `json:"duration"`
	Volume             int            `json:"volume"`
	AdvanceInFlight    bool           `json:"advance_in_flight"`
}

// Engine is the playback orchestrator.
type Engine struct {
	store  *playlist.Store
	prov   provider.Provider
	mon    *monitor.Monitor
	trans  *transition.Coordinator
	bus    *events.Bus
	logger zerolog.Logger

	cmds    chan func()
	stopped chan struct{}
	ctx     context.Context

	// Owned by the loop goroutine.
	state           State
	settings        Settings
	providerReady   bool
	readySeen       bool
	pendingLoad     bool
	loadedID        string
	handlingAdvance bool
	advanceSeq      uint64
	advanceCancel   context.CancelFunc
	latchSeq        uint64
	cooldown        *time.Timer
	errorSeq        uint64
	errorSkip       *time.Timer
}

// New wires an engine around its collaborators. The monitor is created here
// so its callbacks feed this engine's loop.
func New(store *playlist.Store, prov provider.Provider, trans *transition.Coordinator, settings Settings, monSettings monitor.Settings, bus *events.Bus, logger zerolog.Logger) *Engine {
	e := &Engine{
		store:    store,
		prov:     prov,
		trans:    trans,
		bus:      bus,
		logger:   logger.With().Str("component", "orchestrator").Logger(),
		cmds:     make(chan func(), commandBuffer),
		stopped:  make(chan struct{}),
		ctx:      context.Background(),
		state:    StateIdle,
		settings: settings,
	}
	e.mon = monitor.New(prov, monSettings, bus, logger, monitor.Callbacks{
		OnReady: func(ready bool) {
			e.post(func() { e.onReady(ready) })
		},
		OnStateChange: func(segID string, st provider.State) {
			e.post(func() { e.onProviderState(segID, st) })
		},
		OnSegmentEnded: func(segID string) {
			e.post(func() { e.onSegmentEnded(segID) })
		},
		OnError: func(segID string, code provider.ErrorCode, msg string) {
			e.post(func() { e.onProviderError(segID, code, msg) })
		},
	})
	return e
}

// Run drives the engine until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.ctx = ctx
	go e.mon.Run(ctx)
	e.logger.Info().Msg("engine started")

	defer func() {
		close(e.stopped)
		e.cancelTransition()
		e.stopTimers()
		e.logger.Info().Msg("engine stopped")
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-e.cmds:
			fn()
		}
	}
}

// do runs fn on the loop and waits for it.
func (e *Engine) do(fn func()) error {
	done := make(chan struct{})
	select {
	case e.cmds <- func() { fn(); close(done) }:
	case <-e.stopped:
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-e.stopped:
		return ErrStopped
	}
}

// post queues fn on the loop without waiting.
func (e *Engine) post(fn func()) {
	select {
	case e.cmds <- fn:
	case <-e.stopped:
	}
}

func call[T any](e *Engine, fn func() (T, error)) (T, error) {
	var (
		out T
		err error
	)
	if lerr := e.do(func() { out, err = fn() }); lerr != nil {
		return out, lerr
	}
	return out, err
}

func (e *Engine) exec(fn func() error) error {
	_, err := call(e, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

// Subscribe returns a channel of engine, player and playlist events.
func (e *Engine) Subscribe(kinds ...events.Kind) events.Subscriber {
	return e.bus.Subscribe(kinds...)
}

// Unsubscribe detaches a subscriber.
func (e *Engine) Unsubscribe(sub events.Subscriber) {
	e.bus.Unsubscribe(sub)
}

// Playlist operations

// Add appends a segment. Adding to an exhausted playlist moves on to the new
// segment.
func (e *Engine) Add(c segment.Candidate) (segment.Segment, error) {
	return call(e, func() (segment.Segment, error) {
		wasEmpty := e.store.IsEmpty()
		seg, err := e.store.Add(c)
		if err != nil {
			return seg, e.fail("add", err)
		}
		switch {
		case e.state == StateExhausted:
			e.store.SetCurrentIndex(e.store.Len() - 1)
			e.preempt()
			e.syncCurrent(true)
		case wasEmpty:
			e.syncCurrent(false)
		}
		return seg, nil
	})
}

// Update edits the segment at index. Editing the loaded segment retargets
// the monitor instead of reloading.
func (e *Engine) Update(index int, c segment.Candidate) (segment.Segment, error) {
	return call(e, func() (segment.Segment, error) {
		seg, err := e.store.Update(index, c)
		if err != nil {
			return seg, e.fail("update", err)
		}
		if seg.ID == e.loadedID {
			e.mon.Retarget(seg, seg.FadeEnabled(e.settings.FadeEnabled))
		}
		return seg, nil
	})
}

// Remove deletes the segment at index. Removing the loaded segment stops
// playback.
func (e *Engine) Remove(index int) error {
	return e.exec(func() error {
		segs := e.store.Segments()
		if index < 0 || index >= len(segs) {
			return e.fail("remove", fmt.Errorf("%w: %d", ErrIndexOutOfRange, index))
		}
		removedID := segs[index].ID
		e.store.Remove(index)
		if removedID == e.loadedID {
			e.halt()
		}
		return nil
	})
}

// Move relocates a segment; the pointer follows the segment it was on.
func (e *Engine) Move(from, to int) error {
	return e.exec(func() error {
		if !e.store.Move(from, to) {
			return e.fail("move", fmt.Errorf("%w: %d -> %d", ErrIndexOutOfRange, from, to))
		}
		return nil
	})
}

// Select points the playlist at index and plays it.
func (e *Engine) Select(index int) error {
	return e.exec(func() error {
		if !e.store.SetCurrentIndex(index) {
			return e.fail("select", fmt.Errorf("%w: %d", ErrIndexOutOfRange, index))
		}
		e.preempt()
		e.syncCurrent(true)
		return nil
	})
}

// Next moves to the following segment on user request.
func (e *Engine) Next() error {
	return e.exec(func() error {
		if !e.store.Next() {
			return e.fail("next", ErrNoNext)
		}
		e.userAdvanced()
		return nil
	})
}

// Previous moves to the preceding segment on user request.
func (e *Engine) Previous() error {
	return e.exec(func() error {
		if !e.store.Previous() {
			return e.fail("previous", ErrNoPrevious)
		}
		e.userAdvanced()
		return nil
	})
}

// ToggleLoop flips looping and returns the new state.
func (e *Engine) ToggleLoop() (bool, error) {
	return call(e, func() (bool, error) {
		return e.store.ToggleLoop(), nil
	})
}

// Clear empties the playlist and stops playback.
func (e *Engine) Clear() error {
	return e.exec(func() error {
		e.store.Clear()
		e.halt()
		return nil
	})
}

// IsDuplicate reports whether c matches an existing segment other than the
// one at exclude.
func (e *Engine) IsDuplicate(c segment.Candidate, exclude int) bool {
	return e.store.IsDuplicate(c, exclude)
}

// Player operations

// Play starts or resumes playback of the current segment.
func (e *Engine) Play() error {
	return e.exec(func() error {
		if e.store.IsEmpty() {
			return e.fail("play", ErrEmptyPlaylist)
		}
		if e.loadedID == "" || e.state == StateExhausted {
			e.syncCurrent(true)
			return nil
		}
		ctx, cancel := e.commandContext()
		defer cancel()
		if err := e.mon.Play(ctx); err != nil {
			return e.fail("play", err)
		}
		return nil
	})
}

// Pause pauses the loaded segment.
func (e *Engine) Pause() error {
	return e.exec(func() error {
		if e.loadedID == "" {
			return e.fail("pause", ErrNothingLoaded)
		}
		ctx, cancel := e.commandContext()
		defer cancel()
		if err := e.mon.Pause(ctx); err != nil {
			return e.fail("pause", err)
		}
		return nil
	})
}

// Toggle pauses while playing and plays otherwise.
func (e *Engine) Toggle() error {
	if e.prov.State() == provider.StatePlaying {
		return e.Pause()
	}
	return e.Play()
}

// Stop halts playback and cancels any transition.
func (e *Engine) Stop() error {
	return e.exec(func() error {
		e.halt()
		return nil
	})
}

// Seek moves the playhead of the loaded segment.
func (e *Engine) Seek(seconds float64) error {
	return e.exec(func() error {
		if e.loadedID == "" {
			return e.fail("seek", ErrNothingLoaded)
		}
		if seconds < 0 {
			return e.fail("seek", fmt.Errorf("seek position must be non-negative, got %v", seconds))
		}
		ctx, cancel := e.commandContext()
		defer cancel()
		if err := e.mon.Seek(ctx, seconds); err != nil {
			return e.fail("seek", err)
		}
		return nil
	})
}

// SetVolume sets the volume, clamped to 0..100, cancelling any fade.
func (e *Engine) SetVolume(volume int) error {
	return e.exec(func() error {
		ctx, cancel := e.commandContext()
		defer cancel()
		if err := e.mon.SetVolume(ctx, volume); err != nil {
			return e.fail("volume", err)
		}
		return nil
	})
}

// Persistence

// ExportPlaylist returns the playlist as an export document.
func (e *Engine) ExportPlaylist() (playlist.Document, error) {
	return call(e, func() (playlist.Document, error) {
		return e.store.Export(), nil
	})
}

// ImportPlaylist replaces the playlist with the valid entries of doc and
// loads its first segment, or defers that until the provider is ready.
func (e *Engine) ImportPlaylist(doc playlist.Document) (playlist.ImportReport, error) {
	return call(e, func() (playlist.ImportReport, error) {
		report, err := e.store.Import(doc)
		if err != nil {
			return report, e.fail("import", err)
		}
		e.preempt()
		e.syncCurrent(true)
		return report, nil
	})
}

// LoadFromStorage restores the persisted playlist and loads the saved
// current segment, or defers that until the provider is ready.
func (e *Engine) LoadFromStorage(ctx context.Context) (playlist.ImportReport, error) {
	return call(e, func() (playlist.ImportReport, error) {
		report, found, err := e.store.LoadSaved(ctx)
		if err != nil {
			return report, e.fail("load", err)
		}
		if found {
			e.preempt()
			e.syncCurrent(true)
		}
		return report, nil
	})
}

// SaveToStorage writes the playlist through the persister.
func (e *Engine) SaveToStorage(ctx context.Context) error {
	return e.exec(func() error {
		if err := e.store.Save(ctx); err != nil {
			return e.fail("save", err)
		}
		return nil
	})
}

// Queries

// Status returns a snapshot of the engine.
func (e *Engine) Status() Status {
	st, err := call(e, func() (Status, error) {
		s := Status{
			State:              e.state,
			CurrentIndex:       e.store.CurrentIndex(),
			Length:             e.store.Len(),
			LoopEnabled:        e.store.LoopEnabled(),
			AutoAdvance:        e.settings.AutoAdvance,
			TransitionsEnabled: e.trans.Settings().Enabled,
			FadeEnabled:        e.settings.FadeEnabled,
			ProviderReady:      e.providerReady,
			AdvanceInFlight:    e.handlingAdvance,
		}
		if seg, _, ok := e.store.Current(); ok {
			s.CurrentSegmentID = seg.ID
			s.CurrentTitle = seg.Title
		}
		return s, nil
	})
	if err != nil {
		st.State = StateIdle
	}
	st.PlayerState = e.prov.State()
	st.CurrentTime = e.prov.CurrentTime()
	st.Duration = e.prov.Duration()
	st.Volume = e.prov.Volume()
	return st
}

// CurrentSegment returns the segment under the playlist pointer.
func (e *Engine) CurrentSegment() (segment.Segment, int, bool) {
	return e.store.Current()
}

// Playlist returns the ordered segments.
func (e *Engine) Playlist() []segment.Segment {
	return e.store.Segments()
}

// Settings

// SetAutoAdvance switches advance-on-end on or off.
func (e *Engine) SetAutoAdvance(enabled bool) error {
	return e.exec(func() error {
		e.settings.AutoAdvance = enabled
		if !enabled {
			e.cancelErrorSkip()
		}
		return nil
	})
}

// SetTransitionsEnabled switches the countdown interlude on or off.
func (e *Engine) SetTransitionsEnabled(enabled bool) error {
	return e.exec(func() error {
		e.trans.SetEnabled(enabled)
		return nil
	})
}

// SetFadeEnabled switches volume fades for segments without an override.
func (e *Engine) SetFadeEnabled(enabled bool) error {
	return e.exec(func() error {
		e.settings.FadeEnabled = enabled
		return nil
	})
}

// Reject reports an operation that failed before it reached the engine, such
// as a request body that could not be decoded. It returns err, or
// ErrStopped once the engine is gone.
func (e *Engine) Reject(op string, err error) error {
	return e.exec(func() error { return e.fail(op, err) })
}

// fail publishes the single notification for a failed operation and returns
// err unchanged.
func (e *Engine) fail(op string, err error) error {
	e.logger.Debug().Err(err).Str("operation", op).Msg("operation failed")
	e.bus.Publish(events.OperationFailed{Operation: op, Reason: err.Error()})
	return err
}

func (e *Engine) commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(e.ctx, commandTimeout)
}

// setState moves the state machine. Invalid moves are logged and refused.
func (e *Engine) setState(to State) bool {
	from := e.state
	if from == to {
		return true
	}
	if !isValidTransition(from, to) {
		e.logger.Warn().Str("from", string(from)).Str("to", string(to)).Msg("invalid state transition")
		return false
	}
	e.state = to
	e.logger.Debug().Str("from", string(from)).Str("to", string(to)).Msg("state transition")
	e.bus.Publish(events.EngineStateChanged{From: string(from), To: string(to)})
	return true
}

func (e *Engine) stopTimers() {
	if e.cooldown != nil {
		e.cooldown.Stop()
		e.cooldown = nil
	}
	e.cancelErrorSkip()
}
