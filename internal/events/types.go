/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

// Kind enumerates event categories.
type Kind string

const (
	// Playlist events
	KindPlaylistChanged Kind = "playlist.changed"
	KindCurrentChanged  Kind = "playlist.current_changed"
	KindLoopChanged     Kind = "playlist.loop_changed"
	KindPlaylistEnded   Kind = "playlist.ended"

	// Player events
	KindPlayerReady        Kind = "player.ready"
	KindPlayerStateChanged Kind = "player.state_changed"
	KindProgress           Kind = "player.progress"
	KindSegmentEnded       Kind = "player.segment_ended"
	KindPlayerError        Kind = "player.error"
	KindVolumeChanged      Kind = "player.volume_changed"

	// Engine events
	KindEngineStateChanged Kind = "engine.state_changed"
	KindTransitionStarted  Kind = "engine.transition_started"
	KindTransitionTick     Kind = "engine.transition_tick"
	KindTransitionFinished Kind = "engine.transition_finished"
	KindOperationFailed    Kind = "engine.operation_failed"
)

// Event is implemented by every payload type below.
type Event interface {
	Kind() Kind
}

// PlaylistChanged fires after any structural change to the playlist.
type PlaylistChanged struct {
	Length int `json:"length"`
}

// CurrentChanged fires when the playlist pointer moves or is re-derived.
type CurrentChanged struct {
	Index     int    `json:"index"`
	SegmentID string `json:"segment_id,omitempty"`
}

// LoopChanged fires when looping is toggled.
type LoopChanged struct {
	Enabled bool `json:"enabled"`
}

// PlaylistEnded fires when the last segment ended with looping off.
type PlaylistEnded struct {
	Index int `json:"index"`
}

// PlayerReady fires when the playback provider becomes usable (or stops
// being usable, Ready=false).
type PlayerReady struct {
	Ready bool `json:"ready"`
}

// PlayerStateChanged mirrors the provider's playback state.
type PlayerStateChanged struct {
	State string `json:"state"`
}

// Progress reports playhead position within the loaded segment.
type Progress struct {
	SegmentID   string  `json:"segment_id"`
	CurrentTime float64 `json:"current_time"`
	Duration    float64 `json:"duration"`
	Percent     float64 `json:"percent"`
}

// SegmentEnded fires once per loaded segment.
type SegmentEnded struct {
	SegmentID string `json:"segment_id"`
}

// PlayerError carries a classified provider failure.
type PlayerError struct {
	SegmentID string `json:"segment_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// VolumeChanged reports an explicit volume change.
type VolumeChanged struct {
	Volume int `json:"volume"`
}

// EngineStateChanged reports orchestrator state machine moves.
type EngineStateChanged struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// TransitionStarted fires when the countdown screen appears.
type TransitionStarted struct {
	SegmentID string `json:"segment_id"`
	Title     string `json:"title"`
	Seconds   int    `json:"seconds"`
}

// TransitionTick fires on every countdown step.
type TransitionTick struct {
	Remaining int  `json:"remaining"`
	Emphasis  bool `json:"emphasis"`
}

// TransitionFinished fires when a transition completes or is cancelled.
type TransitionFinished struct {
	SegmentID string `json:"segment_id"`
	Cancelled bool   `json:"cancelled"`
}

// OperationFailed is the single notification for a failed public operation.
type OperationFailed struct {
	Operation string `json:"operation"`
	Reason    string `json:"reason"`
}

func (PlaylistChanged) Kind() Kind    { return KindPlaylistChanged }
func (CurrentChanged) Kind() Kind     { return KindCurrentChanged }
func (LoopChanged) Kind() Kind        { return KindLoopChanged }
func (PlaylistEnded) Kind() Kind      { return KindPlaylistEnded }
func (PlayerReady) Kind() Kind        { return KindPlayerReady }
func (PlayerStateChanged) Kind() Kind { return KindPlayerStateChanged }
func (Progress) Kind() Kind           { return KindProgress }
func (SegmentEnded) Kind() Kind       { return KindSegmentEnded }
func (PlayerError) Kind() Kind        { return KindPlayerError }
func (VolumeChanged) Kind() Kind      { return KindVolumeChanged }
func (EngineStateChanged) Kind() Kind { return KindEngineStateChanged }
func (TransitionStarted) Kind() Kind  { return KindTransitionStarted }
func (TransitionTick) Kind() Kind     { return KindTransitionTick }
func (TransitionFinished) Kind() Kind { return KindTransitionFinished }
func (OperationFailed) Kind() Kind    { return KindOperationFailed }
