/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package provider defines the playback surface the engine drives. The
// engine never renders video itself; a provider (the browser bridge or the
// simulator) does.
package provider

import (
	"context"
	"errors"
)

// State is the playback state reported by a provider.
type State string

const (
	StateUnstarted State = "unstarted"
	StateEnded     State = "ended"
	StatePlaying   State = "playing"
	StatePaused    State = "paused"
	StateBuffering State = "buffering"
	StateCued      State = "cued"
)

// ErrNotReady is returned by commands issued before the provider is usable.
var ErrNotReady = errors.New("playback provider not ready")

// Provider is the playback capability consumed by the monitor.
type Provider interface {
	Load(ctx context.Context, id string, start float64, end *float64) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	Seek(ctx context.Context, seconds float64) error
	SetVolume(ctx context.Context, volume int) error

	CurrentTime() float64
	Duration() float64
	Volume() int
	State() State
	Ready() bool

	// Events delivers ready, state and error notifications. The channel is
	// owned by the provider and closed when it shuts down.
	Events() <-chan Event
}

// EventType tags provider notifications.
type EventType int

const (
	EventReady EventType = iota
	EventStateChange
	EventError
	// EventGone means the provider stopped being usable (e.g. the browser
	// disconnected). A later EventReady may follow.
	EventGone
)

// Event is one provider notification. VideoID names the video the event is
// about when the provider knows it.
type Event struct {
	Type    EventType
	VideoID string
	State   State
	Code    int
	Message string
}

// ErrorCode is the engine's error vocabulary for provider failures.
type ErrorCode string

const (
	ErrorInvalidID       ErrorCode = "invalid_id"
	ErrorEmbedRestricted ErrorCode = "embed_restricted"
	ErrorNotFound        ErrorCode = "not_found"
	ErrorGeneric         ErrorCode = "generic"
)

// ClassifyError maps raw embed player error codes to ErrorCode.
func ClassifyError(code int) ErrorCode {
	switch code {
	case 2:
		return ErrorInvalidID
	case 100:
		return ErrorNotFound
	case 101, 150:
		return ErrorEmbedRestricted
	default:
		return ErrorGeneric
	}
}

// Describe returns a short human readable explanation for the code.
func (c ErrorCode) Describe() string {
	switch c {
	case ErrorInvalidID:
		return "The video id is invalid"
	case ErrorNotFound:
		return "The video was not found or is private"
	case ErrorEmbedRestricted:
		return "The video owner does not allow embedded playback"
	default:
		return "The video could not be played"
	}
}

// Clamp bounds a volume to 0..100.
func Clamp(volume int) int {
	return max(0, min(100, volume))
}
