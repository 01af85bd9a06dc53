/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package orchestrator

// State is the engine's playback state.
type State string

const (
	StateIdle             State = "idle"
	StateAwaitingProvider State = "awaiting_provider"
	StateLoading          State = "loading"
	StatePlaying          State = "playing"
	StatePaused           State = "paused"
	StateTransitioning    State = "transitioning"
	StateExhausted        State = "exhausted"
)

// validTransitions lists the moves each state allows besides Idle and
// AwaitingProvider, which are reachable from everywhere.
var validTransitions = map[State][]State{
	StateIdle: {
		StateLoading,
	},
	StateAwaitingProvider: {
		StateLoading,
	},
	StateLoading: {
		StatePlaying,
		StatePaused,
		StateTransitioning,
		StateExhausted,
	},
	StatePlaying: {
		StatePaused,
		StateLoading,
		StateTransitioning,
		StateExhausted,
	},
	StatePaused: {
		StatePlaying,
		StateLoading,
		StateTransitioning,
		StateExhausted,
	},
	StateTransitioning: {
		StateLoading,
		StateExhausted,
	},
	StateExhausted: {
		StateLoading,
	},
}

func isValidTransition(from, to State) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	if to == StateIdle || to == StateAwaitingProvider {
		return true
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}
