/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package transition

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// LogScreen renders the countdown into the log. Used when no browser is
// attached.
type LogScreen struct {
	Logger zerolog.Logger
}

func (s LogScreen) Show(label string, seconds int) error {
	s.Logger.Info().Str("next", label).Int("seconds", seconds).Msg("up next")
	return nil
}

func (s LogScreen) Tick(remaining int, emphasis bool) {
	s.Logger.Debug().Int("remaining", remaining).Bool("emphasis", emphasis).Msg("countdown")
}

func (s LogScreen) Hide() {}

// SilentCue finishes immediately.
type SilentCue struct{}

func (SilentCue) Play(context.Context, string) error { return nil }

// TimedCue pretends to play a sample of fixed length.
type TimedCue struct {
	Length time.Duration
}

func (c TimedCue) Play(ctx context.Context, _ string) error {
	timer := time.NewTimer(c.Length)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
