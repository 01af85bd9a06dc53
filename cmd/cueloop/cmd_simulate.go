/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/cueloop/internal/events"
	"github.com/friendsincode/cueloop/internal/orchestrator"
	"github.com/friendsincode/cueloop/internal/playlist"
	"github.com/friendsincode/cueloop/internal/provider/sim"
	"github.com/friendsincode/cueloop/internal/transition"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate <playlist.json>",
	Short: "Play a playlist headless against the simulated player",
	Long:  "Run the orchestrator against a simulated provider, logging every event until the playlist ends or the process is interrupted",
	Args:  cobra.ExactArgs(1),
	RunE:  runSimulate,
}

var (
	simulateRate              float64
	simulateDefaultDuration   float64
	simulateTransitionSeconds int
	simulateCueLength         time.Duration
	simulateTimeout           time.Duration
)

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().Float64Var(&simulateRate, "rate", 1, "Playback speed multiplier of the simulated player")
	simulateCmd.Flags().Float64Var(&simulateDefaultDuration, "duration", 30, "Natural length in seconds of every simulated video")
	simulateCmd.Flags().IntVar(&simulateTransitionSeconds, "transition-seconds", 0, "Override the countdown length")
	simulateCmd.Flags().DurationVar(&simulateCueLength, "cue-length", 0, "Pretend the applause cue lasts this long")
	simulateCmd.Flags().DurationVar(&simulateTimeout, "timeout", 0, "Stop after this long even if the playlist has not ended")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	doc, err := playlist.DecodeDocumentFile(args[0], data)
	if err != nil {
		return err
	}

	player := cfg.Player()
	if cmd.Flags().Changed("transition-seconds") {
		player.Transition.Seconds = simulateTransitionSeconds
	}
	var cue transition.Cue = transition.SilentCue{}
	if simulateCueLength > 0 {
		cue = transition.TimedCue{Length: simulateCueLength}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if simulateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, simulateTimeout)
		defer cancel()
	}

	bus := events.NewBus()
	prov := sim.New(sim.WithRate(simulateRate), sim.WithDefaultDuration(simulateDefaultDuration))
	store := playlist.NewStore(nil, bus, logger)
	trans := transition.NewCoordinator(transition.LogScreen{Logger: logger}, cue, player.Transition, bus, logger)
	engine := orchestrator.New(store, prov, trans, player.Engine, player.Monitor, bus, logger)

	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	go prov.Run(ctx)
	go engine.Run(ctx)

	report, err := engine.ImportPlaylist(*doc)
	for _, problem := range report.Problems {
		logger.Warn().Str("problem", problem).Msg("entry skipped")
	}
	if err != nil {
		return err
	}

	prov.Connect()
	if err := engine.Play(); err != nil {
		return fmt.Errorf("start playback: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("simulation stopped")
			return nil
		case ev := <-sub:
			logEvent(logger, ev)
			if _, ok := ev.(events.PlaylistEnded); ok {
				logger.Info().Msg("playlist finished")
				return nil
			}
		}
	}
}

func logEvent(l zerolog.Logger, ev events.Event) {
	entry := l.Info()
	if ev.Kind() == events.KindProgress || ev.Kind() == events.KindTransitionTick {
		entry = l.Debug()
	}
	entry.Str("kind", string(ev.Kind())).Interface("data", ev).Msg("event")
}
