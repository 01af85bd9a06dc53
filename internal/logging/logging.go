/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options selects the level and output format.
type Options struct {
	Environment string
	// Level overrides the environment default (debug in development,
	// info otherwise) when it names a zerolog level.
	Level string
	// JSON writes plain JSON lines instead of the console format.
	JSON bool
}

// Setup configures zerolog for the process.
func Setup(opts Options) zerolog.Logger {
	return SetupWithWriter(opts, nil)
}

// SetupWithWriter configures zerolog with an additional writer that receives
// the JSON form of every line, such as the in-memory log buffer.
func SetupWithWriter(opts Options, additionalWriter io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var out io.Writer = os.Stderr
	if !opts.JSON {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	if additionalWriter != nil {
		out = zerolog.MultiLevelWriter(out, additionalWriter)
	}

	logger := zerolog.New(out).With().Timestamp().Logger().Level(levelFor(opts))
	log.Logger = logger
	return logger
}

func levelFor(opts Options) zerolog.Level {
	if opts.Level != "" {
		if lvl, err := zerolog.ParseLevel(strings.ToLower(opts.Level)); err == nil && lvl != zerolog.NoLevel {
			return lvl
		}
	}
	if opts.Environment == "development" {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}
