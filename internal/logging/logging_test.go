package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
)

func TestLevelFor(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want zerolog.Level
	}{
		{"development default", Options{Environment: "development"}, zerolog.DebugLevel},
		{"production default", Options{Environment: "production"}, zerolog.InfoLevel},
		{"explicit level wins", Options{Environment: "development", Level: "WARN"}, zerolog.WarnLevel},
		{"unknown level ignored", Options{Environment: "production", Level: "loud"}, zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := levelFor(tt.opts); got != tt.want {
				t.Fatalf("levelFor = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSetupWithWriterTeesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithWriter(Options{Environment: "test", Level: "info", JSON: true}, &buf)

	logger.Debug().Msg("hidden")
	logger.Info().Str("component", "playlist").Msg("saved")

	out := buf.String()
	if bytes.Contains(buf.Bytes(), []byte("hidden")) {
		t.Fatalf("debug line passed the info level: %s", out)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"component":"playlist"`)) {
		t.Fatalf("tee writer missing line: %s", out)
	}
}
