package transition

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/cueloop/internal/events"
	"github.com/friendsincode/cueloop/internal/segment"
)

type recordingScreen struct {
	mu     sync.Mutex
	shown  []string
	ticks  []int
	urgent []int
	hides  int
}

func (s *recordingScreen) Show(label string, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shown = append(s.shown, label)
	return nil
}

func (s *recordingScreen) Tick(remaining int, emphasis bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = append(s.ticks, remaining)
	if emphasis {
		s.urgent = append(s.urgent, remaining)
	}
}

func (s *recordingScreen) Hide() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hides++
}

func (s *recordingScreen) hideCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hides
}

type failingCue struct{}

func (failingCue) Play(context.Context, string) error { return errors.New("no audio device") }

func fastSettings() Settings {
	return Settings{
		Enabled:      true,
		Seconds:      6,
		TickInterval: 5 * time.Millisecond,
		EmphasisFrom: 5,
		CueEnabled:   true,
		CueName:      "applause",
		CueTimeout:   time.Second,
	}
}

var next = segment.Segment{ID: "seg-1", ResolvedID: "aaaaaaaaaaa", Title: "Bohemian Rhapsody"}

func TestDisabledSkips(t *testing.T) {
	screen := &recordingScreen{}
	settings := fastSettings()
	settings.Enabled = false
	c := NewCoordinator(screen, SilentCue{}, settings, nil, zerolog.Nop())

	if got := c.Run(context.Background(), next); got != Skipped {
		t.Fatalf("outcome = %s, want skipped", got)
	}
	if len(screen.shown) != 0 {
		t.Fatal("disabled transition showed the screen")
	}
}

func TestCountdownTicksWithEmphasis(t *testing.T) {
	screen := &recordingScreen{}
	bus := events.NewBus()
	sub := bus.Subscribe(events.KindTransitionStarted, events.KindTransitionFinished)
	c := NewCoordinator(screen, SilentCue{}, fastSettings(), bus, zerolog.Nop())

	if got := c.Run(context.Background(), next); got != Completed {
		t.Fatalf("outcome = %s, want completed", got)
	}
	want := []int{6, 5, 4, 3, 2, 1, 0}
	if len(screen.ticks) != len(want) {
		t.Fatalf("ticks = %v, want %v", screen.ticks, want)
	}
	for i := range want {
		if screen.ticks[i] != want[i] {
			t.Fatalf("ticks = %v, want %v", screen.ticks, want)
		}
	}
	if len(screen.urgent) != 6 || screen.urgent[0] != 5 {
		t.Fatalf("emphasis ticks = %v", screen.urgent)
	}
	if screen.shown[0] != "Bohemian Rhapsody" || screen.hideCount() != 1 {
		t.Fatalf("shown=%v hides=%d", screen.shown, screen.hideCount())
	}

	started := (<-sub).(events.TransitionStarted)
	finished := (<-sub).(events.TransitionFinished)
	if started.Title != "Bohemian Rhapsody" || finished.Cancelled {
		t.Fatalf("events = %+v %+v", started, finished)
	}
}

func TestWaitsForSlowerCue(t *testing.T) {
	settings := fastSettings()
	settings.Seconds = 1
	c := NewCoordinator(&recordingScreen{}, TimedCue{Length: 150 * time.Millisecond}, settings, nil, zerolog.Nop())

	start := time.Now()
	c.Run(context.Background(), next)
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Fatalf("returned after %s, before the cue finished", elapsed)
	}
}

func TestWaitsForSlowerCountdown(t *testing.T) {
	settings := fastSettings()
	settings.TickInterval = 30 * time.Millisecond
	settings.Seconds = 4
	c := NewCoordinator(&recordingScreen{}, SilentCue{}, settings, nil, zerolog.Nop())

	start := time.Now()
	c.Run(context.Background(), next)
	if elapsed := time.Since(start); elapsed < 120*time.Millisecond {
		t.Fatalf("returned after %s, before the countdown finished", elapsed)
	}
}

func TestCueFailureIsSwallowed(t *testing.T) {
	c := NewCoordinator(&recordingScreen{}, failingCue{}, fastSettings(), nil, zerolog.Nop())
	if got := c.Run(context.Background(), next); got != Completed {
		t.Fatalf("outcome = %s, want completed", got)
	}
}

func TestReentrantRunSkips(t *testing.T) {
	settings := fastSettings()
	settings.TickInterval = 20 * time.Millisecond
	c := NewCoordinator(&recordingScreen{}, SilentCue{}, settings, nil, zerolog.Nop())

	done := make(chan Outcome)
	go func() { done <- c.Run(context.Background(), next) }()
	deadline := time.Now().Add(time.Second)
	for !c.Running() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if got := c.Run(context.Background(), next); got != Skipped {
		t.Fatalf("second run = %s, want skipped", got)
	}
	if got := <-done; got != Completed {
		t.Fatalf("first run = %s, want completed", got)
	}
	if c.Running() {
		t.Fatal("still running after completion")
	}
}

func TestCancelHidesImmediately(t *testing.T) {
	screen := &recordingScreen{}
	settings := fastSettings()
	settings.TickInterval = time.Second
	c := NewCoordinator(screen, TimedCue{Length: time.Minute}, settings, nil, zerolog.Nop())

	done := make(chan Outcome)
	go func() { done <- c.Run(context.Background(), next) }()
	deadline := time.Now().Add(time.Second)
	for !c.Running() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	c.Cancel()
	if screen.hideCount() != 1 {
		t.Fatal("cancel must hide the screen at once")
	}
	select {
	case got := <-done:
		if got != Cancelled {
			t.Fatalf("outcome = %s, want cancelled", got)
		}
	case <-time.After(time.Second):
		t.Fatal("run did not return after cancel")
	}
	if screen.hideCount() != 1 {
		t.Fatalf("screen hidden %d times", screen.hideCount())
	}
}

func TestCancelWithoutRunIsNoop(t *testing.T) {
	screen := &recordingScreen{}
	c := NewCoordinator(screen, nil, fastSettings(), nil, zerolog.Nop())
	c.Cancel()
	if screen.hideCount() != 0 {
		t.Fatal("idle cancel touched the screen")
	}
}

func TestRunWithCancelledContextShowsNothing(t *testing.T) {
	screen := &recordingScreen{}
	c := NewCoordinator(screen, SilentCue{}, fastSettings(), nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got := c.Run(ctx, next); got != Cancelled {
		t.Fatalf("outcome = %s, want cancelled", got)
	}
	if len(screen.shown) != 0 || screen.hideCount() != 0 {
		t.Fatalf("screen touched: shown=%v hides=%d", screen.shown, screen.hideCount())
	}
	if c.Running() {
		t.Fatal("coordinator still marked running")
	}
}
