package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/cueloop/internal/events"
	"github.com/friendsincode/cueloop/internal/monitor"
	"github.com/friendsincode/cueloop/internal/playlist"
	"github.com/friendsincode/cueloop/internal/provider/sim"
	"github.com/friendsincode/cueloop/internal/segment"
	"github.com/friendsincode/cueloop/internal/transition"
)

const (
	videoA = "aaaaaaaaaaa"
	videoB = "bbbbbbbbbbb"
	videoC = "ccccccccccc"
)

func ptr[T any](v T) *T { return &v }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// recordingScreen notes how many provider loads had happened when each
// countdown appeared.
type recordingScreen struct {
	mu          sync.Mutex
	prov        *sim.Provider
	shown       []string
	loadsAtShow []int
	hides       int
}

func (s *recordingScreen) Show(label string, _ int) error {
	loads := len(s.prov.Loads())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shown = append(s.shown, label)
	s.loadsAtShow = append(s.loadsAtShow, loads)
	return nil
}

func (s *recordingScreen) Tick(int, bool) {}

func (s *recordingScreen) Hide() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hides++
}

func (s *recordingScreen) snapshot() ([]string, []int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.shown...), append([]int(nil), s.loadsAtShow...), s.hides
}

type harness struct {
	engine *Engine
	prov   *sim.Provider
	store  *playlist.Store
	screen *recordingScreen
	bus    *events.Bus
}

type harnessOptions struct {
	transitions  bool
	tickInterval time.Duration
	cooldown     time.Duration
	connect      bool
	simOpts      []sim.Option
	persister    playlist.Persister
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	if opts.tickInterval == 0 {
		opts.tickInterval = 2 * time.Millisecond
	}
	if opts.cooldown == 0 {
		opts.cooldown = 50 * time.Millisecond
	}

	bus := events.NewBus()
	prov := sim.New(opts.simOpts...)
	screen := &recordingScreen{prov: prov}
	store := playlist.NewStore(opts.persister, bus, zerolog.Nop())

	trans := transition.NewCoordinator(screen, transition.SilentCue{}, transition.Settings{
		Enabled:      opts.transitions,
		Seconds:      3,
		TickInterval: opts.tickInterval,
		EmphasisFrom: 5,
		CueTimeout:   time.Second,
	}, bus, zerolog.Nop())

	monSettings := monitor.Settings{
		TargetVolume:     100,
		PollInterval:     5 * time.Millisecond,
		ProgressInterval: 50 * time.Millisecond,
	}
	settings := Settings{
		AutoAdvance:     true,
		FadeEnabled:     false,
		AdvanceCooldown: opts.cooldown,
		ErrorSkipDelay:  20 * time.Millisecond,
	}
	engine := New(store, prov, trans, settings, monSettings, bus, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go prov.Run(ctx)
	go engine.Run(ctx)

	h := &harness{engine: engine, prov: prov, store: store, screen: screen, bus: bus}
	if opts.connect {
		prov.Connect()
		waitFor(t, "provider ready", func() bool { return engine.Status().ProviderReady })
	}
	return h
}

func (h *harness) add(t *testing.T, video, title string, start float64, end *float64) segment.Segment {
	t.Helper()
	seg, err := h.engine.Add(segment.Candidate{
		Locator:     "https://www.youtube.com/watch?v=" + video,
		StartOffset: &start,
		EndOffset:   end,
		Title:       &title,
	})
	if err != nil {
		t.Fatalf("add %s: %v", video, err)
	}
	return seg
}

// end delivers a segment-ended signal as the monitor would.
func (h *harness) end(t *testing.T, segID string) {
	t.Helper()
	if err := h.engine.do(func() { h.engine.onSegmentEnded(segID) }); err != nil {
		t.Fatalf("deliver end: %v", err)
	}
}

// savedPlaylist serves one stored document.
type savedPlaylist struct {
	mu  sync.Mutex
	doc *playlist.Document
}

func (p *savedPlaylist) Load(context.Context) (*playlist.Document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc, nil
}

func (p *savedPlaylist) Save(_ context.Context, doc playlist.Document) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doc = &doc
	return nil
}

func threeSegmentDocument(current int) playlist.Document {
	var entries []segment.Entry
	for _, v := range []string{videoA, videoB, videoC} {
		entries = append(entries, segment.Entry{URL: "https://www.youtube.com/watch?v=" + v, StartTime: ptr(0.0)})
	}
	return playlist.Document{Playlist: entries, CurrentIndex: current}
}

func (h *harness) loadedIDs() []string {
	var ids []string
	for _, l := range h.prov.Loads() {
		ids = append(ids, l.ID)
	}
	return ids
}

func TestAdvanceOnEndLoadsNextWithBounds(t *testing.T) {
	h := newHarness(t, harnessOptions{connect: true})
	a := h.add(t, videoA, "A", 0, ptr(30.0))
	h.add(t, videoB, "B", 10, ptr(40.0))
	waitFor(t, "A loaded", func() bool { return len(h.prov.Loads()) == 1 })

	h.end(t, a.ID)

	if got := h.store.CurrentIndex(); got != 1 {
		t.Fatalf("current index = %d, want 1", got)
	}
	loads := h.prov.Loads()
	if len(loads) != 2 {
		t.Fatalf("loads = %v, want 2", h.loadedIDs())
	}
	b := loads[1]
	if b.ID != videoB || b.Start != 10 || b.End == nil || *b.End != 40 {
		t.Fatalf("second load = %+v, want %s 10..40", b, videoB)
	}
}

func TestLastSegmentEndWithoutLoopEndsPlaylist(t *testing.T) {
	h := newHarness(t, harnessOptions{connect: true})
	h.add(t, videoA, "A", 0, nil)
	b := h.add(t, videoB, "B", 0, nil)
	if err := h.engine.Select(1); err != nil {
		t.Fatalf("select: %v", err)
	}
	sub := h.bus.Subscribe(events.KindPlaylistEnded)
	loadsBefore := len(h.prov.Loads())

	h.end(t, b.ID)

	select {
	case ev := <-sub:
		if ev.(events.PlaylistEnded).Index != 1 {
			t.Fatalf("ended at %d, want 1", ev.(events.PlaylistEnded).Index)
		}
	case <-time.After(time.Second):
		t.Fatal("no playlist ended notification")
	}
	if got := h.store.CurrentIndex(); got != 1 {
		t.Fatalf("current index = %d, want 1", got)
	}
	if got := len(h.prov.Loads()); got != loadsBefore {
		t.Fatalf("loads = %d, want %d", got, loadsBefore)
	}
	if got := h.engine.Status().State; got != StateExhausted {
		t.Fatalf("state = %s, want exhausted", got)
	}
}

func TestLoopWrapsThroughTransition(t *testing.T) {
	h := newHarness(t, harnessOptions{connect: true, transitions: true})
	h.add(t, videoA, "Opening", 0, nil)
	b := h.add(t, videoB, "Closing", 0, nil)
	if _, err := h.engine.ToggleLoop(); err != nil {
		t.Fatalf("toggle loop: %v", err)
	}
	if err := h.engine.Select(1); err != nil {
		t.Fatalf("select: %v", err)
	}
	if got := len(h.prov.Loads()); got != 2 {
		t.Fatalf("loads = %v, want A then B", h.loadedIDs())
	}

	h.end(t, b.ID)
	waitFor(t, "A reloaded", func() bool { return len(h.prov.Loads()) == 3 })

	if got := h.store.CurrentIndex(); got != 0 {
		t.Fatalf("current index = %d, want 0", got)
	}
	shown, loadsAtShow, _ := h.screen.snapshot()
	if len(shown) != 1 || shown[0] != "Opening" {
		t.Fatalf("shown = %v, want [Opening]", shown)
	}
	if loadsAtShow[0] != 2 {
		t.Fatalf("countdown appeared after %d loads, want before the reload", loadsAtShow[0])
	}
	if last := h.prov.Loads()[2]; last.ID != videoA {
		t.Fatalf("reloaded %s, want %s", last.ID, videoA)
	}
}

func TestDoubleEndSignalAdvancesOnce(t *testing.T) {
	h := newHarness(t, harnessOptions{connect: true, transitions: true, cooldown: 500 * time.Millisecond})
	a := h.add(t, videoA, "A", 0, nil)
	h.add(t, videoB, "B", 0, nil)
	h.add(t, videoC, "C", 0, nil)

	if err := h.engine.do(func() {
		h.engine.onSegmentEnded(a.ID)
		h.engine.onSegmentEnded(a.ID)
	}); err != nil {
		t.Fatalf("deliver ends: %v", err)
	}
	waitFor(t, "B loaded", func() bool { return len(h.prov.Loads()) == 2 })
	time.Sleep(50 * time.Millisecond)

	if got := h.store.CurrentIndex(); got != 1 {
		t.Fatalf("current index = %d, want 1", got)
	}
	if got := h.loadedIDs(); len(got) != 2 {
		t.Fatalf("loads = %v, want exactly A then B", got)
	}
	shown, _, _ := h.screen.snapshot()
	if len(shown) != 1 {
		t.Fatalf("transitions = %d, want 1", len(shown))
	}
}

func TestEndDuringCooldownIsAbsorbed(t *testing.T) {
	h := newHarness(t, harnessOptions{connect: true, cooldown: 500 * time.Millisecond})
	a := h.add(t, videoA, "A", 0, nil)
	b := h.add(t, videoB, "B", 0, nil)
	h.add(t, videoC, "C", 0, nil)

	h.end(t, a.ID)
	h.end(t, b.ID)

	if got := h.store.CurrentIndex(); got != 1 {
		t.Fatalf("current index = %d, want 1", got)
	}
	if !h.engine.Status().AdvanceInFlight {
		t.Fatal("latch released before cooldown")
	}
}

func TestStaleEndIsIgnored(t *testing.T) {
	h := newHarness(t, harnessOptions{connect: true})
	h.add(t, videoA, "A", 0, nil)
	h.add(t, videoB, "B", 0, nil)

	h.end(t, "not-loaded")

	if got := h.store.CurrentIndex(); got != 0 {
		t.Fatalf("current index = %d, want 0", got)
	}
	if got := len(h.prov.Loads()); got != 1 {
		t.Fatalf("loads = %d, want 1", got)
	}
}

func TestAutoAdvanceOffKeepsPosition(t *testing.T) {
	h := newHarness(t, harnessOptions{connect: true})
	a := h.add(t, videoA, "A", 0, nil)
	h.add(t, videoB, "B", 0, nil)
	if err := h.engine.SetAutoAdvance(false); err != nil {
		t.Fatalf("set auto advance: %v", err)
	}

	h.end(t, a.ID)

	if got := h.store.CurrentIndex(); got != 0 {
		t.Fatalf("current index = %d, want 0", got)
	}
}

func TestUserSelectCancelsTransition(t *testing.T) {
	h := newHarness(t, harnessOptions{connect: true, transitions: true, tickInterval: 200 * time.Millisecond})
	a := h.add(t, videoA, "A", 0, nil)
	h.add(t, videoB, "B", 0, nil)
	h.add(t, videoC, "C", 0, nil)

	h.end(t, a.ID)
	waitFor(t, "countdown", func() bool {
		shown, _, _ := h.screen.snapshot()
		return len(shown) == 1
	})
	if got := h.engine.Status().State; got != StateTransitioning {
		t.Fatalf("state = %s, want transitioning", got)
	}

	if err := h.engine.Select(2); err != nil {
		t.Fatalf("select: %v", err)
	}
	_, _, hides := h.screen.snapshot()
	if hides == 0 {
		t.Fatal("countdown still on screen after select")
	}

	// Give the cancelled transition time to report back.
	time.Sleep(100 * time.Millisecond)
	if got := h.store.CurrentIndex(); got != 2 {
		t.Fatalf("current index = %d, want 2", got)
	}
	ids := h.loadedIDs()
	if len(ids) != 2 || ids[1] != videoC {
		t.Fatalf("loads = %v, want A then C", ids)
	}
}

func TestLoadWaitsForProvider(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.add(t, videoA, "A", 5, nil)

	if got := h.engine.Status().State; got != StateAwaitingProvider {
		t.Fatalf("state = %s, want awaiting_provider", got)
	}
	if got := len(h.prov.Loads()); got != 0 {
		t.Fatalf("loads = %d before ready, want 0", got)
	}

	h.prov.Connect()
	waitFor(t, "deferred load", func() bool { return len(h.prov.Loads()) == 1 })
	time.Sleep(30 * time.Millisecond)

	loads := h.prov.Loads()
	if len(loads) != 1 || loads[0].ID != videoA || loads[0].Start != 5 {
		t.Fatalf("loads = %+v, want one load of %s at 5", loads, videoA)
	}
}

func TestProviderGoneResumesOnReconnect(t *testing.T) {
	h := newHarness(t, harnessOptions{connect: true})
	h.add(t, videoA, "A", 0, nil)
	waitFor(t, "A loaded", func() bool { return len(h.prov.Loads()) == 1 })

	h.prov.Disconnect()
	waitFor(t, "awaiting provider", func() bool { return h.engine.Status().State == StateAwaitingProvider })

	h.prov.Connect()
	waitFor(t, "reload", func() bool { return len(h.prov.Loads()) == 2 })
}

func TestErrorSkipBypassesTransition(t *testing.T) {
	h := newHarness(t, harnessOptions{
		connect:     true,
		transitions: true,
		simOpts:     []sim.Option{sim.WithFailure(videoA, 150)},
	})
	sub := h.bus.Subscribe(events.KindPlayerError)
	h.add(t, videoA, "A", 0, nil)
	h.add(t, videoB, "B", 0, nil)

	select {
	case ev := <-sub:
		if got := ev.(events.PlayerError).Code; got != "embed_restricted" {
			t.Fatalf("error code = %s, want embed_restricted", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no player error notification")
	}
	waitFor(t, "B loaded", func() bool { return len(h.prov.Loads()) == 2 })

	if got := h.store.CurrentIndex(); got != 1 {
		t.Fatalf("current index = %d, want 1", got)
	}
	shown, _, _ := h.screen.snapshot()
	if len(shown) != 0 {
		t.Fatalf("transition shown for error skip: %v", shown)
	}
}

func TestAddAfterPlaylistEndedPlaysNewSegment(t *testing.T) {
	h := newHarness(t, harnessOptions{connect: true})
	a := h.add(t, videoA, "A", 0, nil)
	h.end(t, a.ID)
	if got := h.engine.Status().State; got != StateExhausted {
		t.Fatalf("state = %s, want exhausted", got)
	}

	h.add(t, videoB, "B", 0, nil)

	if got := h.store.CurrentIndex(); got != 1 {
		t.Fatalf("current index = %d, want 1", got)
	}
	ids := h.loadedIDs()
	if len(ids) != 2 || ids[1] != videoB {
		t.Fatalf("loads = %v, want A then B", ids)
	}
}

func TestRemovingLoadedSegmentStops(t *testing.T) {
	h := newHarness(t, harnessOptions{connect: true})
	h.add(t, videoA, "A", 0, nil)
	h.add(t, videoB, "B", 0, nil)

	if err := h.engine.Remove(0); err != nil {
		t.Fatalf("remove: %v", err)
	}
	st := h.engine.Status()
	if st.State != StateIdle {
		t.Fatalf("state = %s, want idle", st.State)
	}
	if st.Length != 1 || st.CurrentSegmentID == "" {
		t.Fatalf("status = %+v, want one remaining segment under the pointer", st)
	}
}

func TestUserNavigation(t *testing.T) {
	h := newHarness(t, harnessOptions{connect: true})
	h.add(t, videoA, "A", 0, nil)
	h.add(t, videoB, "B", 0, nil)

	if err := h.engine.Next(); err != nil {
		t.Fatalf("next: %v", err)
	}
	if err := h.engine.Previous(); err != nil {
		t.Fatalf("previous: %v", err)
	}
	ids := h.loadedIDs()
	want := []string{videoA, videoB, videoA}
	if len(ids) != len(want) {
		t.Fatalf("loads = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("loads = %v, want %v", ids, want)
		}
	}
}

func TestFailedOperationsNotify(t *testing.T) {
	h := newHarness(t, harnessOptions{connect: true})
	h.add(t, videoA, "A", 0, nil)
	sub := h.bus.Subscribe(events.KindOperationFailed)

	tests := []struct {
		name    string
		op      string
		run     func() error
		wantErr error
	}{
		{"next at end", "next", h.engine.Next, ErrNoNext},
		{"previous at start", "previous", h.engine.Previous, ErrNoPrevious},
		{"select out of range", "select", func() error { return h.engine.Select(5) }, ErrIndexOutOfRange},
		{"remove out of range", "remove", func() error { return h.engine.Remove(-1) }, ErrIndexOutOfRange},
		{"duplicate add", "add", func() error {
			_, err := h.engine.Add(segment.Candidate{Locator: videoA, StartOffset: ptr(0.0)})
			return err
		}, playlist.ErrDuplicate},
		{"negative seek", "seek", func() error { return h.engine.Seek(-1) }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			select {
			case ev := <-sub:
				if got := ev.(events.OperationFailed).Operation; got != tt.op {
					t.Fatalf("operation = %s, want %s", got, tt.op)
				}
			case <-time.After(time.Second):
				t.Fatal("no failure notification")
			}
		})
	}
}

func TestStoppedEngineRejectsCommands(t *testing.T) {
	bus := events.NewBus()
	prov := sim.New()
	store := playlist.NewStore(nil, bus, zerolog.Nop())
	trans := transition.NewCoordinator(transition.LogScreen{Logger: zerolog.Nop()}, transition.SilentCue{}, transition.DefaultSettings(), bus, zerolog.Nop())
	engine := New(store, prov, trans, DefaultSettings(), monitor.DefaultSettings(), bus, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		engine.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	if err := engine.Play(); !errors.Is(err, ErrStopped) {
		t.Fatalf("play after stop = %v, want ErrStopped", err)
	}
}

func TestUserNavigationPreemptsTransition(t *testing.T) {
	tests := []struct {
		name      string
		immediate bool
		nav       func(e *Engine) error
		wantIndex int
		wantVideo string
	}{
		{"select during countdown", false, func(e *Engine) error { return e.Select(0) }, 0, videoA},
		{"next during countdown", false, (*Engine).Next, 2, videoC},
		{"previous during countdown", false, (*Engine).Previous, 0, videoA},
		{"select right after end", true, func(e *Engine) error { return e.Select(0) }, 0, videoA},
		{"next right after end", true, (*Engine).Next, 2, videoC},
		{"previous right after end", true, (*Engine).Previous, 0, videoA},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, harnessOptions{connect: true, transitions: true, tickInterval: 200 * time.Millisecond})
			h.add(t, videoA, "A", 0, nil)
			b := h.add(t, videoB, "B", 0, nil)
			h.add(t, videoC, "C", 0, nil)
			if err := h.engine.Select(1); err != nil {
				t.Fatalf("select: %v", err)
			}

			if tt.immediate {
				// Queued back to back, the navigation runs in the loop turn
				// right after the end signal.
				h.engine.post(func() { h.engine.onSegmentEnded(b.ID) })
				if err := tt.nav(h.engine); err != nil {
					t.Fatalf("navigate: %v", err)
				}
			} else {
				h.end(t, b.ID)
				waitFor(t, "countdown", func() bool {
					shown, _, _ := h.screen.snapshot()
					return len(shown) == 1
				})
				if err := tt.nav(h.engine); err != nil {
					t.Fatalf("navigate: %v", err)
				}
			}

			// Well short of the 600ms countdown.
			time.Sleep(100 * time.Millisecond)

			if h.engine.trans.Running() {
				t.Fatal("transition still running after user navigation")
			}
			shown, _, hides := h.screen.snapshot()
			if hides < len(shown) {
				t.Fatalf("countdown left on screen: shown=%v hides=%d", shown, hides)
			}
			if got := h.store.CurrentIndex(); got != tt.wantIndex {
				t.Fatalf("current index = %d, want %d", got, tt.wantIndex)
			}
			ids := h.loadedIDs()
			if len(ids) != 3 || ids[2] != tt.wantVideo {
				t.Fatalf("loads = %v, want A, B then %s", ids, tt.wantVideo)
			}
			st := h.engine.Status()
			if st.State == StateTransitioning || st.AdvanceInFlight {
				t.Fatalf("status = %+v, want advance abandoned", st)
			}
		})
	}
}

func TestDeferredLoadOnReady(t *testing.T) {
	tests := []struct {
		name      string
		fill      func(t *testing.T, h *harness)
		persister *savedPlaylist
		wantVideo string
		wantIndex int
	}{
		{
			name:      "restored playlist",
			persister: &savedPlaylist{doc: ptr(threeSegmentDocument(1))},
			fill: func(t *testing.T, h *harness) {
				report, err := h.engine.LoadFromStorage(context.Background())
				if err != nil || report.Imported != 3 {
					t.Fatalf("restore: report=%+v err=%v", report, err)
				}
			},
			wantVideo: videoB,
			wantIndex: 1,
		},
		{
			name: "imported playlist",
			fill: func(t *testing.T, h *harness) {
				report, err := h.engine.ImportPlaylist(threeSegmentDocument(2))
				if err != nil || report.Imported != 3 {
					t.Fatalf("import: report=%+v err=%v", report, err)
				}
			},
			wantVideo: videoA,
			wantIndex: 0,
		},
		{
			name: "added segment",
			fill: func(t *testing.T, h *harness) {
				h.add(t, videoC, "C", 0, nil)
			},
			wantVideo: videoC,
			wantIndex: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := harnessOptions{}
			if tt.persister != nil {
				opts.persister = tt.persister
			}
			h := newHarness(t, opts)
			tt.fill(t, h)

			if got := h.engine.Status().State; got != StateAwaitingProvider {
				t.Fatalf("state = %s, want awaiting_provider", got)
			}
			if got := len(h.prov.Loads()); got != 0 {
				t.Fatalf("loads = %d before ready, want 0", got)
			}

			h.prov.Connect()
			waitFor(t, "deferred load", func() bool { return len(h.prov.Loads()) == 1 })
			time.Sleep(30 * time.Millisecond)

			ids := h.loadedIDs()
			if len(ids) != 1 || ids[0] != tt.wantVideo {
				t.Fatalf("loads = %v, want one load of %s", ids, tt.wantVideo)
			}
			if got := h.store.CurrentIndex(); got != tt.wantIndex {
				t.Fatalf("current index = %d, want %d", got, tt.wantIndex)
			}
		})
	}
}

func TestAdvanceKeepsAnnouncedSegmentAfterReorder(t *testing.T) {
	h := newHarness(t, harnessOptions{connect: true, transitions: true, tickInterval: 50 * time.Millisecond})
	a := h.add(t, videoA, "A", 0, nil)
	h.add(t, videoB, "B", 0, nil)
	h.add(t, videoC, "C", 0, nil)

	h.end(t, a.ID)
	waitFor(t, "countdown", func() bool {
		shown, _, _ := h.screen.snapshot()
		return len(shown) == 1
	})
	// C now sits right after A; B was announced.
	if err := h.engine.Move(2, 1); err != nil {
		t.Fatalf("move: %v", err)
	}
	waitFor(t, "advance", func() bool { return len(h.prov.Loads()) == 2 })

	if got := h.loadedIDs()[1]; got != videoB {
		t.Fatalf("loaded %s after the countdown for B", got)
	}
	if got := h.store.CurrentIndex(); got != 2 {
		t.Fatalf("current index = %d, want 2", got)
	}
}

func TestErrorOnLastSegmentEndsPlaylist(t *testing.T) {
	h := newHarness(t, harnessOptions{
		connect: true,
		simOpts: []sim.Option{sim.WithFailure(videoA, 150)},
	})
	sub := h.bus.Subscribe(events.KindPlaylistEnded)
	h.add(t, videoA, "A", 0, nil)

	select {
	case <-sub:
	case <-time.After(time.Second):
		t.Fatal("no playlist ended notification")
	}
	if got := h.engine.Status().State; got != StateExhausted {
		t.Fatalf("state = %s, want exhausted", got)
	}

	h.add(t, videoB, "B", 0, nil)
	ids := h.loadedIDs()
	if len(ids) != 2 || ids[1] != videoB {
		t.Fatalf("loads = %v, want A then B", ids)
	}
}
