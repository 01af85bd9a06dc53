package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/cueloop/internal/events"
)

type published struct {
	subject string
	data    []byte
}

type fakeSink struct {
	mu     sync.Mutex
	name   string
	err    error
	calls  int
	msgs   []published
	closed bool
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Publish(_ context.Context, subject string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, published{subject: subject, data: data})
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *fakeSink) snapshot() (int, []published) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, append([]published(nil), s.msgs...)
}

func TestForwardPublishesEnvelope(t *testing.T) {
	sink := &fakeSink{name: "fake"}
	f := NewForwarder(events.NewBus(), []Sink{sink}, Options{
		Prefix:  "studio",
		NodeID:  "node-1",
		Exclude: []events.Kind{events.KindProgress},
	}, zerolog.Nop())

	f.forward(context.Background(), events.Progress{SegmentID: "abc", CurrentTime: 1})
	f.forward(context.Background(), events.LoopChanged{Enabled: true})

	_, msgs := sink.snapshot()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	if msgs[0].subject != "studio.playlist.loop_changed" {
		t.Fatalf("subject = %q", msgs[0].subject)
	}

	var got struct {
		Kind      string          `json:"kind"`
		Data      json.RawMessage `json:"data"`
		NodeID    string          `json:"node_id"`
		MessageID string          `json:"message_id"`
	}
	if err := json.Unmarshal(msgs[0].data, &got); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if got.Kind != "playlist.loop_changed" || got.NodeID != "node-1" || got.MessageID == "" {
		t.Fatalf("unexpected envelope %+v", got)
	}
	if string(got.Data) != `{"enabled":true}` {
		t.Fatalf("data = %s", got.Data)
	}
}

func TestBreakerPausesFailingSink(t *testing.T) {
	failing := &fakeSink{name: "down", err: errors.New("connection refused")}
	healthy := &fakeSink{name: "up"}
	f := NewForwarder(events.NewBus(), []Sink{failing, healthy}, Options{
		MaxFailures:   2,
		CheckInterval: time.Minute,
	}, zerolog.Nop())

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		f.forward(context.Background(), events.PlaylistChanged{Length: i})
	}

	if calls, _ := failing.snapshot(); calls != 2 {
		t.Fatalf("failing sink called %d times, want 2 before the breaker opens", calls)
	}
	if _, msgs := healthy.snapshot(); len(msgs) != 5 {
		t.Fatalf("healthy sink got %d messages, want 5", len(msgs))
	}

	// One trial publish per interval; a success closes the breaker.
	now = now.Add(2 * time.Minute)
	failing.setErr(nil)
	f.forward(context.Background(), events.PlaylistChanged{Length: 9})
	f.forward(context.Background(), events.PlaylistChanged{Length: 10})

	if calls, msgs := failing.snapshot(); calls != 4 || len(msgs) != 2 {
		t.Fatalf("after recovery calls=%d msgs=%d, want 4 and 2", calls, len(msgs))
	}
}

func TestRunForwardsBusEvents(t *testing.T) {
	bus := events.NewBus()
	sink := &fakeSink{name: "fake"}
	f := NewForwarder(bus, []Sink{sink}, DefaultOptions(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		bus.Publish(events.PlayerReady{Ready: true})
		if _, msgs := sink.snapshot(); len(msgs) > 0 {
			if msgs[0].subject != "cueloop.events.player.ready" {
				t.Fatalf("subject = %q", msgs[0].subject)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("event was not forwarded")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if !sink.closed {
		t.Fatal("expected sink closed")
	}
}
