package playlist

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/cueloop/internal/events"
	"github.com/friendsincode/cueloop/internal/segment"
)

type memoryPersister struct {
	mu    sync.Mutex
	saves int
	last  *Document
	err   error
}

func (m *memoryPersister) Load(context.Context) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, nil
}

func (m *memoryPersister) Save(_ context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saves++
	m.last = &doc
	return nil
}

func ptr[T any](v T) *T { return &v }

func candidate(id string, start float64, end *float64) segment.Candidate {
	return segment.Candidate{Locator: "https://www.youtube.com/watch?v=" + id, StartOffset: &start, EndOffset: end}
}

func newTestStore(t *testing.T, ids ...string) (*Store, *memoryPersister) {
	t.Helper()
	p := &memoryPersister{}
	s := NewStore(p, nil, zerolog.Nop())
	for _, id := range ids {
		if _, err := s.Add(candidate(id, 0, nil)); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
	return s, p
}

func TestAddRejectsDuplicateTuple(t *testing.T) {
	s, _ := newTestStore(t)

	seg, err := s.Add(candidate("dQw4w9WgXcQ", 10, ptr(40.0)))
	if err != nil {
		t.Fatalf("first add: %v", err)
	}
	if seg.ResolvedID != "dQw4w9WgXcQ" {
		t.Fatalf("resolved id = %q", seg.ResolvedID)
	}
	if _, err := s.Add(candidate("dQw4w9WgXcQ", 10, ptr(40.0))); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second add err = %v, want ErrDuplicate", err)
	}
	// Different bounds are a different segment.
	if _, err := s.Add(candidate("dQw4w9WgXcQ", 10, ptr(41.0))); err != nil {
		t.Fatalf("add with other end: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("len = %d, want 2", s.Len())
	}
}

func TestAddReturnsValidationError(t *testing.T) {
	s, p := newTestStore(t)
	_, err := s.Add(segment.Candidate{Locator: "not a video"})
	if !errors.Is(err, segment.ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
	if p.saves != 0 {
		t.Fatalf("invalid add persisted %d times", p.saves)
	}
}

func TestUpdateExcludesEditedIndexFromDuplicateCheck(t *testing.T) {
	s, _ := newTestStore(t, "aaaaaaaaaaa", "bbbbbbbbbbb")
	before := s.Segments()[0]

	updated, err := s.Update(0, segment.Candidate{Locator: "aaaaaaaaaaa", Title: ptr("Renamed")})
	if err != nil {
		t.Fatalf("update same tuple: %v", err)
	}
	if updated.ID != before.ID || !updated.CreatedAt.Equal(before.CreatedAt) {
		t.Fatal("update must keep identity and creation time")
	}
	if updated.ModifiedAt == nil {
		t.Fatal("update must stamp modification time")
	}
	if _, err := s.Update(0, segment.Candidate{Locator: "bbbbbbbbbbb"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
	if _, err := s.Update(5, segment.Candidate{Locator: "ccccccccccc"}); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("err = %v, want ErrIndexOutOfRange", err)
	}
}

func TestNextPreviousStayInRange(t *testing.T) {
	s, _ := newTestStore(t, "aaaaaaaaaaa", "bbbbbbbbbbb", "ccccccccccc")

	if s.Previous() {
		t.Fatal("previous at 0 without loop must fail")
	}
	for i := 0; i < 2; i++ {
		if !s.Next() {
			t.Fatalf("next %d failed", i)
		}
	}
	if s.Next() {
		t.Fatal("next at last without loop must fail")
	}
	if s.CurrentIndex() != 2 {
		t.Fatalf("pointer = %d, want 2", s.CurrentIndex())
	}
	if s.HasNext() || !s.HasPrevious() {
		t.Fatal("boundary reporting wrong at last index")
	}

	s.ToggleLoop()
	if !s.HasNext() || !s.HasPrevious() {
		t.Fatal("looping must report both directions")
	}
	if !s.Next() || s.CurrentIndex() != 0 {
		t.Fatalf("loop wrap forward, pointer = %d", s.CurrentIndex())
	}
	if !s.Previous() || s.CurrentIndex() != 2 {
		t.Fatalf("loop wrap backward, pointer = %d", s.CurrentIndex())
	}
}

func TestEmptyPlaylistNavigation(t *testing.T) {
	s, _ := newTestStore(t)
	s.ToggleLoop()
	if s.Next() || s.Previous() || s.HasNext() || s.HasPrevious() {
		t.Fatal("navigation on empty playlist must fail even when looping")
	}
	if _, _, ok := s.PeekNext(); ok {
		t.Fatal("peek on empty playlist")
	}
	if !s.IsEmpty() {
		t.Fatal("expected empty")
	}
}

func TestPeekNextDoesNotMove(t *testing.T) {
	s, _ := newTestStore(t, "aaaaaaaaaaa", "bbbbbbbbbbb")
	s.SetCurrentIndex(1)
	if _, _, ok := s.PeekNext(); ok {
		t.Fatal("peek past the end without loop")
	}
	s.ToggleLoop()
	seg, idx, ok := s.PeekNext()
	if !ok || idx != 0 || seg.ResolvedID != "aaaaaaaaaaa" {
		t.Fatalf("peek = %v %d %v", seg.ResolvedID, idx, ok)
	}
	if s.CurrentIndex() != 1 {
		t.Fatal("peek moved the pointer")
	}
}

func TestIndexOfFollowsMoves(t *testing.T) {
	s, _ := newTestStore(t, "aaaaaaaaaaa", "bbbbbbbbbbb", "ccccccccccc")
	id := s.Segments()[1].ID
	if got := s.IndexOf(id); got != 1 {
		t.Fatalf("IndexOf = %d, want 1", got)
	}
	s.Move(1, 2)
	if got := s.IndexOf(id); got != 2 {
		t.Fatalf("IndexOf after move = %d, want 2", got)
	}
	if got := s.IndexOf("missing"); got != -1 {
		t.Fatalf("IndexOf(missing) = %d, want -1", got)
	}
}

func TestRemoveAdjustsPointer(t *testing.T) {
	tests := []struct {
		name        string
		current     int
		remove      int
		wantCurrent int
		wantOK      bool
	}{
		{name: "before pointer", current: 2, remove: 0, wantCurrent: 1, wantOK: true},
		{name: "after pointer", current: 0, remove: 2, wantCurrent: 0, wantOK: true},
		{name: "current in middle", current: 1, remove: 1, wantCurrent: 1, wantOK: true},
		{name: "current is last", current: 2, remove: 2, wantCurrent: 1, wantOK: true},
		{name: "out of range", current: 1, remove: 3, wantCurrent: 1, wantOK: false},
		{name: "negative", current: 1, remove: -1, wantCurrent: 1, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestStore(t, "aaaaaaaaaaa", "bbbbbbbbbbb", "ccccccccccc")
			s.SetCurrentIndex(tt.current)
			if got := s.Remove(tt.remove); got != tt.wantOK {
				t.Fatalf("Remove() = %v, want %v", got, tt.wantOK)
			}
			if s.CurrentIndex() != tt.wantCurrent {
				t.Fatalf("pointer = %d, want %d", s.CurrentIndex(), tt.wantCurrent)
			}
		})
	}
}

func TestRemoveNotifiesPlaylistThenCurrent(t *testing.T) {
	bus := events.NewBus()
	s := NewStore(nil, bus, zerolog.Nop())
	s.Add(candidate("aaaaaaaaaaa", 0, nil))
	s.Add(candidate("bbbbbbbbbbb", 0, nil))

	sub := bus.Subscribe(events.KindPlaylistChanged, events.KindCurrentChanged)
	s.Remove(0)

	first := <-sub
	second := <-sub
	if first.Kind() != events.KindPlaylistChanged || second.Kind() != events.KindCurrentChanged {
		t.Fatalf("order = %s, %s", first.Kind(), second.Kind())
	}
}

func TestMoveKeepsPointerOnSameSegment(t *testing.T) {
	tests := []struct {
		name     string
		current  int
		from, to int
	}{
		{name: "moving the current segment", current: 1, from: 1, to: 3},
		{name: "window shifts left of pointer", current: 2, from: 0, to: 3},
		{name: "window shifts right of pointer", current: 2, from: 3, to: 0},
		{name: "unrelated move", current: 0, from: 2, to: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestStore(t, "aaaaaaaaaaa", "bbbbbbbbbbb", "ccccccccccc", "ddddddddddd")
			s.SetCurrentIndex(tt.current)
			before, _, _ := s.Current()

			if !s.Move(tt.from, tt.to) {
				t.Fatal("move failed")
			}
			after, _, _ := s.Current()
			if after.ID != before.ID {
				t.Fatalf("pointer now on %s, want %s", after.ResolvedID, before.ResolvedID)
			}
		})
	}
}

func TestMoveRejectsBadIndices(t *testing.T) {
	s, _ := newTestStore(t, "aaaaaaaaaaa", "bbbbbbbbbbb")
	for _, pair := range [][2]int{{0, 0}, {-1, 1}, {0, 2}, {5, 0}} {
		if s.Move(pair[0], pair[1]) {
			t.Fatalf("Move(%d, %d) succeeded", pair[0], pair[1])
		}
	}
}

func TestImportDropsInvalidEntries(t *testing.T) {
	s, _ := newTestStore(t, "zzzzzzzzzzz")
	doc := Document{Playlist: []segment.Entry{
		{URL: "https://youtu.be/aaaaaaaaaaa"},
		{URL: "nonsense"},
		{URL: "bbbbbbbbbbb", StartTime: ptr(5.0), EndTime: ptr(20.0)},
	}}

	report, err := s.Import(doc)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.Imported != 2 || len(report.Problems) != 1 {
		t.Fatalf("report = %+v", report)
	}
	if s.Len() != 2 || s.CurrentIndex() != 0 {
		t.Fatalf("len=%d current=%d", s.Len(), s.CurrentIndex())
	}
}

func TestImportAllInvalidLeavesPlaylistUntouched(t *testing.T) {
	s, _ := newTestStore(t, "aaaaaaaaaaa", "bbbbbbbbbbb")
	s.SetCurrentIndex(1)
	before := s.Segments()

	report, err := s.Import(Document{Playlist: []segment.Entry{{URL: "nope"}, {URL: ""}}})
	if !errors.Is(err, ErrNoValidEntries) {
		t.Fatalf("err = %v, want ErrNoValidEntries", err)
	}
	if len(report.Problems) != 2 {
		t.Fatalf("problems = %v", report.Problems)
	}
	after := s.Segments()
	if len(after) != len(before) || after[0].ID != before[0].ID || s.CurrentIndex() != 1 {
		t.Fatal("failed import modified the playlist")
	}

	if _, err := s.Import(Document{}); !errors.Is(err, ErrMalformedDocument) {
		t.Fatalf("nil playlist err = %v", err)
	}
}

func TestImportDropsDuplicateEntries(t *testing.T) {
	s, _ := newTestStore(t)
	report, err := s.Import(Document{Playlist: []segment.Entry{
		{URL: "aaaaaaaaaaa"},
		{URL: "https://www.youtube.com/watch?v=aaaaaaaaaaa"},
	}})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.Imported != 1 || len(report.Problems) != 1 {
		t.Fatalf("report = %+v", report)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	src, _ := newTestStore(t)
	src.Add(candidate("aaaaaaaaaaa", 0, ptr(30.0)))
	src.Add(segment.Candidate{Locator: "bbbbbbbbbbb", StartOffset: ptr(10.0), EndOffset: ptr(40.0), Title: ptr("Chorus"), FadeOverride: ptr(false)})
	src.ToggleLoop()

	data, err := EncodeDocumentFile("out.json", src.Export())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	doc, err := DecodeDocument(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	dst, _ := newTestStore(t)
	if _, err := dst.Import(*doc); err != nil {
		t.Fatalf("import: %v", err)
	}
	if !dst.LoopEnabled() {
		t.Fatal("loop flag lost")
	}
	want, got := src.Segments(), dst.Segments()
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Key() != want[i].Key() || got[i].Title != want[i].Title || got[i].ID != want[i].ID {
			t.Fatalf("segment %d differs: %+v vs %+v", i, got[i], want[i])
		}
	}
	if got[1].FadeOverride == nil || *got[1].FadeOverride {
		t.Fatal("fade override lost")
	}
}

func TestYAMLRoundTrip(t *testing.T) {
	src, _ := newTestStore(t, "aaaaaaaaaaa", "bbbbbbbbbbb")
	data, err := EncodeDocumentFile("out.yaml", src.Export())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	doc, err := DecodeDocumentFile("out.yaml", data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(doc.Playlist) != 2 || doc.Playlist[1].VideoID != "bbbbbbbbbbb" {
		t.Fatalf("doc = %+v", doc)
	}
}

func TestRestoreKeepsPointer(t *testing.T) {
	src, _ := newTestStore(t, "aaaaaaaaaaa", "bbbbbbbbbbb", "ccccccccccc")
	src.SetCurrentIndex(2)
	doc := src.Export()

	dst, p := newTestStore(t)
	report := dst.Restore(doc)
	if report.Imported != 3 || dst.CurrentIndex() != 2 {
		t.Fatalf("report=%+v current=%d", report, dst.CurrentIndex())
	}
	if p.saves != 0 {
		t.Fatal("restore must not write back")
	}

	doc.CurrentIndex = 9
	dst.Restore(doc)
	if dst.CurrentIndex() != 0 {
		t.Fatalf("out of range pointer restored as %d", dst.CurrentIndex())
	}
}

func TestEveryMutationPersists(t *testing.T) {
	s, p := newTestStore(t, "aaaaaaaaaaa", "bbbbbbbbbbb")
	base := p.saves

	s.Next()
	s.ToggleLoop()
	s.Move(0, 1)
	s.Remove(0)
	s.Clear()

	if p.saves != base+5 {
		t.Fatalf("saves = %d, want %d", p.saves, base+5)
	}
	if p.last == nil || len(p.last.Playlist) != 0 || p.last.LoopEnabled == nil || !*p.last.LoopEnabled {
		t.Fatalf("last snapshot = %+v", p.last)
	}
	if p.last.Version != DocumentVersion || p.last.LastSaved == "" {
		t.Fatal("snapshot missing version or lastSaved")
	}
}

func TestPersistFailureKeepsMemoryState(t *testing.T) {
	s, p := newTestStore(t)
	p.err = errors.New("disk full")
	if _, err := s.Add(candidate("aaaaaaaaaaa", 0, nil)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if s.Len() != 1 {
		t.Fatal("in-memory add lost after persistence failure")
	}
}

func TestIsDuplicate(t *testing.T) {
	s, _ := newTestStore(t, "aaaaaaaaaaa")
	if !s.IsDuplicate(segment.Candidate{Locator: "https://youtu.be/aaaaaaaaaaa"}, -1) {
		t.Fatal("expected duplicate")
	}
	if s.IsDuplicate(segment.Candidate{Locator: "aaaaaaaaaaa"}, 0) {
		t.Fatal("excluded index must not count")
	}
}
