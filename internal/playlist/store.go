/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playlist owns the ordered segment list, the current position
// pointer and the loop flag.
package playlist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/cueloop/internal/events"
	"github.com/friendsincode/cueloop/internal/segment"
	"github.com/friendsincode/cueloop/internal/telemetry"
)

// ErrDuplicate indicates another segment already has the same
// (video id, start, end) tuple.
var ErrDuplicate = errors.New("segment already in playlist")

// ErrIndexOutOfRange is returned by Update for a bad index.
var ErrIndexOutOfRange = errors.New("index out of range")

const saveTimeout = 5 * time.Second

// Store is the single owner of the playlist. Every mutation persists a whole
// document snapshot and notifies the bus.
type Store struct {
	persister Persister
	bus       *events.Bus
	logger    zerolog.Logger
	now       func() time.Time

	mu       sync.RWMutex
	segments []segment.Segment
	current  int
	loop     bool
	revision uint64

	saveMu    sync.Mutex
	savedRevs uint64
}

// NewStore creates an empty playlist. persister may be nil.
func NewStore(persister Persister, bus *events.Bus, logger zerolog.Logger) *Store {
	return &Store{
		persister: persister,
		bus:       bus,
		logger:    logger.With().Str("component", "playlist").Logger(),
		now:       time.Now,
	}
}

// Add validates and appends a candidate.
func (s *Store) Add(c segment.Candidate) (segment.Segment, error) {
	res := segment.Validate(c)
	if !res.OK {
		return segment.Segment{}, res.Err()
	}

	s.mu.Lock()
	seg := segment.New(c, res.ResolvedID, len(s.segments), s.now())
	if s.indexOfKey(seg.Key(), -1) >= 0 {
		s.mu.Unlock()
		return segment.Segment{}, fmt.Errorf("%w: %s", ErrDuplicate, seg.ResolvedID)
	}
	s.segments = append(s.segments, seg)
	doc, rev := s.snapshotLocked()
	length := len(s.segments)
	s.mu.Unlock()

	s.logger.Debug().Str("segment_id", seg.ID).Str("video_id", seg.ResolvedID).Msg("segment added")
	s.persist(doc, rev)
	s.publish(events.PlaylistChanged{Length: length})
	return seg, nil
}

// Update replaces the segment at index with an edited candidate.
func (s *Store) Update(index int, c segment.Candidate) (segment.Segment, error) {
	res := segment.Validate(c)
	if !res.OK {
		return segment.Segment{}, res.Err()
	}

	s.mu.Lock()
	if !s.validIndexLocked(index) {
		s.mu.Unlock()
		return segment.Segment{}, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	revised := s.segments[index].Revise(c, res.ResolvedID, s.now())
	if s.indexOfKey(revised.Key(), index) >= 0 {
		s.mu.Unlock()
		return segment.Segment{}, fmt.Errorf("%w: %s", ErrDuplicate, revised.ResolvedID)
	}
	s.segments[index] = revised
	doc, rev := s.snapshotLocked()
	length := len(s.segments)
	s.mu.Unlock()

	s.persist(doc, rev)
	s.publish(events.PlaylistChanged{Length: length})
	return revised, nil
}

// Remove deletes the segment at index and re-derives the pointer.
func (s *Store) Remove(index int) bool {
	s.mu.Lock()
	if !s.validIndexLocked(index) {
		s.mu.Unlock()
		return false
	}
	s.segments = append(s.segments[:index], s.segments[index+1:]...)
	if index < s.current {
		s.current--
	} else if s.current >= len(s.segments) {
		s.current = max(len(s.segments)-1, 0)
	}
	doc, rev := s.snapshotLocked()
	length := len(s.segments)
	cur := s.currentEventLocked()
	s.mu.Unlock()

	s.persist(doc, rev)
	s.publish(events.PlaylistChanged{Length: length})
	s.publish(cur)
	return true
}

// Move relocates a segment; the pointer keeps referencing the same logical
// segment.
func (s *Store) Move(from, to int) bool {
	s.mu.Lock()
	if from == to || !s.validIndexLocked(from) || !s.validIndexLocked(to) {
		s.mu.Unlock()
		return false
	}
	moved := s.segments[from]
	s.segments = append(s.segments[:from], s.segments[from+1:]...)
	s.segments = append(s.segments[:to], append([]segment.Segment{moved}, s.segments[to:]...)...)

	switch {
	case from == s.current:
		s.current = to
	case from < s.current && to >= s.current:
		s.current--
	case from > s.current && to <= s.current:
		s.current++
	}
	doc, rev := s.snapshotLocked()
	length := len(s.segments)
	cur := s.currentEventLocked()
	s.mu.Unlock()

	s.persist(doc, rev)
	s.publish(events.PlaylistChanged{Length: length})
	s.publish(cur)
	return true
}

// SetCurrentIndex points the playlist at index.
func (s *Store) SetCurrentIndex(index int) bool {
	s.mu.Lock()
	if !s.validIndexLocked(index) {
		s.mu.Unlock()
		return false
	}
	s.current = index
	return s.commitPointerLocked()
}

// Next advances the pointer, wrapping when looping.
func (s *Store) Next() bool {
	s.mu.Lock()
	idx, ok := s.nextIndexLocked()
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.current = idx
	return s.commitPointerLocked()
}

// Previous moves the pointer back, wrapping when looping.
func (s *Store) Previous() bool {
	s.mu.Lock()
	idx, ok := s.previousIndexLocked()
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.current = idx
	return s.commitPointerLocked()
}

// commitPointerLocked persists and notifies after a pointer move. It releases
// the lock.
func (s *Store) commitPointerLocked() bool {
	doc, rev := s.snapshotLocked()
	cur := s.currentEventLocked()
	s.mu.Unlock()

	s.persist(doc, rev)
	s.publish(cur)
	return true
}

// PeekNext returns the segment Next would move to without moving.
func (s *Store) PeekNext() (segment.Segment, int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.nextIndexLocked()
	if !ok {
		return segment.Segment{}, -1, false
	}
	return s.segments[idx], idx, true
}

// IndexOf returns the position of the segment with id, or -1.
func (s *Store) IndexOf(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i, seg := range s.segments {
		if seg.ID == id {
			return i
		}
	}
	return -1
}

// ToggleLoop flips looping and returns the new state.
func (s *Store) ToggleLoop() bool {
	s.mu.Lock()
	s.loop = !s.loop
	enabled := s.loop
	doc, rev := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(doc, rev)
	s.publish(events.LoopChanged{Enabled: enabled})
	return enabled
}

// HasNext reports whether Next would succeed.
func (s *Store) HasNext() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.nextIndexLocked()
	return ok
}

// HasPrevious reports whether Previous would succeed.
func (s *Store) HasPrevious() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.previousIndexLocked()
	return ok
}

// IsDuplicate reports whether the candidate's tuple already exists, ignoring
// the segment at exclude (pass -1 to check against all).
func (s *Store) IsDuplicate(c segment.Candidate, exclude int) bool {
	res := segment.Validate(c)
	if !res.OK {
		return false
	}
	key := segment.New(c, res.ResolvedID, 0, time.Time{}).Key()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexOfKey(key, exclude) >= 0
}

// IsEmpty reports whether the playlist has no segments.
func (s *Store) IsEmpty() bool {
	return s.Len() == 0
}

// Len returns the number of segments.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.segments)
}

// Clear removes every segment. The loop flag is kept.
func (s *Store) Clear() {
	s.mu.Lock()
	s.segments = nil
	s.current = 0
	doc, rev := s.snapshotLocked()
	cur := s.currentEventLocked()
	s.mu.Unlock()

	s.persist(doc, rev)
	s.publish(events.PlaylistChanged{Length: 0})
	s.publish(cur)
}

// Current returns the segment under the pointer.
func (s *Store) Current() (segment.Segment, int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.segments) == 0 {
		return segment.Segment{}, 0, false
	}
	return s.segments[s.current], s.current, true
}

// CurrentIndex returns the pointer (0 when empty).
func (s *Store) CurrentIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// LoopEnabled reports the loop flag.
func (s *Store) LoopEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loop
}

// Segments returns a copy of the ordered segments.
func (s *Store) Segments() []segment.Segment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]segment.Segment, len(s.segments))
	copy(out, s.segments)
	return out
}

// Export renders the playlist as an export document.
func (s *Store) Export() Document {
	s.mu.RLock()
	doc := s.documentLocked()
	s.mu.RUnlock()
	doc.ExportedAt = s.now().UTC().Format(time.RFC3339)
	return doc
}

// Import replaces the playlist with the valid entries of doc. Invalid and
// duplicate entries are dropped and reported. When nothing validates the
// playlist is left untouched.
func (s *Store) Import(doc Document) (ImportReport, error) {
	if doc.Playlist == nil {
		return ImportReport{}, fmt.Errorf("%w: playlist must be an array", ErrMalformedDocument)
	}
	segments, problems := s.rebuild(doc.Playlist)
	report := ImportReport{Imported: len(segments), Problems: problems}
	if len(segments) == 0 {
		return report, ErrNoValidEntries
	}

	s.mu.Lock()
	s.segments = segments
	s.current = 0
	loopChanged := false
	if doc.LoopEnabled != nil && *doc.LoopEnabled != s.loop {
		s.loop = *doc.LoopEnabled
		loopChanged = true
	}
	loop := s.loop
	snapshot, rev := s.snapshotLocked()
	cur := s.currentEventLocked()
	s.mu.Unlock()

	s.logger.Info().Int("imported", report.Imported).Int("rejected", len(problems)).Msg("playlist imported")
	s.persist(snapshot, rev)
	s.publish(events.PlaylistChanged{Length: len(segments)})
	s.publish(cur)
	if loopChanged {
		s.publish(events.LoopChanged{Enabled: loop})
	}
	return report, nil
}

// Restore loads a stored snapshot, keeping its pointer. Unlike Import it
// accepts an empty playlist and does not write the snapshot back.
func (s *Store) Restore(doc Document) ImportReport {
	segments, problems := s.rebuild(doc.Playlist)

	s.mu.Lock()
	s.segments = segments
	s.current = doc.CurrentIndex
	if s.current < 0 || s.current >= len(segments) {
		s.current = 0
	}
	if doc.LoopEnabled != nil {
		s.loop = *doc.LoopEnabled
	}
	s.revision++
	loop := s.loop
	cur := s.currentEventLocked()
	s.mu.Unlock()

	s.publish(events.PlaylistChanged{Length: len(segments)})
	s.publish(cur)
	s.publish(events.LoopChanged{Enabled: loop})
	return ImportReport{Imported: len(segments), Problems: problems}
}

// LoadSaved restores the persisted snapshot, if any. It reports false when
// nothing was stored.
func (s *Store) LoadSaved(ctx context.Context) (ImportReport, bool, error) {
	if s.persister == nil {
		return ImportReport{}, false, nil
	}
	doc, err := s.persister.Load(ctx)
	if err != nil {
		return ImportReport{}, false, fmt.Errorf("load playlist: %w", err)
	}
	if doc == nil {
		return ImportReport{}, false, nil
	}
	report := s.Restore(*doc)
	s.logger.Info().Int("segments", report.Imported).Int("rejected", len(report.Problems)).Msg("playlist restored")
	return report, true, nil
}

// Save writes the current snapshot through the persister.
func (s *Store) Save(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	s.mu.RLock()
	doc := s.documentLocked()
	rev := s.revision
	s.mu.RUnlock()

	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	doc.LastSaved = s.now().UTC().Format(time.RFC3339)
	if err := s.persister.Save(ctx, doc); err != nil {
		return fmt.Errorf("save playlist: %w", err)
	}
	s.savedRevs = max(s.savedRevs, rev)
	return nil
}

func (s *Store) rebuild(entries []segment.Entry) ([]segment.Segment, []string) {
	now := s.now()
	var (
		segments []segment.Segment
		problems []string
		seen     = make(map[segment.Key]bool)
		seenIDs  = make(map[string]bool)
	)
	for i, entry := range entries {
		seg, err := segment.FromEntry(entry, len(segments), now)
		if err != nil {
			problems = append(problems, fmt.Sprintf("entry %d: %v", i+1, err))
			continue
		}
		if seen[seg.Key()] {
			problems = append(problems, fmt.Sprintf("entry %d: duplicate of an earlier entry (%s)", i+1, seg.ResolvedID))
			continue
		}
		if seenIDs[seg.ID] {
			// identity must stay unique even when an exported file was hand edited
			seg.ID = segment.New(segment.Candidate{}, "", 0, now).ID
		}
		seen[seg.Key()] = true
		seenIDs[seg.ID] = true
		segments = append(segments, seg)
	}
	return segments, problems
}

func (s *Store) validIndexLocked(index int) bool {
	return index >= 0 && index < len(s.segments)
}

func (s *Store) nextIndexLocked() (int, bool) {
	n := len(s.segments)
	switch {
	case n == 0:
		return 0, false
	case s.current < n-1:
		return s.current + 1, true
	case s.loop:
		return 0, true
	default:
		return 0, false
	}
}

func (s *Store) previousIndexLocked() (int, bool) {
	n := len(s.segments)
	switch {
	case n == 0:
		return 0, false
	case s.current > 0:
		return s.current - 1, true
	case s.loop:
		return n - 1, true
	default:
		return 0, false
	}
}

func (s *Store) indexOfKey(key segment.Key, exclude int) int {
	for i, seg := range s.segments {
		if i != exclude && seg.Key() == key {
			return i
		}
	}
	return -1
}

func (s *Store) currentEventLocked() events.CurrentChanged {
	ev := events.CurrentChanged{Index: s.current}
	if len(s.segments) > 0 {
		ev.SegmentID = s.segments[s.current].ID
	}
	return ev
}

func (s *Store) documentLocked() Document {
	entries := make([]segment.Entry, len(s.segments))
	for i, seg := range s.segments {
		entries[i] = seg.Entry()
	}
	loop := s.loop
	return Document{
		Playlist:     entries,
		CurrentIndex: s.current,
		LoopEnabled:  &loop,
		Version:      DocumentVersion,
	}
}

func (s *Store) snapshotLocked() (Document, uint64) {
	s.revision++
	return s.documentLocked(), s.revision
}

// persist saves the snapshot unless a newer revision was already written.
// Failures are logged; the in-memory playlist stays authoritative.
func (s *Store) persist(doc Document, rev uint64) {
	if s.persister == nil {
		return
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if rev <= s.savedRevs {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	doc.LastSaved = s.now().UTC().Format(time.RFC3339)
	if err := s.persister.Save(ctx, doc); err != nil {
		s.logger.Warn().Err(err).Uint64("revision", rev).Msg("failed to persist playlist")
		return
	}
	s.savedRevs = rev
}

func (s *Store) publish(ev events.Event) {
	if pc, ok := ev.(events.PlaylistChanged); ok {
		telemetry.PlaylistLength.Set(float64(pc.Length))
	}
	s.bus.Publish(ev)
}
