/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package segment

import "time"

// Entry is the persisted shape of a segment inside a playlist document.
type Entry struct {
	ID           string   `json:"id,omitempty" yaml:"id,omitempty"`
	URL          string   `json:"url" yaml:"url"`
	VideoID      string   `json:"videoId,omitempty" yaml:"videoId,omitempty"`
	StartTime    *float64 `json:"startTime,omitempty" yaml:"startTime,omitempty"`
	EndTime      *float64 `json:"endTime,omitempty" yaml:"endTime,omitempty"`
	Title        any      `json:"title,omitempty" yaml:"title,omitempty"`
	DateAdded    string   `json:"dateAdded,omitempty" yaml:"dateAdded,omitempty"`
	DateModified string   `json:"dateModified,omitempty" yaml:"dateModified,omitempty"`
	FadeOverride *bool    `json:"fadeOverride,omitempty" yaml:"fadeOverride,omitempty"`
}

// Entry converts the segment to its persisted shape.
func (s Segment) Entry() Entry {
	start := s.StartOffset
	e := Entry{
		ID:           s.ID,
		URL:          s.SourceRef,
		VideoID:      s.ResolvedID,
		StartTime:    &start,
		Title:        s.Title,
		DateAdded:    s.CreatedAt.UTC().Format(time.RFC3339),
		FadeOverride: s.FadeOverride,
	}
	if s.EndOffset != nil {
		end := *s.EndOffset
		e.EndTime = &end
	}
	if s.ModifiedAt != nil {
		e.DateModified = s.ModifiedAt.UTC().Format(time.RFC3339)
	}
	return e
}

// CandidateFromEntry prepares a persisted entry for re-validation. Entries that
// lost their url but kept the resolved id fall back to the id.
func CandidateFromEntry(e Entry) Candidate {
	c := Candidate{
		Locator:      e.URL,
		StartOffset:  e.StartTime,
		EndOffset:    e.EndTime,
		FadeOverride: e.FadeOverride,
	}
	if c.Locator == "" {
		c.Locator = e.VideoID
	}
	switch title := e.Title.(type) {
	case nil:
	case string:
		c.Title = &title
	default:
		c.titleNotString = true
	}
	return c
}

// FromEntry rebuilds a segment from a persisted entry. Identity and timestamps
// are kept when present.
func FromEntry(e Entry, position int, now time.Time) (Segment, error) {
	c := CandidateFromEntry(e)
	res := Validate(c)
	if !res.OK {
		return Segment{}, res.Err()
	}
	seg := New(c, res.ResolvedID, position, now)
	if e.ID != "" {
		seg.ID = e.ID
	}
	if added, err := time.Parse(time.RFC3339, e.DateAdded); err == nil {
		seg.CreatedAt = added
	}
	if modified, err := time.Parse(time.RFC3339, e.DateModified); err == nil {
		seg.ModifiedAt = &modified
	}
	return seg, nil
}
