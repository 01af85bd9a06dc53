/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package segment models a single playlist entry: a hosted video reference
// bounded by start and end offsets, plus the rules that validate one.
package segment

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Segment is one playable unit of a playlist.
type Segment struct {
	ID           string
	SourceRef    string
	ResolvedID   string
	StartOffset  float64
	EndOffset    *float64
	Title        string
	CreatedAt    time.Time
	ModifiedAt   *time.Time
	FadeOverride *bool
}

// Key is the exact tuple used for duplicate detection.
type Key struct {
	ResolvedID string
	Start      float64
	End        float64
	HasEnd     bool
}

// Key returns the duplicate-detection tuple of the segment.
func (s Segment) Key() Key {
	k := Key{ResolvedID: s.ResolvedID, Start: s.StartOffset}
	if s.EndOffset != nil {
		k.End = *s.EndOffset
		k.HasEnd = true
	}
	return k
}

// Playable reports whether the segment can be handed to a provider.
func (s Segment) Playable() bool {
	return s.ResolvedID != ""
}

// FadeEnabled resolves the per-segment override against the global setting.
func (s Segment) FadeEnabled(global bool) bool {
	if s.FadeOverride != nil {
		return *s.FadeOverride
	}
	return global
}

// Label is what the transition screen shows for the segment.
func (s Segment) Label() string {
	if s.Title != "" {
		return s.Title
	}
	return s.ResolvedID
}

// PlaceholderTitle is the default title for the entry at position (0-based).
func PlaceholderTitle(position int) string {
	return fmt.Sprintf("Video %d", position+1)
}

// New builds a segment from a candidate that already passed Validate.
func New(c Candidate, resolvedID string, position int, now time.Time) Segment {
	seg := Segment{
		ID:           uuid.NewString(),
		SourceRef:    strings.TrimSpace(c.Locator),
		ResolvedID:   resolvedID,
		Title:        PlaceholderTitle(position),
		CreatedAt:    now,
		FadeOverride: c.FadeOverride,
	}
	if c.StartOffset != nil {
		seg.StartOffset = *c.StartOffset
	}
	if c.EndOffset != nil {
		end := *c.EndOffset
		seg.EndOffset = &end
	}
	if c.Title != nil && *c.Title != "" {
		seg.Title = *c.Title
	}
	return seg
}

// Revise applies an edited candidate to an existing segment, keeping its
// identity and creation time.
func (s Segment) Revise(c Candidate, resolvedID string, now time.Time) Segment {
	revised := New(c, resolvedID, 0, now)
	revised.ID = s.ID
	revised.CreatedAt = s.CreatedAt
	if c.Title == nil || *c.Title == "" {
		revised.Title = s.Title
	}
	modified := now
	revised.ModifiedAt = &modified
	return revised
}
