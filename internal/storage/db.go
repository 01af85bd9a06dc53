/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/cueloop/internal/db"
	"github.com/friendsincode/cueloop/internal/models"
	"github.com/friendsincode/cueloop/internal/playlist"
	"github.com/friendsincode/cueloop/internal/segment"
	"github.com/friendsincode/cueloop/internal/telemetry"
)

// DBStore keeps the playlist in the segments and playlist_states tables.
type DBStore struct {
	db     *gorm.DB
	logger zerolog.Logger
}

var _ playlist.Persister = (*DBStore)(nil)

// NewDBStore wraps an already migrated connection.
func NewDBStore(database *gorm.DB, logger zerolog.Logger) *DBStore {
	return &DBStore{
		db:     database,
		logger: logger.With().Str("component", "storage").Str("backend", database.Dialector.Name()).Logger(),
	}
}

// Load assembles the stored document, or returns nil when nothing was saved.
func (s *DBStore) Load(ctx context.Context) (*playlist.Document, error) {
	var state models.PlaylistState
	err := s.db.WithContext(ctx).First(&state, models.PlaylistStateID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load playlist state: %w", err)
	}

	var rows []models.Segment
	if err := s.db.WithContext(ctx).Order("position ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load segments: %w", err)
	}

	loop := state.LoopEnabled
	doc := &playlist.Document{
		Playlist:     make([]segment.Entry, 0, len(rows)),
		CurrentIndex: state.CurrentIndex,
		LoopEnabled:  &loop,
		LastSaved:    state.SavedAt.UTC().Format(time.RFC3339),
		Version:      state.Version,
	}
	for _, row := range rows {
		doc.Playlist = append(doc.Playlist, entryFromRow(row))
	}
	return doc, nil
}

// Save replaces every stored row with doc in one transaction.
func (s *DBStore) Save(ctx context.Context, doc playlist.Document) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "storage.save", telemetry.StorageAttrs(s.db.Dialector.Name(), len(doc.Playlist))...)
	defer func() { telemetry.FinishSpan(span, err) }()

	rows := make([]models.Segment, 0, len(doc.Playlist))
	for i, entry := range doc.Playlist {
		rows = append(rows, rowFromEntry(entry, i))
	}
	state := models.PlaylistState{
		ID:           models.PlaylistStateID,
		CurrentIndex: doc.CurrentIndex,
		LoopEnabled:  doc.LoopEnabled != nil && *doc.LoopEnabled,
		Version:      doc.Version,
		SavedAt:      parseTime(doc.LastSaved, time.Now()),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Segment{}).Error; err != nil {
			return fmt.Errorf("clear segments: %w", err)
		}
		if len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("insert segments: %w", err)
			}
		}
		if err := tx.Save(&state).Error; err != nil {
			return fmt.Errorf("save playlist state: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	db.UpdateConnectionMetrics(s.db)
	s.logger.Debug().Int("segments", len(rows)).Msg("playlist saved")
	return nil
}

func rowFromEntry(e segment.Entry, position int) models.Segment {
	row := models.Segment{
		ID:           e.ID,
		Position:     position,
		SourceURL:    e.URL,
		VideoID:      e.VideoID,
		EndTime:      e.EndTime,
		FadeOverride: e.FadeOverride,
		DateAdded:    parseTime(e.DateAdded, time.Now()),
	}
	if e.StartTime != nil {
		row.StartTime = *e.StartTime
	}
	if title, ok := e.Title.(string); ok {
		row.Title = title
	}
	if e.DateModified != "" {
		modified := parseTime(e.DateModified, time.Now())
		row.DateModified = &modified
	}
	return row
}

func entryFromRow(row models.Segment) segment.Entry {
	start := row.StartTime
	e := segment.Entry{
		ID:           row.ID,
		URL:          row.SourceURL,
		VideoID:      row.VideoID,
		StartTime:    &start,
		EndTime:      row.EndTime,
		FadeOverride: row.FadeOverride,
		DateAdded:    row.DateAdded.UTC().Format(time.RFC3339),
	}
	if row.Title != "" {
		e.Title = row.Title
	}
	if row.DateModified != nil {
		e.DateModified = row.DateModified.UTC().Format(time.RFC3339)
	}
	return e
}

func parseTime(value string, fallback time.Time) time.Time {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return fallback
}
