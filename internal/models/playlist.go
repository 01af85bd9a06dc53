/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package models holds the gorm records of the database storage backends.
package models

import "time"

// PlaylistStateID is the primary key of the single playlist state row.
const PlaylistStateID = 1

// Segment is one playlist entry, ordered by Position.
type Segment struct {
	ID           string     `gorm:"type:varchar(64);primaryKey"`
	Position     int        `gorm:"index"`
	SourceURL    string     `gorm:"type:text"`
	VideoID      string     `gorm:"type:varchar(32);index"`
	StartTime    float64    `gorm:"type:float"`
	EndTime      *float64   `gorm:"type:float"`
	Title        string     `gorm:"type:text"`
	FadeOverride *bool
	DateAdded    time.Time
	DateModified *time.Time
}

// TableName returns the table name for GORM.
func (Segment) TableName() string {
	return "segments"
}

// PlaylistState stores the pointer and loop flag next to the segments.
type PlaylistState struct {
	ID           int    `gorm:"primaryKey;autoIncrement:false"`
	CurrentIndex int
	LoopEnabled  bool
	Version      string `gorm:"type:varchar(16)"`
	SavedAt      time.Time
}

// TableName returns the table name for GORM.
func (PlaylistState) TableName() string {
	return "playlist_states"
}
