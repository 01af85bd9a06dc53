/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/friendsincode/cueloop/internal/models"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.Segment{},
		&models.PlaylistState{},
	); err != nil {
		return err
	}

	if err := dropStrayStateRows(database); err != nil {
		return err
	}

	return nil
}

// dropStrayStateRows keeps playlist_states to its single row; anything else
// was written by hand and would shadow the real state.
func dropStrayStateRows(database *gorm.DB) error {
	if err := database.Where("id <> ?", models.PlaylistStateID).Delete(&models.PlaylistState{}).Error; err != nil {
		return fmt.Errorf("drop stray playlist state rows: %w", err)
	}
	return nil
}
