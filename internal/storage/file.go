/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package storage implements playlist persisters: a local document file and
// a gorm-backed database.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/friendsincode/cueloop/internal/playlist"
)

// FileStore keeps the playlist document in a single file. Writes go to a
// temporary sibling first and are renamed into place.
type FileStore struct {
	path   string
	logger zerolog.Logger
}

var _ playlist.Persister = (*FileStore)(nil)

// NewFileStore persists to path, creating its directory on first save.
func NewFileStore(path string, logger zerolog.Logger) *FileStore {
	return &FileStore{
		path:   path,
		logger: logger.With().Str("component", "storage").Str("backend", "file").Logger(),
	}
}

// Path returns the document location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the stored document, or returns nil when none was saved yet.
func (s *FileStore) Load(ctx context.Context) (*playlist.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	doc, err := playlist.DecodeDocumentFile(s.path, data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return doc, nil
}

// Save replaces the stored document.
func (s *FileStore) Save(ctx context.Context, doc playlist.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := playlist.EncodeDocumentFile(s.path, doc)
	if err != nil {
		return fmt.Errorf("encode playlist: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}

	s.logger.Debug().Int("segments", len(doc.Playlist)).Msg("playlist saved")
	return nil
}
