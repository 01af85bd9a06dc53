/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playlist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/friendsincode/cueloop/internal/segment"
)

// DocumentVersion is the only document schema version written.
const DocumentVersion = "1.0"

var (
	// ErrMalformedDocument indicates the document has no playlist array.
	ErrMalformedDocument = errors.New("malformed playlist document")

	// ErrNoValidEntries indicates an import where every entry was rejected.
	ErrNoValidEntries = errors.New("no valid entries in playlist document")
)

// Document is the whole-playlist snapshot exchanged with persistence and
// import/export.
type Document struct {
	Playlist     []segment.Entry `json:"playlist" yaml:"playlist"`
	CurrentIndex int             `json:"currentIndex" yaml:"currentIndex"`
	LoopEnabled  *bool           `json:"loopEnabled,omitempty" yaml:"loopEnabled,omitempty"`
	LastSaved    string          `json:"lastSaved,omitempty" yaml:"lastSaved,omitempty"`
	ExportedAt   string          `json:"exportedAt,omitempty" yaml:"exportedAt,omitempty"`
	Version      string          `json:"version,omitempty" yaml:"version,omitempty"`
}

// Persister stores and retrieves playlist snapshots. Load returns a nil
// document when nothing was stored yet.
type Persister interface {
	Load(ctx context.Context) (*Document, error)
	Save(ctx context.Context, doc Document) error
}

// ImportReport describes the outcome of an import.
type ImportReport struct {
	Imported int      `json:"imported"`
	Problems []string `json:"problems,omitempty"`
}

// DecodeDocument parses a JSON document.
func DecodeDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	if doc.Playlist == nil {
		return nil, fmt.Errorf("%w: playlist must be an array", ErrMalformedDocument)
	}
	return &doc, nil
}

// DecodeDocumentFile parses JSON or YAML depending on the file name.
func DecodeDocumentFile(name string, data []byte) (*Document, error) {
	if !isYAML(name) {
		return DecodeDocument(data)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	if doc.Playlist == nil {
		return nil, fmt.Errorf("%w: playlist must be an array", ErrMalformedDocument)
	}
	return &doc, nil
}

// EncodeDocumentFile renders the document as indented JSON, or YAML for
// .yaml/.yml names.
func EncodeDocumentFile(name string, doc Document) ([]byte, error) {
	if isYAML(name) {
		return yaml.Marshal(doc)
	}
	return json.MarshalIndent(doc, "", "  ")
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
