// Package project persists the timeline as a JSON document on disk.
package project

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"

	"github.com/xvanov/clipforge-sub000/internal/export"
	"github.com/xvanov/clipforge-sub000/internal/logging"
	"github.com/xvanov/clipforge-sub000/internal/media"
	"github.com/xvanov/clipforge-sub000/internal/timeline"
)

// FormatVersion is the document layout written by Save.
const FormatVersion = 1

const DefaultName = "Untitled"

var ErrUnsupportedVersion = errors.New("unsupported project version")

type Document struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Version         int              `json:"version"`
	TimelineVersion uint64           `json:"timeline_version"`
	Tracks          []timeline.Track `json:"tracks"`
	ExportSettings  export.Settings  `json:"export_settings"`
	SavedAt         time.Time        `json:"saved_at"`
}

// Snapshot returns the timeline state held by the document.
func (d *Document) Snapshot() timeline.Snapshot {
	return timeline.Snapshot{Version: d.TimelineVersion, Tracks: d.Tracks}
}

// Load reads a document. A missing file yields an error matching
// os.ErrNotExist.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode project %s: %w", path, err)
	}
	if doc.Version < 1 || doc.Version > FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, doc.Version)
	}
	if doc.ExportSettings.Validate() != nil {
		doc.ExportSettings = export.DefaultSettings()
	}
	return &doc, nil
}

// Save writes doc atomically: readers see either the old file or the new
// one, never a partial write.
func Save(path string, doc *Document) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create project directory: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode project: %w", err)
	}

	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending project file: %w", err)
	}
	defer pending.Cleanup()

	if _, err := pending.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write project data: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace project file: %w", err)
	}
	return nil
}

// Store ties a document path to the live timeline.
type Store struct {
	path   string
	logger *slog.Logger

	mu       sync.Mutex
	id       string
	name     string
	settings export.Settings
}

func NewStore(path string, logger *slog.Logger) *Store {
	return &Store{
		path:     path,
		logger:   logging.WithComponent(logging.OrDiscard(logger), "project"),
		id:       uuid.NewString(),
		name:     DefaultName,
		settings: export.DefaultSettings(),
	}
}

func (s *Store) Path() string {
	return s.path
}

// Open restores the timeline from the document, or returns a fresh timeline
// when no document exists yet.
func (s *Store) Open(ctx context.Context, lookup media.Lookup, opts ...timeline.Option) (*timeline.Timeline, error) {
	doc, err := Load(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info("no project document, starting empty", "path", logging.SanitizePath(s.path))
		return timeline.New(lookup, opts...), nil
	}
	if err != nil {
		return nil, err
	}

	tl, err := timeline.Restore(ctx, doc.Snapshot(), lookup, opts...)
	if err != nil {
		return nil, fmt.Errorf("restore project %s: %w", doc.ID, err)
	}

	s.mu.Lock()
	if doc.ID != "" {
		s.id = doc.ID
	}
	if doc.Name != "" {
		s.name = doc.Name
	}
	s.settings = doc.ExportSettings
	s.mu.Unlock()

	s.logger.Info("project loaded",
		"project_id", doc.ID,
		"tracks", len(doc.Tracks),
		"version", doc.TimelineVersion,
	)
	return tl, nil
}

// ExportSettings returns the settings last used for an export.
func (s *Store) ExportSettings() export.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

func (s *Store) SetExportSettings(settings export.Settings) {
	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
}

// Save writes the current snapshot of tl.
func (s *Store) Save(tl interface{ Snapshot() timeline.Snapshot }) (*Document, error) {
	snap := tl.Snapshot()

	s.mu.Lock()
	doc := &Document{
		ID:              s.id,
		Name:            s.name,
		Version:         FormatVersion,
		TimelineVersion: snap.Version,
		Tracks:          snap.Tracks,
		ExportSettings:  s.settings,
		SavedAt:         time.Now().UTC(),
	}
	s.mu.Unlock()

	if err := Save(s.path, doc); err != nil {
		return nil, err
	}
	s.logger.Info("project saved",
		"path", logging.SanitizePath(s.path),
		"version", snap.Version,
		"clips", snap.ClipCount(),
	)
	return doc, nil
}
