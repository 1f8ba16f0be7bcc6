// Package media is the registry of source media descriptors. The timeline and
// export compiler only read from it, through the Lookup interface.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/xvanov/clipforge-sub000/internal/logging"
	"github.com/xvanov/clipforge-sub000/internal/timebase"
)

// Lookup resolves a media clip by id. Implementations return ErrNotFound
// (possibly wrapped) for unknown ids.
type Lookup interface {
	Lookup(ctx context.Context, id string) (*Clip, error)
}

// StaticLookup is an in-memory Lookup keyed by clip id.
type StaticLookup map[string]*Clip

func (s StaticLookup) Lookup(_ context.Context, id string) (*Clip, error) {
	c, ok := s[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c, nil
}

// RegisterInput describes a source file whose metadata was extracted by the importer.
type RegisterInput struct {
	Name       string
	SourcePath string
	ProxyPath  string
	Duration   time.Duration
	Width      int
	Height     int
	FPS        float64
	Codec      string
	AudioCodec string
	HasAudio   bool
}

type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logging.OrDiscard(logger)}
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*Clip, error) {
	if strings.TrimSpace(in.SourcePath) == "" {
		return nil, fmt.Errorf("source_path is required")
	}
	if in.Duration <= 0 {
		return nil, fmt.Errorf("duration must be positive")
	}
	if in.Width < 0 || in.Height < 0 || in.FPS < 0 {
		return nil, fmt.Errorf("dimensions and fps must not be negative")
	}

	name := in.Name
	if name == "" {
		name = filepath.Base(in.SourcePath)
	}

	clip := &Clip{
		ID:         NewID(),
		Name:       name,
		SourcePath: in.SourcePath,
		ProxyPath:  in.ProxyPath,
		Duration:   in.Duration,
		Width:      in.Width,
		Height:     in.Height,
		FPS:        in.FPS,
		Codec:      in.Codec,
		AudioCodec: in.AudioCodec,
		HasAudio:   in.HasAudio,
		ImportedAt: time.Now().UTC().Truncate(time.Second),
	}

	if err := s.repo.CreateClip(ctx, clip); err != nil {
		return nil, fmt.Errorf("store media clip: %w", err)
	}

	s.logger.Info("media clip registered",
		"media_clip_id", clip.ID,
		"path", logging.SanitizePath(clip.SourcePath),
		"duration_s", clip.Duration.Seconds(),
	)
	return clip, nil
}

func (s *Service) Lookup(ctx context.Context, id string) (*Clip, error) {
	clip, err := s.repo.GetClip(ctx, id)
	if err != nil {
		return nil, err
	}
	if clip == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return clip, nil
}

func (s *Service) List(ctx context.Context) ([]*Clip, error) {
	return s.repo.ListClips(ctx)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.CountClips(ctx)
}

type clipJSON struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	SourcePath string    `json:"source_path"`
	ProxyPath  string    `json:"proxy_path,omitempty"`
	Duration   float64   `json:"duration"`
	Resolution string    `json:"resolution"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	FPS        float64   `json:"fps"`
	Codec      string    `json:"codec"`
	AudioCodec string    `json:"audio_codec,omitempty"`
	HasAudio   bool      `json:"has_audio"`
	ImportedAt time.Time `json:"imported_at"`
}

func (c *Clip) MarshalJSON() ([]byte, error) {
	return json.Marshal(clipJSON{
		ID:         c.ID,
		Name:       c.Name,
		SourcePath: c.SourcePath,
		ProxyPath:  c.ProxyPath,
		Duration:   timebase.ToSeconds(c.Duration),
		Resolution: c.Resolution(),
		Width:      c.Width,
		Height:     c.Height,
		FPS:        c.FPS,
		Codec:      c.Codec,
		AudioCodec: c.AudioCodec,
		HasAudio:   c.HasAudio,
		ImportedAt: c.ImportedAt,
	})
}

func (c *Clip) UnmarshalJSON(data []byte) error {
	var w clipJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*c = Clip{
		ID:         w.ID,
		Name:       w.Name,
		SourcePath: w.SourcePath,
		ProxyPath:  w.ProxyPath,
		Duration:   timebase.FromSeconds(w.Duration),
		Width:      w.Width,
		Height:     w.Height,
		FPS:        w.FPS,
		Codec:      w.Codec,
		AudioCodec: w.AudioCodec,
		HasAudio:   w.HasAudio,
		ImportedAt: w.ImportedAt,
	}
	return nil
}
