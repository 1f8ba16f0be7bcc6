package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/xvanov/clipforge-sub000/internal/download"
	"github.com/xvanov/clipforge-sub000/internal/export"
	"github.com/xvanov/clipforge-sub000/internal/jobs"
	"github.com/xvanov/clipforge-sub000/internal/media"
	"github.com/xvanov/clipforge-sub000/internal/project"
	"github.com/xvanov/clipforge-sub000/internal/timeline"
)

// MediaService is the media registry.
type MediaService interface {
	media.Lookup
	Register(ctx context.Context, in media.RegisterInput) (*media.Clip, error)
	List(ctx context.Context) ([]*media.Clip, error)
	Count(ctx context.Context) (int, error)
}

// ExportManager runs exports; see jobs.Manager.
type ExportManager interface {
	Start(ctx context.Context, outputPath string, settings export.Settings) (*jobs.Job, error)
	Cancel(ctx context.Context, id string) (*jobs.Job, error)
	Get(ctx context.Context, id string) (*jobs.Job, error)
	List(ctx context.Context, limit int) ([]*jobs.Job, error)
	Active() *jobs.Job
	Acknowledge(id string) error
	Bus() *jobs.Bus
}

// ProjectStore persists the timeline document.
type ProjectStore interface {
	Save(tl interface{ Snapshot() timeline.Snapshot }) (*project.Document, error)
	Path() string
	ExportSettings() export.Settings
	SetExportSettings(export.Settings)
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port     int
	Timeline *timeline.Timeline
	Media    MediaService
	Jobs     ExportManager
	// Project is optional; without it /project/save answers 404.
	Project   ProjectStore
	Downloads *download.Server
	Auth      TokenStore
	// ExportRateLimit is the number of export starts allowed per minute per
	// client; 0 disables the limit.
	ExportRateLimit int
	MetricsHandler  http.Handler
	Logger          *slog.Logger
	StartTime       time.Time
	DeviceID        string
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			// downloads and event streams are long-lived
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
