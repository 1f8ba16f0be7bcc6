package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xvanov/clipforge-sub000/internal/download"
	"github.com/xvanov/clipforge-sub000/internal/logging"
)

const Version = "0.1.0"

func NewRouter(cfg ServerConfig) *chi.Mux {
	cfg.Logger = logging.OrDiscard(cfg.Logger)
	if cfg.Downloads == nil {
		cfg.Downloads = download.NewServer(cfg.Logger)
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = promhttp.Handler()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))
	r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Auth, cfg.Logger))

		r.Route("/timeline", func(r chi.Router) {
			r.Get("/", getTimelineHandler(cfg))
			r.Get("/duration", durationHandler(cfg))
			r.Post("/edl", edlHandler(cfg))

			r.Post("/clips", addClipHandler(cfg))
			r.Patch("/clips/{id}", updateClipHandler(cfg))
			r.Post("/clips/{id}/split", splitClipHandler(cfg))
			r.Delete("/clips/{id}", deleteClipHandler(cfg))

			r.Post("/tracks", createTrackHandler(cfg))
			r.Patch("/tracks/{id}", updateTrackHandler(cfg))
			r.Delete("/tracks/{id}", deleteTrackHandler(cfg))
		})

		r.Get("/media", listMediaHandler(cfg))
		r.Post("/media", registerMediaHandler(cfg))
		r.Get("/media/{id}", getMediaHandler(cfg))

		r.Route("/exports", func(r chi.Router) {
			r.Get("/", listExportsHandler(cfg))
			r.With(exportLimiter(cfg)).Post("/", startExportHandler(cfg))
			r.Get("/{id}", getExportHandler(cfg))
			r.Delete("/{id}", acknowledgeExportHandler(cfg))
			r.Post("/{id}/cancel", cancelExportHandler(cfg))
			r.Get("/{id}/events", exportEventsHandler(cfg))
			r.With(LoopbackGuard()).Get("/{id}/file", exportFileHandler(cfg))
			r.With(LoopbackGuard()).Head("/{id}/file", exportFileHandler(cfg))
		})

		r.Post("/project/save", saveProjectHandler(cfg))
	})

	return r
}

func exportLimiter(cfg ServerConfig) func(http.Handler) http.Handler {
	if cfg.ExportRateLimit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return ExportRateLimit(cfg.ExportRateLimit)
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:   "ok",
			Version:  Version,
			UptimeS:  int64(time.Since(cfg.StartTime).Seconds()),
			DeviceID: cfg.DeviceID,
		}
		if cfg.Timeline != nil {
			resp.TimelineVersion = cfg.Timeline.Version()
		}
		if cfg.Jobs != nil {
			resp.ExportRunning = cfg.Jobs.Active() != nil
		}
		if cfg.Media != nil {
			n, err := cfg.Media.Count(r.Context())
			if err != nil {
				cfg.Logger.Warn("failed to count media", "error", err)
			}
			resp.MediaCount = n
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func saveProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Project == nil {
			WriteError(w, http.StatusNotFound, "no project document configured", "NOT_FOUND")
			return
		}
		doc, err := cfg.Project.Save(cfg.Timeline)
		if err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, ProjectSaveResponse{
			ID:              doc.ID,
			Path:            cfg.Project.Path(),
			TimelineVersion: doc.TimelineVersion,
			SavedAt:         doc.SavedAt,
		})
	}
}
