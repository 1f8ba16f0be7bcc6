package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xvanov/clipforge-sub000/internal/export"
	"github.com/xvanov/clipforge-sub000/internal/jobs"
)

const (
	defaultJobsLimit = 50
	maxJobsLimit     = 500
	sseKeepAlive     = 15 * time.Second
)

func startExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ExportRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		settings := export.DefaultSettings()
		if cfg.Project != nil {
			settings = cfg.Project.ExportSettings()
		}
		if req.Settings != nil {
			settings = *req.Settings
		}

		job, err := cfg.Jobs.Start(r.Context(), req.OutputPath, settings)
		if err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}
		if cfg.Project != nil {
			cfg.Project.SetExportSettings(settings)
		}
		WriteJSON(w, http.StatusAccepted, job)
	}
}

func listExportsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultJobsLimit
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
				return
			}
			limit = min(n, maxJobsLimit)
		}

		list, err := cfg.Jobs.List(r.Context(), limit)
		if err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}
		if list == nil {
			list = []*jobs.Job{}
		}
		WriteJSON(w, http.StatusOK, JobsResponse{Jobs: list})
	}
}

func getExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.Jobs.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, job)
	}
}

func cancelExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.Jobs.Cancel(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, job)
	}
}

func acknowledgeExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Jobs.Acknowledge(chi.URLParam(r, "id")); err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// exportEventsHandler streams a job's events as server-sent events. The
// stream opens with the job's current state and ends after its terminal
// event.
func exportEventsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		flusher, ok := w.(http.Flusher)
		if !ok {
			WriteError(w, http.StatusInternalServerError, "streaming unsupported", "INTERNAL_ERROR")
			return
		}

		// subscribe before reading state so a terminal event cannot slip
		// between the two
		bus := cfg.Jobs.Bus()
		sub := bus.Subscribe(id, 0)
		defer bus.Unsubscribe(sub)

		job, err := cfg.Jobs.Get(r.Context(), id)
		if err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}

		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		if err := writeSSE(w, "export_state", job); err != nil {
			return
		}
		flusher.Flush()
		if job.Status.Terminal() {
			return
		}

		keepAlive := time.NewTicker(sseKeepAlive)
		defer keepAlive.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-keepAlive.C:
				if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case ev := <-sub.Events():
				if err := writeSSE(w, string(ev.Type), ev); err != nil {
					return
				}
				flusher.Flush()
				if ev.Type.Terminal() {
					return
				}
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}

func exportFileHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.Jobs.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}
		if job.Status != jobs.StatusCompleted {
			WriteError(w, http.StatusConflict, fmt.Sprintf("export is %s", job.Status), "EXPORT_NOT_COMPLETED")
			return
		}

		if err := cfg.Downloads.Serve(w, r, job.OutputPath); err != nil {
			cfg.Logger.Error("download error", "error", err, "job_id", job.ID)
			WriteError(w, http.StatusInternalServerError, "failed to read export", "INTERNAL_ERROR")
		}
	}
}

// edlHandler renders the base sequence of the current timeline as an edit
// decision list, either to a file or in the response body.
func edlHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EDLRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		title := export.SanitizeName(req.Title, 120)
		if title == "" {
			title = "clipforge_timeline"
		}

		plan, err := export.GeneratePlan(r.Context(), cfg.Timeline.Snapshot(), cfg.Media)
		if err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}
		frameRate := req.FrameRate
		if frameRate <= 0 {
			frameRate = plan.FPS
		}
		edl := export.GenerateEDL(plan, title, frameRate)

		if req.OutputPath == "" {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, edl)
			return
		}

		if !strings.EqualFold(filepath.Ext(req.OutputPath), ".edl") {
			WriteError(w, http.StatusBadRequest, "output_path must end in .edl", "BAD_REQUEST")
			return
		}
		if err := export.ValidateOutputPath(req.OutputPath); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "INVALID_OUTPUT")
			return
		}
		if err := os.WriteFile(req.OutputPath, []byte(edl), 0o644); err != nil {
			cfg.Logger.Error("failed to write edl", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to write export file", "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusOK, EDLResponse{
			OutputPath: req.OutputPath,
			EventCount: len(plan.Sources()),
		})
	}
}
