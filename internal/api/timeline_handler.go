package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xvanov/clipforge-sub000/internal/export"
	"github.com/xvanov/clipforge-sub000/internal/timebase"
	"github.com/xvanov/clipforge-sub000/internal/timeline"
)

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
		return false
	}
	return true
}

func getTimelineHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, cfg.Timeline.Snapshot())
	}
}

func durationHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := cfg.Timeline.Snapshot()
		WriteJSON(w, http.StatusOK, DurationResponse{
			Version:  snap.Version,
			Duration: timebase.ToSeconds(export.ComputeDuration(snap.Tracks)),
		})
	}
}

func applyClips(cfg ServerConfig, w http.ResponseWriter, r *http.Request, cmd timeline.Command, status int) {
	res, err := cfg.Timeline.Apply(r.Context(), cmd)
	if err != nil {
		writeDomainError(w, cfg.Logger, err)
		return
	}
	clips := res.Clips
	if clips == nil {
		clips = []timeline.Clip{}
	}
	WriteJSON(w, status, ClipsResponse{Version: res.Version, Clips: clips, Removed: res.Removed})
}

func applyTrack(cfg ServerConfig, w http.ResponseWriter, r *http.Request, cmd timeline.Command, status int) {
	res, err := cfg.Timeline.Apply(r.Context(), cmd)
	if err != nil {
		writeDomainError(w, cfg.Logger, err)
		return
	}
	WriteJSON(w, status, TrackResponse{Version: res.Version, Track: res.Track, Removed: res.Removed})
}

func addClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AddClipRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.MediaClipID == "" {
			WriteError(w, http.StatusBadRequest, "media_clip_id is required", "BAD_REQUEST")
			return
		}

		cmd := timeline.AddClip{
			MediaClipID: req.MediaClipID,
			TrackID:     req.TrackID,
			Auto:        req.StartTime == nil,
			LayerOrder:  req.LayerOrder,
			Transform:   req.Transform,
		}
		if cmd.TrackID == "" {
			cmd.TrackID = cfg.Timeline.DefaultTrackID()
		}

		var err error
		if req.StartTime != nil {
			if cmd.StartTime, err = seconds("start_time", *req.StartTime); err != nil {
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
				return
			}
		}
		if cmd.InPoint, err = seconds("in_point", req.InPoint); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		if req.OutPoint != nil {
			if cmd.OutPoint, err = seconds("out_point", *req.OutPoint); err != nil {
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
				return
			}
		} else {
			m, err := cfg.Media.Lookup(r.Context(), req.MediaClipID)
			if err != nil {
				writeDomainError(w, cfg.Logger, err)
				return
			}
			cmd.OutPoint = m.Duration
		}

		applyClips(cfg, w, r, cmd, http.StatusCreated)
	}
}

func updateClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateClipRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		cmd := timeline.UpdateClip{
			ClipID:     chi.URLParam(r, "id"),
			TrackID:    req.TrackID,
			LayerOrder: req.LayerOrder,
			Transform:  req.Transform,
		}
		var err error
		if cmd.StartTime, err = optionalSeconds("start_time", req.StartTime); err == nil {
			if cmd.InPoint, err = optionalSeconds("in_point", req.InPoint); err == nil {
				cmd.OutPoint, err = optionalSeconds("out_point", req.OutPoint)
			}
		}
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		applyClips(cfg, w, r, cmd, http.StatusOK)
	}
}

func splitClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SplitClipRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		at, err := seconds("split_time", req.SplitTime)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		applyClips(cfg, w, r, timeline.SplitClip{ClipID: chi.URLParam(r, "id"), At: at}, http.StatusOK)
	}
}

func deleteClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		applyClips(cfg, w, r, timeline.DeleteClip{ClipID: chi.URLParam(r, "id")}, http.StatusOK)
	}
}

func createTrackHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateTrackRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Kind == "" {
			req.Kind = timeline.KindOverlay
		}
		applyTrack(cfg, w, r, timeline.CreateTrack{Name: req.Name, Kind: req.Kind}, http.StatusCreated)
	}
}

func updateTrackHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateTrackRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		applyTrack(cfg, w, r, timeline.UpdateTrack{
			TrackID: chi.URLParam(r, "id"),
			Name:    req.Name,
			Visible: req.Visible,
			Locked:  req.Locked,
			Volume:  req.Volume,
		}, http.StatusOK)
	}
}

func deleteTrackHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		force := r.URL.Query().Get("force") == "true"
		applyTrack(cfg, w, r, timeline.DeleteTrack{TrackID: chi.URLParam(r, "id"), Force: force}, http.StatusOK)
	}
}
