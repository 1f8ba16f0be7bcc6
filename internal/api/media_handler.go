package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xvanov/clipforge-sub000/internal/media"
)

func listMediaHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clips, err := cfg.Media.List(r.Context())
		if err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}
		if clips == nil {
			clips = []*media.Clip{}
		}
		WriteJSON(w, http.StatusOK, MediaResponse{Clips: clips})
	}
}

func registerMediaHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterMediaRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		in, err := req.input()
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		clip, err := cfg.Media.Register(r.Context(), in)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		WriteJSON(w, http.StatusCreated, clip)
	}
}

func getMediaHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clip, err := cfg.Media.Lookup(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, clip)
	}
}
