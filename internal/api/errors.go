package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/xvanov/clipforge-sub000/internal/export"
	"github.com/xvanov/clipforge-sub000/internal/jobs"
	"github.com/xvanov/clipforge-sub000/internal/media"
	"github.com/xvanov/clipforge-sub000/internal/timeline"
)

// errorStatus maps a domain error to its HTTP status and error code.
func errorStatus(err error) (int, string) {
	var verr *timeline.ValidationError
	var ioErr *jobs.IOError
	var missing *export.MissingMediaError

	switch {
	case errors.As(err, &verr):
		switch verr.Reason {
		case timeline.ReasonOverlap, timeline.ReasonLocked:
			return http.StatusConflict, "VALIDATION_ERROR"
		case timeline.ReasonInvalidTrack:
			return http.StatusUnprocessableEntity, "VALIDATION_ERROR"
		default:
			return http.StatusBadRequest, "VALIDATION_ERROR"
		}
	case errors.Is(err, timeline.ErrNotFound), errors.Is(err, media.ErrNotFound), errors.Is(err, jobs.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, jobs.ErrExportInProgress):
		return http.StatusConflict, "EXPORT_IN_PROGRESS"
	case errors.Is(err, jobs.ErrNotTerminal):
		return http.StatusConflict, "EXPORT_RUNNING"
	case errors.As(err, &ioErr):
		return http.StatusBadRequest, "INVALID_OUTPUT"
	case errors.Is(err, export.ErrInvalidSettings):
		return http.StatusBadRequest, "INVALID_SETTINGS"
	case errors.As(err, &missing):
		return http.StatusUnprocessableEntity, "MISSING_MEDIA"
	case errors.Is(err, export.ErrNoMainTrack):
		return http.StatusUnprocessableEntity, "NO_MAIN_TRACK"
	case errors.Is(err, export.ErrEmptyTimeline):
		return http.StatusUnprocessableEntity, "EMPTY_TIMELINE"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// writeDomainError reports err with the status its type calls for. Internal
// errors are logged and not echoed to the client.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
		WriteError(w, status, "internal server error", code)
		return
	}

	resp := ErrorResponse{Error: err.Error(), Code: code}
	var verr *timeline.ValidationError
	if errors.As(err, &verr) {
		resp.Reason = string(verr.Reason)
	}
	writeErrorResponse(w, status, resp)
}
