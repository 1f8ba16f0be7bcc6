package timeline

import (
	"errors"
	"fmt"
)

// Reason classifies a rejected edit.
type Reason string

const (
	ReasonInvalidTrim     Reason = "invalid_trim"
	ReasonOverlap         Reason = "overlap"
	ReasonInvalidDuration Reason = "invalid_duration"
	ReasonInvalidSplit    Reason = "invalid_split"
	ReasonLocked          Reason = "locked"
	ReasonInvalidTrack    Reason = "invalid_track"
)

// ValidationError rejects an edit before any state changes. errors.Is matches
// any ValidationError with the same Reason, so callers can test against the
// sentinels below.
type ValidationError struct {
	Reason  Reason
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return string(e.Reason)
	}
	return string(e.Reason) + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Reason == e.Reason
}

var (
	ErrInvalidTrim     = &ValidationError{Reason: ReasonInvalidTrim}
	ErrOverlap         = &ValidationError{Reason: ReasonOverlap}
	ErrInvalidDuration = &ValidationError{Reason: ReasonInvalidDuration}
	ErrInvalidSplit    = &ValidationError{Reason: ReasonInvalidSplit}
	ErrLocked          = &ValidationError{Reason: ReasonLocked}
	ErrInvalidTrack    = &ValidationError{Reason: ReasonInvalidTrack}
)

func invalid(reason Reason, format string, args ...any) error {
	return &ValidationError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// ErrNotFound matches every NotFoundError.
var ErrNotFound = errors.New("not found")

// NotFoundError reports an unknown track, clip or media id.
type NotFoundError struct {
	Kind string // "track", "clip" or "media_clip"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
