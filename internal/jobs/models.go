// Package jobs runs export jobs: it owns the job state machine, supervises
// the encoder process and publishes progress and terminal events.
package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xvanov/clipforge-sub000/internal/export"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is absorbing.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type Job struct {
	ID           string          `json:"id"`
	Status       Status          `json:"status"`
	Settings     export.Settings `json:"settings"`
	OutputPath   string          `json:"output_path"`
	Progress     float64         `json:"progress"`
	CurrentFrame int64           `json:"current_frame"`
	TotalFrames  int64           `json:"total_frames"`
	EncodeFPS    float64         `json:"encode_fps"`
	ETASeconds   float64         `json:"eta_seconds"`
	VideoEncoder string          `json:"video_encoder,omitempty"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}

func (j *Job) clone() *Job {
	c := *j
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

func NewID() string {
	return uuid.NewString()
}

var (
	// ErrExportInProgress is returned by Start while another export runs.
	ErrExportInProgress = errors.New("an export is already in progress")
	ErrNotFound         = errors.New("export job not found")
	// ErrNotTerminal is returned when acknowledging a job that is still running.
	ErrNotTerminal = errors.New("export job has not finished")
)

// IOError reports a problem with the output file: an unusable output path or
// a partial output that could not be removed.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
