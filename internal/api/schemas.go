package api

import (
	"fmt"
	"time"

	"github.com/xvanov/clipforge-sub000/internal/export"
	"github.com/xvanov/clipforge-sub000/internal/jobs"
	"github.com/xvanov/clipforge-sub000/internal/media"
	"github.com/xvanov/clipforge-sub000/internal/timebase"
	"github.com/xvanov/clipforge-sub000/internal/timeline"
)

type HealthResponse struct {
	Status          string `json:"status"`
	Version         string `json:"version"`
	UptimeS         int64  `json:"uptime_s"`
	DeviceID        string `json:"device_id"`
	TimelineVersion uint64 `json:"timeline_version"`
	ExportRunning   bool   `json:"export_running"`
	MediaCount      int    `json:"media_count"`
}

type ErrorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Times in requests and responses are float seconds.

type AddClipRequest struct {
	MediaClipID string `json:"media_clip_id"`
	TrackID     string `json:"track_id,omitempty"`
	// StartTime nil places the clip after the last clip on the track.
	StartTime *float64 `json:"start_time,omitempty"`
	InPoint   float64  `json:"in_point"`
	// OutPoint nil uses the full media duration.
	OutPoint   *float64            `json:"out_point,omitempty"`
	LayerOrder int                 `json:"layer_order"`
	Transform  *timeline.Transform `json:"transform,omitempty"`
}

type UpdateClipRequest struct {
	StartTime  *float64            `json:"start_time,omitempty"`
	InPoint    *float64            `json:"in_point,omitempty"`
	OutPoint   *float64            `json:"out_point,omitempty"`
	TrackID    *string             `json:"track_id,omitempty"`
	LayerOrder *int                `json:"layer_order,omitempty"`
	Transform  *timeline.Transform `json:"transform,omitempty"`
}

type SplitClipRequest struct {
	SplitTime float64 `json:"split_time"`
}

type ClipsResponse struct {
	Version uint64          `json:"version"`
	Clips   []timeline.Clip `json:"clips"`
	Removed []string        `json:"removed,omitempty"`
}

type CreateTrackRequest struct {
	Name string             `json:"name"`
	Kind timeline.TrackKind `json:"kind"`
}

type UpdateTrackRequest struct {
	Name    *string  `json:"name,omitempty"`
	Visible *bool    `json:"visible,omitempty"`
	Locked  *bool    `json:"locked,omitempty"`
	Volume  *float64 `json:"volume,omitempty"`
}

type TrackResponse struct {
	Version uint64          `json:"version"`
	Track   *timeline.Track `json:"track,omitempty"`
	Removed []string        `json:"removed,omitempty"`
}

type DurationResponse struct {
	Version  uint64  `json:"version"`
	Duration float64 `json:"duration"`
}

type RegisterMediaRequest struct {
	Name       string  `json:"name"`
	SourcePath string  `json:"source_path"`
	ProxyPath  string  `json:"proxy_path,omitempty"`
	Duration   float64 `json:"duration"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FPS        float64 `json:"fps"`
	Codec      string  `json:"codec,omitempty"`
	AudioCodec string  `json:"audio_codec,omitempty"`
	HasAudio   bool    `json:"has_audio"`
}

func (r RegisterMediaRequest) input() (media.RegisterInput, error) {
	d, err := seconds("duration", r.Duration)
	if err != nil {
		return media.RegisterInput{}, err
	}
	return media.RegisterInput{
		Name:       r.Name,
		SourcePath: r.SourcePath,
		ProxyPath:  r.ProxyPath,
		Duration:   d,
		Width:      r.Width,
		Height:     r.Height,
		FPS:        r.FPS,
		Codec:      r.Codec,
		AudioCodec: r.AudioCodec,
		HasAudio:   r.HasAudio,
	}, nil
}

type MediaResponse struct {
	Clips []*media.Clip `json:"clips"`
}

type ExportRequest struct {
	OutputPath string `json:"output_path"`
	// Settings nil reuses the project's last export settings.
	Settings *export.Settings `json:"settings,omitempty"`
}

type JobsResponse struct {
	Jobs []*jobs.Job `json:"jobs"`
}

type EDLRequest struct {
	Title     string  `json:"title"`
	FrameRate float64 `json:"frame_rate"`
	// OutputPath empty returns the list in the response body.
	OutputPath string `json:"output_path,omitempty"`
}

type EDLResponse struct {
	OutputPath string `json:"output_path"`
	EventCount int    `json:"event_count"`
}

type ProjectSaveResponse struct {
	ID              string    `json:"id"`
	Path            string    `json:"path"`
	TimelineVersion uint64    `json:"timeline_version"`
	SavedAt         time.Time `json:"saved_at"`
}

// seconds converts a request field in float seconds.
func seconds(field string, v float64) (time.Duration, error) {
	if !timebase.Valid(v) {
		return 0, fmt.Errorf("%s is not a valid time", field)
	}
	return timebase.FromSeconds(v), nil
}

func optionalSeconds(field string, v *float64) (*time.Duration, error) {
	if v == nil {
		return nil, nil
	}
	d, err := seconds(field, *v)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
