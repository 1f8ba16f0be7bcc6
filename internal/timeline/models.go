package timeline

import (
	"encoding/json"
	"time"

	"github.com/samber/lo"

	"github.com/xvanov/clipforge-sub000/internal/timebase"
)

type TrackKind string

const (
	KindMain    TrackKind = "main"
	KindOverlay TrackKind = "overlay"
)

func (k TrackKind) Valid() bool {
	return k == KindMain || k == KindOverlay
}

// Transform places an overlay clip on the output canvas, in output pixels.
// A zero Width or Height keeps the source size on that axis.
type Transform struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Rotation float64 `json:"rotation"`
}

// Clip is a placed, trimmed reference to a media clip.
type Clip struct {
	ID          string
	MediaClipID string
	TrackID     string
	StartTime   time.Duration
	InPoint     time.Duration
	OutPoint    time.Duration
	LayerOrder  int
	Transform   *Transform
}

// Duration is the length of the trim window.
func (c Clip) Duration() time.Duration {
	return c.OutPoint - c.InPoint
}

// EndTime is the exclusive end of the clip on the timeline axis.
func (c Clip) EndTime() time.Duration {
	return c.StartTime + c.Duration()
}

func (c Clip) clone() Clip {
	if c.Transform != nil {
		tr := *c.Transform
		c.Transform = &tr
	}
	return c
}

type clipJSON struct {
	ID          string     `json:"id"`
	MediaClipID string     `json:"media_clip_id"`
	TrackID     string     `json:"track_id"`
	StartTime   float64    `json:"start_time"`
	InPoint     float64    `json:"in_point"`
	OutPoint    float64    `json:"out_point"`
	LayerOrder  int        `json:"layer_order"`
	Transform   *Transform `json:"transform,omitempty"`
}

func (c Clip) MarshalJSON() ([]byte, error) {
	return json.Marshal(clipJSON{
		ID:          c.ID,
		MediaClipID: c.MediaClipID,
		TrackID:     c.TrackID,
		StartTime:   timebase.ToSeconds(c.StartTime),
		InPoint:     timebase.ToSeconds(c.InPoint),
		OutPoint:    timebase.ToSeconds(c.OutPoint),
		LayerOrder:  c.LayerOrder,
		Transform:   c.Transform,
	})
}

func (c *Clip) UnmarshalJSON(data []byte) error {
	var w clipJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*c = Clip{
		ID:          w.ID,
		MediaClipID: w.MediaClipID,
		TrackID:     w.TrackID,
		StartTime:   timebase.FromSeconds(w.StartTime),
		InPoint:     timebase.FromSeconds(w.InPoint),
		OutPoint:    timebase.FromSeconds(w.OutPoint),
		LayerOrder:  w.LayerOrder,
		Transform:   w.Transform,
	}
	return nil
}

// Track is a named layer of clips. Clips are ordered by StartTime.
type Track struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Kind    TrackKind `json:"kind"`
	Order   int       `json:"order"`
	Visible bool      `json:"visible"`
	Locked  bool      `json:"locked"`
	Volume  float64   `json:"volume"`
	Clips   []Clip    `json:"clips"`
}

func (t Track) ClipIDs() []string {
	return lo.Map(t.Clips, func(c Clip, _ int) string { return c.ID })
}

// Snapshot is a point-in-time copy of the timeline. Tracks are ordered by
// Order; the caller owns every slice in it.
type Snapshot struct {
	Version uint64  `json:"version"`
	Tracks  []Track `json:"tracks"`
}

func (s Snapshot) Track(id string) (Track, bool) {
	return lo.Find(s.Tracks, func(t Track) bool { return t.ID == id })
}

func (s Snapshot) ClipCount() int {
	return lo.Reduce(s.Tracks, func(n int, t Track, _ int) int { return n + len(t.Clips) }, 0)
}
