package export

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/xvanov/clipforge-sub000/internal/media"
	"github.com/xvanov/clipforge-sub000/internal/timeline"
)

const (
	defaultCanvasWidth  = 1920
	defaultCanvasHeight = 1080
	defaultFPS          = 30.0
)

// Segment is one resolved span of the output. Gap segments have no source and
// render as black video with silence.
type Segment struct {
	ClipID string
	Name   string
	Path   string
	Gap    bool
	// Start is the position on the timeline axis.
	Start     time.Duration
	InPoint   time.Duration
	OutPoint  time.Duration
	HasAudio  bool
	Width     int
	Height    int
	FPS       float64
	Transform *timeline.Transform
}

func (s Segment) Duration() time.Duration {
	return s.OutPoint - s.InPoint
}

func (s Segment) End() time.Duration {
	return s.Start + s.Duration()
}

// Layer is a track composited over the base sequence. Main-track layers are
// scaled to fill the canvas; overlay layers use each clip's transform.
type Layer struct {
	TrackID   string
	Kind      timeline.TrackKind
	Order     int
	Volume    float64
	FullFrame bool
	Segments  []Segment
}

// Plan is the resolved, ordered description of an export.
type Plan struct {
	Duration time.Duration
	// Base covers [0, Duration) without holes; gaps are explicit segments.
	Base        []Segment
	BaseTrackID string
	BaseVolume  float64
	// Layers are drawn bottom to top.
	Layers []Layer
	Width  int
	Height int
	FPS    float64
}

// Sources returns the non-gap base segments.
func (p *Plan) Sources() []Segment {
	return lo.Filter(p.Base, func(s Segment, _ int) bool { return !s.Gap })
}

// GeneratePlan resolves a snapshot into a plan. The base sequence comes from
// the visible main track with the most clips (ties go to the lowest order);
// other visible main tracks and all visible overlay tracks become layers.
// Output depends only on clip positions, never on edit history.
func GeneratePlan(ctx context.Context, snap timeline.Snapshot, lookup media.Lookup) (*Plan, error) {
	tracks := slices.Clone(snap.Tracks)
	slices.SortStableFunc(tracks, func(a, b timeline.Track) int {
		if c := cmp.Compare(a.Order, b.Order); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	mains := lo.Filter(tracks, func(t timeline.Track, _ int) bool {
		return t.Kind == timeline.KindMain && t.Visible && len(t.Clips) > 0
	})
	if len(mains) == 0 {
		return nil, ErrNoMainTrack
	}
	base := lo.MaxBy(mains, func(a, b timeline.Track) bool {
		return len(a.Clips) > len(b.Clips)
	})

	r := &resolver{ctx: ctx, lookup: lookup, cache: make(map[string]*media.Clip)}
	duration := ComputeDuration(tracks)

	plan := &Plan{
		Duration:    duration,
		BaseTrackID: base.ID,
		BaseVolume:  base.Volume,
	}

	baseSegments, err := r.segments(base.Clips)
	if err != nil {
		return nil, err
	}
	plan.Base = fillGaps(baseSegments, duration)

	for _, tr := range tracks {
		if tr.ID == base.ID || !tr.Visible || len(tr.Clips) == 0 {
			continue
		}
		segs, err := r.segments(tr.Clips)
		if err != nil {
			return nil, err
		}
		plan.Layers = append(plan.Layers, Layer{
			TrackID:   tr.ID,
			Kind:      tr.Kind,
			Order:     tr.Order,
			Volume:    tr.Volume,
			FullFrame: tr.Kind == timeline.KindMain,
			Segments:  segs,
		})
	}
	// main layers sit beneath overlays regardless of order
	slices.SortStableFunc(plan.Layers, func(a, b Layer) int {
		if a.FullFrame != b.FullFrame {
			if a.FullFrame {
				return -1
			}
			return 1
		}
		return cmp.Compare(a.Order, b.Order)
	})

	plan.Width, plan.Height, plan.FPS = defaultCanvasWidth, defaultCanvasHeight, defaultFPS
	if first, ok := lo.Find(plan.Base, func(s Segment) bool { return !s.Gap }); ok {
		if first.Width > 0 && first.Height > 0 {
			plan.Width, plan.Height = first.Width, first.Height
		}
		if first.FPS > 0 {
			plan.FPS = first.FPS
		}
	}
	return plan, nil
}

type resolver struct {
	ctx    context.Context
	lookup media.Lookup
	cache  map[string]*media.Clip
}

func (r *resolver) resolve(c timeline.Clip) (*media.Clip, error) {
	if m, ok := r.cache[c.MediaClipID]; ok {
		return m, nil
	}
	if r.lookup == nil {
		return nil, &MissingMediaError{ClipID: c.ID, MediaClipID: c.MediaClipID}
	}
	m, err := r.lookup.Lookup(r.ctx, c.MediaClipID)
	if errors.Is(err, media.ErrNotFound) || (err == nil && m == nil) {
		return nil, &MissingMediaError{ClipID: c.ID, MediaClipID: c.MediaClipID}
	}
	if err != nil {
		return nil, fmt.Errorf("resolve media %s: %w", c.MediaClipID, err)
	}
	r.cache[c.MediaClipID] = m
	return m, nil
}

// segments resolves clips into segments sorted by start time.
func (r *resolver) segments(clips []timeline.Clip) ([]Segment, error) {
	sorted := slices.Clone(clips)
	slices.SortStableFunc(sorted, func(a, b timeline.Clip) int {
		if c := cmp.Compare(a.StartTime, b.StartTime); c != 0 {
			return c
		}
		return cmp.Compare(a.LayerOrder, b.LayerOrder)
	})

	segs := make([]Segment, 0, len(sorted))
	for _, c := range sorted {
		m, err := r.resolve(c)
		if err != nil {
			return nil, err
		}
		seg := Segment{
			ClipID:   c.ID,
			Name:     m.Name,
			Path:     m.PlayablePath(),
			Start:    c.StartTime,
			InPoint:  c.InPoint,
			OutPoint: c.OutPoint,
			HasAudio: m.HasAudio,
			Width:    m.Width,
			Height:   m.Height,
			FPS:      m.FPS,
		}
		if c.Transform != nil {
			tr := *c.Transform
			seg.Transform = &tr
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

// fillGaps inserts gap segments so the sequence covers [0, total).
func fillGaps(segs []Segment, total time.Duration) []Segment {
	out := make([]Segment, 0, len(segs)*2+1)
	var cursor time.Duration
	for _, s := range segs {
		if s.Start > cursor {
			out = append(out, gapSegment(cursor, s.Start))
		}
		out = append(out, s)
		cursor = s.End()
	}
	if total > cursor {
		out = append(out, gapSegment(cursor, total))
	}
	return out
}

func gapSegment(from, to time.Duration) Segment {
	return Segment{Gap: true, Start: from, OutPoint: to - from}
}
