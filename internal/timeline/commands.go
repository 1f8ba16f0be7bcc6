package timeline

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Command is one edit. The set is closed: only the types in this file
// implement it.
type Command interface {
	op() string
	apply(ctx context.Context, s *state) (Result, error)
}

// Result describes a committed edit.
type Result struct {
	Op      string
	Version uint64
	// Clips holds the created or changed clips. SplitClip yields the
	// before and after halves, in that order.
	Clips []Clip
	Track *Track
	// Removed lists the ids of deleted clips.
	Removed []string
}

// AddClip places a new clip referencing a media clip. With Auto set the clip
// starts after the last clip on the track plus the placement gap, and
// StartTime is ignored.
type AddClip struct {
	MediaClipID string
	TrackID     string
	StartTime   time.Duration
	Auto        bool
	InPoint     time.Duration
	OutPoint    time.Duration
	LayerOrder  int
	Transform   *Transform
}

func (AddClip) op() string { return "add_clip" }

func (c AddClip) apply(ctx context.Context, s *state) (Result, error) {
	ts, err := s.track(c.TrackID)
	if err != nil {
		return Result{}, err
	}
	if ts.meta.Locked {
		return Result{}, invalid(ReasonLocked, "track %q is locked", ts.meta.Name)
	}
	mediaDuration, err := s.mediaDuration(ctx, c.MediaClipID)
	if err != nil {
		return Result{}, err
	}

	start := c.StartTime
	if c.Auto {
		start = s.trackEnd(ts)
		if len(ts.clipIDs) > 0 {
			start += s.gap
		}
	}
	if err := validateWindow(start, c.InPoint, c.OutPoint, mediaDuration, ReasonInvalidTrim); err != nil {
		return Result{}, err
	}
	if err := validateTransform(c.Transform); err != nil {
		return Result{}, err
	}
	end := start + (c.OutPoint - c.InPoint)
	if err := s.checkFree(ts, start, end, ""); err != nil {
		return Result{}, err
	}

	clip := Clip{
		ID:          newID(),
		MediaClipID: c.MediaClipID,
		TrackID:     ts.meta.ID,
		StartTime:   start,
		InPoint:     c.InPoint,
		OutPoint:    c.OutPoint,
		LayerOrder:  c.LayerOrder,
		Transform:   c.Transform,
	}.clone()
	s.insert(ts, clip, mediaDuration)
	return Result{Clips: []Clip{clip.clone()}}, nil
}

// MoveClip repositions a clip on its track, keeping its duration.
type MoveClip struct {
	ClipID    string
	StartTime time.Duration
}

func (MoveClip) op() string { return "move_clip" }

func (c MoveClip) apply(_ context.Context, s *state) (Result, error) {
	cs, ts, err := s.clip(c.ClipID)
	if err != nil {
		return Result{}, err
	}
	if ts.meta.Locked {
		return Result{}, invalid(ReasonLocked, "track %q is locked", ts.meta.Name)
	}
	if c.StartTime < 0 {
		return Result{}, invalid(ReasonInvalidTrim, "start_time %s is negative", c.StartTime)
	}
	if err := checkEnd(c.StartTime, cs.clip.Duration()); err != nil {
		return Result{}, err
	}
	if err := s.checkFree(ts, c.StartTime, c.StartTime+cs.clip.Duration(), cs.clip.ID); err != nil {
		return Result{}, err
	}

	cs.clip.StartTime = c.StartTime
	s.sortClips(ts)
	return Result{Clips: []Clip{cs.clip.clone()}}, nil
}

// TrimClip changes any subset of a clip's in point, out point and start time
// in one step. Nil fields are left as they are.
type TrimClip struct {
	ClipID    string
	InPoint   *time.Duration
	OutPoint  *time.Duration
	StartTime *time.Duration
}

func (TrimClip) op() string { return "trim_clip" }

func (c TrimClip) apply(ctx context.Context, s *state) (Result, error) {
	return UpdateClip{
		ClipID:    c.ClipID,
		StartTime: c.StartTime,
		InPoint:   c.InPoint,
		OutPoint:  c.OutPoint,
	}.apply(ctx, s)
}

// UpdateClip is the general clip edit: it may retime, retrim and move the
// clip to another track at once. The candidate is validated as a whole.
type UpdateClip struct {
	ClipID     string
	StartTime  *time.Duration
	InPoint    *time.Duration
	OutPoint   *time.Duration
	TrackID    *string
	LayerOrder *int
	Transform  *Transform
}

func (UpdateClip) op() string { return "update_clip" }

func (c UpdateClip) apply(_ context.Context, s *state) (Result, error) {
	cs, from, err := s.clip(c.ClipID)
	if err != nil {
		return Result{}, err
	}
	if from.meta.Locked {
		return Result{}, invalid(ReasonLocked, "track %q is locked", from.meta.Name)
	}

	to := from
	if c.TrackID != nil && *c.TrackID != from.meta.ID {
		if to, err = s.track(*c.TrackID); err != nil {
			return Result{}, err
		}
		if to.meta.Locked {
			return Result{}, invalid(ReasonLocked, "track %q is locked", to.meta.Name)
		}
	}

	candidate := cs.clip.clone()
	candidate.TrackID = to.meta.ID
	if c.StartTime != nil {
		candidate.StartTime = *c.StartTime
	}
	if c.InPoint != nil {
		candidate.InPoint = *c.InPoint
	}
	if c.OutPoint != nil {
		candidate.OutPoint = *c.OutPoint
	}
	if c.LayerOrder != nil {
		candidate.LayerOrder = *c.LayerOrder
	}
	if c.Transform != nil {
		tr := *c.Transform
		candidate.Transform = &tr
	}

	if err := validateWindow(candidate.StartTime, candidate.InPoint, candidate.OutPoint, cs.mediaDuration, ReasonInvalidDuration); err != nil {
		return Result{}, err
	}
	if err := validateTransform(candidate.Transform); err != nil {
		return Result{}, err
	}
	if err := s.checkFree(to, candidate.StartTime, candidate.EndTime(), candidate.ID); err != nil {
		return Result{}, err
	}

	if to != from {
		s.remove(from, cs.clip.ID)
		s.insert(to, candidate, cs.mediaDuration)
	} else {
		cs.clip = candidate
		s.sortClips(to)
	}
	return Result{Clips: []Clip{candidate.clone()}}, nil
}

// SplitClip cuts a clip in two at a timeline position strictly inside it.
// The first half keeps the clip's id.
type SplitClip struct {
	ClipID string
	At     time.Duration
}

func (SplitClip) op() string { return "split_clip" }

func (c SplitClip) apply(_ context.Context, s *state) (Result, error) {
	cs, ts, err := s.clip(c.ClipID)
	if err != nil {
		return Result{}, err
	}
	if ts.meta.Locked {
		return Result{}, invalid(ReasonLocked, "track %q is locked", ts.meta.Name)
	}
	orig := cs.clip
	if c.At <= orig.StartTime || c.At >= orig.EndTime() {
		return Result{}, invalid(ReasonInvalidSplit, "split point %s is outside (%s, %s)", c.At, orig.StartTime, orig.EndTime())
	}

	before := orig.clone()
	before.OutPoint = orig.InPoint + (c.At - orig.StartTime)

	after := orig.clone()
	after.ID = newID()
	after.StartTime = c.At
	after.InPoint = before.OutPoint
	after.OutPoint = orig.OutPoint

	cs.clip = before
	s.insert(ts, after, cs.mediaDuration)
	return Result{Clips: []Clip{before.clone(), after.clone()}}, nil
}

// DeleteClip removes a clip. It succeeds for any existing id.
type DeleteClip struct {
	ClipID string
}

func (DeleteClip) op() string { return "delete_clip" }

func (c DeleteClip) apply(_ context.Context, s *state) (Result, error) {
	cs, ts, err := s.clip(c.ClipID)
	if err != nil {
		return Result{}, err
	}
	s.remove(ts, cs.clip.ID)
	return Result{Removed: []string{c.ClipID}}, nil
}

// CreateTrack appends a track above every existing one.
type CreateTrack struct {
	Name string
	Kind TrackKind
}

func (CreateTrack) op() string { return "create_track" }

func (c CreateTrack) apply(_ context.Context, s *state) (Result, error) {
	if !c.Kind.Valid() {
		return Result{}, invalid(ReasonInvalidTrack, "unknown track kind %q", c.Kind)
	}
	name := strings.TrimSpace(c.Name)
	if name == "" {
		name = fmt.Sprintf("Track %d", len(s.tracks)+1)
	}

	ts := &trackState{meta: Track{
		ID:      newID(),
		Name:    name,
		Kind:    c.Kind,
		Order:   s.nextOrder(),
		Visible: true,
		Volume:  1,
	}}
	s.tracks[ts.meta.ID] = ts
	tr := s.trackView(ts)
	return Result{Track: &tr}, nil
}

// UpdateTrack changes track properties. Nil fields are left as they are.
type UpdateTrack struct {
	TrackID string
	Name    *string
	Visible *bool
	Locked  *bool
	Volume  *float64
}

func (UpdateTrack) op() string { return "update_track" }

func (c UpdateTrack) apply(_ context.Context, s *state) (Result, error) {
	ts, err := s.track(c.TrackID)
	if err != nil {
		return Result{}, err
	}

	meta := ts.meta
	if c.Name != nil {
		name := strings.TrimSpace(*c.Name)
		if name == "" {
			return Result{}, invalid(ReasonInvalidTrack, "track name must not be empty")
		}
		meta.Name = name
	}
	if c.Visible != nil {
		meta.Visible = *c.Visible
	}
	if c.Locked != nil {
		meta.Locked = *c.Locked
	}
	if c.Volume != nil {
		if err := validateVolume(*c.Volume); err != nil {
			return Result{}, err
		}
		meta.Volume = *c.Volume
	}

	ts.meta = meta
	tr := s.trackView(ts)
	return Result{Track: &tr}, nil
}

// DeleteTrack removes a track. The last main track cannot be removed, and a
// track holding clips is only removed (with its clips) when Force is set.
type DeleteTrack struct {
	TrackID string
	Force   bool
}

func (DeleteTrack) op() string { return "delete_track" }

func (c DeleteTrack) apply(_ context.Context, s *state) (Result, error) {
	ts, err := s.track(c.TrackID)
	if err != nil {
		return Result{}, err
	}
	if ts.meta.Kind == KindMain && s.mainTrackCount() == 1 {
		return Result{}, invalid(ReasonInvalidTrack, "cannot delete the last main track")
	}
	if len(ts.clipIDs) > 0 && !c.Force {
		return Result{}, invalid(ReasonInvalidTrack, "track %q holds %d clips", ts.meta.Name, len(ts.clipIDs))
	}

	removed := append([]string(nil), ts.clipIDs...)
	for _, id := range removed {
		delete(s.clips, id)
	}
	delete(s.tracks, ts.meta.ID)
	return Result{Removed: removed}, nil
}
