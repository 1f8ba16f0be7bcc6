// Package timeline is the edit model: tracks of trimmed, positioned
// references to media clips.
//
// All edits go through Timeline.Apply, which validates a command against the
// current state and commits it only when every check passes. Within a track,
// clips never overlap: sorted by start time, each clip ends at or before the
// next one starts.
package timeline

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xvanov/clipforge-sub000/internal/logging"
	"github.com/xvanov/clipforge-sub000/internal/media"
	"github.com/xvanov/clipforge-sub000/internal/metrics"
	"github.com/xvanov/clipforge-sub000/internal/timebase"
)

const DefaultTrackName = "Main Track"

type Option func(*Timeline)

// WithPlacementGap sets the spacing used when AddClip auto-places a clip
// after the last clip on its track.
func WithPlacementGap(gap time.Duration) Option {
	return func(t *Timeline) {
		if gap > 0 {
			t.st.gap = gap
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(t *Timeline) {
		t.logger = logging.WithComponent(logging.OrDiscard(logger), "timeline")
	}
}

// Timeline owns tracks and clips. Edits are serialized by a single writer
// lock; reads copy a consistent snapshot under the read lock.
type Timeline struct {
	mu      sync.RWMutex
	st      *state
	version uint64
	logger  *slog.Logger
}

type trackState struct {
	meta    Track // Clips is always nil; see clipIDs
	clipIDs []string
}

type clipState struct {
	clip          Clip
	mediaDuration time.Duration
}

type state struct {
	media  media.Lookup
	gap    time.Duration
	tracks map[string]*trackState
	clips  map[string]*clipState
}

// New returns a timeline holding one empty main track.
func New(lookup media.Lookup, opts ...Option) *Timeline {
	t := newEmpty(lookup, opts...)
	id := newID()
	t.st.tracks[id] = &trackState{meta: Track{
		ID:      id,
		Name:    DefaultTrackName,
		Kind:    KindMain,
		Order:   0,
		Visible: true,
		Volume:  1,
	}}
	return t
}

func newEmpty(lookup media.Lookup, opts ...Option) *Timeline {
	t := &Timeline{
		st: &state{
			media:  lookup,
			tracks: make(map[string]*trackState),
			clips:  make(map[string]*clipState),
		},
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func newID() string {
	return uuid.NewString()
}

// Apply validates cmd against the current state and commits it. A rejected
// command leaves the timeline untouched.
func (t *Timeline) Apply(ctx context.Context, cmd Command) (Result, error) {
	if cmd == nil {
		return Result{}, errors.New("nil command")
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	t.mu.Lock()
	res, err := cmd.apply(ctx, t.st)
	if err == nil {
		t.version++
		res.Version = t.version
		metrics.TimelineVersion.Set(float64(t.version))
	}
	t.mu.Unlock()

	res.Op = cmd.op()
	metrics.RecordTimelineMutation(res.Op, err)
	if err != nil {
		t.logger.Debug("edit rejected", "op", res.Op, "error", err)
		return Result{Op: res.Op}, err
	}
	logger := t.logger
	if res.Track != nil {
		logger = logging.WithTrackID(logger, res.Track.ID)
	}
	if len(res.Clips) > 0 {
		logger = logging.WithClipID(logger, res.Clips[0].ID)
	}
	logger.Debug("edit applied", "op", res.Op, "version", res.Version)
	return res, nil
}

// Version counts committed edits.
func (t *Timeline) Version() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

// Snapshot returns a deep copy of the current state.
func (t *Timeline) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := Snapshot{Version: t.version, Tracks: make([]Track, 0, len(t.st.tracks))}
	for _, ts := range t.st.sortedTracks() {
		snap.Tracks = append(snap.Tracks, t.st.trackView(ts))
	}
	return snap
}

func (t *Timeline) Clip(id string) (Clip, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cs, ok := t.st.clips[id]
	if !ok {
		return Clip{}, &NotFoundError{Kind: "clip", ID: id}
	}
	return cs.clip.clone(), nil
}

func (t *Timeline) Track(id string) (Track, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ts, ok := t.st.tracks[id]
	if !ok {
		return Track{}, &NotFoundError{Kind: "track", ID: id}
	}
	return t.st.trackView(ts), nil
}

// DefaultTrackID returns the lowest-ordered main track, which receives clips
// added without an explicit track.
func (t *Timeline) DefaultTrackID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, ts := range t.st.sortedTracks() {
		if ts.meta.Kind == KindMain {
			return ts.meta.ID
		}
	}
	return ""
}

// Restore rebuilds a timeline from a persisted snapshot, re-validating every
// clip against the media registry.
func Restore(ctx context.Context, snap Snapshot, lookup media.Lookup, opts ...Option) (*Timeline, error) {
	t := newEmpty(lookup, opts...)
	st := t.st

	for _, tr := range snap.Tracks {
		if tr.ID == "" {
			return nil, invalid(ReasonInvalidTrack, "track without id")
		}
		if _, dup := st.tracks[tr.ID]; dup {
			return nil, invalid(ReasonInvalidTrack, "duplicate track id %q", tr.ID)
		}
		if !tr.Kind.Valid() {
			return nil, invalid(ReasonInvalidTrack, "track %q has unknown kind %q", tr.ID, tr.Kind)
		}
		if err := validateVolume(tr.Volume); err != nil {
			return nil, err
		}
		meta := tr
		meta.Clips = nil
		st.tracks[tr.ID] = &trackState{meta: meta}
	}
	if st.mainTrackCount() == 0 {
		return nil, invalid(ReasonInvalidTrack, "document has no main track")
	}

	for _, tr := range snap.Tracks {
		ts := st.tracks[tr.ID]
		for _, c := range tr.Clips {
			if c.ID == "" {
				return nil, invalid(ReasonInvalidTrim, "clip without id on track %q", tr.ID)
			}
			if _, dup := st.clips[c.ID]; dup {
				return nil, invalid(ReasonInvalidTrim, "duplicate clip id %q", c.ID)
			}
			mediaDuration, err := st.mediaDuration(ctx, c.MediaClipID)
			if err != nil {
				return nil, fmt.Errorf("clip %s: %w", c.ID, err)
			}
			c = c.clone()
			c.TrackID = tr.ID
			if err := validateWindow(c.StartTime, c.InPoint, c.OutPoint, mediaDuration, ReasonInvalidTrim); err != nil {
				return nil, fmt.Errorf("clip %s: %w", c.ID, err)
			}
			if err := validateTransform(c.Transform); err != nil {
				return nil, fmt.Errorf("clip %s: %w", c.ID, err)
			}
			if err := st.checkFree(ts, c.StartTime, c.EndTime(), c.ID); err != nil {
				return nil, fmt.Errorf("clip %s: %w", c.ID, err)
			}
			st.insert(ts, c, mediaDuration)
		}
	}

	t.version = snap.Version
	return t, nil
}

func (s *state) sortedTracks() []*trackState {
	tracks := make([]*trackState, 0, len(s.tracks))
	for _, ts := range s.tracks {
		tracks = append(tracks, ts)
	}
	slices.SortFunc(tracks, func(a, b *trackState) int {
		if c := cmp.Compare(a.meta.Order, b.meta.Order); c != 0 {
			return c
		}
		return cmp.Compare(a.meta.ID, b.meta.ID)
	})
	return tracks
}

func (s *state) trackView(ts *trackState) Track {
	tr := ts.meta
	tr.Clips = make([]Clip, 0, len(ts.clipIDs))
	for _, id := range ts.clipIDs {
		tr.Clips = append(tr.Clips, s.clips[id].clip.clone())
	}
	return tr
}

func (s *state) track(id string) (*trackState, error) {
	ts, ok := s.tracks[id]
	if !ok {
		return nil, &NotFoundError{Kind: "track", ID: id}
	}
	return ts, nil
}

func (s *state) clip(id string) (*clipState, *trackState, error) {
	cs, ok := s.clips[id]
	if !ok {
		return nil, nil, &NotFoundError{Kind: "clip", ID: id}
	}
	return cs, s.tracks[cs.clip.TrackID], nil
}

func (s *state) mediaDuration(ctx context.Context, id string) (time.Duration, error) {
	if s.media == nil {
		return 0, &NotFoundError{Kind: "media_clip", ID: id}
	}
	m, err := s.media.Lookup(ctx, id)
	if errors.Is(err, media.ErrNotFound) || (err == nil && m == nil) {
		return 0, &NotFoundError{Kind: "media_clip", ID: id}
	}
	if err != nil {
		return 0, fmt.Errorf("lookup media clip %s: %w", id, err)
	}
	return m.Duration, nil
}

func (s *state) mainTrackCount() int {
	n := 0
	for _, ts := range s.tracks {
		if ts.meta.Kind == KindMain {
			n++
		}
	}
	return n
}

// checkFree reports an overlap between [start, end) and any clip on ts other
// than exclude.
func (s *state) checkFree(ts *trackState, start, end time.Duration, exclude string) error {
	for _, id := range ts.clipIDs {
		if id == exclude {
			continue
		}
		other := s.clips[id].clip
		if start < other.EndTime() && other.StartTime < end {
			return invalid(ReasonOverlap, "[%s, %s) overlaps clip %s at [%s, %s)",
				start, end, other.ID, other.StartTime, other.EndTime())
		}
	}
	return nil
}

// trackEnd is the end of the last clip on ts, or 0 for an empty track.
func (s *state) trackEnd(ts *trackState) time.Duration {
	if len(ts.clipIDs) == 0 {
		return 0
	}
	return s.clips[ts.clipIDs[len(ts.clipIDs)-1]].clip.EndTime()
}

func (s *state) insert(ts *trackState, c Clip, mediaDuration time.Duration) {
	s.clips[c.ID] = &clipState{clip: c, mediaDuration: mediaDuration}
	ts.clipIDs = append(ts.clipIDs, c.ID)
	s.sortClips(ts)
}

func (s *state) remove(ts *trackState, id string) {
	delete(s.clips, id)
	ts.clipIDs = slices.DeleteFunc(ts.clipIDs, func(cid string) bool { return cid == id })
}

func (s *state) sortClips(ts *trackState) {
	slices.SortFunc(ts.clipIDs, func(a, b string) int {
		return cmp.Compare(s.clips[a].clip.StartTime, s.clips[b].clip.StartTime)
	})
}

func (s *state) nextOrder() int {
	next := 0
	for _, ts := range s.tracks {
		if ts.meta.Order >= next {
			next = ts.meta.Order + 1
		}
	}
	return next
}

func validateWindow(start, in, out, mediaDuration time.Duration, reversed Reason) error {
	if start < 0 {
		return invalid(ReasonInvalidTrim, "start_time %s is negative", start)
	}
	if in < 0 {
		return invalid(ReasonInvalidTrim, "in_point %s is negative", in)
	}
	if out <= in {
		return invalid(reversed, "in_point %s must be before out_point %s", in, out)
	}
	if out > mediaDuration {
		return invalid(ReasonInvalidTrim, "out_point %s exceeds media duration %s", out, mediaDuration)
	}
	return checkEnd(start, out-in)
}

// checkEnd rejects a clip that would end past timebase.MaxPosition.
func checkEnd(start, duration time.Duration) error {
	if start > timebase.MaxPosition-duration {
		return invalid(ReasonInvalidTrim, "clip at %s would end past %s", start, timebase.MaxPosition)
	}
	return nil
}

func validateTransform(tr *Transform) error {
	if tr == nil {
		return nil
	}
	if tr.Width < 0 || tr.Height < 0 {
		return invalid(ReasonInvalidTrim, "transform size must not be negative")
	}
	return nil
}

func validateVolume(v float64) error {
	if !(v >= 0 && v <= 1) {
		return invalid(ReasonInvalidTrack, "volume %v is outside [0, 1]", v)
	}
	return nil
}
