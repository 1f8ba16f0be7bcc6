package export

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xvanov/clipforge-sub000/internal/media"
	"github.com/xvanov/clipforge-sub000/internal/timebase"
	"github.com/xvanov/clipforge-sub000/internal/timeline"
)

func sec(s float64) time.Duration { return timebase.FromSeconds(s) }

func testLibrary() media.StaticLookup {
	return media.StaticLookup{
		"a": {ID: "a", Name: "a.mov", SourcePath: "/src/a.mov", ProxyPath: "/proxy/a.mp4", Duration: sec(10), Width: 1920, Height: 1080, FPS: 30, HasAudio: true},
		"b": {ID: "b", Name: "b.mov", SourcePath: "/src/b.mov", Duration: sec(15), Width: 1920, Height: 1080, FPS: 30, HasAudio: true},
		"c": {ID: "c", Name: "c.mkv", SourcePath: "/src/c.mkv", ProxyPath: "/proxy/c.avi", Duration: sec(8.5), Width: 1280, Height: 720, FPS: 25},
		"logo": {ID: "logo", Name: "logo.png", SourcePath: "/src/logo.mov", Duration: sec(60), Width: 400, Height: 400, FPS: 30},
	}
}

type placed struct {
	media string
	start float64
	in    float64
	out   float64
}

func buildTimeline(t *testing.T, clips []placed) (*timeline.Timeline, string) {
	t.Helper()
	tl := timeline.New(testLibrary())
	trackID := tl.DefaultTrackID()
	for _, c := range clips {
		_, err := tl.Apply(context.Background(), timeline.AddClip{
			MediaClipID: c.media,
			TrackID:     trackID,
			StartTime:   sec(c.start),
			InPoint:     sec(c.in),
			OutPoint:    sec(c.out),
		})
		require.NoError(t, err)
	}
	return tl, trackID
}

var exampleClips = []placed{
	{"a", 0, 0, 10},
	{"b", 10.5, 0, 15},
	{"c", 26, 0, 8.5},
}

func TestComputeDuration_Example(t *testing.T) {
	tl, _ := buildTimeline(t, exampleClips)

	assert.Equal(t, sec(34.5), ComputeDuration(tl.Snapshot().Tracks))
}

func TestComputeDuration_EmptyAndHidden(t *testing.T) {
	tl := timeline.New(testLibrary())
	assert.Equal(t, time.Duration(0), ComputeDuration(tl.Snapshot().Tracks))

	ctx := context.Background()
	res, err := tl.Apply(ctx, timeline.CreateTrack{Name: "hidden", Kind: timeline.KindOverlay})
	require.NoError(t, err)
	_, err = tl.Apply(ctx, timeline.AddClip{MediaClipID: "logo", TrackID: res.Track.ID, StartTime: sec(100), OutPoint: sec(5)})
	require.NoError(t, err)
	assert.Equal(t, sec(105), ComputeDuration(tl.Snapshot().Tracks))

	hidden := false
	_, err = tl.Apply(ctx, timeline.UpdateTrack{TrackID: res.Track.ID, Visible: &hidden})
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), ComputeDuration(tl.Snapshot().Tracks))
}

func TestComputeDuration_Monotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	tl := timeline.New(testLibrary())
	ctx := context.Background()
	trackID := tl.DefaultTrackID()

	prev := ComputeDuration(tl.Snapshot().Tracks)
	for i := 0; i < 500; i++ {
		_, err := tl.Apply(ctx, timeline.AddClip{
			MediaClipID: "b",
			TrackID:     trackID,
			StartTime:   sec(float64(rng.Intn(3000)) / 10),
			OutPoint:    sec(0.1 + float64(rng.Intn(140))/10),
		})
		if err != nil {
			continue
		}
		cur := ComputeDuration(tl.Snapshot().Tracks)
		require.GreaterOrEqual(t, cur, prev)
		prev = cur
	}
}

func TestGeneratePlan_GapAware(t *testing.T) {
	tl, _ := buildTimeline(t, []placed{
		{"a", 2, 1, 9},
		{"b", 10.5, 0, 15},
		{"c", 26, 0, 8.5},
	})

	plan, err := GeneratePlan(context.Background(), tl.Snapshot(), testLibrary())
	require.NoError(t, err)

	type span struct {
		gap        bool
		path       string
		start, end time.Duration
	}
	var got []span
	for _, s := range plan.Base {
		got = append(got, span{s.Gap, s.Path, s.Start, s.End()})
	}
	want := []span{
		{true, "", 0, sec(2)},
		{false, "/proxy/a.mp4", sec(2), sec(10)},
		{true, "", sec(10), sec(10.5)},
		{false, "/src/b.mov", sec(10.5), sec(25.5)},
		{true, "", sec(25.5), sec(26)},
		{false, "/src/c.mkv", sec(26), sec(34.5)},
	}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(span{})); diff != "" {
		t.Errorf("base segments mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, sec(34.5), plan.Duration)
	assert.Equal(t, 1920, plan.Width)
	assert.Equal(t, 1080, plan.Height)
	assert.Equal(t, 30.0, plan.FPS)
	assert.Len(t, plan.Sources(), 3)
}

func TestGeneratePlan_TrailingGapFromOverlay(t *testing.T) {
	tl, _ := buildTimeline(t, []placed{{"a", 0, 0, 5}})
	ctx := context.Background()

	res, err := tl.Apply(ctx, timeline.CreateTrack{Name: "Logo", Kind: timeline.KindOverlay})
	require.NoError(t, err)
	_, err = tl.Apply(ctx, timeline.AddClip{MediaClipID: "logo", TrackID: res.Track.ID, StartTime: sec(3), OutPoint: sec(5)})
	require.NoError(t, err)

	plan, err := GeneratePlan(ctx, tl.Snapshot(), testLibrary())
	require.NoError(t, err)

	require.Len(t, plan.Base, 2)
	assert.True(t, plan.Base[1].Gap)
	assert.Equal(t, sec(5), plan.Base[1].Start)
	assert.Equal(t, sec(8), plan.Base[1].End())
	require.Len(t, plan.Layers, 1)
	assert.False(t, plan.Layers[0].FullFrame)
}

func TestGeneratePlan_OrderIndependent(t *testing.T) {
	forward, _ := buildTimeline(t, exampleClips)
	reversed, _ := buildTimeline(t, []placed{exampleClips[2], exampleClips[1], exampleClips[0]})

	ctx := context.Background()
	p1, err := GeneratePlan(ctx, forward.Snapshot(), testLibrary())
	require.NoError(t, err)
	p2, err := GeneratePlan(ctx, reversed.Snapshot(), testLibrary())
	require.NoError(t, err)

	opts := cmp.Options{
		cmpopts.IgnoreFields(Segment{}, "ClipID"),
		cmpopts.IgnoreFields(Plan{}, "BaseTrackID"),
	}
	if diff := cmp.Diff(p1, p2, opts); diff != "" {
		t.Errorf("plans differ by insertion order (-forward +reversed):\n%s", diff)
	}
}

func TestGeneratePlan_ProxyPreference(t *testing.T) {
	tl, _ := buildTimeline(t, []placed{{"a", 0, 0, 1}, {"c", 1, 0, 1}})

	plan, err := GeneratePlan(context.Background(), tl.Snapshot(), testLibrary())
	require.NoError(t, err)

	src := plan.Sources()
	require.Len(t, src, 2)
	assert.Equal(t, "/proxy/a.mp4", src[0].Path)
	assert.Equal(t, "/src/c.mkv", src[1].Path, "avi proxy is not container-compatible")
}

func TestGeneratePlan_NoMainTrack(t *testing.T) {
	ctx := context.Background()

	tl := timeline.New(testLibrary())
	_, err := GeneratePlan(ctx, tl.Snapshot(), testLibrary())
	assert.ErrorIs(t, err, ErrNoMainTrack)

	_, err = GeneratePlan(ctx, timeline.Snapshot{}, testLibrary())
	assert.ErrorIs(t, err, ErrNoMainTrack)

	res, err := tl.Apply(ctx, timeline.CreateTrack{Name: "Logo", Kind: timeline.KindOverlay})
	require.NoError(t, err)
	_, err = tl.Apply(ctx, timeline.AddClip{MediaClipID: "logo", TrackID: res.Track.ID, OutPoint: sec(5)})
	require.NoError(t, err)

	_, err = GeneratePlan(ctx, tl.Snapshot(), testLibrary())
	assert.ErrorIs(t, err, ErrNoMainTrack, "overlay-only timeline has no base")
}

func TestGeneratePlan_MissingMedia(t *testing.T) {
	tl, _ := buildTimeline(t, exampleClips)

	lib := testLibrary()
	delete(lib, "b")

	_, err := GeneratePlan(context.Background(), tl.Snapshot(), lib)
	var missing *MissingMediaError
	require.True(t, errors.As(err, &missing), "error = %v", err)
	assert.Equal(t, "b", missing.MediaClipID)
}

func TestGeneratePlan_BaseTrackSelection(t *testing.T) {
	ctx := context.Background()
	tl, mainID := buildTimeline(t, []placed{{"a", 0, 0, 10}})

	overlay, err := tl.Apply(ctx, timeline.CreateTrack{Name: "Logo", Kind: timeline.KindOverlay})
	require.NoError(t, err)
	second, err := tl.Apply(ctx, timeline.CreateTrack{Name: "B-roll", Kind: timeline.KindMain})
	require.NoError(t, err)

	for _, start := range []float64{0, 5} {
		_, err := tl.Apply(ctx, timeline.AddClip{MediaClipID: "b", TrackID: second.Track.ID, StartTime: sec(start), OutPoint: sec(4)})
		require.NoError(t, err)
	}
	_, err = tl.Apply(ctx, timeline.AddClip{MediaClipID: "logo", TrackID: overlay.Track.ID, OutPoint: sec(10)})
	require.NoError(t, err)

	plan, err := GeneratePlan(ctx, tl.Snapshot(), testLibrary())
	require.NoError(t, err)

	assert.Equal(t, second.Track.ID, plan.BaseTrackID)
	require.Len(t, plan.Layers, 2)
	assert.Equal(t, mainID, plan.Layers[0].TrackID)
	assert.True(t, plan.Layers[0].FullFrame)
	assert.Equal(t, overlay.Track.ID, plan.Layers[1].TrackID)
	assert.False(t, plan.Layers[1].FullFrame)
}
