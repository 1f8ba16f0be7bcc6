package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xvanov/clipforge-sub000/internal/encoder"
	"github.com/xvanov/clipforge-sub000/internal/export"
	"github.com/xvanov/clipforge-sub000/internal/jobs"
	"github.com/xvanov/clipforge-sub000/internal/media"
	"github.com/xvanov/clipforge-sub000/internal/project"
	"github.com/xvanov/clipforge-sub000/internal/timebase"
	"github.com/xvanov/clipforge-sub000/internal/timeline"
)

const testToken = "test-token"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeMedia is an in-memory media registry.
type fakeMedia struct {
	mu    sync.Mutex
	clips map[string]*media.Clip
}

func newFakeMedia(clips ...*media.Clip) *fakeMedia {
	f := &fakeMedia{clips: make(map[string]*media.Clip)}
	for _, c := range clips {
		f.clips[c.ID] = c
	}
	return f
}

func (f *fakeMedia) Lookup(_ context.Context, id string) (*media.Clip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clips[id]
	if !ok {
		return nil, media.ErrNotFound
	}
	return c, nil
}

func (f *fakeMedia) Register(_ context.Context, in media.RegisterInput) (*media.Clip, error) {
	if in.SourcePath == "" {
		return nil, errors.New("source_path is required")
	}
	c := &media.Clip{
		ID:         media.NewID(),
		Name:       in.Name,
		SourcePath: in.SourcePath,
		Duration:   in.Duration,
		Width:      in.Width,
		Height:     in.Height,
		FPS:        in.FPS,
		HasAudio:   in.HasAudio,
	}
	f.mu.Lock()
	f.clips[c.ID] = c
	f.mu.Unlock()
	return c, nil
}

func (f *fakeMedia) Count(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clips), nil
}

func (f *fakeMedia) List(context.Context) ([]*media.Clip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*media.Clip, 0, len(f.clips))
	for _, c := range f.clips {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b *media.Clip) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// gatedRunner reports progress, then waits for release or cancellation
// before writing the output.
type gatedRunner struct {
	release chan struct{}
}

func (g *gatedRunner) Run(ctx context.Context, inv encoder.Invocation, progress chan<- encoder.Progress) (encoder.Result, error) {
	progress <- encoder.Progress{CurrentFrame: 30, TotalFrames: 300, Progress: 0.1, EncodeFPS: 60, ETASeconds: 4.5}
	select {
	case <-g.release:
	case <-ctx.Done():
		return encoder.Result{ExitCode: -1}, ctx.Err()
	}
	if err := os.WriteFile(inv.OutputPath, []byte("rendered video"), 0o644); err != nil {
		return encoder.Result{ExitCode: -1}, err
	}
	return encoder.Result{Duration: time.Millisecond}, nil
}

type testEnv struct {
	t       *testing.T
	server  *httptest.Server
	tl      *timeline.Timeline
	media   *fakeMedia
	manager *jobs.Manager
	runner  *gatedRunner
	dir     string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	fm := newFakeMedia(
		&media.Clip{ID: "a", Name: "a.mov", SourcePath: "/src/a.mov", Duration: 10 * time.Second, Width: 1920, Height: 1080, FPS: 30, HasAudio: true},
		&media.Clip{ID: "b", Name: "b.mov", SourcePath: "/src/b.mov", Duration: 15 * time.Second, Width: 1920, Height: 1080, FPS: 30, HasAudio: true},
		&media.Clip{ID: "c", Name: "c.mov", SourcePath: "/src/c.mov", Duration: timebase.FromSeconds(8.5), Width: 1920, Height: 1080, FPS: 30},
	)
	tl := timeline.New(fm)
	runner := &gatedRunner{release: make(chan struct{})}
	manager := jobs.NewManager(jobs.ManagerConfig{
		Timeline: tl,
		Media:    fm,
		Compiler: &export.Compiler{FFmpegPath: "ffmpeg", Platform: "linux"},
		Runner:   runner,
	})
	dir := t.TempDir()

	router := NewRouter(ServerConfig{
		Timeline:        tl,
		Media:           fm,
		Jobs:            manager,
		Project:         project.NewStore(filepath.Join(dir, "project.json"), nil),
		Auth:            tokenStore{"auth_token": testToken},
		ExportRateLimit: 100,
		Logger:          discardLogger(),
		StartTime:       time.Now(),
		DeviceID:        "test-device",
	})
	server := httptest.NewServer(router)

	env := &testEnv{t: t, server: server, tl: tl, media: fm, manager: manager, runner: runner, dir: dir}
	t.Cleanup(func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
	})
	return env
}

func (e *testEnv) do(method, path string, body any) (*http.Response, []byte) {
	e.t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.server.URL+path, r)
	require.NoError(e.t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(e.t, err)
	return resp, data
}

func (e *testEnv) addClip(mediaID string, start, in, out float64) timeline.Clip {
	e.t.Helper()
	resp, body := e.do(http.MethodPost, "/timeline/clips", AddClipRequest{
		MediaClipID: mediaID,
		StartTime:   &start,
		InPoint:     in,
		OutPoint:    &out,
	})
	require.Equal(e.t, http.StatusCreated, resp.StatusCode, string(body))
	var res ClipsResponse
	require.NoError(e.t, json.Unmarshal(body, &res))
	require.Len(e.t, res.Clips, 1)
	return res.Clips[0]
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), "body: %s", data)
	return v
}

func TestHealth_NoAuth(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "test-device", health.DeviceID)
	assert.False(t, health.ExportRunning)
	assert.Equal(t, 3, health.MediaCount)
}

func TestMetrics_Exposed(t *testing.T) {
	env := newTestEnv(t)
	env.addClip("a", 0, 0, 10)

	resp, err := http.Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), "clipforge_timeline_mutations_total")
}

func TestRoutes_RequireAuth(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/timeline")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTimeline_ExampleSequence(t *testing.T) {
	env := newTestEnv(t)

	env.addClip("a", 0, 0, 10)
	env.addClip("b", 10.5, 0, 15)
	env.addClip("c", 26, 0, 8.5)

	resp, body := env.do(http.MethodGet, "/timeline/duration", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	dur := decode[DurationResponse](t, body)
	assert.Equal(t, 34.5, dur.Duration)
	assert.Equal(t, uint64(3), dur.Version)

	resp, body = env.do(http.MethodGet, "/timeline", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decode[timeline.Snapshot](t, body)
	require.Len(t, snap.Tracks, 1)
	assert.Len(t, snap.Tracks[0].Clips, 3)
}

func TestTimeline_OverlapRejected(t *testing.T) {
	env := newTestEnv(t)
	env.addClip("a", 0, 0, 10)

	start, out := 5.0, 5.0
	resp, body := env.do(http.MethodPost, "/timeline/clips", AddClipRequest{
		MediaClipID: "b", StartTime: &start, OutPoint: &out,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	errResp := decode[ErrorResponse](t, body)
	assert.Equal(t, "overlap", errResp.Reason)

	assert.Equal(t, 1, env.tl.Snapshot().ClipCount())
}

func TestTimeline_AutoPlacementAndFullMedia(t *testing.T) {
	env := newTestEnv(t)
	env.addClip("a", 0, 0, 10)

	resp, body := env.do(http.MethodPost, "/timeline/clips", AddClipRequest{MediaClipID: "c"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	res := decode[ClipsResponse](t, body)
	require.Len(t, res.Clips, 1)
	assert.Equal(t, 10*time.Second, res.Clips[0].StartTime)
	assert.Equal(t, timebase.FromSeconds(8.5), res.Clips[0].OutPoint)
}

func TestTimeline_UpdateSplitDelete(t *testing.T) {
	env := newTestEnv(t)
	clip := env.addClip("b", 0, 0, 15)

	in := 2.0
	resp, body := env.do(http.MethodPatch, "/timeline/clips/"+clip.ID, UpdateClipRequest{InPoint: &in})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	updated := decode[ClipsResponse](t, body).Clips[0]
	assert.Equal(t, 2*time.Second, updated.InPoint)

	resp, body = env.do(http.MethodPost, "/timeline/clips/"+clip.ID+"/split", SplitClipRequest{SplitTime: 6})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	halves := decode[ClipsResponse](t, body).Clips
	require.Len(t, halves, 2)
	assert.Equal(t, clip.ID, halves[0].ID)
	assert.Equal(t, halves[0].EndTime(), halves[1].StartTime)
	assert.Equal(t, 13*time.Second, halves[0].Duration()+halves[1].Duration())

	resp, body = env.do(http.MethodPost, "/timeline/clips/"+clip.ID+"/split", SplitClipRequest{SplitTime: 0})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_split", decode[ErrorResponse](t, body).Reason)

	resp, body = env.do(http.MethodDelete, "/timeline/clips/"+halves[1].ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{halves[1].ID}, decode[ClipsResponse](t, body).Removed)

	resp, _ = env.do(http.MethodDelete, "/timeline/clips/"+halves[1].ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTimeline_Tracks(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(http.MethodPost, "/timeline/tracks", CreateTrackRequest{Name: "Titles", Kind: timeline.KindOverlay})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	track := decode[TrackResponse](t, body).Track
	require.NotNil(t, track)
	assert.Equal(t, timeline.KindOverlay, track.Kind)

	locked := true
	resp, body = env.do(http.MethodPatch, "/timeline/tracks/"+track.ID, UpdateTrackRequest{Locked: &locked})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.True(t, decode[TrackResponse](t, body).Track.Locked)

	start, out := 0.0, 2.0
	resp, body = env.do(http.MethodPost, "/timeline/clips", AddClipRequest{
		MediaClipID: "a", TrackID: track.ID, StartTime: &start, OutPoint: &out,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "locked", decode[ErrorResponse](t, body).Reason)

	resp, body = env.do(http.MethodPost, "/timeline/tracks", CreateTrackRequest{Kind: "subtitle"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "invalid_track", decode[ErrorResponse](t, body).Reason)

	resp, _ = env.do(http.MethodDelete, "/timeline/tracks/"+track.ID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.do(http.MethodDelete, "/timeline/tracks/"+track.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTimeline_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(http.MethodPost, "/timeline/clips", map[string]any{"media_clip_id": "a", "bogus": 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(http.MethodPost, "/timeline/clips", AddClipRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(http.MethodPost, "/timeline/clips", AddClipRequest{MediaClipID: "missing"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	far := 9223372035.9
	for i := 0; i < 2; i++ {
		resp, _ = env.do(http.MethodPost, "/timeline/clips", AddClipRequest{MediaClipID: "a", StartTime: &far})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}
	assert.Equal(t, 0, env.tl.Snapshot().ClipCount())
}

func TestMedia_RegisterListGet(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(http.MethodPost, "/media", RegisterMediaRequest{
		Name: "d.mov", SourcePath: "/src/d.mov", Duration: 4.25, Width: 1280, Height: 720, FPS: 25,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	clip := decode[media.Clip](t, body)
	assert.Equal(t, timebase.FromSeconds(4.25), clip.Duration)

	resp, body = env.do(http.MethodGet, "/media/"+clip.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "d.mov", decode[media.Clip](t, body).Name)

	resp, body = env.do(http.MethodGet, "/media", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[MediaResponse](t, body).Clips, 4)

	resp, _ = env.do(http.MethodGet, "/media/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(http.MethodPost, "/media", RegisterMediaRequest{Duration: 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func waitForStatus(t *testing.T, env *testEnv, id string, want jobs.Status) *jobs.Job {
	t.Helper()
	var job *jobs.Job
	require.Eventually(t, func() bool {
		resp, body := env.do(http.MethodGet, "/exports/"+id, nil)
		if resp.StatusCode != http.StatusOK {
			return false
		}
		job = decode[*jobs.Job](t, body)
		return job.Status == want
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestExports_Lifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.addClip("a", 0, 0, 10)
	output := filepath.Join(env.dir, "out.mp4")

	resp, body := env.do(http.MethodPost, "/exports", ExportRequest{OutputPath: output})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	job := decode[*jobs.Job](t, body)
	assert.Equal(t, jobs.StatusRunning, job.Status)

	resp, body = env.do(http.MethodPost, "/exports", ExportRequest{OutputPath: filepath.Join(env.dir, "second.mp4")})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "EXPORT_IN_PROGRESS", decode[ErrorResponse](t, body).Code)

	resp, _ = env.do(http.MethodGet, "/exports/"+job.ID+"/file", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	close(env.runner.release)
	waitForStatus(t, env, job.ID, jobs.StatusCompleted)

	resp, body = env.do(http.MethodGet, "/exports/"+job.ID+"/file", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "rendered video", string(body))
	assert.Equal(t, `attachment; filename=out.mp4`, resp.Header.Get("Content-Disposition"))

	resp, body = env.do(http.MethodGet, "/exports", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[JobsResponse](t, body).Jobs, 1)

	resp, _ = env.do(http.MethodDelete, "/exports/"+job.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = env.do(http.MethodGet, "/exports/"+job.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExports_Cancel(t *testing.T) {
	env := newTestEnv(t)
	env.addClip("a", 0, 0, 10)
	output := filepath.Join(env.dir, "out.mp4")

	resp, body := env.do(http.MethodPost, "/exports", ExportRequest{OutputPath: output})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	job := decode[*jobs.Job](t, body)

	resp, body = env.do(http.MethodPost, "/exports/"+job.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, jobs.StatusCancelled, decode[*jobs.Job](t, body).Status)
	assert.NoFileExists(t, output)

	resp, body = env.do(http.MethodPost, "/exports/"+job.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, jobs.StatusCancelled, decode[*jobs.Job](t, body).Status)

	resp, _ = env.do(http.MethodPost, "/exports/unknown/cancel", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExports_Rejections(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		setup    func()
		req      ExportRequest
		wantCode int
		wantErr  string
	}{
		{
			name:     "empty timeline",
			req:      ExportRequest{OutputPath: filepath.Join(env.dir, "a.mp4")},
			wantCode: http.StatusUnprocessableEntity,
			wantErr:  "EMPTY_TIMELINE",
		},
		{
			name:     "missing parent directory",
			setup:    func() { env.addClip("a", 0, 0, 10) },
			req:      ExportRequest{OutputPath: filepath.Join(env.dir, "nope", "a.mp4")},
			wantCode: http.StatusBadRequest,
			wantErr:  "INVALID_OUTPUT",
		},
		{
			name:     "invalid settings",
			req:      ExportRequest{OutputPath: filepath.Join(env.dir, "a.mp4"), Settings: &export.Settings{Codec: "prores"}},
			wantCode: http.StatusBadRequest,
			wantErr:  "INVALID_SETTINGS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			resp, body := env.do(http.MethodPost, "/exports", tt.req)
			assert.Equal(t, tt.wantCode, resp.StatusCode, string(body))
			assert.Equal(t, tt.wantErr, decode[ErrorResponse](t, body).Code)
		})
	}
}

func TestExports_EventStream(t *testing.T) {
	env := newTestEnv(t)
	env.addClip("a", 0, 0, 10)

	resp, body := env.do(http.MethodPost, "/exports", ExportRequest{OutputPath: filepath.Join(env.dir, "out.mp4")})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	job := decode[*jobs.Job](t, body)

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/exports/"+job.ID+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	stream, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer stream.Body.Close()
	require.Equal(t, http.StatusOK, stream.StatusCode)
	assert.Equal(t, "text/event-stream", stream.Header.Get("Content-Type"))

	var events []string
	scanner := bufio.NewScanner(stream.Body)
	for scanner.Scan() {
		line := scanner.Text()
		name, ok := strings.CutPrefix(line, "event: ")
		if !ok {
			continue
		}
		events = append(events, name)
		if name == "export_state" {
			close(env.runner.release)
		}
	}

	require.NotEmpty(t, events)
	assert.Equal(t, "export_state", events[0])
	assert.Equal(t, "export_complete", events[len(events)-1])
}

func TestTimeline_EDL(t *testing.T) {
	env := newTestEnv(t)
	env.addClip("a", 0, 0, 10)
	env.addClip("b", 10.5, 0, 15)

	resp, body := env.do(http.MethodPost, "/timeline/edl", EDLRequest{Title: "Cut One"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), "TITLE: Cut One")
	assert.Contains(t, string(body), "* FROM CLIP NAME:  b.mov")

	output := filepath.Join(env.dir, "cut.edl")
	resp, body = env.do(http.MethodPost, "/timeline/edl", EDLRequest{Title: "Cut One", OutputPath: output})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, 2, decode[EDLResponse](t, body).EventCount)
	assert.FileExists(t, output)

	resp, _ = env.do(http.MethodPost, "/timeline/edl", EDLRequest{OutputPath: filepath.Join(env.dir, "cut.txt")})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProject_Save(t *testing.T) {
	env := newTestEnv(t)
	env.addClip("a", 0, 0, 10)

	resp, body := env.do(http.MethodPost, "/project/save", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	saved := decode[ProjectSaveResponse](t, body)
	assert.Equal(t, uint64(1), saved.TimelineVersion)

	doc, err := project.Load(saved.Path)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Snapshot().ClipCount())
}
