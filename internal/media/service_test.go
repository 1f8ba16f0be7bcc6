package media

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/xvanov/clipforge-sub000/internal/db"
)

func setupTestDB(t *testing.T) (*db.DB, Repository) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	database, err := db.New(dbPath, nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	repo := NewRepository(database.Conn())
	return database, repo
}

func TestService_RegisterAndLookup(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	svc := NewService(repo, nil)
	ctx := context.Background()

	clip, err := svc.Register(ctx, RegisterInput{
		SourcePath: "/media/interview.mov",
		ProxyPath:  "/media/.proxy/interview.mp4",
		Duration:   12500 * time.Millisecond,
		Width:      1920,
		Height:     1080,
		FPS:        29.97,
		Codec:      "prores",
		HasAudio:   true,
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if clip.Name != "interview.mov" {
		t.Errorf("clip.Name = %q, want interview.mov", clip.Name)
	}

	got, err := svc.Lookup(ctx, clip.ID)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got.Duration != 12500*time.Millisecond {
		t.Errorf("Duration = %v, want 12.5s", got.Duration)
	}
	if got.ProxyPath != clip.ProxyPath || !got.HasAudio || got.Width != 1920 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Resolution() != "1920x1080" {
		t.Errorf("Resolution() = %q", got.Resolution())
	}
}

func TestService_LookupUnknown(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	svc := NewService(repo, nil)

	_, err := svc.Lookup(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Lookup() error = %v, want ErrNotFound", err)
	}
}

func TestService_RegisterValidation(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	svc := NewService(repo, nil)

	tests := []struct {
		name string
		in   RegisterInput
	}{
		{"missing path", RegisterInput{Duration: time.Second}},
		{"zero duration", RegisterInput{SourcePath: "/a.mp4"}},
		{"negative duration", RegisterInput{SourcePath: "/a.mp4", Duration: -time.Second}},
		{"negative width", RegisterInput{SourcePath: "/a.mp4", Duration: time.Second, Width: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Register(context.Background(), tt.in); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestService_ListOrdered(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	svc := NewService(repo, nil)
	ctx := context.Background()

	for _, p := range []string{"/a.mp4", "/b.mp4", "/c.mp4"} {
		if _, err := svc.Register(ctx, RegisterInput{SourcePath: p, Duration: time.Second}); err != nil {
			t.Fatalf("Register(%s) error = %v", p, err)
		}
	}

	clips, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(clips) != 3 {
		t.Fatalf("len(clips) = %d, want 3", len(clips))
	}
	count, err := svc.Count(ctx)
	if err != nil || count != 3 {
		t.Fatalf("Count() = %d, %v; want 3", count, err)
	}
}

func TestClip_PlayablePath(t *testing.T) {
	tests := []struct {
		name string
		clip Clip
		want string
	}{
		{"no proxy", Clip{SourcePath: "/src.mov"}, "/src.mov"},
		{"mp4 proxy", Clip{SourcePath: "/src.mov", ProxyPath: "/proxy.mp4"}, "/proxy.mp4"},
		{"upper-case ext", Clip{SourcePath: "/src.mov", ProxyPath: "/proxy.MOV"}, "/proxy.MOV"},
		{"incompatible proxy", Clip{SourcePath: "/src.mov", ProxyPath: "/proxy.avi"}, "/src.mov"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.clip.PlayablePath(); got != tt.want {
				t.Errorf("PlayablePath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClip_JSONDurationSeconds(t *testing.T) {
	clip := &Clip{ID: "m1", SourcePath: "/a.mp4", Duration: 8500 * time.Millisecond, Width: 1280, Height: 720}

	data, err := json.Marshal(clip)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if body["duration"] != 8.5 {
		t.Errorf("duration = %v, want 8.5", body["duration"])
	}
	if body["resolution"] != "1280x720" {
		t.Errorf("resolution = %v, want 1280x720", body["resolution"])
	}

	var back Clip
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal(Clip) error = %v", err)
	}
	if back.Duration != clip.Duration {
		t.Errorf("Duration = %v, want %v", back.Duration, clip.Duration)
	}
}

func TestStaticLookup(t *testing.T) {
	lookup := StaticLookup{"m1": {ID: "m1", Duration: time.Second}}

	if _, err := lookup.Lookup(context.Background(), "m1"); err != nil {
		t.Fatalf("Lookup(m1) error = %v", err)
	}
	if _, err := lookup.Lookup(context.Background(), "m2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Lookup(m2) error = %v, want ErrNotFound", err)
	}
}
