package media

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a media clip id is not in the registry.
var ErrNotFound = errors.New("media clip not found")

// Clip is an immutable descriptor of an imported source file. Timeline clips
// reference it by ID and never own it. Its JSON form carries the duration in
// seconds (see MarshalJSON).
type Clip struct {
	ID         string
	Name       string
	SourcePath string
	ProxyPath  string
	Duration   time.Duration
	Width      int
	Height     int
	FPS        float64
	Codec      string
	AudioCodec string
	HasAudio   bool
	ImportedAt time.Time
}

// Resolution returns the "WxH" label, or "" when dimensions are unknown.
func (c *Clip) Resolution() string {
	if c.Width <= 0 || c.Height <= 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", c.Width, c.Height)
}

// proxyContainers are the containers ffmpeg can trim and concatenate without
// remuxing; a proxy in any other container is ignored for export.
var proxyContainers = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".m4v":  true,
	".mkv":  true,
	".webm": true,
}

// PlayablePath returns the path an export should read: the proxy when it is
// present and in a compatible container, otherwise the source.
func (c *Clip) PlayablePath() string {
	if c.ProxyPath != "" && IsCompatibleContainer(c.ProxyPath) {
		return c.ProxyPath
	}
	return c.SourcePath
}

func IsCompatibleContainer(path string) bool {
	return proxyContainers[strings.ToLower(filepath.Ext(path))]
}

func NewID() string {
	return uuid.NewString()
}
