package export

import (
	"errors"
	"fmt"
)

type Resolution string

const (
	ResolutionSource Resolution = "source"
	Resolution2160p  Resolution = "2160p"
	Resolution1440p  Resolution = "1440p"
	Resolution1080p  Resolution = "1080p"
	Resolution720p   Resolution = "720p"
	Resolution480p   Resolution = "480p"
)

// Dimensions returns the target frame size. ok is false for ResolutionSource.
func (r Resolution) Dimensions() (width, height int, ok bool) {
	switch r {
	case Resolution2160p:
		return 3840, 2160, true
	case Resolution1440p:
		return 2560, 1440, true
	case Resolution1080p:
		return 1920, 1080, true
	case Resolution720p:
		return 1280, 720, true
	case Resolution480p:
		return 854, 480, true
	default:
		return 0, 0, false
	}
}

type Codec string

const (
	CodecH264 Codec = "h264"
	CodecHEVC Codec = "hevc"
	CodecVP9  Codec = "vp9"
)

// SoftwareEncoder returns the ffmpeg encoder used without hardware acceleration.
func (c Codec) SoftwareEncoder() string {
	switch c {
	case CodecHEVC:
		return "libx265"
	case CodecVP9:
		return "libvpx-vp9"
	default:
		return "libx264"
	}
}

// HardwareEncoder returns the platform's hardware encoder for c, or "" when
// the platform has none and encoding falls back to software.
func (c Codec) HardwareEncoder(goos string) string {
	if c != CodecH264 && c != CodecHEVC {
		return ""
	}
	switch goos {
	case "darwin":
		return string(c) + "_videotoolbox"
	case "windows":
		return string(c) + "_nvenc"
	default:
		return ""
	}
}

// Extension is the container extension conventionally used for c.
func (c Codec) Extension() string {
	if c == CodecVP9 {
		return ".webm"
	}
	return ".mp4"
}

type Quality string

const (
	QualityHigh   Quality = "high"
	QualityMedium Quality = "medium"
	QualityLow    Quality = "low"
)

// CRF is the constant rate factor for software encoders; lower is better.
func (q Quality) CRF() int {
	switch q {
	case QualityMedium:
		return 23
	case QualityLow:
		return 28
	default:
		return 18
	}
}

// Bitrate is the target video bitrate for hardware encoders, which do not
// take a CRF.
func (q Quality) Bitrate() string {
	switch q {
	case QualityMedium:
		return "5M"
	case QualityLow:
		return "3M"
	default:
		return "8M"
	}
}

type AudioCodec string

const (
	AudioAAC  AudioCodec = "aac"
	AudioMP3  AudioCodec = "mp3"
	AudioOpus AudioCodec = "opus"
)

func (a AudioCodec) Encoder() string {
	switch a {
	case AudioMP3:
		return "libmp3lame"
	case AudioOpus:
		return "libopus"
	default:
		return "aac"
	}
}

// Settings control how a plan is encoded.
type Settings struct {
	Resolution Resolution `json:"resolution"`
	Codec      Codec      `json:"codec"`
	Quality    Quality    `json:"quality"`
	// FPS overrides the output frame rate; 0 keeps the source rate.
	FPS                  float64    `json:"fps,omitempty"`
	AudioCodec           AudioCodec `json:"audio_codec"`
	AudioBitrate         int        `json:"audio_bitrate"`
	HardwareAcceleration bool       `json:"hardware_acceleration"`
}

func DefaultSettings() Settings {
	return Settings{
		Resolution:           Resolution1080p,
		Codec:                CodecH264,
		Quality:              QualityHigh,
		AudioCodec:           AudioAAC,
		AudioBitrate:         192,
		HardwareAcceleration: true,
	}
}

var ErrInvalidSettings = errors.New("invalid export settings")

func (s Settings) Validate() error {
	switch s.Resolution {
	case ResolutionSource, Resolution2160p, Resolution1440p, Resolution1080p, Resolution720p, Resolution480p:
	default:
		return fmt.Errorf("%w: unknown resolution %q", ErrInvalidSettings, s.Resolution)
	}
	switch s.Codec {
	case CodecH264, CodecHEVC, CodecVP9:
	default:
		return fmt.Errorf("%w: unknown codec %q", ErrInvalidSettings, s.Codec)
	}
	switch s.Quality {
	case QualityHigh, QualityMedium, QualityLow:
	default:
		return fmt.Errorf("%w: unknown quality %q", ErrInvalidSettings, s.Quality)
	}
	switch s.AudioCodec {
	case AudioAAC, AudioMP3, AudioOpus:
	default:
		return fmt.Errorf("%w: unknown audio codec %q", ErrInvalidSettings, s.AudioCodec)
	}
	if s.AudioBitrate < 8 || s.AudioBitrate > 512 {
		return fmt.Errorf("%w: audio bitrate %d kbps out of range", ErrInvalidSettings, s.AudioBitrate)
	}
	if s.FPS < 0 || s.FPS > 240 {
		return fmt.Errorf("%w: fps %v out of range", ErrInvalidSettings, s.FPS)
	}
	return nil
}

var (
	// ErrNoMainTrack is returned when no visible main track holds a clip.
	ErrNoMainTrack = errors.New("no main track with clips")
	// ErrEmptyTimeline is returned when the timeline has zero duration.
	ErrEmptyTimeline = errors.New("timeline is empty")
)

// MissingMediaError reports a timeline clip whose media cannot be resolved.
type MissingMediaError struct {
	ClipID      string
	MediaClipID string
}

func (e *MissingMediaError) Error() string {
	return fmt.Sprintf("clip %s references missing media %s", e.ClipID, e.MediaClipID)
}
