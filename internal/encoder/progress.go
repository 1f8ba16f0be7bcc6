package encoder

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Progress is one parsed progress record.
type Progress struct {
	CurrentFrame int64         `json:"current_frame"`
	TotalFrames  int64         `json:"total_frames"`
	EncodeFPS    float64       `json:"fps"`
	Elapsed      time.Duration `json:"-"`
	// Progress is Elapsed over the total duration, clamped to [0, 1].
	Progress   float64 `json:"progress"`
	ETASeconds float64 `json:"eta_seconds"`
}

// minSpeed bounds the ETA divisor so a stalled encoder yields a large but
// finite estimate.
const minSpeed = 1e-3

var (
	statsFrameRe = regexp.MustCompile(`frame=\s*(\d+)`)
	statsFPSRe   = regexp.MustCompile(`fps=\s*([\d.]+)`)
	statsTimeRe  = regexp.MustCompile(`time=\s*(-?\d+):(\d+):([\d.]+)`)
)

// ProgressParser turns encoder output lines into Progress records. It reads
// both the key=value blocks written by -progress (a record per "progress="
// line) and the classic one-line stats ffmpeg prints to stderr. Lines it does
// not understand are ignored.
type ProgressParser struct {
	total     time.Duration
	outputFPS float64

	frame   int64
	fps     float64
	elapsed time.Duration
}

func NewProgressParser(total time.Duration, outputFPS float64) *ProgressParser {
	return &ProgressParser{total: total, outputFPS: outputFPS}
}

// TotalFrames estimates the frame count of the finished output.
func (p *ProgressParser) TotalFrames() int64 {
	if p.outputFPS <= 0 {
		return 0
	}
	return int64(math.Round(p.total.Seconds() * p.outputFPS))
}

// Feed consumes one line and reports whether it completed a record.
func (p *ProgressParser) Feed(line string) (Progress, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Progress{}, false
	}
	if strings.Contains(line, " ") || strings.Contains(line, "\t") {
		return p.feedStats(line)
	}

	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return Progress{}, false
	}
	switch key {
	case "frame":
		if n, err := strconv.ParseInt(value, 10, 64); err == nil && n >= 0 {
			p.frame = n
		}
	case "fps":
		if f, err := strconv.ParseFloat(value, 64); err == nil && f >= 0 {
			p.fps = f
		}
	case "out_time_us", "out_time_ms":
		// both are microseconds; out_time_ms is misnamed upstream
		if us, err := strconv.ParseInt(value, 10, 64); err == nil && us >= 0 {
			p.elapsed = time.Duration(us) * time.Microsecond
		}
	case "out_time":
		if d, ok := parseClock(value); ok {
			p.elapsed = d
		}
	case "progress":
		return p.record(), true
	}
	return Progress{}, false
}

func (p *ProgressParser) feedStats(line string) (Progress, bool) {
	m := statsFrameRe.FindStringSubmatch(line)
	if m == nil {
		return Progress{}, false
	}
	frame, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return Progress{}, false
	}
	p.frame = frame

	if m := statsFPSRe.FindStringSubmatch(line); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			p.fps = f
		}
	}
	if m := statsTimeRe.FindStringSubmatch(line); m != nil {
		if d, ok := parseClock(m[1] + ":" + m[2] + ":" + m[3]); ok {
			p.elapsed = d
		}
	}
	return p.record(), true
}

func (p *ProgressParser) record() Progress {
	rec := Progress{
		CurrentFrame: p.frame,
		TotalFrames:  p.TotalFrames(),
		EncodeFPS:    p.fps,
		Elapsed:      p.elapsed,
	}
	if p.total > 0 {
		rec.Progress = math.Min(math.Max(p.elapsed.Seconds()/p.total.Seconds(), 0), 1)
	}
	rec.ETASeconds = EstimateETA(p.total, p.elapsed, p.fps, p.outputFPS)
	return rec
}

// EstimateETA returns the remaining wall-clock seconds. encodeFPS/outputFPS is
// the encoder's speed in media seconds per wall second.
func EstimateETA(total, elapsed time.Duration, encodeFPS, outputFPS float64) float64 {
	remaining := (total - elapsed).Seconds()
	if remaining <= 0 {
		return 0
	}
	speed := 0.0
	if outputFPS > 0 {
		speed = encodeFPS / outputFPS
	}
	return remaining / math.Max(speed, minSpeed)
}

// parseClock parses HH:MM:SS(.fraction). Negative values, which ffmpeg
// reports before the first frame, are rejected.
func parseClock(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-") {
		return 0, false
	}
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	sec, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil || h < 0 || m < 0 || sec < 0 {
		return 0, false
	}
	total := float64(h)*3600 + float64(m)*60 + sec
	return time.Duration(math.Round(total * float64(time.Second/time.Microsecond))) * time.Microsecond, true
}
