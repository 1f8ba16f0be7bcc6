// Package timebase converts between wire seconds and the integer time
// representation used for every timeline position.
//
// Positions are time.Duration values quantised to microseconds, so sums and
// differences of positions are exact; float seconds only appear at the edges
// (JSON, ffmpeg arguments).
package timebase

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Precision is the smallest representable step on the timeline axis.
const Precision = time.Microsecond

// MaxPosition bounds every timeline position, so start plus duration never
// overflows a Duration.
const MaxPosition = 100_000 * time.Hour

// FromSeconds converts float seconds to a Duration rounded to Precision.
func FromSeconds(s float64) time.Duration {
	return time.Duration(math.Round(s*float64(time.Second/Precision))) * Precision
}

// ToSeconds converts a Duration to float seconds.
func ToSeconds(d time.Duration) float64 {
	return d.Seconds()
}

// Valid reports whether s can be represented as a timeline position.
func Valid(s float64) bool {
	return !math.IsNaN(s) && !math.IsInf(s, 0) && math.Abs(s) <= MaxPosition.Seconds()
}

// FormatSeconds renders d as seconds with microsecond precision, trimming
// trailing zeros. The output is stable for equal inputs, which keeps encoder
// argument lists reproducible.
func FormatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

// FormatClock renders d as HH:MM:SS.mmm.
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	h := ms / 3_600_000
	m := (ms / 60_000) % 60
	s := (ms / 1000) % 60
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms%1000)
}
