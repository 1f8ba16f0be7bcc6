package export

import (
	"time"

	"github.com/xvanov/clipforge-sub000/internal/timeline"
)

// ComputeDuration is the latest clip end across visible tracks. Gaps do not
// shorten it and empty tracks contribute nothing; an empty timeline is 0.
func ComputeDuration(tracks []timeline.Track) time.Duration {
	var end time.Duration
	for _, tr := range tracks {
		if !tr.Visible {
			continue
		}
		for _, c := range tr.Clips {
			end = max(end, c.EndTime())
		}
	}
	return end
}
