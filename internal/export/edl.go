package export

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// GenerateEDL renders the base sequence of plan as a CMX3600 edit decision
// list. Gaps are left as holes in the record timeline.
func GenerateEDL(plan *Plan, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = 30
	}

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", title)}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	if plan != nil {
		for i, seg := range plan.Sources() {
			srcIn := toTimecode(seg.InPoint, fps)
			srcOut := toTimecode(seg.OutPoint, fps)
			recIn := toTimecode(seg.Start, fps)
			recOut := toTimecode(seg.End(), fps)

			name := seg.Name
			if name == "" {
				name = seg.ClipID
			}
			lines = append(lines,
				fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", i+1, "AX", "AA/V", srcIn, srcOut, recIn, recOut),
				fmt.Sprintf("* FROM CLIP NAME:  %s", name),
				fmt.Sprintf("* MEDIA PATH:  %s", seg.Path),
			)
		}
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func toTimecode(d time.Duration, fps int) string {
	totalFrames := int(math.Round(d.Seconds() * float64(fps)))
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}
