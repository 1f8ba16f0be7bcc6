package export

import (
	"fmt"
	"math"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/xvanov/clipforge-sub000/internal/encoder"
	"github.com/xvanov/clipforge-sub000/internal/timebase"
	"github.com/xvanov/clipforge-sub000/internal/timeline"
)

const (
	audioSampleRate = 48000
	audioNormalize  = "aformat=sample_rates=48000:channel_layouts=stereo"
)

// Compiler turns plans into encoder invocations.
type Compiler struct {
	FFmpegPath string
	// Platform selects hardware encoders; it is a GOOS value.
	Platform string
}

func NewCompiler(ffmpegPath string) *Compiler {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Compiler{FFmpegPath: ffmpegPath, Platform: runtime.GOOS}
}

// VideoEncoder returns the -c:v value for s and whether it is a hardware
// encoder.
func (c *Compiler) VideoEncoder(s Settings) (name string, hardware bool) {
	if s.HardwareAcceleration {
		if hw := s.Codec.HardwareEncoder(c.Platform); hw != "" {
			return hw, true
		}
	}
	return s.Codec.SoftwareEncoder(), false
}

// BuildCommand builds the encoder invocation for plan. The result depends
// only on its inputs: equal (plan, settings) pairs give identical argument
// lists. OutputPath is left for the caller to set.
func (c *Compiler) BuildCommand(plan *Plan, s Settings) (encoder.Invocation, error) {
	if plan == nil || len(plan.Base) == 0 {
		return encoder.Invocation{}, ErrNoMainTrack
	}
	if plan.Duration <= 0 {
		return encoder.Invocation{}, ErrEmptyTimeline
	}
	if err := s.Validate(); err != nil {
		return encoder.Invocation{}, err
	}

	fps := plan.FPS
	if s.FPS > 0 {
		fps = s.FPS
	}
	if fps <= 0 {
		fps = defaultFPS
	}

	g := &filterGraph{width: plan.Width, height: plan.Height, fps: formatFloat(fps)}
	videoOut, audioOut := g.build(plan)

	if w, h, ok := s.Resolution.Dimensions(); ok {
		g.add(fmt.Sprintf("[%s]scale=%d:%d:force_original_aspect_ratio=decrease:force_divisible_by=2,format=yuv420p", videoOut, w, h), "vout")
	} else {
		g.add(fmt.Sprintf("[%s]format=yuv420p", videoOut), "vout")
	}

	args := []string{"-hide_banner", "-nostdin", "-progress", "pipe:1", "-nostats"}
	args = append(args, g.inputs...)
	args = append(args,
		"-filter_complex", strings.Join(g.chains, ";"),
		"-map", "[vout]",
		"-map", "["+audioOut+"]",
	)

	videoEncoder, hardware := c.VideoEncoder(s)
	args = append(args, "-c:v", videoEncoder)
	switch {
	case hardware:
		args = append(args, "-b:v", s.Quality.Bitrate())
	case s.Codec == CodecVP9:
		// constant quality mode for libvpx needs a zero bitrate
		args = append(args, "-crf", strconv.Itoa(s.Quality.CRF()), "-b:v", "0")
	default:
		args = append(args, "-crf", strconv.Itoa(s.Quality.CRF()), "-preset", "medium")
	}
	if s.FPS > 0 {
		args = append(args, "-r", formatFloat(s.FPS))
	}
	args = append(args,
		"-c:a", s.AudioCodec.Encoder(),
		"-b:a", strconv.Itoa(s.AudioBitrate)+"k",
		"-ar", strconv.Itoa(audioSampleRate),
	)

	return encoder.Invocation{
		Program:       c.FFmpegPath,
		Args:          args,
		TotalDuration: plan.Duration,
		OutputFPS:     fps,
		VideoEncoder:  videoEncoder,
		Hardware:      hardware,
	}, nil
}

type filterGraph struct {
	width, height int
	fps           string
	inputs        []string
	nInputs       int
	chains        []string
}

func (g *filterGraph) add(filter, label string) {
	g.chains = append(g.chains, filter+"["+label+"]")
}

// input adds a source trimmed to the segment's window and returns its index.
func (g *filterGraph) input(seg Segment) int {
	g.inputs = append(g.inputs,
		"-ss", timebase.FormatSeconds(seg.InPoint),
		"-t", timebase.FormatSeconds(seg.Duration()),
		"-i", seg.Path,
	)
	g.nInputs++
	return g.nInputs - 1
}

// fit scales and pads to the canvas, keeping the aspect ratio.
func (g *filterGraph) fit() string {
	return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2",
		g.width, g.height, g.width, g.height)
}

func silence(d time.Duration) string {
	return fmt.Sprintf("anullsrc=r=%d:cl=stereo,atrim=duration=%s", audioSampleRate, timebase.FormatSeconds(d))
}

// build emits the base concatenation and the layer composition, returning
// the final video and audio labels.
func (g *filterGraph) build(plan *Plan) (video, audio string) {
	var concat strings.Builder
	for k, seg := range plan.Base {
		v, a := fmt.Sprintf("b%dv", k), fmt.Sprintf("b%da", k)
		dur := timebase.FormatSeconds(seg.Duration())

		if seg.Gap {
			g.add(fmt.Sprintf("color=c=black:s=%dx%d:r=%s:d=%s,setsar=1,format=yuv420p", g.width, g.height, g.fps, dur), v)
			g.add(silence(seg.Duration()), a)
		} else {
			n := g.input(seg)
			vf := "fps=" + g.fps
			if seg.Width != g.width || seg.Height != g.height {
				vf += "," + g.fit()
			}
			g.add(fmt.Sprintf("[%d:v]%s,setsar=1,format=yuv420p", n, vf), v)
			if seg.HasAudio {
				g.add(fmt.Sprintf("[%d:a]%s,apad,atrim=duration=%s", n, audioNormalize, dur), a)
			} else {
				g.add(silence(seg.Duration()), a)
			}
		}
		fmt.Fprintf(&concat, "[%s][%s]", v, a)
	}
	concat.WriteString(fmt.Sprintf("concat=n=%d:v=1:a=1", len(plan.Base)))
	g.chains = append(g.chains, concat.String()+"[basev][basea]")

	video, audio = "basev", "basea"
	if plan.BaseVolume != 1 {
		g.add(fmt.Sprintf("[basea]volume=%s", formatFloat(plan.BaseVolume)), "basevol")
		audio = "basevol"
	}

	var mix []string
	for li, layer := range plan.Layers {
		for si, seg := range layer.Segments {
			n := g.input(seg)
			start := timebase.FormatSeconds(seg.Start)
			end := timebase.FormatSeconds(seg.End())

			vf := "fps=" + g.fps
			x, y := "0", "0"
			if layer.FullFrame {
				vf += "," + g.fit() + ",setsar=1"
			} else {
				var place string
				place, x, y = placement(seg.Transform)
				vf += place
			}
			src := fmt.Sprintf("l%d_%dv", li, si)
			g.add(fmt.Sprintf("[%d:v]%s,setpts=PTS-STARTPTS+%s/TB", n, vf, start), src)

			out := fmt.Sprintf("l%d_%do", li, si)
			g.add(fmt.Sprintf("[%s][%s]overlay=x=%s:y=%s:enable='between(t,%s,%s)':eof_action=pass", video, src, x, y, start, end), out)
			video = out

			if seg.HasAudio && layer.Volume > 0 {
				af := fmt.Sprintf("[%d:a]%s,adelay=delays=%d:all=1", n, audioNormalize, seg.Start.Milliseconds())
				if layer.Volume != 1 {
					af += ",volume=" + formatFloat(layer.Volume)
				}
				label := fmt.Sprintf("l%d_%da", li, si)
				g.add(af, label)
				mix = append(mix, label)
			}
		}
	}

	if len(mix) > 0 {
		var in strings.Builder
		in.WriteString("[" + audio + "]")
		for _, label := range mix {
			in.WriteString("[" + label + "]")
		}
		g.add(fmt.Sprintf("%samix=inputs=%d:duration=first:normalize=0", in.String(), len(mix)+1), "mixa")
		audio = "mixa"
	}
	return video, audio
}

// placement returns the scale/rotate filters and the position for an overlay
// clip. A zero width or height keeps the aspect ratio on that axis.
func placement(t *timeline.Transform) (filters, x, y string) {
	if t == nil {
		return "", "0", "0"
	}
	w, h := int(math.Round(t.Width)), int(math.Round(t.Height))
	switch {
	case w > 0 && h > 0:
		filters += fmt.Sprintf(",scale=%d:%d", w, h)
	case w > 0:
		filters += fmt.Sprintf(",scale=%d:-2", w)
	case h > 0:
		filters += fmt.Sprintf(",scale=-2:%d", h)
	}
	if t.Rotation != 0 {
		angle := formatFloat(t.Rotation) + "*PI/180"
		filters += fmt.Sprintf(",format=rgba,rotate=%s:c=none:ow=rotw(%s):oh=roth(%s)", angle, angle, angle)
	}
	return filters, strconv.Itoa(int(math.Round(t.X))), strconv.Itoa(int(math.Round(t.Y)))
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
