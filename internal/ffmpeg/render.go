package ffmpeg

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Output geometry and rate defaults for vertical short-form video.
const (
	DefaultWidth  = 1080
	DefaultHeight = 1920
	DefaultFPS    = 30
)

// Ken Burns zoom expressions, alternating by scene parity. Even scenes
// push in, odd scenes start pushed in and pull back out.
const (
	zoomInExpr  = "min(zoom+0.0015,1.15)"
	zoomOutExpr = "if(lte(on,1),1.15,max(zoom-0.0015,1.0))"
)

// SceneInput is one still image with its on-screen duration.
type SceneInput struct {
	ImagePath string
	Seconds   float64
}

// RenderSpec describes a complete render: scene stills, voiceover audio
// and an optional burned-in subtitle track.
type RenderSpec struct {
	Scenes       []SceneInput
	AudioPath    string
	SubtitlePath string // empty disables the subtitles filter
	OutputPath   string

	// Zero values select the vertical 1080x1920 @ 30fps defaults.
	Width  int
	Height int
	FPS    int
}

// HasSubtitles reports whether the spec burns in a subtitle track.
func (s RenderSpec) HasSubtitles() bool {
	return s.SubtitlePath != ""
}

// WithoutSubtitles returns a copy of the spec with the subtitle track
// removed, used by the subtitle-failure retry.
func (s RenderSpec) WithoutSubtitles() RenderSpec {
	s.SubtitlePath = ""
	return s
}

// Validate checks the spec is renderable.
func (s RenderSpec) Validate() error {
	if len(s.Scenes) == 0 {
		return errors.New("render spec has no scenes")
	}
	for i, sc := range s.Scenes {
		if sc.ImagePath == "" {
			return fmt.Errorf("scene %d has no image path", i)
		}
		if sc.Seconds <= 0 {
			return fmt.Errorf("scene %d has non-positive duration %v", i, sc.Seconds)
		}
	}
	if s.AudioPath == "" {
		return errors.New("render spec has no audio path")
	}
	if s.OutputPath == "" {
		return errors.New("render spec has no output path")
	}
	return nil
}

func (s RenderSpec) dims() (w, h, fps int) {
	w, h, fps = s.Width, s.Height, s.FPS
	if w <= 0 {
		w = DefaultWidth
	}
	if h <= 0 {
		h = DefaultHeight
	}
	if fps <= 0 {
		fps = DefaultFPS
	}
	return w, h, fps
}

// BuildRenderArgs produces the complete ffmpeg argv for a spec: looped
// still inputs, a zoompan/scale/pad/concat filter graph with an optional
// subtitles pass, H.264 yuv420p video and AAC audio in a faststart MP4.
// It is a pure function so the graph is testable without a binary.
func BuildRenderArgs(spec RenderSpec) ([]string, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	_, _, fps := spec.dims()

	args := []string{"-hide_banner", "-loglevel", "error", "-y"}

	for _, sc := range spec.Scenes {
		args = append(args,
			"-loop", "1",
			"-t", formatSeconds(sc.Seconds),
			"-framerate", strconv.Itoa(fps),
			"-i", sc.ImagePath,
		)
	}
	args = append(args, "-i", spec.AudioPath)

	args = append(args, "-filter_complex", buildFilterGraph(spec))

	args = append(args,
		"-map", "[vout]",
		"-map", fmt.Sprintf("%d:a", len(spec.Scenes)),
		"-c:v", "libx264",
		"-preset", "medium",
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(fps),
		"-c:a", "aac",
		"-b:a", "192k",
		"-movflags", "+faststart",
		"-shortest",
		spec.OutputPath,
	)
	return args, nil
}

// buildFilterGraph assembles the per-scene chains, the concat node and
// the optional subtitles pass, ending at the [vout] label.
func buildFilterGraph(spec RenderSpec) string {
	w, h, fps := spec.dims()

	var b strings.Builder
	for i := range spec.Scenes {
		zoom := zoomInExpr
		if i%2 == 1 {
			zoom = zoomOutExpr
		}
		fmt.Fprintf(&b,
			"[%d:v]scale=%d:%d:force_original_aspect_ratio=decrease,"+
				"pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=black,"+
				"zoompan=z='%s':x='iw/2-(iw/zoom/2)':y='ih/2-(ih/zoom/2)':d=1:s=%dx%d:fps=%d,"+
				"setsar=1[v%d];",
			i, w, h, w, h, zoom, w, h, fps, i)
	}

	for i := range spec.Scenes {
		fmt.Fprintf(&b, "[v%d]", i)
	}
	fmt.Fprintf(&b, "concat=n=%d:v=1:a=0", len(spec.Scenes))

	if spec.HasSubtitles() {
		fmt.Fprintf(&b, "[vcat];[vcat]subtitles='%s'[vout]", escapeSubtitlePath(spec.SubtitlePath))
	} else {
		b.WriteString("[vout]")
	}
	return b.String()
}

// escapeSubtitlePath makes a filesystem path safe inside a quoted
// subtitles filter argument: forward slashes throughout and escaped
// colons (libavfilter treats bare colons as option separators).
func escapeSubtitlePath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	p = strings.ReplaceAll(p, ":", `\:`)
	return p
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}
