package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/reelgen/reelgen/internal/provider"
)

// Prober handles ffprobe operations on local media files.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// NewProber creates a new media prober.
func NewProber(ffprobePath string) *Prober {
	return &Prober{
		ffprobePath: ffprobePath,
		timeout:     30 * time.Second,
	}
}

// WithTimeout sets the probe timeout.
func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	p.timeout = timeout
	return p
}

// probeResult is the subset of ffprobe -show_format output we consume.
type probeResult struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
}

// Duration returns the container duration of a local media file in
// seconds. Failures classify as transcoder_failed.
func (p *Prober) Duration(ctx context.Context, path string) (float64, error) {
	const op = "ffprobe.duration"

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return 0, provider.Timeout(op, fmt.Errorf("probe timeout after %v", p.timeout))
		}
		return 0, provider.TranscoderFailed(op, fmt.Errorf("ffprobe failed: %w", err))
	}

	var result probeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return 0, provider.TranscoderFailed(op, fmt.Errorf("parsing ffprobe output: %w", err))
	}
	if result.Format.Duration == "" {
		return 0, provider.TranscoderFailed(op, errors.New("no duration in probe output"))
	}

	dur, err := strconv.ParseFloat(result.Format.Duration, 64)
	if err != nil {
		return 0, provider.TranscoderFailed(op, fmt.Errorf("parsing duration %q: %w", result.Format.Duration, err))
	}
	if dur <= 0 {
		return 0, provider.TranscoderFailed(op, fmt.Errorf("non-positive duration %v", dur))
	}
	return dur, nil
}
