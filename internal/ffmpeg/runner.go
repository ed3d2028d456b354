package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/reelgen/reelgen/internal/provider"
)

const (
	defaultRenderTimeout = 600 * time.Second

	// stderrTailSize bounds how much ffmpeg stderr is kept for error
	// reporting.
	stderrTailSize = 4096
)

// Runner executes ffmpeg render passes.
type Runner struct {
	ffmpegPath string
	timeout    time.Duration
}

// NewRunner creates a runner for the given ffmpeg binary.
func NewRunner(ffmpegPath string) *Runner {
	return &Runner{
		ffmpegPath: ffmpegPath,
		timeout:    defaultRenderTimeout,
	}
}

// WithTimeout sets the per-render timeout.
func (r *Runner) WithTimeout(timeout time.Duration) *Runner {
	r.timeout = timeout
	return r
}

// Render builds the argv for spec and executes it. Non-zero exits
// classify as transcoder_failed carrying the stderr tail; the render
// deadline classifies as timeout.
func (r *Runner) Render(ctx context.Context, spec RenderSpec) error {
	const op = "ffmpeg.render"

	args, err := BuildRenderArgs(spec)
	if err != nil {
		return provider.TranscoderFailed(op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	stderr := newTailBuffer(stderrTailSize)
	cmd := exec.CommandContext(ctx, r.ffmpegPath, args...)
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		switch ctx.Err() {
		case context.DeadlineExceeded:
			return provider.Timeout(op, fmt.Errorf("render timeout after %v", r.timeout))
		case context.Canceled:
			return provider.Cancelled(op, ctx.Err())
		}
		if tail := stderr.Tail(); tail != "" {
			return provider.TranscoderFailed(op, fmt.Errorf("%w: %s", err, tail))
		}
		return provider.TranscoderFailed(op, err)
	}
	return nil
}

// tailBuffer is an io.Writer keeping only the last max bytes written.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

// Tail returns the retained stderr output.
func (t *tailBuffer) Tail() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
