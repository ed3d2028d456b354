// Package engine implements the generation pipeline behind the video
// lifecycle: script, storyboard, asset and render runs.
//
// Each run loads the record, checks the requested transition against the
// wizard's table, performs the provider work, and persists the outcome.
// Failures land the record in the matching *_failed status with a
// single-line cause; errors never travel between stages in memory, the
// next stage reads status and error_message instead.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/reelgen/reelgen/internal/ffmpeg"
	"github.com/reelgen/reelgen/internal/models"
	"github.com/reelgen/reelgen/internal/provider"
	"github.com/reelgen/reelgen/internal/provider/image"
	"github.com/reelgen/reelgen/internal/provider/llm"
	"github.com/reelgen/reelgen/internal/provider/tts"
	"github.com/reelgen/reelgen/internal/repository"
	"github.com/reelgen/reelgen/internal/runner"
	"github.com/reelgen/reelgen/internal/storage"
)

// Default per-call deadlines. The transcoder owns its own timeout.
const (
	defaultLLMTimeout   = 90 * time.Second
	defaultImageTimeout = 60 * time.Second
	defaultTTSTimeout   = 120 * time.Second
)

// defaultImageConcurrency caps in-flight image generations per job.
const defaultImageConcurrency = 3

// failWriteTimeout bounds the best-effort status write after a stage
// failure, whose own context may already be dead.
const failWriteTimeout = 5 * time.Second

// ObjectStore is the object-storage surface the pipeline drives.
type ObjectStore interface {
	Upload(ctx context.Context, bucket, key string, data []byte, contentType string) error
	PublicURL(bucket, key string) string
	WaitForAvailability(ctx context.Context, rawURL string) error
	Download(ctx context.Context, rawURL string) ([]byte, error)
}

// Renderer executes one transcoder pass.
type Renderer interface {
	Render(ctx context.Context, spec ffmpeg.RenderSpec) error
}

// AudioProber measures the duration of an encoded media file.
type AudioProber interface {
	Duration(ctx context.Context, path string) (float64, error)
}

var (
	_ ObjectStore = (*storage.Client)(nil)
	_ Renderer    = (*ffmpeg.Runner)(nil)
	_ AudioProber = (*ffmpeg.Prober)(nil)
)

// Deps bundles the external clients the engine drives. LLM, Image, TTS
// and Store serve the generation stages; Prober feeds caption timing and
// render sync; Renderer is only exercised by render runs.
type Deps struct {
	LLM      llm.Client
	Image    image.Client
	TTS      tts.Client
	Store    ObjectStore
	Renderer Renderer
	Prober   AudioProber
}

// BucketNames holds the object storage bucket names per asset class.
// Zero values select the storage package defaults.
type BucketNames struct {
	Images   string
	Audio    string
	Captions string
	Videos   string
}

// Config tunes the pipeline engines. Zero values select the defaults.
type Config struct {
	// Per-attempt provider deadlines.
	LLMTimeout   time.Duration
	ImageTimeout time.Duration
	TTSTimeout   time.Duration

	// ImageConcurrency caps in-flight image generations within one job.
	ImageConcurrency int

	// Retry is the schedule applied to retriable provider failures.
	Retry runner.RetryConfig

	// WorkDir hosts the per-render scratch workspaces.
	WorkDir string

	// Output frame geometry. Zero values select the transcoder's
	// vertical 1080x1920 @ 30fps defaults.
	Width  int
	Height int
	FPS    int

	Buckets BucketNames
}

func (c Config) withDefaults() Config {
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = defaultLLMTimeout
	}
	if c.ImageTimeout <= 0 {
		c.ImageTimeout = defaultImageTimeout
	}
	if c.TTSTimeout <= 0 {
		c.TTSTimeout = defaultTTSTimeout
	}
	if c.ImageConcurrency < 1 {
		c.ImageConcurrency = defaultImageConcurrency
	}
	if c.Retry.MaxAttempts < 1 {
		c.Retry = runner.DefaultRetryConfig()
	}
	if c.Buckets.Images == "" {
		c.Buckets.Images = storage.BucketImages
	}
	if c.Buckets.Audio == "" {
		c.Buckets.Audio = storage.BucketAudio
	}
	if c.Buckets.Captions == "" {
		c.Buckets.Captions = storage.BucketCaptions
	}
	if c.Buckets.Videos == "" {
		c.Buckets.Videos = storage.BucketVideos
	}
	return c
}

// Engine runs the pipeline stages against one repository.
type Engine struct {
	repo   repository.VideoRepository
	deps   Deps
	cfg    Config
	logger *slog.Logger

	renders *renderTable
}

// New creates an engine. The config is completed with defaults.
func New(repo repository.VideoRepository, deps Deps, cfg Config) *Engine {
	return &Engine{
		repo:    repo,
		deps:    deps,
		cfg:     cfg.withDefaults(),
		logger:  slog.Default(),
		renders: newRenderTable(),
	}
}

// WithLogger sets a custom logger.
func (e *Engine) WithLogger(logger *slog.Logger) *Engine {
	if logger != nil {
		e.logger = logger
	}
	return e
}

// load fetches a record by id, translating a missing row to not_found.
func (e *Engine) load(ctx context.Context, id models.ULID) (*models.Video, error) {
	v, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading video %s: %w", id, err)
	}
	if v == nil {
		return nil, provider.Newf(provider.KindNotFound, "video.load", "video %s not found", id)
	}
	return v, nil
}

// persist writes the whole record.
func (e *Engine) persist(ctx context.Context, v *models.Video) error {
	if err := e.repo.Update(ctx, v); err != nil {
		return fmt.Errorf("persisting video %s: %w", v.ID, err)
	}
	return nil
}

// fail parks the record in a failure status, best-effort. The stage
// context may already be cancelled or expired, so the write runs under
// its own deadline.
func (e *Engine) fail(ctx context.Context, id models.ULID, status models.VideoStatus, cause error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failWriteTimeout)
	defer cancel()

	if err := e.repo.UpdateStatus(wctx, id, status, models.FailureMessage(cause)); err != nil {
		e.logger.Error("recording stage failure",
			slog.String("video_id", id.String()),
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
	}
}
