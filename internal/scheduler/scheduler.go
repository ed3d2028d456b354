// Package scheduler runs the background maintenance duties: decaying
// records stuck in an in-flight status into their failed counterparts,
// and sweeping render workspaces a crashed process left behind.
//
// A stage that dies mid-run (process restart, lost worker) cannot write
// its own failure status; without the reaper such records would sit in
// *_generating or rendering forever and block every user action on them.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/reelgen/reelgen/internal/models"
	"github.com/reelgen/reelgen/internal/repository"
	"github.com/reelgen/reelgen/internal/storage"
)

// staleMessage is recorded on records the reaper fails.
const staleMessage = "stage timed out (stale)"

// busyStatuses are the in-flight statuses eligible for reaping.
var busyStatuses = []models.VideoStatus{
	models.StatusScriptGenerating,
	models.StatusStoryboardGenerating,
	models.StatusAssetsGenerating,
	models.StatusRendering,
}

// Config holds the reaper schedule.
type Config struct {
	// ReapInterval is how often the reaper runs.
	ReapInterval time.Duration

	// StaleAfter is how long an in-flight record may go without an
	// update before it is considered dead.
	StaleAfter time.Duration
}

// DefaultConfig returns the default reaper configuration.
func DefaultConfig() Config {
	return Config{
		ReapInterval: 5 * time.Minute,
		StaleAfter:   30 * time.Minute,
	}
}

// Reaper periodically fails stale in-flight videos and sweeps orphaned
// render workspaces.
type Reaper struct {
	mu sync.Mutex

	repo    repository.VideoRepository
	workDir string
	cfg     Config
	logger  *slog.Logger

	cron *cron.Cron
}

// NewReaper creates a reaper over the given repository. workDir is the
// render scratch directory; empty disables the workspace sweep.
func NewReaper(repo repository.VideoRepository, workDir string, cfg Config) *Reaper {
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = DefaultConfig().ReapInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultConfig().StaleAfter
	}
	return &Reaper{
		repo:    repo,
		workDir: workDir,
		cfg:     cfg,
		logger:  slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (r *Reaper) WithLogger(logger *slog.Logger) *Reaper {
	r.logger = logger
	return r
}

// Start begins the periodic reap loop.
func (r *Reaper) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron != nil {
		return fmt.Errorf("reaper already started")
	}

	c := cron.New()
	_, err := c.AddFunc("@every "+r.cfg.ReapInterval.String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.ReapInterval)
		defer cancel()
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.Error("reap run failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling reaper: %w", err)
	}
	c.Start()
	r.cron = c

	r.logger.Info("reaper started",
		slog.Duration("interval", r.cfg.ReapInterval),
		slog.Duration("stale_after", r.cfg.StaleAfter),
	)
	return nil
}

// Stop halts the reap loop, waiting for an in-flight run to finish.
func (r *Reaper) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
	r.cron = nil
	r.logger.Info("reaper stopped")
}

// RunOnce performs a single reap pass and returns the number of records
// failed. The workspace sweep is best-effort; its errors are logged, not
// returned, so a bad scratch directory never stops record reaping.
func (r *Reaper) RunOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-r.cfg.StaleAfter)
	stale, err := r.repo.ListStale(ctx, busyStatuses, cutoff)
	if err != nil {
		return 0, fmt.Errorf("listing stale videos: %w", err)
	}

	reaped := 0
	for _, v := range stale {
		failed, ok := v.Status.StalledFailure()
		if !ok {
			continue
		}
		if err := r.repo.UpdateStatus(ctx, v.ID, failed, staleMessage); err != nil {
			r.logger.Error("failing stale video",
				slog.String("video_id", v.ID.String()),
				slog.String("status", string(v.Status)),
				slog.String("error", err.Error()),
			)
			continue
		}
		reaped++
		r.logger.Warn("stale video failed by reaper",
			slog.String("video_id", v.ID.String()),
			slog.String("from", string(v.Status)),
			slog.String("to", string(failed)),
			slog.Time("last_update", v.UpdatedAt),
		)
	}

	if r.workDir != "" {
		removed, err := storage.SweepOrphans(r.workDir, r.cfg.StaleAfter)
		if err != nil {
			r.logger.Error("sweeping orphaned workspaces", slog.String("error", err.Error()))
		} else if removed > 0 {
			r.logger.Info("orphaned workspaces removed", slog.Int("count", removed))
		}
	}

	return reaped, nil
}
